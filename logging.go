package ecs

import "github.com/sirupsen/logrus"

// pkgLogger is the package-wide logger for internal diagnostics: queued
// operation failures, system panics routed to the event bus, worker
// dispatch errors. Defaults to logrus's standard logger configuration.
var pkgLogger = logrus.New()

// SetLogger overrides the package-wide logger. Pass a logger preconfigured
// with the host application's formatter/level/hooks; a nil argument is
// ignored.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	pkgLogger = l
}

func logger() *logrus.Logger {
	return pkgLogger
}
