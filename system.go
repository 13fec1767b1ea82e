package ecs

import "time"

// System is a unit of per-tick behavior registered with a Scene's
// Scheduler. Process runs once per tick for every enabled system, in
// updateOrder; Begin/End bracket a full scheduler pass and let a system
// do once-per-tick setup/teardown (e.g. swapping double-buffered state)
// without repeating it per entity.
type System interface {
	// UpdateOrder positions the system in the scheduler's run order;
	// lower runs first. Systems sharing an order run in registration
	// order (stable sort).
	UpdateOrder() int

	// Begin runs once at the start of a scheduler Update pass, before
	// any system's Process.
	Begin(scene *Scene, dt time.Duration) error

	// Process runs once per tick, after Begin and before End.
	Process(scene *Scene, dt time.Duration) error

	// End runs once at the close of a scheduler Update pass, after every
	// system's Process.
	End(scene *Scene, dt time.Duration) error
}

// BaseSystem is an embeddable no-op System: embed it and override only
// the lifecycle hooks a concrete system actually needs.
type BaseSystem struct {
	Order int
}

func (s BaseSystem) UpdateOrder() int                            { return s.Order }
func (s BaseSystem) Begin(*Scene, time.Duration) error            { return nil }
func (s BaseSystem) Process(*Scene, time.Duration) error          { return nil }
func (s BaseSystem) End(*Scene, time.Duration) error              { return nil }

// SystemAddedHook, when implemented by a System, is called the moment it
// is registered with a Scheduler.
type SystemAddedHook interface {
	OnAdded(scene *Scene)
}

// SystemRemovedHook, when implemented by a System, is called the moment
// it is unregistered from a Scheduler.
type SystemRemovedHook interface {
	OnRemoved(scene *Scene)
}
