package ecs

import (
	"testing"
	"time"

	"github.com/TheBitDrifter/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSystem struct {
	BaseSystem
	name string
	log  *[]string
}

func (s *recordingSystem) Begin(scene *Scene, dt time.Duration) error {
	*s.log = append(*s.log, s.name+":begin")
	return nil
}

func (s *recordingSystem) Process(scene *Scene, dt time.Duration) error {
	*s.log = append(*s.log, s.name+":process")
	return nil
}

func (s *recordingSystem) End(scene *Scene, dt time.Duration) error {
	*s.log = append(*s.log, s.name+":end")
	return nil
}

func TestSchedulerRunsInUpdateOrder(t *testing.T) {
	scene := newScene(table.Factory.NewSchema())
	var log []string

	second := &recordingSystem{BaseSystem: BaseSystem{Order: 20}, name: "second", log: &log}
	first := &recordingSystem{BaseSystem: BaseSystem{Order: 10}, name: "first", log: &log}

	scene.AddSystem(second)
	scene.AddSystem(first)

	scene.Update(16 * time.Millisecond)

	assert.Equal(t, []string{
		"first:begin", "second:begin",
		"first:process", "second:process",
		"first:end", "second:end",
	}, log)
}

func TestSchedulerSkipsDisabledSystems(t *testing.T) {
	scene := newScene(table.Factory.NewSchema())
	var log []string

	sys := &recordingSystem{BaseSystem: BaseSystem{Order: 0}, name: "sys", log: &log}
	scene.AddSystem(sys)
	scene.SetSystemEnabled(sys, false)

	scene.Update(time.Millisecond)

	assert.Empty(t, log)
}

type panickingSystem struct {
	BaseSystem
}

func (s *panickingSystem) Process(scene *Scene, dt time.Duration) error {
	panic("boom")
}

func TestSchedulerRecoversPanicAndReportsEvent(t *testing.T) {
	scene := newScene(table.Factory.NewSchema())

	var captured SystemErrorEvent
	_, err := scene.Events.On(SystemErrorEventType, func(payload any) {
		captured = payload.(SystemErrorEvent)
	})
	require.NoError(t, err)

	scene.AddSystem(&panickingSystem{})

	require.NotPanics(t, func() {
		scene.Update(time.Millisecond)
	})

	assert.Contains(t, captured.Err.Error(), "boom")
}

type removalTrackingSystem struct {
	BaseSystem
	added, removed *bool
}

func (s *removalTrackingSystem) OnAdded(scene *Scene)   { *s.added = true }
func (s *removalTrackingSystem) OnRemoved(scene *Scene) { *s.removed = true }

func TestSchedulerAddedRemovedHooks(t *testing.T) {
	scene := newScene(table.Factory.NewSchema())
	added, removed := false, false
	sys := &removalTrackingSystem{added: &added, removed: &removed}

	scene.AddSystem(sys)
	assert.True(t, added)
	assert.False(t, removed)

	scene.RemoveSystem(sys)
	assert.True(t, removed)
	assert.Empty(t, scene.Systems())
}
