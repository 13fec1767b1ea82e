package ecs

import (
	"time"

	"github.com/TheBitDrifter/table"
)

// Scene bundles a Storage, a Scheduler, and an EventBus into the unit of
// isolation spec.md §6 describes: entities, archetypes, systems, and
// events created through one Scene never interact with another Scene's,
// so a process can run several independent simulations (menu, level,
// editor preview) side by side.
type Scene struct {
	Storage Storage
	Events  *EventBus

	scheduler *Scheduler
}

// newScene builds a Scene with a fresh Storage over schema, a fresh
// EventBus, and a Scheduler wired to report system errors on that bus.
func newScene(schema table.Schema) *Scene {
	bus := newEventBus()
	scene := &Scene{
		Storage: Factory.NewStorage(schema),
		Events:  bus,
	}
	scene.scheduler = newScheduler(bus)
	return scene
}

// AddSystem registers system with the scene's Scheduler.
func (s *Scene) AddSystem(system System) {
	s.scheduler.Add(s, system)
}

// RemoveSystem unregisters system from the scene's Scheduler.
func (s *Scene) RemoveSystem(system System) {
	s.scheduler.Remove(s, system)
}

// SetSystemEnabled toggles whether system runs on subsequent Update calls.
func (s *Scene) SetSystemEnabled(system System, enabled bool) {
	s.scheduler.SetEnabled(system, enabled)
}

// Systems returns the scene's currently registered systems, in updateOrder.
func (s *Scene) Systems() []System {
	return s.scheduler.Systems()
}

// Update runs one Begin/Process/End pass over every enabled system.
func (s *Scene) Update(dt time.Duration) {
	s.scheduler.Update(s, dt)
}

// CreateEntity creates a single entity with the given initial components.
func (s *Scene) CreateEntity(components ...Component) (Entity, error) {
	entities, err := s.Storage.NewEntities(1, components...)
	if err != nil {
		return nil, err
	}
	return entities[0], nil
}

// CreateEntities creates n entities sharing the given initial components.
func (s *Scene) CreateEntities(n int, components ...Component) ([]Entity, error) {
	return s.Storage.NewEntities(n, components...)
}

// DestroyEntity destroys a single entity immediately, or queues the
// destruction if the scene's storage is mid-iteration (locked).
func (s *Scene) DestroyEntity(e Entity) error {
	return s.Storage.EnqueueDestroyEntities(e)
}

// Destroy tears the scene down: every registered system is removed
// (running its OnRemoved hook, if any) and the event bus is closed,
// dropping any pending batched events per spec.md's documented teardown
// default. Storage itself is left as-is; nothing should create entities
// against a destroyed scene afterward.
func (s *Scene) Destroy() {
	s.scheduler.Clear(s)
	s.Events.Close()
}

// NewMatcher returns a fresh Matcher builder scoped to this scene's usage
// (the Matcher itself is storage-agnostic; scene is a convenience so
// callers don't have to import Factory directly).
func (s *Scene) NewMatcher() Matcher {
	return Factory.NewMatcher()
}
