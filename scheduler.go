package ecs

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/TheBitDrifter/bark"
)

// SystemErrorEventType is the Event Bus topic a Scheduler emits to when a
// system panics or returns an error from any lifecycle hook.
const SystemErrorEventType = "system:error"

// schedulerEntry pairs a registered System with its enabled flag, tracked
// separately from the System itself so disabling doesn't require the
// System implementation to carry its own state.
type schedulerEntry struct {
	system  System
	enabled bool
}

// Scheduler runs a Scene's registered Systems once per tick in stable
// updateOrder, bracketing the pass with each system's Begin/End hooks
// around every system's Process (spec.md §5 lifecycle).
type Scheduler struct {
	mu      sync.Mutex
	entries []*schedulerEntry
	bus     *EventBus
}

func newScheduler(bus *EventBus) *Scheduler {
	return &Scheduler{bus: bus}
}

// Add registers system, invoking its OnAdded hook (if any) immediately
// and inserting it in updateOrder.
func (s *Scheduler) Add(scene *Scene, system System) {
	s.mu.Lock()
	s.entries = append(s.entries, &schedulerEntry{system: system, enabled: true})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].system.UpdateOrder() < s.entries[j].system.UpdateOrder()
	})
	s.mu.Unlock()

	if hook, ok := system.(SystemAddedHook); ok {
		hook.OnAdded(scene)
	}
}

// Remove unregisters system, invoking its OnRemoved hook (if any).
func (s *Scheduler) Remove(scene *Scene, system System) {
	s.mu.Lock()
	for i, e := range s.entries {
		if e.system == system {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if hook, ok := system.(SystemRemovedHook); ok {
		hook.OnRemoved(scene)
	}
}

// Clear unregisters every currently-registered system, invoking each
// one's OnRemoved hook (if any). Used by Scene.Destroy to tear the
// scheduler down.
func (s *Scheduler) Clear(scene *Scene) {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, e := range entries {
		if hook, ok := e.system.(SystemRemovedHook); ok {
			hook.OnRemoved(scene)
		}
	}
}

// SetEnabled toggles whether system runs on subsequent Update passes
// without unregistering it.
func (s *Scheduler) SetEnabled(system System, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.system == system {
			e.enabled = enabled
			return
		}
	}
}

// Systems returns a snapshot of the currently registered systems, in
// updateOrder.
func (s *Scheduler) Systems() []System {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]System, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.system
	}
	return out
}

// Update runs one full Begin/Process/End pass over every enabled system,
// in updateOrder. A panic from any hook is recovered and wrapped with a
// stack trace; an error returned from a hook is wrapped with the phase
// name only. Either is reported on the "system:error" event and does not
// stop the remaining systems in the pass.
func (s *Scheduler) Update(scene *Scene, dt time.Duration) {
	if err := scene.Storage.Drain(); err != nil {
		logger().WithError(err).Error("failed to process queued entity operations")
	}

	s.mu.Lock()
	entries := make([]*schedulerEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		s.runGuarded(scene, e.system, dt, "begin", e.system.Begin)
	}
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		s.runGuarded(scene, e.system, dt, "process", e.system.Process)
	}
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		s.runGuarded(scene, e.system, dt, "end", e.system.End)
	}
}

func (s *Scheduler) runGuarded(scene *Scene, system System, dt time.Duration, phase string, fn func(*Scene, time.Duration) error) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in %s: %v", phase, r)
			s.reportError(system, bark.AddTrace(err), string(debug.Stack()))
		}
	}()
	if err := fn(scene, dt); err != nil {
		s.reportError(system, fmt.Errorf("%s: %w", phase, err), "")
	}
}

func (s *Scheduler) reportError(system System, err error, trace string) {
	name := fmt.Sprintf("%T", system)
	logger().WithError(err).WithField("system", name).Error("system lifecycle hook failed")
	if s.bus == nil {
		return
	}
	s.bus.emit(SystemErrorEventType, SystemErrorEvent{
		System: name,
		Err:    err,
		Trace:  trace,
	})
}
