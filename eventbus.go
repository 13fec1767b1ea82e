package ecs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventHandler receives an event payload. The payload's concrete type is
// whatever the emitter passed; handlers type-assert it themselves.
type EventHandler func(payload any)

type handlerEntry struct {
	id       uint64
	handler  EventHandler
	priority int
	once     bool
}

type eventTypeState struct {
	mu       sync.Mutex
	handlers []*handlerEntry
	nextID   uint64

	batching   bool
	batchSize  int
	batchDelay time.Duration
	timer      *time.Timer
	pending    []any

	emitted uint64
	dropped uint64
}

// EventBus is a typed pub/sub dispatcher scoped to a Scene (spec.md §6):
// priority-ordered handlers, one-shot subscriptions, synchronous and
// concurrent dispatch, and per-type batching, all behind a per-type
// listener cap.
type EventBus struct {
	mu     sync.RWMutex
	types  map[string]*eventTypeState
	cap    int
	closed bool
}

func newEventBus() *EventBus {
	return &EventBus{
		types: make(map[string]*eventTypeState),
		cap:   Config.Engine.DefaultListenerCap,
	}
}

// SetListenerCap overrides the per-event-type subscription cap for this
// bus instance; the default comes from Config.Engine.DefaultListenerCap.
func (b *EventBus) SetListenerCap(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cap = n
}

func (b *EventBus) stateFor(eventType string) *eventTypeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.types[eventType]
	if !ok {
		st = &eventTypeState{}
		b.types[eventType] = st
	}
	return st
}

func (b *EventBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// On registers handler for eventType at default priority 0. Returns a
// subscription id usable with Off, or ListenerLimitExceededError if the
// type's cap is already reached.
func (b *EventBus) On(eventType string, handler EventHandler) (uint64, error) {
	return b.on(eventType, handler, 0, false)
}

// OnPriority registers handler for eventType; higher priority runs first
// among handlers for the same event type, ties broken by registration
// order.
func (b *EventBus) OnPriority(eventType string, handler EventHandler, priority int) (uint64, error) {
	return b.on(eventType, handler, priority, false)
}

// Once registers handler to run at most once, auto-unsubscribing itself
// immediately after its first invocation.
func (b *EventBus) Once(eventType string, handler EventHandler) (uint64, error) {
	return b.on(eventType, handler, 0, true)
}

func (b *EventBus) on(eventType string, handler EventHandler, priority int, once bool) (uint64, error) {
	if b.isClosed() {
		return 0, fmt.Errorf("event bus is closed")
	}

	b.mu.RLock()
	cap := b.cap
	b.mu.RUnlock()

	st := b.stateFor(eventType)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.handlers) >= cap {
		return 0, ListenerLimitExceededError{EventType: eventType, Limit: cap}
	}
	st.nextID++
	id := st.nextID
	st.handlers = append(st.handlers, &handlerEntry{id: id, handler: handler, priority: priority, once: once})
	sort.SliceStable(st.handlers, func(i, j int) bool {
		return st.handlers[i].priority > st.handlers[j].priority
	})
	return id, nil
}

// Off unsubscribes a single handler by the id On/Once returned.
func (b *EventBus) Off(eventType string, id uint64) {
	st := b.stateFor(eventType)
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, h := range st.handlers {
		if h.id == id {
			st.handlers = append(st.handlers[:i], st.handlers[i+1:]...)
			return
		}
	}
}

// OffAll removes every handler currently registered for eventType.
func (b *EventBus) OffAll(eventType string) {
	st := b.stateFor(eventType)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.handlers = nil
}

// BatchConfig configures per-event-type batching for SetBatchConfig.
type BatchConfig struct {
	// BatchSize is how many pending events trigger an immediate drain.
	// Defaults to Config.Engine.DefaultBatchSize when zero.
	BatchSize int
	// Delay is how long after the first pending event accumulates to wait
	// before auto-draining, regardless of BatchSize. Defaults to
	// Config.Engine.DefaultBatchInterval when zero.
	Delay time.Duration
	// Enabled turns batching for eventType on or off. SetBatchConfig with
	// Enabled: false disables batching; Emit goes back to dispatching
	// immediately.
	Enabled bool
}

// SetBatchConfig configures batching for eventType. While enabled, Emit
// appends payloads to a pending queue instead of dispatching immediately;
// the queue auto-drains whichever comes first of BatchSize payloads
// accumulating or Delay elapsing since the first pending payload. A
// drain dispatches exactly one BatchEvent to "${eventType}:batch" —
// listeners on the raw eventType never see individually-batched payloads.
func (b *EventBus) SetBatchConfig(eventType string, cfg BatchConfig) {
	st := b.stateFor(eventType)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !cfg.Enabled {
		st.batching = false
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		return
	}

	size := cfg.BatchSize
	if size <= 0 {
		size = Config.Engine.DefaultBatchSize
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = Config.Engine.DefaultBatchInterval
	}
	st.batching = true
	st.batchSize = size
	st.batchDelay = delay
}

// Emit dispatches payload for eventType, honoring batching if configured.
func (b *EventBus) Emit(eventType string, payload any) {
	b.emit(eventType, payload)
}

func (b *EventBus) emit(eventType string, payload any) {
	if b.isClosed() {
		return
	}

	st := b.stateFor(eventType)
	st.mu.Lock()
	if st.batching {
		st.pending = append(st.pending, payload)
		if len(st.pending) == 1 && st.batchDelay > 0 {
			st.timer = time.AfterFunc(st.batchDelay, func() { b.Flush(eventType) })
		}
		full := len(st.pending) >= st.batchSize
		st.mu.Unlock()
		if full {
			b.Flush(eventType)
		}
		return
	}
	st.mu.Unlock()
	b.dispatch(st, eventType, payload)
}

// EmitSync dispatches payload synchronously, bypassing any batch
// configuration for eventType.
func (b *EventBus) EmitSync(eventType string, payload any) {
	if b.isClosed() {
		return
	}
	st := b.stateFor(eventType)
	b.dispatch(st, eventType, payload)
}

// EmitAsync dispatches payload to every handler for eventType
// concurrently, joining all handler invocations via errgroup before
// returning. A handler panic is recovered and logged rather than
// propagated: event handlers have no caller to return an error to.
func (b *EventBus) EmitAsync(eventType string, payload any) {
	if b.isClosed() {
		return
	}

	st := b.stateFor(eventType)
	st.mu.Lock()
	handlers := make([]*handlerEntry, len(st.handlers))
	copy(handlers, st.handlers)
	st.emitted++
	st.mu.Unlock()

	var g errgroup.Group
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger().WithField("event", eventType).Errorf("handler panic: %v", r)
				}
			}()
			h.handler(payload)
			return nil
		})
	}
	_ = g.Wait()
	b.pruneOnce(st, handlers)
}

func (b *EventBus) dispatch(st *eventTypeState, eventType string, payload any) {
	st.mu.Lock()
	handlers := make([]*handlerEntry, len(st.handlers))
	copy(handlers, st.handlers)
	st.emitted++
	st.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger().WithField("event", eventType).Errorf("handler panic: %v", r)
				}
			}()
			h.handler(payload)
		}()
	}
	b.pruneOnce(st, handlers)
}

func (b *EventBus) pruneOnce(st *eventTypeState, fired []*handlerEntry) {
	var onceIDs map[uint64]bool
	for _, h := range fired {
		if h.once {
			if onceIDs == nil {
				onceIDs = make(map[uint64]bool)
			}
			onceIDs[h.id] = true
		}
	}
	if onceIDs == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	kept := make([]*handlerEntry, 0, len(st.handlers))
	for _, h := range st.handlers {
		if onceIDs[h.id] {
			continue
		}
		kept = append(kept, h)
	}
	st.handlers = kept
}

// BatchEvent is the payload dispatched to "${eventType}:batch" when a
// batched event type drains, carrying every payload queued since the
// previous flush.
type BatchEvent struct {
	Type      string
	Events    []any
	Count     int
	Timestamp time.Time
}

// Flush drains eventType's pending batch, dispatching a single BatchEvent
// to "${eventType}:batch" carrying every payload queued since the last
// flush. A no-op when nothing is pending.
func (b *EventBus) Flush(eventType string) {
	st := b.stateFor(eventType)
	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	pending := st.pending
	st.pending = nil
	st.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	batchType := eventType + ":batch"
	batchSt := b.stateFor(batchType)
	b.dispatch(batchSt, batchType, BatchEvent{
		Type:      eventType,
		Events:    pending,
		Count:     len(pending),
		Timestamp: time.Now(),
	})
}

// Close tears the bus down: per spec.md's documented teardown default,
// any pending batched events are dropped (not flushed) and logged, every
// pending batch timer is stopped, and every listener is cleared. After
// Close, On/OnPriority/Once return an error; Emit, EmitSync, EmitAsync,
// and Flush are silent no-ops.
func (b *EventBus) Close() {
	b.mu.Lock()
	types := b.types
	b.types = make(map[string]*eventTypeState)
	b.closed = true
	b.mu.Unlock()

	for eventType, st := range types {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		if len(st.pending) > 0 {
			logger().WithField("event", eventType).Warnf("dropping %d pending batched event(s) on bus close", len(st.pending))
		}
		st.pending = nil
		st.handlers = nil
		st.mu.Unlock()
	}
}

// EventStats reports per-type listener count and lifetime counters.
type EventStats struct {
	Listeners int
	Emitted   uint64
	Dropped   uint64
	Pending   int
}

// Stats returns the current EventStats for eventType.
func (b *EventBus) Stats(eventType string) EventStats {
	st := b.stateFor(eventType)
	st.mu.Lock()
	defer st.mu.Unlock()
	return EventStats{
		Listeners: len(st.handlers),
		Emitted:   st.emitted,
		Dropped:   st.dropped,
		Pending:   len(st.pending),
	}
}
