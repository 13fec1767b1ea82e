package ecs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkerErrorEventType is the Event Bus topic a WorkerSystem emits to
// when its offloaded batch processor returns an error.
const WorkerErrorEventType = "system:worker-error"

// WorkerExtractor pulls the plain data a worker batch needs out of an
// entity, off of the scheduler goroutine and before any background work
// starts, so the background goroutine never touches Storage directly.
type WorkerExtractor[D any] func(scene *Scene, e Entity) D

// WorkerProcessor runs the heavy per-batch computation off the main
// scheduler goroutine. ctx is context.Background(); it is never cancelled,
// including when the scene is torn down mid-batch.
type WorkerProcessor[D any, R any] func(ctx context.Context, batch []D) ([]R, error)

// WorkerApplier writes a single batch result back onto the entity it was
// computed from, when the storage's queued operations are next drained
// (Scheduler.Update drains them at the start of each tick).
type WorkerApplier[D any, R any] func(scene *Scene, e Entity, result R)

// WorkerSystemConfig tunes a WorkerSystem's dispatch behavior.
type WorkerSystemConfig struct {
	// DispatchMode controls what happens when Process is called while a
	// batch is already in flight: "skip" drops the request, "queue" holds
	// the latest request and dispatches it the moment the in-flight batch
	// completes. Defaults to Config.Engine.WorkerDispatchMode.
	DispatchMode string

	// EntityDataSize is a capacity hint for the per-batch extraction
	// buffer. Defaults to getDefaultEntityDataSize().
	EntityDataSize int
}

func getDefaultEntityDataSize() int { return 256 }

type entityRef struct {
	id  uint32
	gen int
}

// WorkerSystem is the Worker Entity System contract (spec.md §6): match
// entities, extract their data on the scheduler goroutine, hand the batch
// to a background processor, and apply results back once it completes —
// at most one batch in flight at a time.
type WorkerSystem[D any, R any] struct {
	BaseSystem

	matcher Matcher
	extract WorkerExtractor[D]
	process WorkerProcessor[D, R]
	apply   WorkerApplier[D, R]
	config  WorkerSystemConfig

	mu       sync.Mutex
	inFlight bool
	queued   bool
}

// NewWorkerSystem builds a WorkerSystem at the given updateOrder, matching
// entities via matcher and running process in the background.
func NewWorkerSystem[D any, R any](
	order int,
	matcher Matcher,
	extract WorkerExtractor[D],
	process WorkerProcessor[D, R],
	apply WorkerApplier[D, R],
	cfg WorkerSystemConfig,
) *WorkerSystem[D, R] {
	if cfg.DispatchMode == "" {
		cfg.DispatchMode = Config.Engine.WorkerDispatchMode
	}
	if cfg.EntityDataSize == 0 {
		cfg.EntityDataSize = getDefaultEntityDataSize()
	}
	return &WorkerSystem[D, R]{
		BaseSystem: BaseSystem{Order: order},
		matcher:    matcher,
		extract:    extract,
		process:    process,
		apply:      apply,
		config:     cfg,
	}
}

// Process matches entities, and either starts a new batch or applies the
// configured overflow policy if one is already running.
func (w *WorkerSystem[D, R]) Process(scene *Scene, dt time.Duration) error {
	w.mu.Lock()
	if w.inFlight {
		if w.config.DispatchMode == "queue" {
			w.queued = true
		}
		w.mu.Unlock()
		return nil
	}
	w.inFlight = true
	w.mu.Unlock()

	w.dispatch(scene)
	return nil
}

func (w *WorkerSystem[D, R]) dispatch(scene *Scene) {
	cursor := w.matcher.Build(scene.Storage)
	data := make([]D, 0, w.config.EntityDataSize)
	refs := make([]entityRef, 0, w.config.EntityDataSize)

	for cursor.Next() {
		en, err := cursor.CurrentEntity()
		if err != nil {
			continue
		}
		data = append(data, w.extract(scene, en))
		refs = append(refs, entityRef{id: uint32(en.ID()), gen: en.Generation()})
	}

	go w.runBatch(scene, data, refs)
}

func (w *WorkerSystem[D, R]) runBatch(scene *Scene, data []D, refs []entityRef) {
	ctx := context.Background()

	var g errgroup.Group
	var results []R
	g.Go(func() error {
		r, err := w.process(ctx, data)
		results = r
		return err
	})
	err := g.Wait()

	w.mu.Lock()
	w.inFlight = false
	requeue := w.queued
	w.queued = false
	w.mu.Unlock()

	if err != nil {
		name := fmt.Sprintf("%T", w)
		logger().WithError(err).WithField("system", name).Error("worker system batch failed")
		if scene.Events != nil {
			scene.Events.Emit(WorkerErrorEventType, WorkerErrorEvent{System: name, Err: err})
		}
	} else {
		w.writeBack(scene, refs, results)
	}

	if requeue {
		w.mu.Lock()
		w.inFlight = true
		w.mu.Unlock()
		w.dispatch(scene)
	}
}

// writeBack enqueues each result for application to the entity it was
// computed from. This runs on the worker's background goroutine, and
// spec.md §5 requires all entity/component mutation to happen on the
// scheduler's goroutine — so writeBack never calls apply itself, it only
// enqueues a workerWritebackOperation, which re-checks (id, generation)
// and calls apply the next time Storage.Drain runs on the scheduler
// thread, dropping any entry whose entity was destroyed or recycled
// between extraction and batch completion.
func (w *WorkerSystem[D, R]) writeBack(scene *Scene, refs []entityRef, results []R) {
	n := len(refs)
	if len(results) < n {
		n = len(results)
	}
	for i := 0; i < n; i++ {
		scene.Storage.Enqueue(workerWritebackOperation[D, R]{
			scene:    scene,
			id:       refs[i].id,
			recycled: refs[i].gen,
			result:   results[i],
			apply:    w.apply,
		})
	}
}

// workerWritebackOperation is the EntityOperation a WorkerSystem enqueues
// so its write-back happens on the scheduler's goroutine instead of the
// background goroutine that computed the result.
type workerWritebackOperation[D any, R any] struct {
	scene    *Scene
	id       uint32
	recycled int
	result   R
	apply    WorkerApplier[D, R]
}

// Apply writes the result back if the entity is still present and hasn't
// been recycled since extraction.
func (op workerWritebackOperation[D, R]) Apply(sto Storage) error {
	en, err := sto.Entity(int(op.id))
	if err != nil || !en.Valid() || en.Generation() != op.recycled {
		return nil
	}
	op.apply(op.scene, en, op.result)
	return nil
}
