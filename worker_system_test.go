package ecs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TheBitDrifter/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkerTestScene(t *testing.T, n int) (*Scene, Component, []Entity) {
	t.Helper()
	scene := newScene(table.Factory.NewSchema())
	health := FactoryNewComponent[Health]()
	entities, err := scene.CreateEntities(n, health)
	require.NoError(t, err)
	return scene, health, entities
}

func TestWorkerSystemAppliesResultsOnCompletion(t *testing.T) {
	scene, health, _ := newWorkerTestScene(t, 3)
	matcher := newMatcher().All(health)

	var applyMu sync.Mutex
	applied := 0

	ws := NewWorkerSystem[int, int](
		0, matcher,
		func(scene *Scene, e Entity) int { return 1 },
		func(ctx context.Context, batch []int) ([]int, error) {
			out := make([]int, len(batch))
			for i, v := range batch {
				out[i] = v * 10
			}
			return out, nil
		},
		func(scene *Scene, e Entity, result int) {
			applyMu.Lock()
			applied += result
			applyMu.Unlock()
		},
		WorkerSystemConfig{DispatchMode: "skip"},
	)

	require.NoError(t, ws.Process(scene, time.Millisecond))

	// writeBack enqueues results instead of applying them directly from
	// the worker goroutine (spec.md §5); draining is what a scheduler
	// tick would do to pick them up on its own goroutine.
	require.Eventually(t, func() bool {
		require.NoError(t, scene.Storage.Drain())
		applyMu.Lock()
		defer applyMu.Unlock()
		return applied == 30
	}, time.Second, time.Millisecond)
}

func TestWorkerSystemSkipModeDropsWhileInFlight(t *testing.T) {
	scene, health, _ := newWorkerTestScene(t, 1)
	matcher := newMatcher().All(health)

	release := make(chan struct{})
	var callCount int
	var mu sync.Mutex

	ws := NewWorkerSystem[int, int](
		0, matcher,
		func(scene *Scene, e Entity) int { return 1 },
		func(ctx context.Context, batch []int) ([]int, error) {
			mu.Lock()
			callCount++
			mu.Unlock()
			<-release
			return batch, nil
		},
		func(scene *Scene, e Entity, result int) {},
		WorkerSystemConfig{DispatchMode: "skip"},
	)

	require.NoError(t, ws.Process(scene, time.Millisecond))
	require.NoError(t, ws.Process(scene, time.Millisecond))
	require.NoError(t, ws.Process(scene, time.Millisecond))

	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return callCount == 1
	}, time.Second, time.Millisecond)
}

func TestWorkerSystemQueueModeRedispatchesOnce(t *testing.T) {
	scene, health, _ := newWorkerTestScene(t, 1)
	matcher := newMatcher().All(health)

	release := make(chan struct{})
	var callCount int
	var mu sync.Mutex

	ws := NewWorkerSystem[int, int](
		0, matcher,
		func(scene *Scene, e Entity) int { return 1 },
		func(ctx context.Context, batch []int) ([]int, error) {
			mu.Lock()
			callCount++
			n := callCount
			mu.Unlock()
			if n == 1 {
				<-release
			}
			return batch, nil
		},
		func(scene *Scene, e Entity, result int) {},
		WorkerSystemConfig{DispatchMode: "queue"},
	)

	require.NoError(t, ws.Process(scene, time.Millisecond))
	require.NoError(t, ws.Process(scene, time.Millisecond))

	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return callCount == 2
	}, time.Second, time.Millisecond)
}

func TestWorkerSystemDropsStaleEntityOnWriteback(t *testing.T) {
	scene, health, entities := newWorkerTestScene(t, 1)
	matcher := newMatcher().All(health)

	target := entities[0]

	applyCalled := false
	ws := NewWorkerSystem[int, int](
		0, matcher,
		func(scene *Scene, e Entity) int { return 1 },
		func(ctx context.Context, batch []int) ([]int, error) {
			// Destroy the entity after extraction but before writeback,
			// simulating a structural change mid-batch.
			require.NoError(t, scene.DestroyEntity(target))
			return batch, nil
		},
		func(scene *Scene, e Entity, result int) { applyCalled = true },
		WorkerSystemConfig{DispatchMode: "skip"},
	)

	require.NoError(t, ws.Process(scene, time.Millisecond))

	require.Eventually(t, func() bool {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		return !ws.inFlight
	}, time.Second, time.Millisecond)

	// Run the queued write-back the way a scheduler tick would, so the
	// (id, generation) check in workerWritebackOperation.Apply is exercised.
	require.Never(t, func() bool {
		require.NoError(t, scene.Storage.Drain())
		return applyCalled
	}, 50*time.Millisecond, time.Millisecond)

	assert.False(t, applyCalled, "stale entity result should be dropped, not applied")
}

func TestWorkerSystemEmitsWorkerErrorEvent(t *testing.T) {
	scene, health, _ := newWorkerTestScene(t, 1)
	matcher := newMatcher().All(health)

	var captured WorkerErrorEvent
	done := make(chan struct{})
	_, err := scene.Events.On(WorkerErrorEventType, func(payload any) {
		captured = payload.(WorkerErrorEvent)
		close(done)
	})
	require.NoError(t, err)

	ws := NewWorkerSystem[int, int](
		0, matcher,
		func(scene *Scene, e Entity) int { return 1 },
		func(ctx context.Context, batch []int) ([]int, error) {
			return nil, assertError{}
		},
		func(scene *Scene, e Entity, result int) {},
		WorkerSystemConfig{DispatchMode: "skip"},
	)

	require.NoError(t, ws.Process(scene, time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker error event")
	}

	assert.ErrorIs(t, captured.Err, assertError{})
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
