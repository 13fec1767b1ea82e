package ecs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPriorityOrdering(t *testing.T) {
	bus := newEventBus()
	var order []int

	_, err := bus.OnPriority("tick", func(any) { order = append(order, 2) }, 2)
	require.NoError(t, err)
	_, err = bus.OnPriority("tick", func(any) { order = append(order, 1) }, 1)
	require.NoError(t, err)
	_, err = bus.OnPriority("tick", func(any) { order = append(order, 0) }, 0)
	require.NoError(t, err)

	bus.EmitSync("tick", nil)

	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestEventBusOnce(t *testing.T) {
	bus := newEventBus()
	calls := 0
	_, err := bus.Once("spawn", func(any) { calls++ })
	require.NoError(t, err)

	bus.EmitSync("spawn", nil)
	bus.EmitSync("spawn", nil)

	assert.Equal(t, 1, calls)
}

func TestEventBusOffAndOffAll(t *testing.T) {
	bus := newEventBus()
	calls := 0
	id, err := bus.On("damage", func(any) { calls++ })
	require.NoError(t, err)

	bus.EmitSync("damage", nil)
	bus.Off("damage", id)
	bus.EmitSync("damage", nil)
	assert.Equal(t, 1, calls)

	_, err = bus.On("damage", func(any) { calls++ })
	require.NoError(t, err)
	bus.OffAll("damage")
	bus.EmitSync("damage", nil)
	assert.Equal(t, 1, calls)
}

func TestEventBusListenerCap(t *testing.T) {
	bus := newEventBus()
	bus.SetListenerCap(2)

	_, err := bus.On("full", func(any) {})
	require.NoError(t, err)
	_, err = bus.On("full", func(any) {})
	require.NoError(t, err)

	_, err = bus.On("full", func(any) {})
	var capErr ListenerLimitExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Limit)
}

func TestEventBusBatching(t *testing.T) {
	bus := newEventBus()
	var batches []BatchEvent
	_, err := bus.On("batched:batch", func(p any) { batches = append(batches, p.(BatchEvent)) })
	require.NoError(t, err)

	bus.SetBatchConfig("batched", BatchConfig{BatchSize: 3, Enabled: true})

	bus.Emit("batched", 1)
	bus.Emit("batched", 2)
	assert.Empty(t, batches, "should not dispatch before the batch is full")

	bus.Emit("batched", 3)
	require.Len(t, batches, 1, "batch should auto-flush once full")
	assert.Equal(t, []any{1, 2, 3}, batches[0].Events)
	assert.Equal(t, 3, batches[0].Count)
	assert.Equal(t, "batched", batches[0].Type)

	bus.Emit("batched", 4)
	assert.Len(t, batches, 1, "partial batch should still be pending")

	bus.Flush("batched")
	require.Len(t, batches, 2)
	assert.Equal(t, []any{4}, batches[1].Events)
}

func TestEventBusBatchingFlushesOnDelay(t *testing.T) {
	bus := newEventBus()
	var batches []BatchEvent
	_, err := bus.On("tick:batch", func(p any) { batches = append(batches, p.(BatchEvent)) })
	require.NoError(t, err)

	bus.SetBatchConfig("tick", BatchConfig{BatchSize: 100, Delay: 20 * time.Millisecond, Enabled: true})

	for i := 0; i < 7; i++ {
		bus.Emit("tick", i)
	}

	require.Eventually(t, func() bool {
		return len(batches) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 7, batches[0].Count)
}

func TestEventBusCloseDropsPendingAndDisablesFurtherUse(t *testing.T) {
	bus := newEventBus()
	bus.SetBatchConfig("batched", BatchConfig{BatchSize: 100, Enabled: true})
	bus.Emit("batched", 1)
	bus.Emit("batched", 2)

	calls := 0
	_, err := bus.On("other", func(any) { calls++ })
	require.NoError(t, err)

	bus.Close()

	bus.EmitSync("other", nil)
	assert.Zero(t, calls, "Emit after Close should be a no-op")

	_, err = bus.On("other", func(any) {})
	assert.Error(t, err, "On after Close should be rejected")
}

func TestEventBusEmitAsyncJoinsHandlers(t *testing.T) {
	bus := newEventBus()
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		_, err := bus.On("parallel", func(any) { done <- struct{}{} })
		require.NoError(t, err)
	}

	bus.EmitAsync("parallel", nil)

	for i := 0; i < 3; i++ {
		<-done
	}
}

func TestEventBusStats(t *testing.T) {
	bus := newEventBus()
	_, err := bus.On("stat", func(any) {})
	require.NoError(t, err)

	bus.EmitSync("stat", nil)
	bus.EmitSync("stat", nil)

	stats := bus.Stats("stat")
	assert.Equal(t, 1, stats.Listeners)
	assert.Equal(t, uint64(2), stats.Emitted)
}
