package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBackgroundQueuePriorityOrdering(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	ctx := context.Background()

	low := &backgroundTask{taskID: "low", priority: 5, done: make(chan struct{})}
	high := &backgroundTask{taskID: "high", priority: 1, done: make(chan struct{})}
	mid := &backgroundTask{taskID: "mid", priority: 3, done: make(chan struct{})}

	require.NoError(t, q.enqueue(ctx, low))
	require.NoError(t, q.enqueue(ctx, high))
	require.NoError(t, q.enqueue(ctx, mid))

	first, ok := q.dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "high", first.taskID)

	second, ok := q.dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "mid", second.taskID)

	third, ok := q.dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "low", third.taskID)
}

func TestBackgroundQueueFIFOWithinPriority(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	ctx := context.Background()

	a := &backgroundTask{taskID: "a", priority: 1, done: make(chan struct{})}
	b := &backgroundTask{taskID: "b", priority: 1, done: make(chan struct{})}
	c := &backgroundTask{taskID: "c", priority: 1, done: make(chan struct{})}

	require.NoError(t, q.enqueue(ctx, a))
	require.NoError(t, q.enqueue(ctx, b))
	require.NoError(t, q.enqueue(ctx, c))

	for _, want := range []string{"a", "b", "c"} {
		task, ok := q.dequeue(ctx)
		require.True(t, ok)
		require.Equal(t, want, task.taskID)
	}
}

func TestBackgroundQueuePollStillRunning(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	ctx := context.Background()
	task := &backgroundTask{taskID: "t1", done: make(chan struct{})}
	require.NoError(t, q.enqueue(ctx, task))

	result := q.poll("t1")
	require.False(t, result.done)
	require.Equal(t, "still running", result.errMsg)
}

func TestBackgroundQueuePollNotFound(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	result := q.poll("missing")
	require.False(t, result.done)
	require.Contains(t, result.errMsg, "No background task found with ID missing")
}

func TestBackgroundQueuePollCompletionIsDestructive(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	ctx := context.Background()
	task := &backgroundTask{taskID: "t1", done: make(chan struct{})}
	require.NoError(t, q.enqueue(ctx, task))

	q.complete(task, []byte(`{"ok":true}`), nil)

	first := q.poll("t1")
	require.True(t, first.done)
	require.JSONEq(t, `{"ok":true}`, string(first.content))

	second := q.poll("t1")
	require.False(t, second.done)
	require.Contains(t, second.errMsg, "No background task found with ID t1")
}

func TestBackgroundQueuePollFailedTask(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	ctx := context.Background()
	task := &backgroundTask{taskID: "t1", done: make(chan struct{})}
	require.NoError(t, q.enqueue(ctx, task))

	q.complete(task, nil, errBoom)

	result := q.poll("t1")
	require.False(t, result.done)
	require.Equal(t, errBoom.Error(), result.errMsg)
}

func TestBackgroundQueueDequeueUnblocksOnClose(t *testing.T) {
	q := newBackgroundQueue(8, nil, nil)
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.dequeue(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after close")
	}
}

func TestBackgroundQueueEnqueueRespectsContextCancellation(t *testing.T) {
	q := newBackgroundQueue(1, nil, nil)
	ctx := context.Background()
	require.NoError(t, q.enqueue(ctx, &backgroundTask{taskID: "fills-it", done: make(chan struct{})}))

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.enqueue(cancelCtx, &backgroundTask{taskID: "blocked", done: make(chan struct{})})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after context cancellation")
	}
}
