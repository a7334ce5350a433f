package engine

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// backgroundTask is a background task handle (spec §3): created on enqueue,
// removed from the live-tasks map on first successful poll that observes
// completion.
type backgroundTask struct {
	taskID     string
	priority   int
	seq        int64
	serverName string
	toolName   string
	args       json.RawMessage

	done    chan struct{}
	content []byte
	errMsg  string
	failed  bool
}

// taskHeap orders backgroundTasks by ascending priority, then ascending
// sequence number, giving FIFO-within-priority. It implements container/heap.
type taskHeap []*backgroundTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*backgroundTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// backgroundQueue is the bounded priority queue described in spec §4.6: a
// capacity-bounded heap with N subscriber goroutines draining it, plus a
// live-tasks map for Poll.
type backgroundQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     taskHeap
	capacity int
	nextSeq  int64
	closed   bool

	liveMu sync.Mutex
	live   map[string]*backgroundTask

	logger  *slog.Logger
	metrics *Metrics
}

func newBackgroundQueue(capacity int, logger *slog.Logger, metrics *Metrics) *backgroundQueue {
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &backgroundQueue{
		capacity: capacity,
		live:     make(map[string]*backgroundTask),
		logger:   logger.With("component", "background_queue"),
		metrics:  metrics,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue blocks until there is room in the queue or ctx is canceled.
func (q *backgroundQueue) enqueue(ctx context.Context, task *backgroundTask) error {
	done := make(chan struct{})
	var ctxErr error
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			ctxErr = ctx.Err()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	for len(q.heap) >= q.capacity && ctxErr == nil && !q.closed {
		q.cond.Wait()
	}
	if ctxErr != nil {
		q.mu.Unlock()
		return ctxErr
	}
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}

	task.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, task)
	depth := len(q.heap)
	q.cond.Broadcast()
	q.mu.Unlock()
	q.metrics.recordQueueDepth(depth)

	q.liveMu.Lock()
	q.live[task.taskID] = task
	q.liveMu.Unlock()

	return nil
}

// dequeue blocks until a task is available, ctx is canceled, or the queue closes.
func (q *backgroundQueue) dequeue(ctx context.Context) (*backgroundTask, bool) {
	done := make(chan struct{})
	var canceled bool
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			canceled = true
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	for len(q.heap) == 0 && !canceled && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	task := heap.Pop(&q.heap).(*backgroundTask)
	depth := len(q.heap)
	q.cond.Broadcast()
	q.mu.Unlock()
	q.metrics.recordQueueDepth(depth)
	return task, true
}

// depth returns the number of tasks currently queued (not yet dequeued).
func (q *backgroundQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// close unblocks all enqueue/dequeue waiters without draining the queue.
func (q *backgroundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// complete records a subscriber's result on the task and signals waiters.
func (q *backgroundQueue) complete(task *backgroundTask, content []byte, err error) {
	if err != nil {
		task.failed = true
		task.errMsg = err.Error()
	} else {
		task.content = content
	}
	close(task.done)
}

// pollResult is the outcome of Poll (spec §4.6).
type pollResult struct {
	done    bool
	content []byte
	errMsg  string
}

// poll looks up taskID in the live-tasks map. A completed task is reaped
// (removed) on first observation; subsequent polls report not-found.
func (q *backgroundQueue) poll(taskID string) pollResult {
	q.liveMu.Lock()
	task, ok := q.live[taskID]
	if !ok {
		q.liveMu.Unlock()
		return pollResult{done: false, errMsg: fmt.Sprintf("No background task found with ID %s", taskID)}
	}

	select {
	case <-task.done:
		delete(q.live, taskID)
		q.liveMu.Unlock()
		if task.failed {
			return pollResult{done: false, errMsg: task.errMsg}
		}
		return pollResult{done: true, content: task.content}
	default:
		q.liveMu.Unlock()
		return pollResult{done: false, errMsg: "still running"}
	}
}
