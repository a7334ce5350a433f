// Package engine is the concurrent lifecycle manager and indexing pipeline
// for a fleet of tool-server subprocesses: it indexes servers and tools into
// a vector store, supervises running subprocesses, and serves synchronous
// and prioritized background tool invocations.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/toolrouter/toolrouterd/internal/descriptor"
	"github.com/toolrouter/toolrouterd/internal/embedding"
	"github.com/toolrouter/toolrouterd/internal/infra"
	"github.com/toolrouter/toolrouterd/internal/observability"
	"github.com/toolrouter/toolrouterd/internal/subprocess"
	"github.com/toolrouter/toolrouterd/internal/vectorindex"
)

// Settings carries the engine-level configuration from spec §6 that isn't
// part of any individual server's startup spec. DispatchPollIntervalMS is
// carried here but not read by the engine: the dispatch loop uses the fixed
// defaultDispatchPollTimeout.
type Settings struct {
	ServerIndexRateLimit   int64
	ToolIndexRateLimit     int64
	QueueSize              int
	QueueMaxSubscribers    int
	EmbeddingWeight        float32
	DispatchPollIntervalMS int
}

// Engine is the facade described in spec §4.7: it owns the indexer, all
// supervisor tasks, the background queue and its subscribers, and the
// in-process addressing domain, and guarantees ordered shutdown.
type Engine struct {
	config map[string]*subprocess.StartupSpec

	indexer   *Indexer
	addresses *addressBook
	queue     *backgroundQueue

	handlesMu sync.Mutex
	handles   map[string]*supervisorHandle

	subscribersCancel context.CancelFunc
	wg                sync.WaitGroup

	logger  *slog.Logger
	metrics *Metrics
}

// Dependencies bundles the external collaborators the engine is built from.
type Dependencies struct {
	Index     vectorindex.Index
	Embedder  embedding.Provider
	Describer descriptor.Describer
	Enhancer  descriptor.Enhancer
	Logger    *slog.Logger
	Metrics   *Metrics
}

// New constructs an Engine. It does not start any subscribers or
// supervisors; call Run to enter the engine's scope.
func New(config map[string]*subprocess.StartupSpec, settings Settings, deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	indexer := NewIndexer(IndexerConfig{
		Index:           deps.Index,
		Embedder:        deps.Embedder,
		Describer:       deps.Describer,
		Enhancer:        deps.Enhancer,
		ServerRateLimit: settings.ServerIndexRateLimit,
		ToolRateLimit:   settings.ToolIndexRateLimit,
		EmbeddingWeight: settings.EmbeddingWeight,
		Logger:          logger,
		Metrics:         metrics,
	})

	queueSize := settings.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Engine{
		config:    config,
		indexer:   indexer,
		addresses: newAddressBook(),
		queue:     newBackgroundQueue(queueSize, logger, metrics),
		handles:   make(map[string]*supervisorHandle),
		logger:    logger.With("component", "engine"),
		metrics:   metrics,
	}
}

// Run starts the configured number of background-queue subscribers
// (default 8) and blocks until ctx is canceled, at which point it runs the
// ordered shutdown from spec §4.7 and returns.
func (e *Engine) Run(ctx context.Context, maxSubscribers int) error {
	if maxSubscribers <= 0 {
		maxSubscribers = 8
	}

	// Subscribers get their own context so shutdown can cancel them after
	// the supervisors rather than together with ctx.
	subCtx, cancel := context.WithCancel(context.Background())
	e.subscribersCancel = cancel

	for i := 0; i < maxSubscribers; i++ {
		e.wg.Add(1)
		go e.subscriberLoop(subCtx, i)
	}

	e.logger.Info("engine running", "subscribers", maxSubscribers)
	<-ctx.Done()
	e.shutdown()
	return nil
}

// subscriberLoop is one background-queue worker (spec §4.6).
func (e *Engine) subscriberLoop(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.logger.With("subscriber", id)

	for {
		task, ok := e.queue.dequeue(ctx)
		if !ok {
			return
		}

		taskCtx := observability.WithTaskID(ctx, task.taskID)
		content, err := e.handleCall(taskCtx, task.serverName, task.toolName, task.args, backgroundCallTimeout)
		e.queue.complete(task, content, err)
		if err != nil {
			logger.DebugContext(taskCtx, "background task failed", "error", err)
		} else {
			logger.DebugContext(taskCtx, "background task completed")
		}
	}
}

// shutdown runs the ordered teardown from spec §4.7: cancel/await
// supervisors, then cancel/await subscribers (closing the queue), then close
// the addressing domain. Background task futures have no tier of their own:
// each in-flight handleCall is bound to the subscribers' context and returns
// once that context is canceled.
func (e *Engine) shutdown() {
	e.logger.Info("shutting down engine")

	e.handlesMu.Lock()
	handles := make([]*supervisorHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.handlesMu.Unlock()

	for _, h := range handles {
		func() {
			defer func() { _ = recover() }()
			h.cancel()
		}()
	}
	for _, h := range handles {
		<-h.done
	}

	if e.subscribersCancel != nil {
		e.subscribersCancel()
	}
	e.queue.close()
	e.wg.Wait()

	e.addresses.teardown()
	e.logger.Info("engine shut down")
}

// IndexAll runs the indexer over the engine's configured servers.
func (e *Engine) IndexAll(ctx context.Context) error {
	return e.indexer.IndexAll(ctx, e.config)
}

// IndexOne runs the indexer for a single configured server.
func (e *Engine) IndexOne(ctx context.Context, name string) error {
	spec, ok := e.config[name]
	if !ok {
		return notFoundErr(name)
	}
	return e.indexer.IndexOne(ctx, name, spec)
}

// Poll reports the status of a background task (spec §4.6).
func (e *Engine) Poll(taskID string) (done bool, content json.RawMessage, errMsg string) {
	result := e.queue.poll(taskID)
	return result.done, result.content, result.errMsg
}

// Health reports the engine's own view of its health: how many of its
// configured servers have a running supervisor and how deep the background
// queue currently is. Used as the ComponentHealthChecker for the engine's
// infra.SimpleComponent registration, in place of that component's generic
// state-only health.
func (e *Engine) Health(context.Context) infra.ComponentHealth {
	running := len(e.ListRunning())
	total := len(e.config)
	depth := e.queue.depth()

	state := infra.ServiceHealthHealthy
	if total > 0 && running == 0 {
		state = infra.ServiceHealthUnhealthy
	}

	return infra.ComponentHealth{
		State:   state,
		Message: fmt.Sprintf("%d/%d servers running, %d tasks queued", running, total, depth),
		Details: map[string]string{
			"servers_running": fmt.Sprintf("%d", running),
			"servers_total":   fmt.Sprintf("%d", total),
			"queue_depth":     fmt.Sprintf("%d", depth),
		},
	}
}
