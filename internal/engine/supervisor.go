package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolrouter/toolrouterd/internal/subprocess"
	"github.com/toolrouter/toolrouterd/internal/vectorindex"
)

// HandleState is the finite state of a supervisor handle.
type HandleState int32

const (
	HandlePending HandleState = iota
	HandleRunning
	HandleStopped
	HandleFailed
)

func (s HandleState) String() string {
	switch s {
	case HandlePending:
		return "pending"
	case HandleRunning:
		return "running"
	case HandleStopped:
		return "stopped"
	case HandleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// supervisorHandle tracks one server's running supervisor task.
type supervisorHandle struct {
	serverName string
	endpointID string
	state      atomic.Int32
	cancel     context.CancelFunc
	done       chan struct{}
	startErr   error
	mu         sync.Mutex
}

func (h *supervisorHandle) State() HandleState {
	return HandleState(h.state.Load())
}

func (h *supervisorHandle) setState(s HandleState) {
	h.state.Store(int32(s))
}

func (h *supervisorHandle) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startErr
}

func (h *supervisorHandle) setErr(err error) {
	h.mu.Lock()
	h.startErr = err
	h.mu.Unlock()
}

// startupPollInterval is how often Start polls for a Pending->Running
// transition (spec §4.4: "poll at a coarse interval (≈1 s)").
const startupPollInterval = 1 * time.Second

// defaultDispatchPollTimeout is the tick interval of the dispatch loop
// (spec §4.4 step 4, 5s). The loop also selects on ctx.Done, so cancellation
// is seen without waiting for a tick. The loop always uses this value;
// Settings.DispatchPollIntervalMS is not read.
const defaultDispatchPollTimeout = 5 * time.Second

// Start launches a supervisor for name if one isn't already Pending/Running.
// It returns once the handle has transitioned to Running or Failed.
func (e *Engine) Start(ctx context.Context, name string) (bool, string, error) {
	e.handlesMu.Lock()
	if h, ok := e.handles[name]; ok && (h.State() == HandlePending || h.State() == HandleRunning) {
		e.handlesMu.Unlock()
		return true, "already running", nil
	}
	spec, ok := e.config[name]
	if !ok {
		e.handlesMu.Unlock()
		return false, "not found", notFoundErr(name)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &supervisorHandle{
		serverName: name,
		endpointID: vectorindex.ServerFingerprint(name),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	handle.setState(HandlePending)
	e.handles[name] = handle
	e.handlesMu.Unlock()
	e.metrics.recordSupervisorState(name, HandlePending)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSupervisor(runCtx, handle, name, spec)
		close(handle.done)

		e.handlesMu.Lock()
		if e.handles[name] == handle {
			delete(e.handles, name)
		}
		e.handlesMu.Unlock()
	}()

	ticker := time.NewTicker(startupPollInterval)
	defer ticker.Stop()
	for {
		switch handle.State() {
		case HandleRunning:
			return true, fmt.Sprintf("server %q started", name), nil
		case HandleFailed, HandleStopped:
			return false, "failed to start", handle.err()
		}
		select {
		case <-handle.done:
			if handle.State() == HandleRunning {
				return true, fmt.Sprintf("server %q started", name), nil
			}
			return false, "failed to start", handle.err()
		case <-ticker.C:
		case <-ctx.Done():
			return false, "start cancelled", ctx.Err()
		}
	}
}

// runSupervisor is the supervisor task body (spec §4.4 "Run").
func (e *Engine) runSupervisor(ctx context.Context, handle *supervisorHandle, name string, spec *subprocess.StartupSpec) {
	logger := e.logger.With("component", "supervisor", "server", name)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session := subprocess.NewSession(name, spec, logger)
	if _, err := session.Initialize(initCtx); err != nil {
		if initCtx.Err() != nil {
			handle.setErr(timeoutErr(name, "", err))
		} else {
			handle.setErr(initFailedErr(name, err))
		}
		handle.setState(HandleFailed)
		e.metrics.recordSupervisorState(name, HandleFailed)
		return
	}
	defer session.Close()

	if _, err := session.ListTools(initCtx); err != nil {
		handle.setErr(initFailedErr(name, err))
		handle.setState(HandleFailed)
		e.metrics.recordSupervisorState(name, HandleFailed)
		return
	}

	ep, err := e.addresses.bind(handle.endpointID)
	if err != nil {
		handle.setErr(initFailedErr(name, err))
		handle.setState(HandleFailed)
		e.metrics.recordSupervisorState(name, HandleFailed)
		return
	}
	defer e.addresses.unbind(handle.endpointID)

	handle.setState(HandleRunning)
	e.metrics.recordSupervisorState(name, HandleRunning)
	logger.Info("supervisor running")

	e.dispatchLoop(ctx, logger, session, ep, name)

	handle.setState(HandleStopped)
	e.metrics.recordSupervisorState(name, HandleStopped)
	logger.Info("supervisor stopped")
}

// dispatchLoop serves call frames from the endpoint until ctx is canceled. It
// also watches for the server's own tools/list_changed notifications and
// triggers a forced re-index so the vector store stays current without
// waiting for the next scheduled reindex.
func (e *Engine) dispatchLoop(ctx context.Context, logger *slog.Logger, session *subprocess.Session, ep *endpoint, serverName string) {
	ticker := time.NewTicker(defaultDispatchPollTimeout)
	defer ticker.Stop()

	toolsChanged := session.ToolsChanged(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-ep.requests:
			e.serveFrame(ctx, logger, session, frame)
		case <-toolsChanged:
			e.handleToolsChanged(ctx, logger, serverName)
		case <-ticker.C:
		}
	}
}

// handleToolsChanged re-indexes serverName in a separate goroutine after a
// tools/list_changed notification, so a slow reindex never blocks tool
// dispatch. Describe/enhance calls are bounded by the server's configured
// timeout; the reindex runs under the dispatch loop's ctx and is canceled
// when the supervisor stops.
func (e *Engine) handleToolsChanged(ctx context.Context, logger *slog.Logger, serverName string) {
	spec, ok := e.config[serverName]
	if !ok {
		return
	}
	logger.Info("tools list changed, reindexing", "server", serverName)

	reindexSpec := *spec
	reindexSpec.ForceReindex = true
	go func() {
		if err := e.indexer.IndexOne(ctx, serverName, &reindexSpec); err != nil {
			logger.Warn("reindex after tools list change failed", "server", serverName, "error", err)
		}
	}()
}

func (e *Engine) serveFrame(ctx context.Context, logger *slog.Logger, session *subprocess.Session, frame callFrame) {
	var args json.RawMessage
	if len(frame.args) > 0 {
		args = frame.args
	} else {
		args = json.RawMessage("{}")
	}

	result, err := session.CallTool(ctx, frame.toolName, args)
	if err != nil {
		logger.Warn("tool call failed", "tool", frame.toolName, "error", err)
		frame.reply <- replyFrame{status: false, errorMessage: err.Error()}
		return
	}
	if result.IsError {
		msg := "tool reported an error"
		if len(result.Content) > 0 {
			msg = result.Content[0].Text
		}
		frame.reply <- replyFrame{status: false, errorMessage: msg}
		return
	}

	content, err := json.Marshal(stripAnnotations(result.Content))
	if err != nil {
		frame.reply <- replyFrame{status: false, errorMessage: err.Error()}
		return
	}
	frame.reply <- replyFrame{status: true, content: content}
}

// stripAnnotations normalizes result content blocks, keeping their declared
// shape (type/text/data/mimeType) and dropping any annotations/meta fields
// the subprocess library might otherwise carry.
func stripAnnotations(blocks []subprocess.ToolResultContent) []map[string]any {
	out := make([]map[string]any, len(blocks))
	for i, b := range blocks {
		block := map[string]any{"type": b.Type}
		if b.Text != "" {
			block["text"] = b.Text
		}
		if b.Data != "" {
			block["data"] = b.Data
		}
		if b.MimeType != "" {
			block["mimeType"] = b.MimeType
		}
		out[i] = block
	}
	return out
}

// Shutdown cancels the supervisor for name and awaits its termination.
func (e *Engine) Shutdown(name string) (bool, string) {
	e.handlesMu.Lock()
	handle, ok := e.handles[name]
	e.handlesMu.Unlock()
	if !ok {
		return true, "not running"
	}

	handle.cancel()
	<-handle.done
	return true, fmt.Sprintf("server %q stopped", name)
}

// ListRunning returns the names of all servers with a Running handle.
func (e *Engine) ListRunning() []string {
	e.handlesMu.Lock()
	defer e.handlesMu.Unlock()

	names := make([]string, 0, len(e.handles))
	for name, h := range e.handles {
		if h.State() == HandleRunning {
			names = append(names, name)
		}
	}
	return names
}
