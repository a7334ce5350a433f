package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolrouter/toolrouterd/internal/vectorindex"
)

// backgroundCallTimeout is the timeout subscribers use for handleCall, per
// spec §4.6 step 3.
const backgroundCallTimeout = 120 * time.Second

// handleCall opens a caller socket to the named server's endpoint, sends a
// tool invocation, and awaits the reply under timeout.
func (e *Engine) handleCall(ctx context.Context, serverName, toolName string, args json.RawMessage, timeout time.Duration) ([]byte, error) {
	ep, ok := e.addresses.lookup(vectorindex.ServerFingerprint(serverName))
	if !ok {
		return nil, notRunningErr(serverName)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	reply := make(chan replyFrame, 1)
	frame := callFrame{
		callerID: uuid.NewString(),
		toolName: toolName,
		args:     args,
		reply:    reply,
	}

	select {
	case ep.requests <- frame:
	case <-ctx.Done():
		return nil, timeoutErr(serverName, toolName, ctx.Err())
	case <-time.After(timeout):
		return nil, timeoutErr(serverName, toolName, fmt.Errorf("send timed out"))
	}

	select {
	case resp := <-reply:
		if !resp.status {
			return nil, toolErr(serverName, toolName, resp.errorMessage)
		}
		return resp.content, nil
	case <-ctx.Done():
		return nil, timeoutErr(serverName, toolName, ctx.Err())
	case <-time.After(timeout):
		return nil, timeoutErr(serverName, toolName, fmt.Errorf("reply timed out after %v", timeout))
	}
}

// ExecuteResult is what Execute returns: either the tool's content (sync
// path) or a synthetic description of a background task (async path).
type ExecuteResult struct {
	Content    json.RawMessage
	TaskID     string
	Background bool
}

// Execute dispatches a tool invocation. If inBackground is false it calls
// through synchronously; otherwise it enqueues the call and returns a
// synthetic task-info response immediately.
func (e *Engine) Execute(ctx context.Context, serverName, toolName string, args json.RawMessage, timeout time.Duration, priority int, inBackground bool) (*ExecuteResult, error) {
	e.handlesMu.Lock()
	handle, ok := e.handles[serverName]
	running := ok && handle.State() == HandleRunning
	e.handlesMu.Unlock()
	if !running {
		return nil, notRunningErr(serverName)
	}

	if !inBackground {
		content, err := e.handleCall(ctx, serverName, toolName, args, timeout)
		if err != nil {
			return nil, err
		}
		return &ExecuteResult{Content: content}, nil
	}

	taskID := uuid.NewString()
	task := &backgroundTask{
		taskID:     taskID,
		priority:   priority,
		serverName: serverName,
		toolName:   toolName,
		args:       args,
		done:       make(chan struct{}),
	}

	if err := e.queue.enqueue(ctx, task); err != nil {
		return nil, timeoutErr(serverName, toolName, err)
	}

	synthetic, err := json.Marshal([]map[string]string{
		{"type": "text", "text": fmt.Sprintf("task %s accepted", taskID)},
		{"type": "text", "text": fmt.Sprintf("poll task %s for its result", taskID)},
	})
	if err != nil {
		return nil, invalidInputErr(err.Error())
	}

	return &ExecuteResult{Content: synthetic, TaskID: taskID, Background: true}, nil
}
