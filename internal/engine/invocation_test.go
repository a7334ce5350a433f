package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEngineExecuteSyncPath(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := e.Start(ctx, "echo-server")
	require.NoError(t, err)
	defer e.Shutdown("echo-server")

	result, err := e.Execute(ctx, "echo-server", "echo", json.RawMessage(`{"text":"hi"}`), time.Second, 0, false)
	require.NoError(t, err)
	require.False(t, result.Background)
	require.Contains(t, string(result.Content), "echoed")
}

func TestEngineExecuteAgainstStoppedServerFails(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ctx := context.Background()

	_, err := e.Execute(ctx, "echo-server", "echo", json.RawMessage(`{}`), time.Second, 0, false)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestEngineExecuteBackgroundPathReturnsPollableTask(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go e.Run(runCtx, 2)

	_, _, err := e.Start(ctx, "echo-server")
	require.NoError(t, err)
	defer e.Shutdown("echo-server")

	result, err := e.Execute(ctx, "echo-server", "echo", json.RawMessage(`{"text":"hi"}`), time.Second, 1, true)
	require.NoError(t, err)
	require.True(t, result.Background)
	require.NotEmpty(t, result.TaskID)

	require.Eventually(t, func() bool {
		done, _, _ := e.Poll(result.TaskID)
		return done
	}, 2*time.Second, 10*time.Millisecond)

	done, content, errMsg := e.Poll(result.TaskID)
	require.True(t, done)
	require.Empty(t, errMsg)
	require.Contains(t, string(content), "echoed")

	// second poll is destructive: the task is gone once observed complete.
	_, _, errMsg = e.Poll(result.TaskID)
	require.Contains(t, errMsg, "No background task found with ID")
}
