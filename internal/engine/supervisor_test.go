package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolrouter/toolrouterd/internal/descriptor"
	"github.com/toolrouter/toolrouterd/internal/embedding"
	"github.com/toolrouter/toolrouterd/internal/subprocess"
	"github.com/toolrouter/toolrouterd/internal/vectorindex"
)

// echoServerScript behaves like a real tool server: it answers initialize,
// tools/list with one "echo" tool, and every tools/call with the fixed text
// result "echoed", whatever its arguments.
const echoServerScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"echo","version":"0.1.0"}}}'
      ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}'
      ;;
    *'"method":"tools/call"'*)
      echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"echoed"}]}}'
      ;;
  esac
done
`

func newTestEngine(t *testing.T, config map[string]*subprocess.StartupSpec) *Engine {
	t.Helper()
	return New(config, Settings{}, Dependencies{
		Index:     vectorindex.NewMemoryIndex(),
		Embedder:  embedding.NewFakeProvider(8),
		Describer: descriptor.NewFakeService(),
		Enhancer:  descriptor.NewFakeService(),
	})
}

func echoConfig() map[string]*subprocess.StartupSpec {
	return map[string]*subprocess.StartupSpec{
		"echo-server": {
			Command: "sh",
			Args:    []string{"-c", echoServerScript},
			Timeout: 2 * time.Second,
		},
	}
}

func TestEngineStartAndListRunning(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, msg, err := e.Start(ctx, "echo-server")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, msg)
	require.Contains(t, e.ListRunning(), "echo-server")

	ok, _ = e.Shutdown("echo-server")
	require.True(t, ok)
}

func TestEngineStartTwiceReportsAlreadyRunning(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := e.Start(ctx, "echo-server")
	require.NoError(t, err)
	defer e.Shutdown("echo-server")

	ok, msg, err := e.Start(ctx, "echo-server")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "already running", msg)
}

func TestEngineStartUnknownServerFails(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, _, err := e.Start(ctx, "nope")
	require.False(t, ok)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngineShutdownNotRunningIsIdempotent(t *testing.T) {
	e := newTestEngine(t, echoConfig())
	ok, msg := e.Shutdown("echo-server")
	require.True(t, ok)
	require.Equal(t, "not running", msg)
}
