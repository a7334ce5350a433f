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

// twoToolServerScript lists two tools so the fail-atomic tool barrier has
// more than one party to coordinate.
const twoToolServerScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"two-tool","version":"0.1.0"}}}'
      ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"alpha","description":"first tool","inputSchema":{"type":"object"}},{"name":"beta","description":"second tool","inputSchema":{"type":"object"}}]}}'
      ;;
  esac
done
`

func twoToolSpec() *subprocess.StartupSpec {
	return &subprocess.StartupSpec{
		Command: "sh",
		Args:    []string{"-c", twoToolServerScript},
		Timeout: 2 * time.Second,
	}
}

func TestIndexerIndexOneHappyPath(t *testing.T) {
	index := vectorindex.NewMemoryIndex()
	idx := NewIndexer(IndexerConfig{
		Index:     index,
		Embedder:  embedding.NewFakeProvider(8),
		Describer: descriptor.NewFakeService(),
		Enhancer:  descriptor.NewFakeService(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, idx.IndexOne(ctx, "two-tool", twoToolSpec()))

	server, err := index.GetServer(ctx, "two-tool")
	require.NoError(t, err)
	require.NotNil(t, server)
	require.Equal(t, 2, server.NBTools)

	tools, err := index.ListTools(ctx, "two-tool")
	require.NoError(t, err)
	require.Len(t, tools, 2)
}

func TestIndexerIndexOneSkipsAlreadyIndexedServer(t *testing.T) {
	index := vectorindex.NewMemoryIndex()
	idx := NewIndexer(IndexerConfig{
		Index:     index,
		Embedder:  embedding.NewFakeProvider(8),
		Describer: descriptor.NewFakeService(),
		Enhancer:  descriptor.NewFakeService(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, idx.IndexOne(ctx, "two-tool", twoToolSpec()))
	require.NoError(t, idx.IndexOne(ctx, "two-tool", twoToolSpec()))

	tools, err := index.ListTools(ctx, "two-tool")
	require.NoError(t, err)
	require.Len(t, tools, 2)
}

func TestIndexerFailAtomicBarrierCommitsNoToolsOnPartialFailure(t *testing.T) {
	index := vectorindex.NewMemoryIndex()
	enhancer := descriptor.NewFakeService()
	enhancer.FailEnhanceFor = "beta"

	idx := NewIndexer(IndexerConfig{
		Index:     index,
		Embedder:  embedding.NewFakeProvider(8),
		Describer: descriptor.NewFakeService(),
		Enhancer:  enhancer,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := idx.IndexOne(ctx, "two-tool", twoToolSpec())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrToolIndexingAborted)

	server, err := index.GetServer(ctx, "two-tool")
	require.NoError(t, err)
	require.Nil(t, server)
	tools, err := index.ListTools(ctx, "two-tool")
	require.NoError(t, err)
	require.Empty(t, tools)
}

func TestIndexerIndexAllFailsOnlyWhenEverythingFails(t *testing.T) {
	index := vectorindex.NewMemoryIndex()
	enhancer := descriptor.NewFakeService()
	enhancer.FailEnhanceFor = "alpha"

	idx := NewIndexer(IndexerConfig{
		Index:     index,
		Embedder:  embedding.NewFakeProvider(8),
		Describer: descriptor.NewFakeService(),
		Enhancer:  enhancer,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := map[string]*subprocess.StartupSpec{
		"broken-one": twoToolSpec(),
		"broken-two": twoToolSpec(),
	}

	err := idx.IndexAll(ctx, cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAllFailed)
}

func TestIndexerIndexAllToleratesPartialFailure(t *testing.T) {
	index := vectorindex.NewMemoryIndex()
	enhancer := descriptor.NewFakeService()
	enhancer.FailEnhanceFor = "alpha"

	idx := NewIndexer(IndexerConfig{
		Index:     index,
		Embedder:  embedding.NewFakeProvider(8),
		Describer: descriptor.NewFakeService(),
		Enhancer:  enhancer,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := map[string]*subprocess.StartupSpec{
		"broken": twoToolSpec(),
	}
	// A server with no tools can't hit the broken enhancer, so it always succeeds.
	okSpec := &subprocess.StartupSpec{
		Command: "sh",
		Args: []string{"-c", `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"empty","version":"0.1.0"}}}'
      ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[]}}'
      ;;
  esac
done
`},
		Timeout: 2 * time.Second,
	}
	cfg["empty"] = okSpec

	require.NoError(t, idx.IndexAll(ctx, cfg))

	_, err := index.GetServer(ctx, "empty")
	require.NoError(t, err)
	_, err = index.GetServer(ctx, "broken")
	require.NoError(t, err)
}
