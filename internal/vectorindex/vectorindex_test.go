package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintsAreStable(t *testing.T) {
	require.Equal(t, ServerFingerprint("fs"), ServerFingerprint("fs"))
	require.NotEqual(t, ServerFingerprint("fs"), ServerFingerprint("db"))
	require.Equal(t, ToolFingerprint("fs", "read"), ToolFingerprint("fs", "read"))
	require.NotEqual(t, ToolFingerprint("fs", "read"), ToolFingerprint("fs", "write"))
}

func TestPointIDStableAcrossCalls(t *testing.T) {
	require.Equal(t, PointID("fs"), PointID("fs"))
	require.NotEqual(t, PointID("fs"), PointID("db"))
}

func TestMemoryIndexAddAndGetServer(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.AddServer(ctx, ServerRecord{Name: "fs", NBTools: 3, Vector: []float32{1, 0, 0}}))
	require.NoError(t, idx.AddTool(ctx, ToolRecord{ServerName: "fs", ToolName: "read", Vector: []float32{1, 0, 0}}))
	require.NoError(t, idx.AddTool(ctx, ToolRecord{ServerName: "fs", ToolName: "write", Vector: []float32{1, 0, 0}}))
	require.NoError(t, idx.AddTool(ctx, ToolRecord{ServerName: "fs", ToolName: "list", Vector: []float32{1, 0, 0}}))

	rec, err := idx.GetServer(ctx, "fs")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 3, rec.NBTools)

	tools, err := idx.ListTools(ctx, "fs")
	require.NoError(t, err)
	require.Len(t, tools, 3)
}

func TestMemoryIndexGetMissingServer(t *testing.T) {
	idx := NewMemoryIndex()
	rec, err := idx.GetServer(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestMemoryIndexSearchOrdersBySimilarity(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.AddServer(ctx, ServerRecord{Name: "close", Vector: []float32{1, 0}}))
	require.NoError(t, idx.AddServer(ctx, ServerRecord{Name: "far", Vector: []float32{0, 1}}))

	results, err := idx.Search(ctx, []float32{1, 0.01}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "close", results[0].ServerName)
}

func TestMemoryIndexDeleteServer(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.AddServer(ctx, ServerRecord{Name: "fs"}))
	require.NoError(t, idx.DeleteServer(ctx, "fs"))

	rec, err := idx.GetServer(ctx, "fs")
	require.NoError(t, err)
	require.Nil(t, rec)
}
