// Package descriptor provides the two LLM-backed collaborators the indexer
// calls: DescribeServer (summarize a tool server as a whole) and EnhanceTool
// (rewrite one tool's description for embedding quality).
package descriptor

import (
	"context"
	"encoding/json"

	"github.com/toolrouter/toolrouterd/internal/subprocess"
)

// ServerDescription is the LLM's structured summary of a tool server.
type ServerDescription struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Capabilities []string `json:"capabilities"`
	Limitations  []string `json:"limitations"`
}

// RawTool is one tool as reported by the subprocess, before enhancement.
type RawTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ServerBundle is the full-server bundle returned by DescribeServer: the
// server's description plus its raw, un-enhanced tool list.
type ServerBundle struct {
	Description ServerDescription
	Tools       []RawTool
}

// Describer connects to a tool server, lists its tools, and asks an LLM to
// summarize the server as a whole.
type Describer interface {
	DescribeServer(ctx context.Context, serverName string, spec *subprocess.StartupSpec) (*ServerBundle, error)
}

// Enhancer rewrites one tool's description for better embedding quality.
type Enhancer interface {
	EnhanceTool(ctx context.Context, serverName, toolName, description string, schema json.RawMessage) (string, error)
}

// DescriptionText joins a ServerDescription into the exact template used
// for the server's embedding text, matching the engine this was modeled on.
func DescriptionText(d ServerDescription) string {
	capabilities := joinOrEmpty(d.Capabilities)
	limitations := joinOrEmpty(d.Limitations)
	return d.Title + "\n" + d.Summary + "\n" +
		"Capabilities: " + capabilities + "\n" +
		"Limitations: " + limitations
}

func joinOrEmpty(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
