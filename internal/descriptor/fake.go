package descriptor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toolrouter/toolrouterd/internal/subprocess"
)

// FakeService is a static, dependency-free Describer/Enhancer for tests. It
// connects to the real subprocess to list tools (matching production
// behavior) but returns canned descriptions instead of calling an LLM.
type FakeService struct {
	Description ServerDescription
	// EnhanceFunc, if set, overrides the default "enhanced: <description>" output.
	EnhanceFunc func(serverName, toolName, description string) (string, error)
	// FailEnhanceFor names a tool that EnhanceTool should fail for, modeling
	// the fail-atomic indexing scenario.
	FailEnhanceFor string
}

var (
	_ Describer = (*FakeService)(nil)
	_ Enhancer  = (*FakeService)(nil)
)

// NewFakeService creates a fake descriptor/enhancer with a default description.
func NewFakeService() *FakeService {
	return &FakeService{
		Description: ServerDescription{
			Title:        "Fake Server",
			Summary:      "A deterministic server for tests",
			Capabilities: []string{"test"},
			Limitations:  []string{"none"},
		},
	}
}

func (f *FakeService) DescribeServer(ctx context.Context, serverName string, spec *subprocess.StartupSpec) (*ServerBundle, error) {
	session := subprocess.NewSession(serverName, spec, nil)
	if _, err := session.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %q: %w", serverName, err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools for %q: %w", serverName, err)
	}

	rawTools := make([]RawTool, len(tools))
	for i, t := range tools {
		rawTools[i] = RawTool{Name: t.Name, Description: t.Description, Schema: t.InputSchema}
	}

	return &ServerBundle{Description: f.Description, Tools: rawTools}, nil
}

func (f *FakeService) EnhanceTool(_ context.Context, serverName, toolName, description string, _ json.RawMessage) (string, error) {
	if f.FailEnhanceFor != "" && toolName == f.FailEnhanceFor {
		return "", fmt.Errorf("enhancement failed for tool %q", toolName)
	}
	if f.EnhanceFunc != nil {
		return f.EnhanceFunc(serverName, toolName, description)
	}
	return "enhanced: " + description, nil
}
