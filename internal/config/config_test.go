package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServersParsesTimeoutSeconds(t *testing.T) {
	path := writeConfig(t, `{
  "mcpServers": {
    "weather": {
      "command": "weather-mcp",
      "args": ["--stdio"],
      "timeout": 15
    }
  }
}`)

	specs, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers() error = %v", err)
	}
	spec, ok := specs["weather"]
	if !ok {
		t.Fatalf("expected a spec for %q", "weather")
	}
	if spec.Timeout.Seconds() != 15 {
		t.Fatalf("Timeout = %v, want 15s", spec.Timeout)
	}
}

func TestLoadServersParsesEnv(t *testing.T) {
	path := writeConfig(t, `{
  "mcpServers": {
    "weather": {
      "command": "weather-mcp",
      "env": {
        "API_KEY": "secret",
        "REGION": "us-east-1"
      }
    }
  }
}`)

	specs, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers() error = %v", err)
	}
	env := specs["weather"].Env
	if env["API_KEY"] != "secret" || env["REGION"] != "us-east-1" {
		t.Fatalf("Env = %v, want API_KEY=secret REGION=us-east-1", env)
	}
}

func TestLoadServersDefaultsTimeout(t *testing.T) {
	path := writeConfig(t, `{"mcpServers": {"weather": {"command": "weather-mcp"}}}`)

	specs, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers() error = %v", err)
	}
	if specs["weather"].Timeout.Seconds() != 30 {
		t.Fatalf("Timeout = %v, want 30s default", specs["weather"].Timeout)
	}
}

func TestLoadServersRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{"mcpServers": {"weather": {"command": "weather-mcp", "bogus": true}}}`)

	if _, err := LoadServers(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadServersRejectsInvalidSpec(t *testing.T) {
	path := writeConfig(t, `{"mcpServers": {"weather": {"command": ""}}}`)

	if _, err := LoadServers(path); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestLoadSettingsAppliesDefaults(t *testing.T) {
	clearToolrouterEnv(t)

	s := LoadSettings()
	if s.ServerIndexRateLimit != 3 {
		t.Fatalf("ServerIndexRateLimit = %d, want 3", s.ServerIndexRateLimit)
	}
	if s.ToolIndexRateLimit != 32 {
		t.Fatalf("ToolIndexRateLimit = %d, want 32", s.ToolIndexRateLimit)
	}
	if s.EmbeddingWeight != 0.1 {
		t.Fatalf("EmbeddingWeight = %v, want 0.1", s.EmbeddingWeight)
	}
}

func TestLoadSettingsReadsEnvOverrides(t *testing.T) {
	clearToolrouterEnv(t)
	t.Setenv("MCP_SERVER_INDEX_RATE_LIMIT", "5")
	t.Setenv("BACKGROUND_MCP_TOOL_QUEUE_SIZE", "128")

	s := LoadSettings()
	if s.ServerIndexRateLimit != 5 {
		t.Fatalf("ServerIndexRateLimit = %d, want 5", s.ServerIndexRateLimit)
	}
	if s.QueueSize != 128 {
		t.Fatalf("QueueSize = %d, want 128", s.QueueSize)
	}
}

func clearToolrouterEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "EMBEDDING_MODEL_NAME", "DESCRIPTOR_MODEL_NAME", "DIMENSIONS",
		"INDEX_NAME", "TOOLROUTER_STORAGE_PATH", "MCP_SERVER_INDEX_RATE_LIMIT",
		"MCP_SERVER_TOOL_INDEX_RATE_LIMIT", "BACKGROUND_MCP_TOOL_QUEUE_MAX_SUBSCRIBERS",
		"BACKGROUND_MCP_TOOL_QUEUE_SIZE", "MCP_SERVER_EMBEDDING_WEIGHTS",
		"MCP_SERVER_POLLING_INTERVAL_MS", "TOOLROUTERD_LOG_LEVEL", "TOOLROUTERD_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
