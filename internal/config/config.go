// Package config loads the JSON tool-server configuration file and the
// process-environment engine settings.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/toolrouter/toolrouterd/internal/subprocess"
)

// serverSpec is the on-disk shape of one entry under "mcpServers". Timeouts
// are seconds, matching the original McpStartupConfig.timeout: float = 30.0.
type serverSpec struct {
	Command      string            `json:"command"`
	Args         []string          `json:"args"`
	Env          map[string]string `json:"env"`
	TimeoutSec   float64           `json:"timeout"`
	IncludeTools []string          `json:"includeTools"`
	ExcludeTools []string          `json:"excludeTools"`
	ForceReindex bool              `json:"forceReindex"`
}

// fileConfig is the top-level shape of the config file.
type fileConfig struct {
	McpServers map[string]serverSpec `json:"mcpServers"`
}

// LoadServers reads path and returns one StartupSpec per configured server.
// Unknown fields anywhere in the document are rejected.
func LoadServers(path string) (map[string]*subprocess.StartupSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	decoder.DisallowUnknownFields()

	var raw fileConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config file: expected a single JSON document")
	}

	specs := make(map[string]*subprocess.StartupSpec, len(raw.McpServers))
	for name, s := range raw.McpServers {
		timeout := time.Duration(s.TimeoutSec * float64(time.Second))
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		spec := &subprocess.StartupSpec{
			Command:      s.Command,
			Args:         s.Args,
			Env:          s.Env,
			Timeout:      timeout,
			IncludeTools: s.IncludeTools,
			ExcludeTools: s.ExcludeTools,
			ForceReindex: s.ForceReindex,
		}
		if err := spec.Validate(name); err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		specs[name] = spec
	}
	return specs, nil
}

// Settings is the engine-level configuration read from the process
// environment (spec §6's Environment/settings list).
type Settings struct {
	OpenAIAPIKey        string
	EmbeddingModelName  string
	DescriptorModelName string
	Dimensions          int
	IndexName           string
	StoragePath         string

	ServerIndexRateLimit int64
	ToolIndexRateLimit   int64
	QueueMaxSubscribers  int
	QueueSize            int
	EmbeddingWeight      float32
	PollingIntervalMS    int

	LogLevel  string
	LogFormat string
}

// LoadSettings reads engine settings from the environment, applying the
// teacher's one-setting-at-a-time override style with defaults for unset or
// unparseable values.
func LoadSettings() Settings {
	s := Settings{
		EmbeddingModelName:   "text-embedding-3-small",
		DescriptorModelName:  "gpt-4.1-mini",
		Dimensions:           1024,
		IndexName:            "toolrouter_idx",
		StoragePath:          "./toolrouter-index",
		ServerIndexRateLimit: 3,
		ToolIndexRateLimit:   32,
		QueueMaxSubscribers:  8,
		QueueSize:            64,
		EmbeddingWeight:      0.1,
		PollingIntervalMS:    5000,
		LogLevel:             "info",
		LogFormat:            "json",
	}

	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		s.OpenAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL_NAME")); v != "" {
		s.EmbeddingModelName = v
	}
	if v := strings.TrimSpace(os.Getenv("DESCRIPTOR_MODEL_NAME")); v != "" {
		s.DescriptorModelName = v
	}
	if v := strings.TrimSpace(os.Getenv("DIMENSIONS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			s.Dimensions = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("INDEX_NAME")); v != "" {
		s.IndexName = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLROUTER_STORAGE_PATH")); v != "" {
		s.StoragePath = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_SERVER_INDEX_RATE_LIMIT")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.ServerIndexRateLimit = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("MCP_SERVER_TOOL_INDEX_RATE_LIMIT")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.ToolIndexRateLimit = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKGROUND_MCP_TOOL_QUEUE_MAX_SUBSCRIBERS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			s.QueueMaxSubscribers = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKGROUND_MCP_TOOL_QUEUE_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			s.QueueSize = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("MCP_SERVER_EMBEDDING_WEIGHTS")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			s.EmbeddingWeight = float32(parsed)
		}
	}
	if v := strings.TrimSpace(os.Getenv("MCP_SERVER_POLLING_INTERVAL_MS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			s.PollingIntervalMS = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOOLROUTERD_LOG_LEVEL")); v != "" {
		s.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLROUTERD_LOG_FORMAT")); v != "" {
		s.LogFormat = v
	}

	return s
}
