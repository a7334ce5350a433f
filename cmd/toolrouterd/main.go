// Package main is the entry point for toolrouterd, the daemon that indexes
// tool servers into a vector index and serves semantic tool invocation.
//
// # Basic Usage
//
//	toolrouterd serve --servers servers.json
//	toolrouterd reindex --servers servers.json
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key for descriptions, enhancement and embeddings
//   - TOOLROUTER_STORAGE_PATH: read into the settings; the in-memory vector index does not use it
//   - MCP_SERVER_INDEX_RATE_LIMIT, MCP_SERVER_TOOL_INDEX_RATE_LIMIT: indexing concurrency
//   - BACKGROUND_MCP_TOOL_QUEUE_SIZE, BACKGROUND_MCP_TOOL_QUEUE_MAX_SUBSCRIBERS: queue sizing
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toolrouter/toolrouterd/internal/config"
	"github.com/toolrouter/toolrouterd/internal/descriptor"
	"github.com/toolrouter/toolrouterd/internal/embedding"
	"github.com/toolrouter/toolrouterd/internal/engine"
	"github.com/toolrouter/toolrouterd/internal/infra"
	"github.com/toolrouter/toolrouterd/internal/observability"
	"github.com/toolrouter/toolrouterd/internal/vectorindex"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	settings := config.LoadSettings()
	logger := observability.NewLogger(observability.LogConfig{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "toolrouterd",
		Short:   "toolrouterd - semantic router and lifecycle manager for tool servers",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildReindexCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var serversPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index configured tool servers, then serve synchronous and background tool calls",
		Long: `Start toolrouterd.

The daemon will:
1. Load tool server definitions from the servers file
2. Index each server's tools into the vector index
3. Run background-queue subscribers until a shutdown signal arrives

Graceful shutdown is handled on SIGINT/SIGTERM: running supervisors are
stopped before subscribers, and subscribers before the queue is closed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serversPath)
		},
	}
	cmd.Flags().StringVarP(&serversPath, "servers", "s", "servers.json", "Path to the tool server config file")
	return cmd
}

func buildReindexCmd() *cobra.Command {
	var serversPath string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Index configured tool servers and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), serversPath)
		},
	}
	cmd.Flags().StringVarP(&serversPath, "servers", "s", "servers.json", "Path to the tool server config file")
	return cmd
}

func runServe(ctx context.Context, serversPath string) error {
	e, settings, err := buildEngine(serversPath)
	if err != nil {
		return err
	}

	slog.Info("toolrouterd starting", "version", version, "servers", serversPath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runDone := make(chan struct{})
	engineComponent := infra.NewSimpleComponent("engine", slog.Default(),
		func(startCtx context.Context) error {
			if err := e.IndexAll(startCtx); err != nil {
				slog.Warn("initial indexing did not fully succeed", "error", err)
			}
			go func() {
				e.Run(ctx, settings.QueueMaxSubscribers)
				close(runDone)
			}()
			return nil
		},
		func(context.Context) error {
			<-runDone
			return nil
		},
	).WithHealthFn(e.Health)

	manager := infra.NewComponentManager(slog.Default())
	manager.Register(engineComponent)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	slog.Info("toolrouterd ready", "max_subscribers", settings.QueueMaxSubscribers)
	go reportHealth(ctx, manager)
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := manager.Stop(stopCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
	slog.Info("toolrouterd stopped")
	return nil
}

// reportHealth logs the component manager's aggregated health on a coarse
// interval until ctx is canceled, surfacing unhealthy components in the
// daemon's own logs rather than requiring an external probe.
func reportHealth(ctx context.Context, manager *infra.ComponentManager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, health := range manager.Health(ctx) {
				if health.State != infra.ServiceHealthHealthy {
					slog.Warn("component unhealthy", "component", name, "state", health.State, "message", health.Message)
				}
			}
		}
	}
}

func runReindex(ctx context.Context, serversPath string) error {
	e, _, err := buildEngine(serversPath)
	if err != nil {
		return err
	}
	if err := e.IndexAll(ctx); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	slog.Info("reindex complete")
	return nil
}

func buildEngine(serversPath string) (*engine.Engine, config.Settings, error) {
	settings := config.LoadSettings()

	servers, err := config.LoadServers(serversPath)
	if err != nil {
		return nil, settings, fmt.Errorf("load servers: %w", err)
	}

	embedder, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey: settings.OpenAIAPIKey,
		Model:  settings.EmbeddingModelName,
	})
	if err != nil {
		return nil, settings, fmt.Errorf("embedding provider: %w", err)
	}

	descService, err := descriptor.NewOpenAIService(descriptor.OpenAIConfig{
		APIKey: settings.OpenAIAPIKey,
		Model:  settings.DescriptorModelName,
	})
	if err != nil {
		return nil, settings, fmt.Errorf("descriptor service: %w", err)
	}

	metrics := engine.NewMetrics(prometheus.DefaultRegisterer)

	e := engine.New(servers, engine.Settings{
		ServerIndexRateLimit:   settings.ServerIndexRateLimit,
		ToolIndexRateLimit:     settings.ToolIndexRateLimit,
		QueueSize:              settings.QueueSize,
		QueueMaxSubscribers:    settings.QueueMaxSubscribers,
		EmbeddingWeight:        settings.EmbeddingWeight,
		DispatchPollIntervalMS: settings.PollingIntervalMS,
	}, engine.Dependencies{
		Index:     vectorindex.NewMemoryIndex(),
		Embedder:  embedder,
		Describer: descService,
		Enhancer:  descService,
		Logger:    slog.Default(),
		Metrics:   metrics,
	})

	return e, settings, nil
}
