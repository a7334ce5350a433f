package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolrouter/toolrouterd/internal/descriptor"
	"github.com/toolrouter/toolrouterd/internal/embedding"
	"github.com/toolrouter/toolrouterd/internal/infra"
	"github.com/toolrouter/toolrouterd/internal/subprocess"
	"github.com/toolrouter/toolrouterd/internal/vectorindex"
)

// Indexer runs the rate-limited, fail-atomic server/tool indexing pipeline.
type Indexer struct {
	index     vectorindex.Index
	embedder  embedding.Provider
	describer descriptor.Describer
	enhancer  descriptor.Enhancer
	serverSem *infra.Semaphore
	toolSem   *infra.Semaphore
	alpha     float32
	logger    *slog.Logger
	metrics   *Metrics
}

// IndexerConfig configures a new Indexer.
type IndexerConfig struct {
	Index           vectorindex.Index
	Embedder        embedding.Provider
	Describer       descriptor.Describer
	Enhancer        descriptor.Enhancer
	ServerRateLimit int64
	ToolRateLimit   int64
	EmbeddingWeight float32
	Logger          *slog.Logger
	Metrics         *Metrics
}

// NewIndexer constructs an Indexer from config, applying spec defaults
// (server rate limit 3, tool rate limit 32, alpha 0.1) for zero values.
func NewIndexer(cfg IndexerConfig) *Indexer {
	if cfg.ServerRateLimit <= 0 {
		cfg.ServerRateLimit = 3
	}
	if cfg.ToolRateLimit <= 0 {
		cfg.ToolRateLimit = 32
	}
	if cfg.EmbeddingWeight <= 0 {
		cfg.EmbeddingWeight = 0.1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		index:     cfg.Index,
		embedder:  cfg.Embedder,
		describer: cfg.Describer,
		enhancer:  cfg.Enhancer,
		serverSem: infra.NewSemaphore(cfg.ServerRateLimit),
		toolSem:   infra.NewSemaphore(cfg.ToolRateLimit),
		alpha:     cfg.EmbeddingWeight,
		logger:    logger.With("component", "indexer"),
		metrics:   cfg.Metrics,
	}
}

// IndexAll indexes every server in cfg independently, joining all of them.
// Individual failures are logged and counted, not propagated, unless every
// server failed, in which case IndexAll fails with ErrAllFailed.
func (idx *Indexer) IndexAll(ctx context.Context, cfg map[string]*subprocess.StartupSpec) error {
	idx.logger.Info("starting indexing", "server_count", len(cfg))

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(cfg))

	var wg sync.WaitGroup
	for name, spec := range cfg {
		wg.Add(1)
		go func(name string, spec *subprocess.StartupSpec) {
			defer wg.Done()
			err := idx.IndexOne(ctx, name, spec)
			results <- outcome{name: name, err: err}
		}(name, spec)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var successes, failures int
	for r := range results {
		if r.err != nil {
			failures++
			idx.logger.Error("failed to index server", "server", r.name, "error", r.err)
		} else {
			successes++
		}
	}

	idx.logger.Info("indexing completed", "successes", successes, "failures", failures)

	if len(cfg) > 0 && successes == 0 {
		return &EngineError{Kind: KindAllFailed, Message: fmt.Sprintf("all %d servers failed to index", len(cfg))}
	}
	return nil
}

// IndexOne runs the describe -> embed -> enhance-tools -> commit pipeline
// for a single server: it skips a server that is already indexed (unless
// ForceReindex is set), holds the server semaphore while describing, embeds
// the description, indexes the tools through the barrier in indexTools, and
// commits the server record last.
func (idx *Indexer) IndexOne(ctx context.Context, name string, spec *subprocess.StartupSpec) error {
	if err := spec.Validate(name); err != nil {
		return &EngineError{Kind: KindInvalidInput, ServerName: name, Cause: err}
	}

	existing, err := idx.index.GetServer(ctx, name)
	if err != nil {
		return newError(KindInvalidInput, name, "", err)
	}
	if existing != nil && !spec.ForceReindex {
		idx.logger.Info("server already indexed, skipping", "server", name)
		return nil
	}

	if err := idx.serverSem.Acquire(ctx, 1); err != nil {
		return timeoutErr(name, "", err)
	}
	idx.metrics.recordServerSemInUse(idx.serverSem.InUse())
	defer func() {
		idx.serverSem.Release(1)
		idx.metrics.recordServerSemInUse(idx.serverSem.InUse())
	}()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	idx.logger.Info("describing server", "server", name)
	bundle, err := func() (*descriptor.ServerBundle, error) {
		descCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		b, err := idx.describer.DescribeServer(descCtx, name, spec)
		if err != nil && descCtx.Err() != nil {
			return nil, timeoutErr(name, "", err)
		}
		return b, err
	}()
	if err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Kind == KindTimeout {
			return err
		}
		return initFailedErr(name, err)
	}

	descriptionText := descriptor.DescriptionText(bundle.Description)
	serverVecs, err := idx.embedder.EmbedBatch(ctx, []string{descriptionText})
	if err != nil || len(serverVecs) == 0 {
		return newError(KindInvalidInput, name, "", err)
	}
	serverVec := serverVecs[0]

	toolRecords, err := idx.indexTools(ctx, name, bundle.Tools, serverVec, timeout)
	if err != nil {
		return err
	}

	if err := idx.index.AddServer(ctx, vectorindex.ServerRecord{
		Name:         name,
		Title:        bundle.Description.Title,
		Summary:      bundle.Description.Summary,
		Capabilities: bundle.Description.Capabilities,
		Limitations:  bundle.Description.Limitations,
		NBTools:      len(toolRecords),
		Vector:       serverVec,
	}); err != nil {
		return newError(KindInvalidInput, name, "", err)
	}

	idx.logger.Info("indexed server", "server", name, "tool_count", len(toolRecords))
	return nil
}

// indexTools runs the fail-atomic tool barrier (spec §4.3.1): every tool
// must enhance, embed, and blend successfully before any AddTool call runs.
func (idx *Indexer) indexTools(ctx context.Context, serverName string, tools []descriptor.RawTool, serverVec []float32, timeout time.Duration) ([]vectorindex.ToolRecord, error) {
	k := len(tools)
	if k == 0 {
		return nil, nil
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := newBarrier(k)
	records := make([]vectorindex.ToolRecord, k)
	errs := make([]error, k)

	var wg sync.WaitGroup
	for i, tool := range tools {
		wg.Add(1)
		go func(i int, tool descriptor.RawTool) {
			defer wg.Done()

			if err := idx.toolSem.Acquire(taskCtx, 1); err != nil {
				errs[i] = timeoutErr(serverName, tool.Name, err)
				b.arrive(false)
				return
			}
			idx.metrics.recordToolSemInUse(idx.toolSem.InUse())
			defer func() {
				idx.toolSem.Release(1)
				idx.metrics.recordToolSemInUse(idx.toolSem.InUse())
			}()

			enhanceCtx, enhanceCancel := context.WithTimeout(taskCtx, timeout)
			enhanced, err := idx.enhancer.EnhanceTool(enhanceCtx, serverName, tool.Name, tool.Description, tool.Schema)
			timedOut := err != nil && enhanceCtx.Err() != nil
			enhanceCancel()
			if err != nil {
				if timedOut {
					errs[i] = timeoutErr(serverName, tool.Name, err)
				} else {
					errs[i] = newError(KindToolIndexingAborted, serverName, tool.Name, err)
				}
				cancel()
				b.arrive(false)
				return
			}

			toolVecs, err := idx.embedder.EmbedBatch(taskCtx, []string{enhanced})
			if err != nil || len(toolVecs) == 0 {
				errs[i] = newError(KindToolIndexingAborted, serverName, tool.Name, err)
				cancel()
				b.arrive(false)
				return
			}

			weighted, err := embedding.Blend(serverVec, toolVecs[0], idx.alpha)
			if err != nil {
				errs[i] = newError(KindInvalidInput, serverName, tool.Name, err)
				cancel()
				b.arrive(false)
				return
			}

			records[i] = vectorindex.ToolRecord{
				ServerName:  serverName,
				ToolName:    tool.Name,
				Description: enhanced,
				Schema:      tool.Schema,
				Vector:      weighted,
			}

			if !b.arrive(true) {
				if errs[i] == nil {
					errs[i] = newError(KindToolIndexingAborted, serverName, tool.Name, fmt.Errorf("sibling tool failed"))
				}
			}
		}(i, tool)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			idx.logger.Error("tool indexing aborted", "server", serverName, "error", err)
			return nil, err
		}
	}

	for _, rec := range records {
		if err := idx.index.AddTool(ctx, rec); err != nil {
			return nil, newError(KindInvalidInput, serverName, rec.ToolName, err)
		}
	}
	return records, nil
}
