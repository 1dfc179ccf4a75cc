package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/normatech/normrag/internal/answer"
	"github.com/normatech/normrag/internal/chunker"
	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/embed"
	"github.com/normatech/normrag/internal/llm"
	"github.com/normatech/normrag/internal/logging"
	"github.com/normatech/normrag/internal/parser"
	"github.com/normatech/normrag/internal/pipeline"
	"github.com/normatech/normrag/internal/search"
	"github.com/normatech/normrag/internal/store"
	"github.com/normatech/normrag/internal/vectorstore"
)

// app bundles the wired components behind one setup/teardown pair.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	manager  *store.Manager
	vectors  *vectorstore.Store
	embedder *embed.Client
	llm      *llm.Client
	parser   *parser.Client
	engine   *search.Engine
	builder  *answer.Builder
	pipeline *pipeline.Pipeline

	cleanups []func()
}

// newApp loads configuration, connects the database and vector store, and
// wires the retrieval and indexing stacks.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger, logCleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	a.cleanups = append(a.cleanups, logCleanup)

	manager, err := store.Open(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.manager = manager
	a.cleanups = append(a.cleanups, manager.Close)

	if err := manager.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	vectors, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect vector store: %w", err)
	}
	a.vectors = vectors
	a.cleanups = append(a.cleanups, func() { _ = vectors.Close() })

	if err := vectors.EnsureCollection(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	a.embedder = embed.NewClient(cfg.Embedding)
	a.llm = llm.NewClient(cfg.LLM)
	a.parser = parser.NewClient(cfg.Parser)

	dense := search.NewDenseRetriever(a.embedder, vectors)
	reranker := search.NewReranker(a.llm, cfg.Reranker, logger)
	mmr := search.NewMMRDiversifier(cfg.MMR.Lambda, cfg.MMR.SimilarityThreshold)
	classifier := search.NewIntentClassifier(a.llm, 256, logger)
	a.engine = search.NewEngine(manager, dense, reranker, mmr, classifier, cfg.Fusion, logger)
	a.builder = answer.NewBuilder(a.llm, logger)

	a.pipeline = pipeline.New(cfg.Indexing, manager, a.parser, a.embedder,
		func(docType string) *chunker.Chunker {
			return chunker.New(cfg.ChunkingFor(docType))
		}, vectors, logger)

	return a, nil
}

// Close tears the app down in reverse wiring order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
