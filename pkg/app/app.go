// Package app wires configuration into a ready-to-run research pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/report"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

// App holds the collaborators of one process.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store  store.Store
	LLM    llms.Model
	Engine *research.Engine
	Writer report.Writer
	Deps   pipeline.Deps
	Runner *workflow.Runner

	// DB is set when runs live in Postgres or the archive is enabled.
	DB *database.PostgresDB
	// RunsInPostgres reports whether DB holds workflow_runs, and so can
	// hold run logs.
	RunsInPostgres bool

	closers []func() error
}

// New builds every collaborator from cfg. Callers must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	st, err := store.Open(ctx, store.Options{
		Backend:       cfg.StoreBackend,
		SQLitePath:    cfg.SQLitePath,
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		TTL:           cfg.RunTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	switch s := st.(type) {
	case *store.PostgresStore:
		a.DB = s.DB()
		a.RunsInPostgres = true
	case *store.SQLiteStore:
		if cfg.RunTTL > 0 {
			n, err := s.Purge(ctx, time.Now().Add(-cfg.RunTTL))
			if err != nil {
				a.Logger.Warn("Failed to purge old runs", "error", err)
			} else if n > 0 {
				a.Logger.Info("Purged old runs", "count", n)
			}
		}
	}

	a.LLM, err = clients.NewLLM(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	search, err := a.searchProvider()
	if err != nil {
		return err
	}

	opts := []research.EngineOption{
		research.WithConcurrency(cfg.ResearchConcurrency),
		research.WithResultsPerQuery(cfg.ResultsPerQuery),
		research.WithEngineLogger(a.Logger),
	}

	var archiver pipeline.Archiver
	if cfg.ArchiveEnabled {
		arc, err := a.openArchive(ctx)
		if err != nil {
			return err
		}
		archiver = arc
		opts = append(opts, research.WithRecall(arc))
	}

	synth := research.NewLLMSynthesizer(a.LLM, cfg.LLMMaxRetries, a.Logger)
	a.Engine = research.NewEngine(synth, search, opts...)
	a.Writer = report.NewLLMWriter(a.LLM, a.Logger)

	a.Deps = pipeline.Deps{
		Researcher: a.Engine,
		Writer:     a.Writer,
		Archiver:   archiver,
		ReportPath: cfg.ReportPath,
	}
	wf := pipeline.NewMainWorkflow(a.Deps)
	a.Runner = workflow.NewRunner(wf, a.Store, workflow.WithLogger(a.Logger))
	return nil
}

func (a *App) searchProvider() (research.SearchProvider, error) {
	cfg := a.Config
	switch cfg.SearchProvider {
	case "arxiv":
		var ocr *tools.MistralOCR
		if cfg.MistralAPIKey != "" {
			ocr = tools.NewMistralOCR(cfg.MistralAPIKey)
		} else {
			a.Logger.Warn("MISTRAL_API_KEY not set, using arXiv abstracts only")
		}
		ax := tools.NewArxiv(ocr)
		ax.MaxResults = max(cfg.ResultsPerQuery, 1)
		ax.Logger = a.Logger
		return ax, nil
	case "exa", "":
		if cfg.ExaAPIKey == "" {
			return nil, errors.New("EXA_API_KEY is required for the exa search provider")
		}
		exa := tools.NewExa(cfg.ExaAPIKey)
		exa.NumResults = max(cfg.ResultsPerQuery, 1)
		exa.Logger = a.Logger
		return exa, nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.SearchProvider)
	}
}

func (a *App) openArchive(ctx context.Context) (*archive.Archive, error) {
	cfg := a.Config
	if a.DB == nil {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect archive database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
	}
	if err := a.DB.EnsureVectorExtension(ctx); err != nil {
		return nil, err
	}
	if err := a.DB.EnsureArchiveCollection(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
		return nil, err
	}
	vs, err := vectorstore.NewPGVectorStore(a.DB.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	emb, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleAPIKey, embeddings.DefaultDimension)
	if err != nil {
		return nil, err
	}
	return archive.New(emb, vs, cfg.ChunkSize, cfg.ChunkOverlap, a.Logger), nil
}

// Close releases stores and connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
