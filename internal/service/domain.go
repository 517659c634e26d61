// Package service assembles the engine, stores, capability providers,
// pipelines, and orchestrator from configuration and infrastructure.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leofalp/aigo/providers/ai/openai"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/config"
	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/extraction"
	"github.com/JaimeStill/sitegraph/internal/infrastructure"
	"github.com/JaimeStill/sitegraph/internal/metrics"
	"github.com/JaimeStill/sitegraph/internal/orchestrator"
	"github.com/JaimeStill/sitegraph/internal/providers/embedding"
	"github.com/JaimeStill/sitegraph/internal/providers/llm"
	"github.com/JaimeStill/sitegraph/internal/providers/ner"
	"github.com/JaimeStill/sitegraph/internal/providers/ocr"
	"github.com/JaimeStill/sitegraph/internal/providers/sqlengine"
	"github.com/JaimeStill/sitegraph/internal/providers/vector"
	"github.com/JaimeStill/sitegraph/internal/qa"
	"github.com/JaimeStill/sitegraph/internal/records"
	"github.com/JaimeStill/sitegraph/internal/review"
	"github.com/JaimeStill/sitegraph/internal/runs"
	"github.com/JaimeStill/sitegraph/pkg/lifecycle"
)

// Domain holds every system a process drives.
type Domain struct {
	Engine       *engine.Engine
	Metrics      *metrics.Metrics
	Documents    documents.System
	Records      records.Store
	Reviews      review.Store
	Queue        review.Queue
	Orchestrator orchestrator.System

	recoverEvery time.Duration
	logger       *slog.Logger
}

// NewDomain wires stores and providers onto the infrastructure, compiles
// both graphs, and registers them on a new engine. Metrics register on reg;
// a nil reg disables them.
func NewDomain(cfg *config.Config, infra *infrastructure.Infrastructure, reg prometheus.Registerer) (*Domain, error) {
	logger := infra.Logger
	pool := infra.Database.Pool()
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	docs := documents.New(pool, infra.Storage, logger, cfg.MaxUploadSizeBytes())
	recordStore := records.NewPostgres(pool)
	reviews := review.NewPostgres(pool)
	queue := review.NewRedisQueue(infra.Broker, logger)
	vectors := vector.NewPostgres(pool)

	embedder := embedding.New(
		cfg.Providers.Embedding.BaseURL,
		cfg.Providers.Embedding.Model,
		cfg.Providers.Embedding.Dimensions,
		&http.Client{Timeout: cfg.Providers.Embedding.TimeoutDuration()},
	)

	var (
		refiner     capability.Refiner
		planner     capability.PlanProvider
		synthesizer capability.AnswerSynthesizer
	)
	if cfg.Providers.LLM.Enabled() {
		provider := openai.NewOpenAIProvider().
			WithAPIKey(cfg.Providers.LLM.APIKey).
			WithBaseURL(cfg.Providers.LLM.BaseURL)
		client := llm.New(provider, cfg.Providers.LLM.Model, logger,
			llm.WithPages(ocr.NewRenderer(cfg.Providers.LLM.Pages, logger)),
		)
		refiner, planner, synthesizer = client, client, client
		logger.Info("language model enabled", "model", cfg.Providers.LLM.Model)
	} else {
		logger.Info("language model disabled, using rules and templates")
	}

	e := engine.New(runs.NewPostgres(pool), engine.Config{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		BackoffInitial: cfg.Engine.BackoffInitialDuration(),
		BackoffMax:     cfg.Engine.BackoffMaxDuration(),
		NodeTimeout:    cfg.Engine.NodeTimeoutDuration(),
		WorkerLimit:    cfg.Engine.WorkerLimit,
	}, logger, engine.WithMetrics(m))

	ext, err := extraction.Build(extraction.Deps{
		Documents: docs,
		OCR:       ocr.New(cfg.Providers.OCR.Languages, logger),
		NER:       ner.New(),
		Refiner:   refiner,
		Drafts:    records.NewDraftPostgres(pool),
		Records:   recordStore,
		Embedder:  embedder,
		Vectors:   vectors,
		Reviews:   reviews,
		Queue:     queue,
		Threshold: cfg.Providers.ReviewThreshold,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("compile extraction graph: %w", err)
	}

	ask, err := qa.Build(qa.Deps{
		Planner:     planner,
		Query:       sqlengine.New(pool, cfg.Providers.QA.MaxRows, cfg.Providers.QA.StatementTimeoutDuration()),
		Embedder:    embedder,
		Vectors:     vectors,
		Synthesizer: synthesizer,
		TopK:        cfg.Providers.QA.TopK,
		MinScore:    cfg.Providers.QA.MinScore,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("compile qa graph: %w", err)
	}

	e.Register(ext)
	e.Register(ask)

	orch := orchestrator.New(e, docs, reviews, queue, m, cfg.Engine.AnswerWaitDuration(), logger)

	return &Domain{
		Engine:       e,
		Metrics:      m,
		Documents:    docs,
		Records:      recordStore,
		Reviews:      reviews,
		Queue:        queue,
		Orchestrator: orch,
		recoverEvery: cfg.Engine.RecoverEveryDuration(),
		logger:       logger,
	}, nil
}

// Start registers engine shutdown with the lifecycle. When serve is set
// it also recovers runs left running by a previous process and subscribes to
// delivered review verdicts; a short-lived client leaves both to the server.
// Call it once infrastructure startup has completed. The engine drains
// within drain on lifecycle shutdown.
func (d *Domain) Start(lc *lifecycle.Coordinator, serve bool, drain time.Duration) error {
	lc.OnShutdown(func() {
		<-lc.Context().Done()
		ctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := d.Engine.Shutdown(ctx); err != nil {
			d.logger.Error("engine shutdown", "error", err)
		}
	})

	if !serve {
		return nil
	}

	n, err := d.Engine.Recover(lc.Context())
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	d.logger.Info("domain serving", "recovered", n)

	if d.recoverEvery > 0 {
		lc.Go(d.sweep)
	}

	lc.Go(func(ctx context.Context) {
		if err := d.Orchestrator.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("verdict listener stopped", "error", err)
		}
	})
	return nil
}

// sweep periodically re-dispatches runs that are running in the store but
// idle, such as those a CLI process stopped mid-run.
func (d *Domain) sweep(ctx context.Context) {
	ticker := time.NewTicker(d.recoverEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Engine.Sweep(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("recovery sweep failed", "error", err)
			}
		}
	}
}
