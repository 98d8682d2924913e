// Package pipeline runs the scrape, enrich and load stages in order, handing
// data between them through the files named in the configuration.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/core/portal"
	"ans_transparency/pkg/core/reconcile"
	"ans_transparency/pkg/core/registry"
	"ans_transparency/pkg/core/statements"
	"ans_transparency/pkg/core/store"
	"ans_transparency/pkg/models"
)

// Orchestrator owns the components of one pipeline run.
type Orchestrator struct {
	cfg       config.Config
	runID     string
	navigator *portal.Navigator
	extractor *statements.Extractor
	registry  *registry.Fetcher
	engine    *reconcile.Engine
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewOrchestrator builds every stage component from cfg. Each orchestrator gets its own run id.
func NewOrchestrator(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	runID := uuid.NewString()
	logger = logging.OrNop(logger).With(zap.String("run_id", runID))
	m = metrics.OrDiscard(m)

	client := portal.NewClient(cfg.Portal, logger, m)
	return &Orchestrator{
		cfg:       cfg,
		runID:     runID,
		navigator: portal.NewNavigator(client),
		extractor: statements.NewExtractor(client, logger, m),
		registry:  registry.NewFetcher(client, cfg.Portal.RegistryURL, logger),
		engine:    reconcile.NewEngine(registry.NewResolver(nil), cfg.Join, logger, m),
		logger:    logger,
		metrics:   m,
	}
}

// RunID identifies this run in logs.
func (o *Orchestrator) RunID() string { return o.runID }

func (o *Orchestrator) observe(stage string, start time.Time) {
	elapsed := time.Since(start)
	o.metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	o.logger.Info("stage finished", zap.String("stage", stage), zap.Duration("elapsed", elapsed))
}

// Scrape locates the newest quarters on the portal, extracts their expense lines
// and writes the expenses file. Finding nothing is logged and yields an empty file.
func (o *Orchestrator) Scrape(ctx context.Context) (int, error) {
	defer o.observe("scrape", time.Now())
	o.logger.Info("stage started", zap.String("stage", "scrape"), zap.String("base_url", o.cfg.Portal.BaseURL))

	// 1. Statements folder and latest quarters
	var records []models.ExpenseRecord
	folder, ok := o.navigator.FindStatementsFolder(ctx, o.cfg.Portal.BaseURL)
	if ok {
		quarters := o.navigator.LatestQuarters(ctx, folder, o.cfg.Portal.Quarters)
		for _, q := range quarters {
			o.logger.Info("quarter selected", zap.Int("year", q.Year), zap.String("quarter", q.Quarter), zap.String("url", q.URL))
		}

		// 2. Expense lines of every quarter
		var err error
		records, err = o.extractor.ExtractAll(ctx, quarters)
		if err != nil {
			return 0, err
		}
	}
	if len(records) == 0 {
		o.logger.Warn("no expense rows extracted")
	}

	// 3. Hand-off file
	path := o.cfg.Files.Path(o.cfg.Files.Expenses)
	if err := ensureDir(path); err != nil {
		return 0, err
	}
	if err := statements.WriteExpenses(path, records); err != nil {
		return 0, err
	}
	o.logger.Info("expenses written", zap.String("path", path), zap.Int("rows", len(records)))
	return len(records), nil
}

// Enrich joins the expenses file with the registry and writes the enriched file
// and the aggregated reports. A missing expenses file or registry aborts the stage.
func (o *Orchestrator) Enrich(ctx context.Context) (*reconcile.Result, error) {
	defer o.observe("enrich", time.Now())
	files := o.cfg.Files

	expenses, err := statements.ReadExpenses(files.Path(files.Expenses))
	if err != nil {
		return nil, err
	}
	o.logger.Info("expenses read", zap.Int("rows", len(expenses)))

	tbl, err := o.registry.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	res, err := o.engine.Reconcile(expenses, tbl)
	if err != nil {
		return nil, err
	}

	enrichedPath := files.Path(files.Enriched)
	if err := ensureDir(enrichedPath); err != nil {
		return nil, err
	}
	if err := reconcile.WriteEnriched(enrichedPath, res.Enriched); err != nil {
		return nil, err
	}
	if err := reconcile.WriteSummary(files.Path(files.Aggregated), res.Summary); err != nil {
		return nil, err
	}
	if files.AggregatedParquet != "" {
		if err := reconcile.WriteSummaryParquet(files.Path(files.AggregatedParquet), res.Summary); err != nil {
			return nil, err
		}
	}
	o.logger.Info("reports written",
		zap.String("enriched", enrichedPath),
		zap.String("aggregated", files.Path(files.Aggregated)),
		zap.Int("operators", len(res.Summary)),
	)
	return res, nil
}

// Load appends the enriched file to the database after checking its schema.
func (o *Orchestrator) Load(ctx context.Context) (store.LoadResult, error) {
	defer o.observe("load", time.Now())

	rows, err := reconcile.ReadEnriched(o.cfg.Files.Path(o.cfg.Files.Enriched))
	if err != nil {
		return store.LoadResult{}, err
	}

	db, err := store.Open(o.cfg.Database)
	if err != nil {
		return store.LoadResult{}, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if o.cfg.Database.CreateSchema {
		if err := store.CreateSchema(db); err != nil {
			return store.LoadResult{}, err
		}
	}
	if err := store.VerifySchema(db); err != nil {
		return store.LoadResult{}, err
	}

	return store.NewLoader(db, o.cfg.Database.BatchSize, o.logger, o.metrics).Append(ctx, rows)
}

// Run executes Scrape, Enrich and Load, stopping at the first fatal error.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()
	o.logger.Info("pipeline started")

	if _, err := o.Scrape(ctx); err != nil {
		return eris.Wrap(err, "pipeline: scrape")
	}
	if _, err := o.Enrich(ctx); err != nil {
		return eris.Wrap(err, "pipeline: enrich")
	}
	res, err := o.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: load")
	}

	o.logger.Info("pipeline finished",
		zap.Int("operators", res.Operators),
		zap.Int("expenses", res.Expenses),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create directory for %s", path)
	}
	return nil
}
