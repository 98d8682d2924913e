package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ans_transparency/pkg/api/operators"
	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/core/pipeline"
	"ans_transparency/pkg/core/store"
)

const shutdownTimeout = 10 * time.Second

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "ans",
		Short:         "Collect, enrich and serve ANS health-insurer expense data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config/ans.yaml", "path to the YAML configuration")

	root.AddCommand(
		a.stageCommand("scrape", "Download the latest quarterly statements and extract expense lines", func(ctx context.Context, o *pipeline.Orchestrator) error {
			_, err := o.Scrape(ctx)
			return err
		}),
		a.stageCommand("enrich", "Join expenses with the operator registry and write the reports", func(ctx context.Context, o *pipeline.Orchestrator) error {
			_, err := o.Enrich(ctx)
			return err
		}),
		a.stageCommand("load", "Append the enriched file to the database", func(ctx context.Context, o *pipeline.Orchestrator) error {
			_, err := o.Load(ctx)
			return err
		}),
		a.stageCommand("run", "Run scrape, enrich and load in order", func(ctx context.Context, o *pipeline.Orchestrator) error {
			return o.Run(ctx)
		}),
		a.serveCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", zap.Error(err))
			_ = a.logger.Sync()
		} else {
			fmt.Fprintf(os.Stderr, "[FATAL] %v\n", err)
		}
		os.Exit(1)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.cfg = cfg
	a.logger = logger
	a.registry = reg
	a.metrics = metrics.New(reg)
	return nil
}

func (a *app) stageCommand(use, short string, stage func(context.Context, *pipeline.Orchestrator) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := pipeline.NewOrchestrator(a.cfg, a.logger, a.metrics)
			a.logger.Info("command started", zap.String("command", use), zap.String("run_id", o.RunID()))
			return stage(cmd.Context(), o)
		},
	}
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operators API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Database.Driver != config.DriverPostgres {
		return eris.Errorf("serve: the API requires the %s driver, got %q", config.DriverPostgres, a.cfg.Database.Driver)
	}
	pool, err := store.InitDB(ctx, a.cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	handler := operators.NewHandler(store.NewPgRepository(pool), a.cfg.API, a.logger)
	srv := operators.NewServer(a.cfg.API.Addr, operators.NewRouter(handler, a.metrics, a.registry, a.logger))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", zap.String("addr", a.cfg.API.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
