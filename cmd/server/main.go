package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	verifactuapp "github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/bootstrap"
	"github.com/invoices/backend/internal/infrastructure/auth"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/invoices/backend/internal/infrastructure/logger"
	"github.com/invoices/backend/internal/infrastructure/persistence"
	"github.com/invoices/backend/internal/infrastructure/profiling"
	"github.com/invoices/backend/internal/infrastructure/scheduler"
	"github.com/invoices/backend/internal/infrastructure/telemetry"
	"github.com/invoices/backend/internal/interfaces/http/handler"
	"github.com/invoices/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//	@title			VeriFactu Pipeline API
//	@version		1.0
//	@description	Invoice intake, hash chaining, authority submission and callback tracking.

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Operator token. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, v, err := config.LoadWithViper()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log := logger.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry comes first so the logger can tee into the OTLP log pipeline
	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log = logger.New(logCfg, providers.ZapCore(logger.ParseLevel(cfg.Log.Level)))
	defer func() {
		_ = log.Sync()
	}()
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()

	profiler, err := profiling.NewProfiler(cfg.Telemetry.Profiling, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()
	if profiler.IsEnabled() {
		providers.EnableSpanProfiles()
	}

	log.Info("Starting VeriFactu pipeline",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("verifactu_enabled", cfg.Verifactu.Enabled),
		zap.Int("rollout_percentage", cfg.Verifactu.RolloutPercentage),
	)

	prom := telemetry.NewPromMetrics()
	app, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{
		Meter:      providers.Meter("verifactu"),
		Prometheus: prom,
		DBPlugins:  []persistence.Plugin{telemetry.NewDBTracingPlugin(cfg.Telemetry, cfg.Database.DBName, log)},
	})
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()
	app.Rollout.Watch(v)

	runner, err := scheduler.NewRunner(scheduler.RunnerConfig{
		Interval:   cfg.Verifactu.SweepInterval,
		RunOnStart: true,
	}, telemetry.NewTracedSweeper(app.Retry), log)
	if err != nil {
		log.Fatal("Failed to create sweep runner", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT)
	if !jwtService.Enabled() {
		log.Warn("jwt.secret is empty, operator endpoints are unauthenticated")
	}

	engine, err := router.NewEngine(router.EngineConfig{
		App:       cfg.App,
		HTTP:      cfg.HTTP,
		Telemetry: cfg.Telemetry,
		Logger:    log,
		JWT:       jwtService,
		Meter:     providers.Meter("verifactu.http"),
		Scrape:    prom.Handler(),
	}, router.Handlers{
		Webhook:   handler.NewWebhookHandler(app.Webhooks, log),
		Verifactu: handler.NewVerifactuHandler(app.Submission, app.Chain, app.Rollout, log),
		Intake:    handler.NewIntakeHandler(app.Intake),
		Invoices:  handler.NewInvoiceListHandler(app.Query),
		Metrics:   handler.NewMetricsHandler(app.Metrics),
		Health:    handler.NewHealthHandler(healthChecks(app)),
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Worker.Enabled {
		worker := verifactuapp.NewWorker(verifactuapp.WorkerConfig{
			Consumer:    app.Queue.Consumer,
			Submitter:   telemetry.NewTracedSubmitter(app.Submission),
			Rollout:     app.Rollout,
			Logger:      log,
			Concurrency: cfg.Worker.Concurrency,
			BatchSize:   cfg.Worker.BatchSize,
			Block:       cfg.Worker.Block,
		})
		g.Go(func() error { return worker.Run(gctx) })
	} else {
		log.Info("Verification worker disabled, queued invoices wait for another instance")
	}
	if err := runner.Start(gctx); err != nil {
		log.Fatal("Failed to start sweep runner", zap.Error(err))
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runner.Stop(shutdownCtx); err != nil {
			log.Warn("Sweep runner did not stop cleanly", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func healthChecks(app *bootstrap.App) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"database": func(context.Context) error { return app.DB.Ping() },
	}
	if app.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }
	}
	return checks
}
