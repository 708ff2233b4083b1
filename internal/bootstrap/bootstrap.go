// Package bootstrap wires the pipeline's services from configuration. The
// server and the operator CLI share it so both see the same dependencies.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	invoicingapp "github.com/invoices/backend/internal/application/invoicing"
	verifactuapp "github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/infrastructure/aeat"
	"github.com/invoices/backend/internal/infrastructure/cache"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/invoices/backend/internal/infrastructure/lock"
	"github.com/invoices/backend/internal/infrastructure/notify"
	"github.com/invoices/backend/internal/infrastructure/persistence"
	"github.com/invoices/backend/internal/infrastructure/queue"
	"github.com/invoices/backend/internal/infrastructure/signing"
	"github.com/invoices/backend/internal/infrastructure/storage"
	"github.com/invoices/backend/internal/infrastructure/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Options tune what Build wires
type Options struct {
	// Meter feeds the OpenTelemetry pipeline metrics; nil skips them.
	Meter metric.Meter
	// Prometheus, when set, receives pipeline measurements and the backlog collector.
	Prometheus *telemetry.PromMetrics
	// DBPlugins are registered on the GORM connection after it opens.
	DBPlugins []persistence.Plugin
}

// App holds every wired service plus the resources that must be released
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *persistence.Database
	Redis    *redis.Client
	Repos    persistence.Repositories
	Queue    *queue.Set
	Rollout  *config.RolloutSource
	Recorder verifactuapp.Recorder

	Intake     *invoicingapp.IntakeService
	Query      *invoicingapp.QueryService
	Submission *verifactuapp.SubmissionService
	Webhooks   *verifactuapp.WebhookService
	Retry      *verifactuapp.RetryCoordinator
	Metrics    *verifactuapp.MetricsService
	Chain      *verifactuapp.ChainService

	closers []func() error
}

// Build connects to the database, Redis and object storage and constructs
// the services. On error everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (app *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.DB, err = persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level, opts.DBPlugins...)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.DB.Close)
	app.Repos = app.DB.Repositories()
	log.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	app.Redis, err = cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if app.Redis != nil {
		app.closers = append(app.closers, app.Redis.Close)
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	} else {
		log.Warn("Redis not configured, queue and idempotency are process-local")
	}

	app.Queue, err = queue.New(ctx, app.Redis, cfg.Verifactu, cfg.Worker, log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up verification queue: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up document storage: %w", err)
	}

	sealer, err := newSealer(cfg, log)
	if err != nil {
		return nil, err
	}

	realTransport, err := newRealTransmitter(cfg, log)
	if err != nil {
		return nil, err
	}

	app.Recorder, err = newRecorder(opts)
	if err != nil {
		return nil, err
	}

	idempotency := cache.NewIdempotencyStore(app.Redis, "", log)
	if closer, ok := idempotency.(interface{ Close() error }); ok {
		app.closers = append(app.closers, closer.Close)
	}

	notifier := notify.NewLogNotifier(log)
	app.Rollout = config.NewRolloutSource(cfg.Verifactu, log)

	app.Intake = invoicingapp.NewIntakeService(app.Repos.Companies, app.Repos.Clients, app.Repos.Invoices, sealer, log)
	app.Query = invoicingapp.NewQueryService(app.Repos.Invoices, log)
	app.Submission = verifactuapp.NewSubmissionService(verifactuapp.SubmissionConfig{
		Invoices:            app.Repos.Invoices,
		Companies:           app.Repos.Companies,
		Clients:             app.Repos.Clients,
		Chain:               app.Repos.Chain,
		Locker:              newLocker(cfg, app.Redis, log),
		Signer:              signing.NewEnvelopeSigner(sealer, store, log),
		Real:                realTransport,
		Simulated:           newSimulatedTransmitter(cfg, log),
		Queue:               app.Queue.Queue,
		Notifier:            notifier,
		Recorder:            app.Recorder,
		Logger:              log,
		TransmissionTimeout: cfg.Verifactu.TransmissionTimeout,
		ChainRetryAttempts:  cfg.Verifactu.ChainRetryAttempts,
	})
	app.Webhooks = verifactuapp.NewWebhookService(verifactuapp.WebhookConfig{
		Invoices:       app.Repos.Invoices,
		Idempotency:    idempotency,
		Notifier:       notifier,
		Recorder:       app.Recorder,
		Logger:         log,
		Secret:         cfg.Verifactu.WebhookSecret,
		Tolerance:      cfg.Verifactu.WebhookTolerance,
		IdempotencyTTL: cfg.Verifactu.IdempotencyTTL,
	})
	app.Retry = verifactuapp.NewRetryCoordinator(verifactuapp.RetryConfig{
		Invoices:        app.Repos.Invoices,
		Queue:           app.Queue.Queue,
		DeadLetters:     app.Queue.DeadLetters,
		Batch:           app.Queue.Batch,
		Recorder:        app.Recorder,
		Logger:          log,
		StuckThreshold:  cfg.Verifactu.StuckThreshold,
		CallbackTimeout: cfg.Verifactu.CallbackTimeout,
		RetryDelay:      cfg.Verifactu.RetryDelay,
		MaxRetries:      cfg.Verifactu.MaxRetries,
		Concurrency:     cfg.Worker.Concurrency,
	})
	app.Metrics = verifactuapp.NewMetricsService(verifactuapp.MetricsConfig{
		Stats:  app.Repos.Stats,
		Batch:  app.Queue.Batch,
		Logger: log,
	})
	app.Chain = verifactuapp.NewChainService(app.Repos.Invoices, app.Repos.Companies, app.Repos.Clients, log)

	if opts.Prometheus != nil {
		opts.Prometheus.MustRegister(telemetry.NewBacklogCollector(app.Repos.Stats, app.Queue.DeadLetters, log))
	}
	return app, nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newSealer(cfg *config.Config, log *zap.Logger) (*signing.Sealer, error) {
	if cfg.Verifactu.CertificateKey != "" {
		return signing.NewSealer(cfg.Verifactu.CertificateKey)
	}
	log.Warn("verifactu.certificate_key is empty, sealing certificates with a per-process key. " +
		"Stored certificates will not open after a restart.")
	return signing.NewEphemeralSealer()
}

func newRealTransmitter(cfg *config.Config, log *zap.Logger) (verifactuapp.Transmitter, error) {
	if cfg.Verifactu.AEATEndpoint == "" {
		log.Info("No AEAT endpoint configured, every submission uses the simulated transport")
		return nil, nil
	}
	t, err := aeat.NewHTTPTransmitter(aeat.HTTPConfig{
		Endpoint:       cfg.Verifactu.AEATEndpoint,
		RatePerSecond:  cfg.Verifactu.TransmitRatePerSecond,
		RequestTimeout: cfg.Verifactu.TransmissionTimeout,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up AEAT transport: %w", err)
	}
	return t, nil
}

func newSimulatedTransmitter(cfg *config.Config, log *zap.Logger) *aeat.SimulatedTransmitter {
	profile := aeat.AlwaysAccept
	if cfg.Verifactu.SimulationProfile == "realistic" {
		profile = aeat.RealisticProfile
	}
	return aeat.NewSimulatedTransmitter(aeat.WithProfile(profile), aeat.WithSimulatedLogger(log))
}

func newLocker(cfg *config.Config, client *redis.Client, log *zap.Logger) verifactuapp.TenantLocker {
	if cfg.Verifactu.LockBackend == "redis" && client != nil {
		return lock.NewRedisLeaseLocker(client, cfg.Verifactu.LockLeaseTTL, log)
	}
	return lock.NewKeyedMutex()
}

func newRecorder(opts Options) (verifactuapp.Recorder, error) {
	var recorders telemetry.Recorders
	if opts.Meter != nil {
		pm, err := telemetry.NewPipelineMetrics(opts.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
		}
		recorders = append(recorders, pm)
	}
	if opts.Prometheus != nil {
		recorders = append(recorders, opts.Prometheus)
	}
	if len(recorders) == 0 {
		return verifactuapp.NopRecorder(), nil
	}
	return recorders, nil
}
