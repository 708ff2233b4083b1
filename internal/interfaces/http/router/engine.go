package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/invoices/backend/internal/infrastructure/auth"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/invoices/backend/internal/infrastructure/logger"
	"github.com/invoices/backend/internal/interfaces/http/handler"
	"github.com/invoices/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers mounted by NewEngine
type Handlers struct {
	Webhook   *handler.WebhookHandler
	Verifactu *handler.VerifactuHandler
	Intake    *handler.IntakeHandler
	Invoices  *handler.InvoiceListHandler
	Metrics   *handler.MetricsHandler
	Health    *handler.HealthHandler
}

// EngineConfig carries everything NewEngine needs besides the handlers
type EngineConfig struct {
	App       config.AppConfig
	HTTP      config.HTTPConfig
	Telemetry config.TelemetryConfig
	Logger    *zap.Logger
	JWT       *auth.JWTService
	// Meter records HTTP metrics; nil disables them.
	Meter metric.Meter
	// Scrape serves GET /metrics; nil leaves the route unregistered.
	Scrape http.Handler
}

// NewEngine builds the gin engine with the middleware chain and every route
func NewEngine(cfg EngineConfig, h Handlers) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}
	middleware.SetupValidator()

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanErrorMarker(),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(cfg.Meter),
		middleware.Secure(),
	)
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.HTTP.CORSAllowOrigins,
			AllowMethods:  cfg.HTTP.CORSAllowMethods,
			AllowHeaders:  cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders: []string{middleware.RequestIDHeader},
		}))
	}

	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
	}
	if cfg.Scrape != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Scrape))
	}
	if h.Webhook != nil {
		limiter := middleware.NewRateLimiter(cfg.HTTP.WebhookRatePerSecond, cfg.HTTP.WebhookBurst)
		engine.POST("/webhooks/verifactu",
			middleware.RateLimit(limiter),
			middleware.BodyLimit(cfg.HTTP.WebhookMaxBody),
			middleware.TracingAttributeInjector(),
			h.Webhook.Receive,
		)
	}

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Register(OperatorRoutes(cfg, h, log))
	r.Setup()

	return engine, nil
}

// OperatorRoutes is the JWT-protected /verifactu group
func OperatorRoutes(cfg EngineConfig, h Handlers, log *zap.Logger) *DomainGroup {
	g := NewDomainGroup("verifactu", "/verifactu").Use(
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.OperatorAuth(middleware.JWTMiddlewareConfig{JWTService: cfg.JWT, Logger: log}),
		middleware.TracingAttributeInjector(),
	)

	read := middleware.RequireScope(auth.ScopeRead)
	intake := middleware.RequireScope(auth.ScopeIntake)
	submit := middleware.RequireScope(auth.ScopeSubmit)
	retry := middleware.RequireScope(auth.ScopeRetry)

	if h.Intake != nil {
		g.POST("/companies", intake, h.Intake.CreateCompany).
			GET("/companies/:id", read, h.Intake.GetCompany).
			POST("/clients", intake, h.Intake.CreateClient).
			POST("/invoices", intake, h.Intake.CreateInvoice).
			GET("/invoices/:id", read, h.Intake.GetInvoice)
	}
	if h.Invoices != nil {
		g.GET("/invoices", read, h.Invoices.List)
	}
	if h.Verifactu != nil {
		g.POST("/invoices/:id/issue", submit, h.Verifactu.Issue).
			POST("/invoices/:id/submit", submit, h.Verifactu.Submit).
			POST("/invoices/:id/retry", retry, h.Verifactu.Retry).
			GET("/companies/:id/chain/verify", read, h.Verifactu.VerifyChain).
			GET("/rollout", read, h.Verifactu.Rollout)
	}
	if h.Metrics != nil {
		g.Group("metrics", "/metrics").Use(read).
			GET("", h.Metrics.Snapshot).
			GET("/errors", h.Metrics.TopErrors).
			GET("/trends", h.Metrics.DailyTrend).
			GET("/batch", h.Metrics.BatchSummary)
	}
	return g
}
