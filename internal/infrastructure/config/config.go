package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (VERIFACTU_DATABASE_PASSWORD, ...)
const EnvPrefix = "VERIFACTU"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Storage   StorageConfig
	Verifactu VerifactuConfig
	Worker    WorkerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. Empty Host disables Redis
// and the in-memory queue, lock and idempotency store are used instead.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig protects the operator endpoints. Empty Secret disables auth.
type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	MaxHeaderBytes       int
	MaxBodySize          int64
	WebhookMaxBody       int64
	WebhookRatePerSecond float64
	WebhookBurst         int
	CORSAllowOrigins     []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	TrustedProxies       []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	LogsEnabled       bool // Tee zap records into the OTLP log pipeline
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	Profiling         ProfilingConfig
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled              bool
	ServerAddress        string // e.g. "http://localhost:4040"
	ApplicationName      string
	BasicAuthUser        string
	BasicAuthPassword    string
	CPU                  bool
	AllocObjects         bool
	AllocSpace           bool
	InuseObjects         bool
	InuseSpace           bool
	Goroutines           bool
	MutexCount           bool
	MutexDuration        bool
	BlockCount           bool
	BlockDuration        bool
	MutexProfileFraction int // 1 in N mutex events sampled
	BlockProfileRate     int // nanoseconds blocked per sample
	DisableGCRuns        bool
}

// StorageConfig selects where signed documents are kept
type StorageConfig struct {
	Backend         string // memory, s3
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// VerifactuConfig holds the compliance pipeline settings
type VerifactuConfig struct {
	Enabled               bool
	RolloutPercentage     int
	UseMock               bool
	WebhookSecret         string
	WebhookTolerance      time.Duration
	TransmissionTimeout   time.Duration
	StuckThreshold        time.Duration
	CallbackTimeout       time.Duration
	RetryDelay            time.Duration
	MaxRetries            int
	SweepInterval         time.Duration
	ChainRetryAttempts    int
	TransmitRatePerSecond float64
	QueueStream           string
	DLQStream             string
	BatchMetricsKey       string
	CertificateKey        string // hex, 32 bytes
	AEATEndpoint          string
	LockBackend           string // memory, redis
	LockLeaseTTL          time.Duration
	IdempotencyTTL        time.Duration
	SimulationProfile     string // accept, realistic
}

// WorkerConfig configures the verification queue consumer
type WorkerConfig struct {
	Enabled       bool
	Concurrency   int
	BatchSize     int
	Block         time.Duration
	ConsumerGroup string
	ConsumerName  string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with VERIFACTU_ prefix (e.g., VERIFACTU_DATABASE_PASSWORD)
// 2. .env file in the working directory
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	cfg, _, err := LoadWithViper()
	return cfg, err
}

// LoadWithViper is Load that also returns the viper instance, so callers
// can watch the config file for rollout changes.
func LoadWithViper() (*Config, *viper.Viper, error) {
	// a missing .env is fine; variables already set win over the file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := FromViper(v)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

// FromViper builds a Config from v and applies defaults
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			TokenTTL: v.GetDuration("jwt.token_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:          v.GetDuration("http.read_timeout"),
			WriteTimeout:         v.GetDuration("http.write_timeout"),
			IdleTimeout:          v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:       v.GetInt("http.max_header_bytes"),
			MaxBodySize:          v.GetInt64("http.max_body_size"),
			WebhookMaxBody:       v.GetInt64("http.webhook_max_body"),
			WebhookRatePerSecond: v.GetFloat64("http.webhook_rate_per_second"),
			WebhookBurst:         v.GetInt("http.webhook_burst"),
			CORSAllowOrigins:     v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:     v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:     v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:       v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			Profiling: ProfilingConfig{
				Enabled:              v.GetBool("telemetry.profiling.enabled"),
				ServerAddress:        v.GetString("telemetry.profiling.server_address"),
				ApplicationName:      v.GetString("telemetry.profiling.application_name"),
				BasicAuthUser:        v.GetString("telemetry.profiling.basic_auth_user"),
				BasicAuthPassword:    v.GetString("telemetry.profiling.basic_auth_password"),
				CPU:                  v.GetBool("telemetry.profiling.profile_cpu"),
				AllocObjects:         v.GetBool("telemetry.profiling.profile_alloc_objects"),
				AllocSpace:           v.GetBool("telemetry.profiling.profile_alloc_space"),
				InuseObjects:         v.GetBool("telemetry.profiling.profile_inuse_objects"),
				InuseSpace:           v.GetBool("telemetry.profiling.profile_inuse_space"),
				Goroutines:           v.GetBool("telemetry.profiling.profile_goroutines"),
				MutexCount:           v.GetBool("telemetry.profiling.profile_mutex_count"),
				MutexDuration:        v.GetBool("telemetry.profiling.profile_mutex_duration"),
				BlockCount:           v.GetBool("telemetry.profiling.profile_block_count"),
				BlockDuration:        v.GetBool("telemetry.profiling.profile_block_duration"),
				MutexProfileFraction: v.GetInt("telemetry.profiling.mutex_profile_fraction"),
				BlockProfileRate:     v.GetInt("telemetry.profiling.block_profile_rate"),
				DisableGCRuns:        v.GetBool("telemetry.profiling.disable_gc_runs"),
			},
		},
		Storage: StorageConfig{
			Backend:         v.GetString("storage.backend"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Verifactu: readVerifactu(v),
		Worker: WorkerConfig{
			Enabled:       v.GetBool("worker.enabled"),
			Concurrency:   v.GetInt("worker.concurrency"),
			BatchSize:     v.GetInt("worker.batch_size"),
			Block:         v.GetDuration("worker.block"),
			ConsumerGroup: v.GetString("worker.consumer_group"),
			ConsumerName:  v.GetString("worker.consumer_name"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)
	return cfg
}

func readVerifactu(v *viper.Viper) VerifactuConfig {
	return VerifactuConfig{
		Enabled:               v.GetBool("verifactu.enabled"),
		RolloutPercentage:     v.GetInt("verifactu.rollout_percentage"),
		UseMock:               v.GetBool("verifactu.use_mock"),
		WebhookSecret:         v.GetString("verifactu.webhook_secret"),
		WebhookTolerance:      v.GetDuration("verifactu.webhook_tolerance"),
		TransmissionTimeout:   v.GetDuration("verifactu.transmission_timeout"),
		StuckThreshold:        v.GetDuration("verifactu.stuck_threshold"),
		CallbackTimeout:       v.GetDuration("verifactu.callback_timeout"),
		RetryDelay:            v.GetDuration("verifactu.retry_delay"),
		MaxRetries:            v.GetInt("verifactu.max_retries"),
		SweepInterval:         v.GetDuration("verifactu.sweep_interval"),
		ChainRetryAttempts:    v.GetInt("verifactu.chain_retry_attempts"),
		TransmitRatePerSecond: v.GetFloat64("verifactu.transmit_rate_per_second"),
		QueueStream:           v.GetString("verifactu.queue_stream"),
		DLQStream:             v.GetString("verifactu.dlq_stream"),
		BatchMetricsKey:       v.GetString("verifactu.batch_metrics_key"),
		CertificateKey:        v.GetString("verifactu.certificate_key"),
		AEATEndpoint:          v.GetString("verifactu.aeat_endpoint"),
		LockBackend:           v.GetString("verifactu.lock_backend"),
		LockLeaseTTL:          v.GetDuration("verifactu.lock_lease_ttl"),
		IdempotencyTTL:        v.GetDuration("verifactu.idempotency_ttl"),
		SimulationProfile:     v.GetString("verifactu.simulation_profile"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "verifactu-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "invoices"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "verifactu-backend"
	}
	if cfg.JWT.TokenTTL <= 0 {
		cfg.JWT.TokenTTL = 12 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.WebhookMaxBody == 0 {
		cfg.HTTP.WebhookMaxBody = 64 << 10 // 64KB
	}
	if cfg.HTTP.WebhookRatePerSecond <= 0 {
		cfg.HTTP.WebhookRatePerSecond = 50
	}
	if cfg.HTTP.WebhookBurst <= 0 {
		cfg.HTTP.WebhookBurst = 100
	}
	// An empty origin list means no cross-origin requests until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "verifactu-backend"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.Profiling.ApplicationName == "" {
		cfg.Telemetry.Profiling.ApplicationName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.Profiling.MutexProfileFraction == 0 {
		cfg.Telemetry.Profiling.MutexProfileFraction = 5
	}
	if cfg.Telemetry.Profiling.BlockProfileRate == 0 {
		cfg.Telemetry.Profiling.BlockProfileRate = 5
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "eu-south-2"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "signed"
	}

	applyVerifactuDefaults(&cfg.Verifactu)

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 16
	}
	if cfg.Worker.Block == 0 {
		cfg.Worker.Block = 5 * time.Second
	}
	if cfg.Worker.ConsumerGroup == "" {
		cfg.Worker.ConsumerGroup = "verifactu-workers"
	}
	if cfg.Worker.ConsumerName == "" {
		cfg.Worker.ConsumerName = "worker-1"
	}
}

func applyVerifactuDefaults(vc *VerifactuConfig) {
	if vc.WebhookTolerance == 0 {
		vc.WebhookTolerance = 5 * time.Minute
	}
	if vc.TransmissionTimeout == 0 {
		vc.TransmissionTimeout = 30 * time.Second
	}
	if vc.StuckThreshold == 0 {
		vc.StuckThreshold = time.Hour
	}
	if vc.CallbackTimeout == 0 {
		vc.CallbackTimeout = 48 * time.Hour
	}
	if vc.RetryDelay == 0 {
		vc.RetryDelay = 5 * time.Minute
	}
	if vc.MaxRetries == 0 {
		vc.MaxRetries = 5
	}
	if vc.SweepInterval == 0 {
		vc.SweepInterval = 5 * time.Minute
	}
	if vc.ChainRetryAttempts == 0 {
		vc.ChainRetryAttempts = 3
	}
	if vc.TransmitRatePerSecond == 0 {
		vc.TransmitRatePerSecond = 10
	}
	if vc.QueueStream == "" {
		vc.QueueStream = "verifactu-queue"
	}
	if vc.DLQStream == "" {
		vc.DLQStream = "verifactu-dlq"
	}
	if vc.BatchMetricsKey == "" {
		vc.BatchMetricsKey = "verifactu:batch:metrics"
	}
	if vc.LockBackend == "" {
		vc.LockBackend = "memory"
	}
	if vc.LockLeaseTTL == 0 {
		vc.LockLeaseTTL = 30 * time.Second
	}
	if vc.IdempotencyTTL == 0 {
		vc.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if vc.SimulationProfile == "" {
		vc.SimulationProfile = "accept"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	vc := c.Verifactu
	if vc.RolloutPercentage < 0 || vc.RolloutPercentage > 100 {
		return fmt.Errorf("verifactu.rollout_percentage must be between 0 and 100, got %d", vc.RolloutPercentage)
	}
	if vc.MaxRetries < 0 {
		return fmt.Errorf("verifactu.max_retries cannot be negative")
	}
	if vc.CertificateKey != "" {
		if key, err := hex.DecodeString(vc.CertificateKey); err != nil || len(key) != 32 {
			return fmt.Errorf("verifactu.certificate_key must be 32 bytes hex encoded")
		}
	}
	switch vc.LockBackend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("verifactu.lock_backend=redis requires redis.host")
		}
	default:
		return fmt.Errorf("verifactu.lock_backend must be memory or redis, got %q", vc.LockBackend)
	}
	if vc.SimulationProfile != "accept" && vc.SimulationProfile != "realistic" {
		return fmt.Errorf("verifactu.simulation_profile must be accept or realistic, got %q", vc.SimulationProfile)
	}
	switch c.Storage.Backend {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or s3, got %q", c.Storage.Backend)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if len(vc.WebhookSecret) < 32 {
			return fmt.Errorf("verifactu.webhook_secret must be at least 32 characters in production")
		}
		if vc.CertificateKey == "" {
			return fmt.Errorf("verifactu.certificate_key is required in production")
		}
		if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		// CORS must not use wildcard with credentials
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		// Database tracing: full SQL logging is a security risk in production
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	// Validate telemetry configuration (all environments)
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.Profiling.Enabled && c.Telemetry.Profiling.ServerAddress == "" {
		return fmt.Errorf("telemetry.profiling.server_address is required when profiling is enabled")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port, or "" when Redis is not configured
func (r *RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
