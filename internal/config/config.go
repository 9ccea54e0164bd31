// Package config provides application configuration loaded from environment
// variables, an optional config file and defaults, followed by validation.
// It centralizes server, logging, storage, queue, recovery, worker, fetch,
// snapshot, scheduling and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// LogFileConfig enables rotated file output next to stdout.
type LogFileConfig struct {
	Path       string // LOG_FILE; empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// QueueConfig holds job queue defaults.
type QueueConfig struct {
	DefaultPriority   int
	IdempotencyBucket time.Duration // time bucket used when deriving keys
	MaxAttempts       int
	RetryBackoff      time.Duration // base delay for re-queued failures
}

// RecoveryConfig holds the thresholds used by the recovery sweep.
type RecoveryConfig struct {
	StaleQueuedMinutes  int
	StuckRunningMinutes int
	RequeueFailed       bool
}

// WorkerConfig controls the in-process worker pool.
type WorkerConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	IdleBackoff  time.Duration // ceiling for the doubling idle sleep
	BulkLimit    int
}

// FetchConfig controls outbound retailer requests.
type FetchConfig struct {
	Timeout    time.Duration
	UserAgent  string
	RetryCount int
}

// SnapshotConfig selects where audit snapshots are kept.
type SnapshotConfig struct {
	Backend   string // local|s3
	Dir       string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// ScheduleConfig holds cron expressions; "off" disables an entry.
type ScheduleConfig struct {
	HeadRefresh   string
	DetailRefresh string
	Visibility    string
	Recovery      string
	Audit         string
}

// AuditConfig tunes the catalog audits.
type AuditConfig struct {
	// HoldRegressionBaseline keeps the stored baseline while regressions
	// are still reported.
	HoldRegressionBaseline bool
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	LogFile        LogFileConfig
	SwaggerEnabled bool
	APIBasePath    string

	Database DatabaseConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	CORS CORSConfig

	Queue    QueueConfig
	Recovery RecoveryConfig
	Worker   WorkerConfig
	Fetch    FetchConfig
	Snapshot SnapshotConfig
	Schedule ScheduleConfig
	Audit    AuditConfig

	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that file. The file uses the same flat keys as the environment
// (PORT, LOG_LEVEL, ...); environment values win over file values.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}
	return fromSource(source{v: v})
}

func fromSource(s source) (Config, error) {
	cfg := Config{
		// Server
		Port:              s.str("PORT", "8080"),
		ReadTimeout:       s.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: s.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      s.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       s.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    s.int("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(s.int("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(s.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:  strings.ToLower(s.str("LOG_LEVEL", "info")),
		LogPretty: s.bool("LOG_PRETTY", false),
		LogFile: LogFileConfig{
			Path:       s.str("LOG_FILE", ""),
			MaxSizeMB:  s.int("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: s.int("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: s.int("LOG_FILE_MAX_AGE_DAYS", 14),
		},
		SwaggerEnabled: s.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(s.str("API_BASE_PATH", "/api/v1")),

		Database: DatabaseConfig{
			Driver: strings.ToLower(s.str("DB_DRIVER", "sqlite")),
			Path:   s.str("DB_PATH", "catalog.db"),
			URL:    s.str("DATABASE_URL", ""),
		},

		RateRPS:   s.float("RATE_RPS", 5.0),
		RateBurst: s.int("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(s.str("CORS_ALLOWED_ORIGINS", "")),
		},

		Queue: QueueConfig{
			DefaultPriority:   s.int("QUEUE_DEFAULT_PRIORITY", 100),
			IdempotencyBucket: s.dur("QUEUE_IDEMPOTENCY_BUCKET", time.Minute),
			MaxAttempts:       s.int("QUEUE_MAX_ATTEMPTS", 5),
			RetryBackoff:      s.dur("QUEUE_RETRY_BACKOFF", 2*time.Minute),
		},
		Recovery: RecoveryConfig{
			StaleQueuedMinutes:  s.int("RECOVERY_STALE_QUEUED_MINUTES", 120),
			StuckRunningMinutes: s.int("RECOVERY_STUCK_RUNNING_MINUTES", 45),
			RequeueFailed:       s.bool("RECOVERY_REQUEUE_FAILED", false),
		},
		Worker: WorkerConfig{
			ID:           s.str("WORKER_ID", defaultWorkerID()),
			Concurrency:  s.int("WORKER_CONCURRENCY", 4),
			PollInterval: s.dur("WORKER_POLL_INTERVAL", 2*time.Second),
			IdleBackoff:  s.dur("WORKER_IDLE_BACKOFF", 30*time.Second),
			BulkLimit:    s.int("WORKER_BULK_LIMIT", 200),
		},
		Fetch: FetchConfig{
			Timeout:    s.dur("FETCH_TIMEOUT", 15*time.Second),
			UserAgent:  s.str("FETCH_USER_AGENT", "catalog-ingest/1.0"),
			RetryCount: s.int("FETCH_RETRY_COUNT", 2),
		},
		Snapshot: SnapshotConfig{
			Backend:   strings.ToLower(s.str("SNAPSHOT_BACKEND", "local")),
			Dir:       s.str("SNAPSHOT_DIR", "snapshots"),
			Bucket:    s.str("SNAPSHOT_S3_BUCKET", ""),
			Region:    s.str("SNAPSHOT_S3_REGION", "us-east-1"),
			Endpoint:  s.str("SNAPSHOT_S3_ENDPOINT", ""),
			AccessKey: s.str("SNAPSHOT_S3_ACCESS_KEY", ""),
			SecretKey: s.str("SNAPSHOT_S3_SECRET_KEY", ""),
			Prefix:    s.str("SNAPSHOT_S3_PREFIX", "audits/"),
		},
		Schedule: ScheduleConfig{
			HeadRefresh:   s.str("SCHEDULE_HEAD_REFRESH", "*/30 * * * *"),
			DetailRefresh: s.str("SCHEDULE_DETAIL_REFRESH", "15 */6 * * *"),
			Visibility:    s.str("SCHEDULE_VISIBILITY", "5 * * * *"),
			Recovery:      s.str("SCHEDULE_RECOVERY", "*/10 * * * *"),
			Audit:         s.str("SCHEDULE_AUDIT", "0 3 * * *"),
		},
		Audit: AuditConfig{
			HoldRegressionBaseline: s.bool("AUDIT_HOLD_REGRESSION_BASELINE", false),
		},

		OTEL: OTELConfig{
			Enabled:     s.bool("OTEL_ENABLED", false),
			Endpoint:    s.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    s.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: s.str("OTEL_SERVICE_NAME", "catalog-ingest"),
			SampleRatio: s.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Database.Driver == "postgresql" || cfg.Database.Driver == "pg" {
		cfg.Database.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Database.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Database.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Queue.IdempotencyBucket <= 0 {
		return cfg, errors.New("QUEUE_IDEMPOTENCY_BUCKET must be > 0")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.RetryBackoff < 0 {
		return cfg, errors.New("QUEUE_RETRY_BACKOFF must be >= 0")
	}
	if cfg.Recovery.StaleQueuedMinutes <= 0 || cfg.Recovery.StuckRunningMinutes <= 0 {
		return cfg, errors.New("RECOVERY_STALE_QUEUED_MINUTES and RECOVERY_STUCK_RUNNING_MINUTES must be > 0")
	}
	if cfg.Worker.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 {
		return cfg, errors.New("WORKER_POLL_INTERVAL must be > 0")
	}
	if cfg.Worker.BulkLimit < 1 || cfg.Worker.BulkLimit > 1000 {
		return cfg, errors.New("WORKER_BULK_LIMIT must be between 1 and 1000")
	}
	if cfg.Fetch.Timeout <= 0 {
		return cfg, errors.New("FETCH_TIMEOUT must be > 0")
	}
	if cfg.Fetch.RetryCount < 0 {
		return cfg, errors.New("FETCH_RETRY_COUNT must be >= 0")
	}
	switch cfg.Snapshot.Backend {
	case "local":
		if strings.TrimSpace(cfg.Snapshot.Dir) == "" {
			return cfg, errors.New("SNAPSHOT_DIR must not be empty")
		}
	case "s3":
		if strings.TrimSpace(cfg.Snapshot.Bucket) == "" {
			return cfg, errors.New("SNAPSHOT_S3_BUCKET is required when SNAPSHOT_BACKEND=s3")
		}
	default:
		return cfg, errors.New("SNAPSHOT_BACKEND must be one of: local, s3")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

// source reads typed values out of viper, falling back to the default when a
// key is unset, empty or unparsable.
type source struct {
	v *viper.Viper
}

func (s source) str(k, def string) string {
	if v := s.v.GetString(k); v != "" {
		return v
	}
	return def
}

func (s source) float(k string, def float64) float64 {
	if v := s.v.GetString(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) int(k string, def int) int {
	if v := s.v.GetString(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) bool(k string, def bool) bool {
	if v := s.v.GetString(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (s source) dur(k string, def time.Duration) time.Duration {
	if v := s.v.GetString(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
