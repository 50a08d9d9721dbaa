package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, /metrics is registered.
	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("LYRA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LYRA_LOG_LEVEL", "info"),
		LogFormat: EnvString("LYRA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LYRA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LYRA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LYRA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LYRA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LYRA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("LYRA_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("LYRA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LYRA_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LYRA_READINESS_REQUIRE_DB", false),

		MetricsEnabled: EnvBool("LYRA_METRICS_ENABLED", true),
	}
}
