package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Scheduler  SchedulerConfig
	Retention  RetentionConfig
	Cache      CacheConfig
	Blockchain BlockchainConfig
	Notify     NotifyConfig
	Log        LogConfig

	TokenomicsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled         bool
	EdgeReportRate  float64
	EdgeReportBurst int
}

type SchedulerConfig struct {
	EnabledJobs        []string
	Timezone           string
	RefreshConcurrency int
	MetricsPullTimeout time.Duration
	BatchSize          int
	LockEnabled        bool
}

type RetentionConfig struct {
	SessionMonths int
	BatchSize     int
	MaxBatches    int
}

type CacheConfig struct {
	HistoryMaxEntries int
	HistoryTTL        time.Duration
	ExportMaxEntries  int
	ExportTTL         time.Duration
}

type BlockchainConfig struct {
	Endpoint string
	APIToken string
	Timeout  time.Duration
}

type NotifyConfig struct {
	SlackWebhookURL string
	QueueSize       int
}

type LogConfig struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "vpnledger"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "vpnledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", false),
			EdgeReportRate:  getenvFloat("RATE_LIMIT_EDGE_REPORT_RATE", 50),
			EdgeReportBurst: getenvInt("RATE_LIMIT_EDGE_REPORT_BURST", 200),
		},
		Scheduler: SchedulerConfig{
			EnabledJobs:        parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			Timezone:           getenv("SCHEDULER_TIMEZONE", "UTC"),
			RefreshConcurrency: getenvInt("SCHEDULER_REFRESH_CONCURRENCY", 8),
			MetricsPullTimeout: getenvDuration("SCHEDULER_METRICS_PULL_TIMEOUT", 30*time.Second),
			BatchSize:          getenvInt("SCHEDULER_BATCH_SIZE", 100),
			LockEnabled:        getenvBool("SCHEDULER_LOCK_ENABLED", true),
		},
		Retention: RetentionConfig{
			SessionMonths: getenvInt("RETENTION_SESSION_MONTHS", 3),
			BatchSize:     getenvInt("RETENTION_DELETE_BATCH_SIZE", 5000),
			MaxBatches:    getenvInt("RETENTION_MAX_BATCHES", 2000),
		},
		Cache: CacheConfig{
			HistoryMaxEntries: getenvInt("CACHE_HISTORY_MAX_ENTRIES", 1000),
			HistoryTTL:        getenvDuration("CACHE_HISTORY_TTL", 15*time.Minute),
			ExportMaxEntries:  getenvInt("CACHE_EXPORT_MAX_ENTRIES", 100),
			ExportTTL:         getenvDuration("CACHE_EXPORT_TTL", 5*time.Minute),
		},
		Blockchain: BlockchainConfig{
			Endpoint: strings.TrimSpace(getenv("BLOCKCHAIN_ENDPOINT", "")),
			APIToken: strings.TrimSpace(getenv("BLOCKCHAIN_API_TOKEN", "")),
			Timeout:  getenvDuration("BLOCKCHAIN_TIMEOUT", 30*time.Second),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: strings.TrimSpace(getenv("NOTIFY_SLACK_WEBHOOK_URL", "")),
			QueueSize:       getenvInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Log: LogConfig{
			FilePath:   strings.TrimSpace(getenv("LOG_FILE_PATH", "")),
			MaxSizeMB:  getenvInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getenvInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: getenvInt("LOG_FILE_MAX_AGE_DAYS", 14),
		},

		TokenomicsPath: strings.TrimSpace(getenv("TOKENOMICS_CONFIG_PATH", "")),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
