package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingSiimpBaseURL = errors.New("missing_siimp_base_url")
	ErrMissingSiimpAPIKey  = errors.New("missing_siimp_api_key")
	ErrMissingDatabase     = errors.New("missing_database_config")
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DatabaseURL       string
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

	Siimp SiimpConfig
	DAC   DACConfig

	DefaultCancelReason string
	EnrichConcurrency   int
	OwnerCacheSize      int
	OwnerCacheTTL       time.Duration
	UpsertMode          string

	Batch BatchConfig
	Redis RedisConfig
	Sync  SyncConfig

	ReconcileConfigPath string
	APIKeys             string
}

type SiimpConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type DACConfig struct {
	BaseURL  string
	Username string
	Password string
	Cookie   string
	Timeout  time.Duration
}

type BatchConfig struct {
	Interval             time.Duration
	SharedQuotaPerMinute int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type SyncConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	MaxPages int
	Status   string
}

const (
	UpsertModeOverwrite = "overwrite"
	UpsertModeCoalesce  = "coalesce"
)

const DefaultCancelReason = "Cancelado via portal"

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "billingops"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DB_TYPE", "postgres")),
		DatabaseURL:       strings.TrimSpace(getenv("DATABASE_URL", "")),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "billingops"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DB_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DB_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DB_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DB_CONN_MAX_IDLE_TIME", 300)),

		Siimp: SiimpConfig{
			BaseURL: strings.TrimSpace(getenv("SIIMP_BASE_URL", "")),
			APIKey:  strings.TrimSpace(getenv("SIIMP_API_KEY", "")),
			Timeout: getenvDuration("SIIMP_TIMEOUT", 30*time.Second),
		},
		DAC: DACConfig{
			BaseURL:  strings.TrimSpace(getenv("DAC_BASE_URL", "https://dac.s1mp.net")),
			Username: strings.TrimSpace(getenv("DAC_USERNAME", "")),
			Password: getenv("DAC_PASSWORD", ""),
			Cookie:   strings.TrimSpace(getenv("DAC_COOKIE", "")),
			Timeout:  getenvDuration("DAC_TIMEOUT", 30*time.Second),
		},

		DefaultCancelReason: getenv("DEFAULT_CANCEL_REASON", DefaultCancelReason),
		EnrichConcurrency:   int(getenvInt64("DAC_ENRICH_CONCURRENCY", 4)),
		OwnerCacheSize:      int(getenvInt64("OWNER_CACHE_SIZE", 2048)),
		OwnerCacheTTL:       getenvDuration("OWNER_CACHE_TTL", 10*time.Minute),
		UpsertMode:          normalizeUpsertMode(getenv("INVOICE_UPSERT_MODE", UpsertModeOverwrite)),

		Batch: BatchConfig{
			Interval:             getenvDuration("BATCH_INTERVAL", 1100*time.Millisecond),
			SharedQuotaPerMinute: int(getenvInt64("BATCH_SHARED_QUOTA_PER_MINUTE", 0)),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Sync: SyncConfig{
			Enabled:  getenvBool("SYNC_ENABLED", false),
			Interval: getenvDuration("SYNC_INTERVAL", 15*time.Minute),
			Timeout:  getenvDuration("SYNC_TIMEOUT", 10*time.Minute),
			MaxPages: int(getenvInt64("SYNC_MAX_PAGES", 50)),
			Status:   strings.TrimSpace(getenv("SYNC_STATUS", "")),
		},

		ReconcileConfigPath: strings.TrimSpace(getenv("RECONCILE_CONFIG", "")),
		APIKeys:             strings.TrimSpace(getenv("API_KEYS", "")),
	}

	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = 4
	}

	return cfg
}

// Validate reports configuration errors that must stop the process at startup.
func (c Config) Validate() error {
	var errs []error
	if c.Siimp.BaseURL == "" {
		errs = append(errs, ErrMissingSiimpBaseURL)
	}
	if c.Siimp.APIKey == "" {
		errs = append(errs, ErrMissingSiimpAPIKey)
	}
	if c.DBType == "postgres" && c.DatabaseURL == "" && c.DBHost == "" {
		errs = append(errs, ErrMissingDatabase)
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeUpsertMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case UpsertModeCoalesce:
		return UpsertModeCoalesce
	case UpsertModeOverwrite:
		return UpsertModeOverwrite
	default:
		log.Printf("unknown INVOICE_UPSERT_MODE %q, using %s", raw, UpsertModeOverwrite)
		return UpsertModeOverwrite
	}
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, value, def)
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("1500ms") or a bare number of milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		log.Printf("invalid %s=%q, using default %s", key, value, def)
		return def
	}
	return parsed
}
