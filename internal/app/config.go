package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/calc"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"45s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	RedisAddr string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"1h"`

	GotenbergURL string `envconfig:"GOTENBERG_URL" default:"http://127.0.0.1:3000"`

	ExportStorageDir  string        `envconfig:"EXPORT_STORAGE_DIR" default:"./var/exports"`
	ExportRetention   time.Duration `envconfig:"EXPORT_RETENTION" default:"168h"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	TaxStructure      string   `envconfig:"TAX_STRUCTURE" default:"holiday-home"`
	TaxRate           string   `envconfig:"TAX_RATE"`
	TaxMaxNights      int      `envconfig:"TAX_MAX_NIGHTS" default:"10"`
	TaxMinAge         int      `envconfig:"TAX_MIN_AGE" default:"10"`
	TaxLiableStatuses []string `envconfig:"TAX_LIABLE_STATUSES" default:"confirmed"`
	TaxBucketing      string   `envconfig:"TAX_BUCKETING" default:"month"`
	TaxExemptNames    []string `envconfig:"TAX_EXEMPT_NAMES"`
}

// LoadConfig reads configuration from environment variables and checks the
// default tax policy, so a bad deployment fails at startup.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.ExportStorageDir == "" {
		return nil, errors.New("export storage dir must be provided")
	}
	policy, err := cfg.DefaultPolicy()
	if err != nil {
		return nil, err
	}
	if _, err := policy.Resolve(); err != nil {
		return nil, fmt.Errorf("default tax policy: %w", err)
	}
	return &cfg, nil
}

// DefaultPolicy converts the TAX_* settings into the service defaults.
func (c *Config) DefaultPolicy() (calc.PolicyInput, error) {
	in := calc.PolicyInput{
		Structure:      strings.TrimSpace(c.TaxStructure),
		MaxNights:      calc.IntPtr(c.TaxMaxNights),
		MinAge:         calc.IntPtr(c.TaxMinAge),
		LiableStatuses: c.TaxLiableStatuses,
		Bucketing:      strings.TrimSpace(c.TaxBucketing),
		ExemptNames:    c.TaxExemptNames,
	}
	if raw := strings.TrimSpace(c.TaxRate); raw != "" {
		rate, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			return calc.PolicyInput{}, fmt.Errorf("TAX_RATE %q: %w", raw, err)
		}
		in.Rate = &rate
	}
	return in, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
