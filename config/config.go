// Package config loads forgehand's configuration from a YAML file with
// FORGEHAND_*-prefixed environment variable overrides, generalizing the
// env-var convention in app/shared/retry_config.go's LoadRetryConfigFromEnv
// (there scoped to retry fields only; here covering the full config surface
// spec.md §6 names).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object, covering every surface named in
// spec.md §6 plus the additions in SPEC_FULL.md §6.
type Config struct {
	Pool       PoolConfig       `yaml:"pool"`
	Scaling    ScalingConfig    `yaml:"scaling"`
	Queue      QueueConfig      `yaml:"queue"`
	Retry      RetryConfig      `yaml:"retry"`
	Breaker    BreakerConfig    `yaml:"circuitBreaker"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	DeadLetter DeadLetterConfig `yaml:"deadletter"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
}

type PoolConfig struct {
	MaxWorkers                int    `yaml:"maxWorkers"`
	WorkDir                   string `yaml:"workDir"`
	EnableDynamicScaling      bool   `yaml:"enableDynamicScaling"`
	EnableGracefulDegradation bool   `yaml:"enableGracefulDegradation"`
	EnableExecutionHistory    bool   `yaml:"enableExecutionHistory"`
}

type ScalingConfig struct {
	MinWorkers         int           `yaml:"minWorkers"`
	MaxWorkers         int           `yaml:"maxWorkers"`
	CPUHigh            float64       `yaml:"cpuHigh"`
	CPULow             float64       `yaml:"cpuLow"`
	MemHigh            float64       `yaml:"memHigh"`
	MemLow             float64       `yaml:"memLow"`
	ScaleCheckInterval time.Duration `yaml:"scaleCheckInterval"`
}

type QueueConfig struct {
	MaxQueueSize          int    `yaml:"maxQueueSize"`
	OverflowStrategy      string `yaml:"overflowStrategy"` // reject | drop-lowest | pause
	QueueWarningThreshold int    `yaml:"queueWarningThreshold"`
	EnablePersistence     bool   `yaml:"enablePersistence"`
	PersistenceBackend    string `yaml:"persistenceBackend"` // file | sqlite
}

type RetryConfig struct {
	MaxRetries            int  `yaml:"maxRetries"`
	EnableDeadLetterQueue bool `yaml:"enableDeadLetterQueue"`
	ProgressiveTimeout    bool `yaml:"progressiveTimeout"`
}

type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failureThreshold"`
	SuccessThreshold    int           `yaml:"successThreshold"`
	ResetTimeout        time.Duration `yaml:"resetTimeout"`
	HalfOpenMaxAttempts int           `yaml:"halfOpenMaxAttempts"`
}

type RateLimitConfig struct {
	QueueThreshold int           `yaml:"queueThreshold"`
	MaxQueueSize   int           `yaml:"maxQueueSize"`
	MaxQueueWait   time.Duration `yaml:"maxQueueWait"`
	PreemptiveWait bool          `yaml:"preemptiveWait"`
}

type DeadLetterConfig struct {
	Backend     string `yaml:"backend"` // file | postgres
	PostgresDSN string `yaml:"postgresDsn"`
}

type MetricsConfig struct {
	Exporter string `yaml:"exporter"` // stdout | prometheus | both
}

type UpstreamConfig struct {
	BaseURL        string        `yaml:"baseUrl"` // enterprise override
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Token          string        `yaml:"-"` // always sourced from FORGEHAND_UPSTREAM_TOKEN, never from YAML
	CacheEnabled   bool          `yaml:"cacheEnabled"`
	CacheTTL       time.Duration `yaml:"cacheTtl"`
}

// Default returns the configuration with every default value named in
// spec.md §6.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			EnableDynamicScaling:      false,
			EnableGracefulDegradation: false,
			EnableExecutionHistory:    false,
		},
		Scaling: ScalingConfig{
			CPUHigh:            0.80,
			CPULow:             0.40,
			MemHigh:            0.85,
			MemLow:             0.50,
			ScaleCheckInterval: 10 * time.Second,
		},
		Queue: QueueConfig{
			MaxQueueSize:          100,
			OverflowStrategy:      "drop-lowest",
			QueueWarningThreshold: 80,
			EnablePersistence:     true,
			PersistenceBackend:    "file",
		},
		Retry: RetryConfig{
			MaxRetries:            3,
			EnableDeadLetterQueue: true,
			ProgressiveTimeout:    true,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    3,
			ResetTimeout:        30 * time.Second,
			HalfOpenMaxAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			QueueThreshold: 100,
			MaxQueueSize:   50,
			MaxQueueWait:   120 * time.Second,
			PreemptiveWait: true,
		},
		DeadLetter: DeadLetterConfig{
			Backend: "file",
		},
		Metrics: MetricsConfig{
			Exporter: "stdout",
		},
		Upstream: UpstreamConfig{
			RequestTimeout: 30 * time.Second,
			CacheEnabled:   true,
			CacheTTL:       60 * time.Second,
		},
	}
}

// Load reads path (if non-empty and it exists) over the defaults, then
// applies FORGEHAND_*-prefixed environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors app/shared/retry_config.go's
// LoadRetryConfigFromEnv convention (PLANDEX_* there, FORGEHAND_* here):
// only variables that are actually set and parse cleanly override the
// loaded/default value.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("FORGEHAND_MAX_WORKERS"); ok {
		cfg.Pool.MaxWorkers = v
	}
	if v := os.Getenv("FORGEHAND_WORK_DIR"); v != "" {
		cfg.Pool.WorkDir = v
	}
	if v, ok := envBool("FORGEHAND_ENABLE_DYNAMIC_SCALING"); ok {
		cfg.Pool.EnableDynamicScaling = v
	}
	if v, ok := envBool("FORGEHAND_ENABLE_GRACEFUL_DEGRADATION"); ok {
		cfg.Pool.EnableGracefulDegradation = v
	}
	if v, ok := envInt("FORGEHAND_MAX_RETRIES"); ok {
		cfg.Retry.MaxRetries = v
	}
	if v, ok := envInt("FORGEHAND_MAX_QUEUE_SIZE"); ok {
		cfg.Queue.MaxQueueSize = v
	}
	if v := os.Getenv("FORGEHAND_OVERFLOW_STRATEGY"); v != "" {
		cfg.Queue.OverflowStrategy = v
	}
	if v := os.Getenv("FORGEHAND_UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v, ok := envDuration("FORGEHAND_UPSTREAM_API_TIMEOUT"); ok {
		cfg.Upstream.RequestTimeout = v
	}
	if v := os.Getenv("FORGEHAND_UPSTREAM_TOKEN"); v != "" {
		cfg.Upstream.Token = v
	}
	if v, ok := envBool("FORGEHAND_UPSTREAM_CACHE_ENABLED"); ok {
		cfg.Upstream.CacheEnabled = v
	}
	if v := os.Getenv("FORGEHAND_DEADLETTER_BACKEND"); v != "" {
		cfg.DeadLetter.Backend = v
	}
	if v := os.Getenv("FORGEHAND_DEADLETTER_POSTGRES_DSN"); v != "" {
		cfg.DeadLetter.PostgresDSN = v
	}
	if v := os.Getenv("FORGEHAND_METRICS_EXPORTER"); v != "" {
		cfg.Metrics.Exporter = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	return strings.EqualFold(v, "true"), true
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
