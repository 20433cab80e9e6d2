package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the tunables for the marketplace core. Values come from an
// optional YAML file, with environment variables taking precedence so
// deployments can override individual settings without shipping a file.
type Config struct {
	Port string `yaml:"port"`

	// Ingestion
	BatchSize       int   `yaml:"batch_size"`        // features per atomic plot batch
	ErrorSampleSize int   `yaml:"error_sample_size"` // max per-feature errors retained on a job
	MaxUploadBytes  int64 `yaml:"max_upload_bytes"`  // per-request ceiling for shapefile uploads

	// Reservations
	LockTTLMinutes       int `yaml:"lock_ttl_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// Job registry housekeeping
	JobRetentionHours      int `yaml:"job_retention_hours"`
	StaleJobTimeoutMinutes int `yaml:"stale_job_timeout_minutes"`

	// Requests per minute allowed per caller on lock/unlock endpoints.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

func Default() Config {
	return Config{
		Port:                   "5050",
		BatchSize:              25,
		ErrorSampleSize:        50,
		MaxUploadBytes:         50 << 20, // 50MB, enforced at the transport layer
		LockTTLMinutes:         15,
		SweepIntervalSeconds:   30,
		JobRetentionHours:      24,
		StaleJobTimeoutMinutes: 10,
		RateLimitPerMinute:     60,
	}
}

// Load reads the YAML file at path (missing file is fine) and then applies
// environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	overrideInt(&cfg.BatchSize, "INGEST_BATCH_SIZE")
	overrideInt(&cfg.ErrorSampleSize, "INGEST_ERROR_SAMPLE_SIZE")
	overrideInt64(&cfg.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	overrideInt(&cfg.LockTTLMinutes, "LOCK_TTL_MINUTES")
	overrideInt(&cfg.SweepIntervalSeconds, "SWEEP_INTERVAL_SECONDS")
	overrideInt(&cfg.JobRetentionHours, "JOB_RETENTION_HOURS")
	overrideInt(&cfg.StaleJobTimeoutMinutes, "STALE_JOB_TIMEOUT_MINUTES")
	overrideInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")

	return cfg, nil
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

func (c Config) StaleJobTimeout() time.Duration {
	return time.Duration(c.StaleJobTimeoutMinutes) * time.Minute
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
