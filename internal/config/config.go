// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment
// variables, and initialises the process logger.
package config

import (
	"errors"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server, worker and replay binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	Worker   WorkerConfig   `yaml:"worker"`
	Dedup    DedupConfig    `yaml:"dedup"`
	CRM      CRMConfig      `yaml:"crm"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the ingestion HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// RedisConfig configures the queue backend.
type RedisConfig struct {
	URL   string `yaml:"url" env:"REDIS_URL"`
	Queue string `yaml:"queue" env:"INGEST_QUEUE"`
}

// Neo4jConfig configures the graph store.
type Neo4jConfig struct {
	URI       string        `yaml:"uri" env:"NEO4J_URI"`
	Username  string        `yaml:"username" env:"NEO4J_USERNAME"`
	Password  string        `yaml:"password" env:"NEO4J_PASSWORD"`
	Database  string        `yaml:"database" env:"NEO4J_DATABASE"`
	TxTimeout time.Duration `yaml:"tx_timeout" env:"NEO4J_TX_TIMEOUT"`
}

// DatabaseConfig configures the Postgres job ledger.
type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

// IdentityConfig holds the PII normalisation settings.
type IdentityConfig struct {
	EmailSalt   string `yaml:"email_salt" env:"GRAPH_EMAIL_SALT"`
	PhoneRegion string `yaml:"phone_region" env:"PHONE_REGION"`
}

// WorkerConfig configures the ingest worker.
type WorkerConfig struct {
	Slots           int           `yaml:"slots" env:"WORKER_SLOTS"`
	MaxDeliveries   int           `yaml:"max_deliveries" env:"WORKER_MAX_DELIVERIES"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"WORKER_RETRY_BACKOFF"`
	JobTimeout      time.Duration `yaml:"job_timeout" env:"WORKER_JOB_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"WORKER_SHUTDOWN_TIMEOUT"`
	Block           time.Duration `yaml:"block" env:"WORKER_BLOCK"`
}

// DedupConfig configures double-submit suppression on the API.
type DedupConfig struct {
	Enabled bool          `yaml:"enabled" env:"DEDUP_ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"DEDUP_TTL"`
}

// CRMConfig configures the optional HubSpot sync.
type CRMConfig struct {
	Enabled       bool          `yaml:"enabled" env:"HUBSPOT_SYNC"`
	Token         string        `yaml:"token" env:"HUBSPOT_TOKEN"`
	BaseURL       string        `yaml:"base_url" env:"HUBSPOT_BASE_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"HUBSPOT_TIMEOUT"`
	RatePerSecond float64       `yaml:"rate_per_second" env:"HUBSPOT_RATE_PER_SECOND"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			MaxBodyBytes:   1 << 20,
			RequestTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			URL:   "redis://localhost:6379/0",
			Queue: "ingest-queue",
		},
		Neo4j: Neo4jConfig{
			Database:  "neo4j",
			TxTimeout: 15 * time.Second,
		},
		Identity: IdentityConfig{
			PhoneRegion: "PL",
		},
		Worker: WorkerConfig{
			Slots:           2,
			MaxDeliveries:   5,
			RetryBackoff:    time.Minute,
			JobTimeout:      30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			Block:           5 * time.Second,
		},
		Dedup: DedupConfig{
			Enabled: true,
			TTL:     10 * time.Minute,
		},
		CRM: CRMConfig{
			BaseURL:       "https://api.hubapi.com",
			Timeout:       10 * time.Second,
			RatePerSecond: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from config.yaml (with env var expansion), then
// applies environment variable overrides. A missing config file is not an
// error; the defaults plus environment are enough to run.
func Load() (*Config, error) {
	cfg := defaults()

	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, eris.Wrapf(err, "config: parse %s", configPath)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, eris.Wrapf(err, "config: read %s", configPath)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, eris.Wrap(err, "config: parse environment")
	}
	return cfg, nil
}

// ValidateServer checks the settings the ingestion API cannot start without.
func (c *Config) ValidateServer() error {
	return requireSettings(map[string]string{
		"redis.url (REDIS_URL)":                  c.Redis.URL,
		"identity.email_salt (GRAPH_EMAIL_SALT)": c.Identity.EmailSalt,
	})
}

// ValidateWorker checks the settings the ingest worker cannot start without.
func (c *Config) ValidateWorker() error {
	missing := map[string]string{
		"redis.url (REDIS_URL)":                  c.Redis.URL,
		"neo4j.uri (NEO4J_URI)":                  c.Neo4j.URI,
		"database.url (DATABASE_URL)":            c.Database.URL,
		"identity.email_salt (GRAPH_EMAIL_SALT)": c.Identity.EmailSalt,
	}
	if c.CRM.Enabled {
		missing["crm.token (HUBSPOT_TOKEN)"] = c.CRM.Token
	}
	if err := requireSettings(missing); err != nil {
		return err
	}
	if c.Worker.RetryBackoff <= c.Worker.JobTimeout {
		return eris.Errorf("config: worker.retry_backoff (%s) must exceed worker.job_timeout (%s)",
			c.Worker.RetryBackoff, c.Worker.JobTimeout)
	}
	return nil
}

// ValidateReplay checks the settings the dead-letter replay tool needs.
func (c *Config) ValidateReplay() error {
	return requireSettings(map[string]string{
		"redis.url (REDIS_URL)":       c.Redis.URL,
		"database.url (DATABASE_URL)": c.Database.URL,
	})
}

func requireSettings(settings map[string]string) error {
	var missing []string
	for name, v := range settings {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
