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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "ingest-queue", cfg.Redis.Queue)
	assert.Equal(t, "neo4j", cfg.Neo4j.Database)
	assert.Equal(t, "PL", cfg.Identity.PhoneRegion)
	assert.Equal(t, 2, cfg.Worker.Slots)
	assert.Equal(t, 5, cfg.Worker.MaxDeliveries)
	assert.Equal(t, time.Minute, cfg.Worker.RetryBackoff)
	assert.True(t, cfg.Dedup.Enabled)
	assert.False(t, cfg.CRM.Enabled)
	assert.Equal(t, "https://api.hubapi.com", cfg.CRM.BaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAMLWithExpansion(t *testing.T) {
	t.Setenv("TEST_NEO4J_PASSWORD", "s3cret")
	writeConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://verandana.pl"]
neo4j:
  uri: neo4j://graph:7687
  username: neo4j
  password: ${TEST_NEO4J_PASSWORD}
worker:
  slots: 4
  retry_backoff: 2m
crm:
  enabled: true
  token: pat-123
log:
  level: debug
  format: console
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://verandana.pl"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "neo4j://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "s3cret", cfg.Neo4j.Password)
	assert.Equal(t, 4, cfg.Worker.Slots)
	assert.Equal(t, 2*time.Minute, cfg.Worker.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Worker.JobTimeout, "unset keys keep defaults")
	assert.True(t, cfg.CRM.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
redis:
  url: redis://from-file:6379/0
identity:
  email_salt: file-salt
`)
	t.Setenv("REDIS_URL", "redis://from-env:6379/1")
	t.Setenv("WORKER_SLOTS", "8")
	t.Setenv("HUBSPOT_SYNC", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.pl,https://b.pl")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://from-env:6379/1", cfg.Redis.URL)
	assert.Equal(t, "file-salt", cfg.Identity.EmailSalt)
	assert.Equal(t, 8, cfg.Worker.Slots)
	assert.True(t, cfg.CRM.Enabled)
	assert.Equal(t, []string{"https://a.pl", "https://b.pl"}, cfg.Server.AllowedOrigins)
}

func TestLoadInvalidYAML(t *testing.T) {
	writeConfig(t, "server: [unclosed")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WORKER_SLOTS", "many")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateServer_MissingSalt(t *testing.T) {
	cfg := defaults()

	err := cfg.ValidateServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRAPH_EMAIL_SALT")

	cfg.Identity.EmailSalt = "salt"
	assert.NoError(t, cfg.ValidateServer())
}

func TestValidateWorker(t *testing.T) {
	cfg := defaults()
	err := cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NEO4J_URI")
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "GRAPH_EMAIL_SALT")

	cfg.Neo4j.URI = "neo4j://localhost:7687"
	cfg.Database.URL = "postgres://localhost/leads"
	cfg.Identity.EmailSalt = "salt"
	require.NoError(t, cfg.ValidateWorker())

	cfg.CRM.Enabled = true
	err = cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HUBSPOT_TOKEN")

	cfg.CRM.Token = "pat"
	cfg.Worker.RetryBackoff = cfg.Worker.JobTimeout
	err = cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_backoff")
}

func TestValidateReplay(t *testing.T) {
	cfg := defaults()
	require.Error(t, cfg.ValidateReplay())

	cfg.Database.URL = "postgres://localhost/leads"
	assert.NoError(t, cfg.ValidateReplay())
}

func TestInitLogger(t *testing.T) {
	logger, err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Same(t, logger, zap.L())

	_, err = InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
