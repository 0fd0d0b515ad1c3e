package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValidWithSecret(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "control secret is mandatory")

	cfg.HTTP.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestLoadSampleConfig(t *testing.T) {
	t.Setenv(EnvControlSecret, "secret")

	cfg, err := Load(filepath.Join("..", "..", "configs", "risk-core.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ExecutorPaper, cfg.Executor)
	assert.Equal(t, 0.02, cfg.Risk.BaseRisk)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.AggregationWindow)
	assert.Equal(t, 0.6, cfg.Orchestrator.ProducerWeights["news-nlp"])
	assert.Equal(t, "crypto_l1", cfg.Symbols["ETHUSDT"].Sector)
	assert.Equal(t, 0.82, cfg.Correlations.Get("ETHUSDT", "BTCUSDT"))
	assert.Equal(t, 120*time.Second, cfg.Breakers[safety.BreakerBrokerConnection].RecoveryTimeout)
	assert.Equal(t, "secret", cfg.HTTP.JWTSecret)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	t.Setenv(EnvControlSecret, "secret")
	path := writeFile(t, "partial.yaml", `
risk:
  base_risk: 0.01
  regime_multipliers:
    crisis: 0.0
breakers:
  price_feed: {failure_threshold: 9, recovery_timeout: 10s, success_threshold: 1}
`)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)

	assert.Equal(t, 0.01, cfg.Risk.BaseRisk)
	assert.Equal(t, 1.0, cfg.Risk.RegimeMultipliers[regime.TrendingBull])
	assert.Equal(t, uint32(9), cfg.Breakers[safety.BreakerPriceFeed].FailureThreshold)
	assert.Len(t, cfg.Breakers, 4)
	assert.Equal(t, 8, cfg.Orchestrator.Shards)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "CONTROL_JWT_SECRET=from-file\nKAFKA_BROKERS=k1:9092, k2:9092\n")
	// godotenv does not override variables that already exist
	t.Setenv(EnvControlSecret, "")
	os.Unsetenv(EnvControlSecret)
	t.Setenv(EnvKafkaBrokerList, "")
	os.Unsetenv(EnvKafkaBrokerList)

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.HTTP.JWTSecret)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Ingress.Kafka.Brokers)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"base risk too high", func(c *Config) { c.Risk.BaseRisk = 0.2 }},
		{"unknown regime multiplier", func(c *Config) { c.Risk.RegimeMultipliers["sideways"] = 0.5 }},
		{"unknown compatibility regime", func(c *Config) {
			c.Regime.Compatibility["momentum"] = []regime.RegimeType{"moon"}
		}},
		{"correlation out of range", func(c *Config) {
			c.Correlations["BTCUSDT"] = map[string]float64{"ETHUSDT": 1.4}
		}},
		{"bad cron", func(c *Config) { c.Reconcile.Schedule = "every day" }},
		{"bad timezone", func(c *Config) { c.Reconcile.Timezone = "Mars/Olympus" }},
		{"bad executor", func(c *Config) { c.Executor = "ib" }},
		{"bybit without keys", func(c *Config) { c.Executor = ExecutorBybit }},
		{"postgres without dsn", func(c *Config) { c.Audit.Postgres = true }},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }},
		{"kafka without group", func(c *Config) {
			c.Ingress.Enabled = true
			c.Ingress.Kafka.GroupID = ""
		}},
		{"full below min confidence", func(c *Config) { c.Orchestrator.FullConfidence = 0.4 }},
		{"zero breaker threshold", func(c *Config) {
			c.Breakers[safety.BreakerPriceFeed] = safety.BreakerConfig{RecoveryTimeout: time.Second, SuccessThreshold: 1}
		}},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = StorageRedis
			c.Storage.Redis.Addr = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.HTTP.JWTSecret = "s"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "America/New_York", Location("America/New_York").String())
	assert.Equal(t, time.UTC, Location("nowhere"))
}

func TestParseSkipsValidation(t *testing.T) {
	path := writeFile(t, "tool.yaml", "ingress:\n  kafka:\n    signal_topic: replay.signals\n")
	cfg, err := Parse(path, filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Equal(t, "replay.signals", cfg.Ingress.Kafka.SignalTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Ingress.Kafka.Brokers)
}
