// Package config loads the soft parameters of the risk core from YAML and
// secrets from the environment. Hard risk limits are constants in the risk
// and killswitch packages and cannot be configured.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/risk-orchestrator/internal/exchange/bybit"
	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/internal/ingress"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/orchestrator"
	"github.com/ducminhle1904/risk-orchestrator/internal/reconcile"
	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/internal/risk"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
)

// Environment variables holding secrets
const (
	EnvBybitAPIKey     = "BYBIT_API_KEY"
	EnvBybitAPISecret  = "BYBIT_API_SECRET"
	EnvTelegramToken   = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID  = "TELEGRAM_CHAT_ID"
	EnvControlSecret   = "CONTROL_JWT_SECRET"
	EnvPostgresDSN     = "POSTGRES_DSN"
	EnvRedisPassword   = "REDIS_PASSWORD"
	EnvKafkaBrokerList = "KAFKA_BROKERS"
)

// Executor modes
const (
	ExecutorPaper = "paper"
	ExecutorBybit = "bybit"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

type Config struct {
	Executor     string                          `yaml:"executor" validate:"oneof=paper bybit"`
	Risk         RiskConfig                      `yaml:"risk"`
	Orchestrator orchestrator.Config             `yaml:"orchestrator"`
	Regime       RegimeConfig                    `yaml:"regime"`
	Symbols      risk.SymbolDirectory            `yaml:"symbols"`
	Correlations risk.CorrelationMatrix          `yaml:"correlations"`
	Breakers     map[string]safety.BreakerConfig `yaml:"breakers" validate:"dive"`
	BreakerTick  time.Duration                   `yaml:"breaker_tick" validate:"gt=0"`
	KillSwitch   KillSwitchConfig                `yaml:"kill_switch"`
	Reconcile    ReconcileConfig                 `yaml:"reconcile"`
	Portfolio    PortfolioConfig                 `yaml:"portfolio"`
	Storage      StorageConfig                   `yaml:"storage"`
	Ingress      IngressConfig                   `yaml:"ingress"`
	Audit        AuditConfig                     `yaml:"audit"`
	Bybit        bybit.Config                    `yaml:"bybit"`
	Paper        execution.PaperConfig           `yaml:"paper"`
	Telegram     TelegramConfig                  `yaml:"telegram"`
	HTTP         HTTPConfig                      `yaml:"http"`
	Logging      logger.Config                   `yaml:"logging"`
}

// RiskConfig holds the sizing parameters. Limits are not configurable.
type RiskConfig struct {
	BaseRisk          float64                       `yaml:"base_risk" validate:"gt=0,lte=0.05"`
	RegimeMultipliers map[regime.RegimeType]float64 `yaml:"regime_multipliers" validate:"dive,gte=0,lte=1.5"`
}

type RegimeConfig struct {
	MaxAge        time.Duration        `yaml:"max_age" validate:"gte=0"`
	Compatibility regime.Compatibility `yaml:"compatibility"`
}

type KillSwitchConfig struct {
	EvalInterval time.Duration `yaml:"eval_interval" validate:"gt=0"`
	OrderTimeout time.Duration `yaml:"order_timeout" validate:"gt=0"`
}

type ReconcileConfig struct {
	Schedule string        `yaml:"schedule" validate:"required"`
	Timezone string        `yaml:"timezone" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

type PortfolioConfig struct {
	StartingCash float64 `yaml:"starting_cash" validate:"gt=0"`
	Timezone     string  `yaml:"timezone" validate:"required"`
}

type StorageConfig struct {
	Backend string              `yaml:"backend" validate:"oneof=memory file redis"`
	Dir     string              `yaml:"dir"`
	Redis   storage.RedisConfig `yaml:"redis"`
}

type IngressConfig struct {
	Enabled bool                `yaml:"enabled"`
	Kafka   ingress.KafkaConfig `yaml:"kafka" validate:"-"`
	// NewsProducers are signal producers whose feed failures count against the news_feed breaker
	NewsProducers []string `yaml:"news_producers"`
}

type AuditConfig struct {
	JSONLPath   string `yaml:"jsonl_path" validate:"required"`
	Postgres    bool   `yaml:"postgres"`
	PostgresDSN string `yaml:"-"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity" validate:"oneof=INFO WARNING ERROR CRITICAL"`
	Token       string `yaml:"-"`
	ChatID      string `yaml:"-"`
}

type HTTPConfig struct {
	Addr      string        `yaml:"addr" validate:"required"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
	JWTSecret string        `yaml:"-"`
}

// Default returns a complete paper-trading configuration
func Default() *Config {
	breakers := safety.DefaultBreakerConfigs()
	return &Config{
		Executor: ExecutorPaper,
		Risk: RiskConfig{
			BaseRisk:          0.02,
			RegimeMultipliers: risk.DefaultRegimeMultipliers(),
		},
		Orchestrator: orchestrator.DefaultConfig(),
		Regime: RegimeConfig{
			MaxAge:        15 * time.Minute,
			Compatibility: regime.DefaultCompatibility(),
		},
		Symbols:      risk.SymbolDirectory{},
		Correlations: risk.CorrelationMatrix{},
		Breakers:     breakers,
		BreakerTick:  time.Second,
		KillSwitch: KillSwitchConfig{
			EvalInterval: 60 * time.Second,
			OrderTimeout: 5 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Schedule: reconcile.DefaultSchedule,
			Timezone: "America/New_York",
			Timeout:  30 * time.Second,
		},
		Portfolio: PortfolioConfig{
			StartingCash: 100000,
			Timezone:     "UTC",
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Dir:     "data/state",
			Redis:   storage.RedisConfig{Addr: "localhost:6379", Prefix: "risk-core:"},
		},
		Ingress: IngressConfig{
			Kafka: ingress.KafkaConfig{
				Brokers:     []string{"localhost:9092"},
				GroupID:     "risk-core",
				SignalTopic: "trading.signals",
				RegimeTopic: "trading.regime",
				PriceTopic:  "market.prices",
			},
		},
		Audit: AuditConfig{JSONLPath: "data/audit/decisions.jsonl"},
		Bybit: bybit.Config{
			Testnet:      true,
			Category:     "linear",
			QtyPrecision: 3,
			RequestRate:  10,
			FillTimeout:  30 * time.Second,
			FillPoll:     time.Second,
		},
		Paper: execution.PaperConfig{
			SlippageBpsMin: 0,
			SlippageBpsMax: 5,
			FeeBps:         5.5,
		},
		Telegram: TelegramConfig{MinSeverity: "WARNING"},
		HTTP:     HTTPConfig{Addr: ":8080", TokenTTL: 12 * time.Hour},
		Logging:  logger.DefaultConfig(),
	}
}

// Load reads the .env file (if present) and the YAML file, overlays secrets
// from the environment and validates the result. An empty path yields Default.
func Load(path, envFile string) (*Config, error) {
	cfg, err := Parse(path, envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Parse is Load without validation, for tools that only need a few sections
func Parse(path, envFile string) (*Config, error) {
	if err := LoadEnv(envFile); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// LoadEnv loads envFile into the process environment. A missing file is not an error.
func LoadEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Bybit.APIKey, EnvBybitAPIKey)
	setFromEnv(&c.Bybit.APISecret, EnvBybitAPISecret)
	setFromEnv(&c.Telegram.Token, EnvTelegramToken)
	setFromEnv(&c.Telegram.ChatID, EnvTelegramChatID)
	setFromEnv(&c.HTTP.JWTSecret, EnvControlSecret)
	setFromEnv(&c.Audit.PostgresDSN, EnvPostgresDSN)
	setFromEnv(&c.Storage.Redis.Password, EnvRedisPassword)
	if v := os.Getenv(EnvKafkaBrokerList); v != "" {
		c.Ingress.Kafka.Brokers = splitList(v)
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fillDefaults restores entries a partial YAML map replaced
func (c *Config) fillDefaults() {
	d := Default()
	for name, bc := range d.Breakers {
		if _, ok := c.Breakers[name]; !ok {
			if c.Breakers == nil {
				c.Breakers = map[string]safety.BreakerConfig{}
			}
			c.Breakers[name] = bc
		}
	}
	for r, m := range d.Risk.RegimeMultipliers {
		if _, ok := c.Risk.RegimeMultipliers[r]; !ok {
			if c.Risk.RegimeMultipliers == nil {
				c.Risk.RegimeMultipliers = map[regime.RegimeType]float64{}
			}
			c.Risk.RegimeMultipliers[r] = m
		}
	}
	if c.Regime.Compatibility == nil {
		c.Regime.Compatibility = d.Regime.Compatibility
	}
	if c.Orchestrator.ProducerWeights == nil {
		c.Orchestrator.ProducerWeights = map[string]float64{}
	}
	c.Telegram.MinSeverity = strings.ToUpper(c.Telegram.MinSeverity)
}

// Validate checks struct tags and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	var errs []error
	for r := range c.Risk.RegimeMultipliers {
		if !r.Valid() {
			errs = append(errs, fmt.Errorf("risk.regime_multipliers: unknown regime %q", r))
		}
	}
	for strategy, regimes := range c.Regime.Compatibility {
		for _, r := range regimes {
			if !r.Valid() {
				errs = append(errs, fmt.Errorf("regime.compatibility.%s: unknown regime %q", strategy, r))
			}
		}
	}
	for a, row := range c.Correlations {
		for b, v := range row {
			if v < -1 || v > 1 {
				errs = append(errs, fmt.Errorf("correlations.%s.%s: %v outside [-1, 1]", a, b, v))
			}
		}
	}
	if err := reconcile.ValidateSchedule(c.Reconcile.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("reconcile.schedule: %w", err))
	}
	for _, tz := range []string{c.Reconcile.Timezone, c.Portfolio.Timezone} {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", tz, err))
		}
	}
	if c.Ingress.Enabled {
		if err := v.Struct(c.Ingress.Kafka); err != nil {
			errs = append(errs, fmt.Errorf("ingress.kafka: %w", err))
		}
	}
	if c.Storage.Backend == StorageFile && c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required for the file backend"))
	}
	if c.Storage.Backend == StorageRedis && c.Storage.Redis.Addr == "" {
		errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
	}
	if c.Executor == ExecutorBybit && (c.Bybit.APIKey == "" || c.Bybit.APISecret == "") {
		errs = append(errs, fmt.Errorf("bybit executor needs %s and %s", EnvBybitAPIKey, EnvBybitAPISecret))
	}
	if c.Audit.Postgres && c.Audit.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("postgres audit needs %s", EnvPostgresDSN))
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		errs = append(errs, fmt.Errorf("telegram alerts need %s and %s", EnvTelegramToken, EnvTelegramChatID))
	}
	if c.HTTP.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("control API needs %s", EnvControlSecret))
	}
	return errors.Join(errs...)
}

// Location returns the loaded time zone, UTC on error
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
