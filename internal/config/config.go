package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitQPS    float64       `mapstructure:"rate_limit_qps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

type AuthConfig struct {
	// 为空时管理接口拒绝所有请求
	AdminKey string `mapstructure:"admin_key"`
}

type ExchangeConfig struct {
	Env            string        `mapstructure:"env"` // demo / prod
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	APIKeyID       string        `mapstructure:"api_key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	RateLimitQPS   float64       `mapstructure:"rate_limit_qps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type PollingConfig struct {
	OrdersInterval    time.Duration `mapstructure:"orders_interval"`
	PositionsInterval time.Duration `mapstructure:"positions_interval"`
}

type StreamConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Positions    bool          `mapstructure:"positions"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// RiskLimitsConfig uses 0 for "no limit".
type RiskLimitsConfig struct {
	MaxOrderQuantity    int64 `mapstructure:"max_order_quantity"`
	MaxOrderNotional    int64 `mapstructure:"max_order_notional"`    // cents
	MaxPositionQuantity int64 `mapstructure:"max_position_quantity"`
	MaxPositionNotional int64 `mapstructure:"max_position_notional"` // cents
}

type RiskConfig struct {
	Enabled    bool                        `mapstructure:"enabled"`
	Global     RiskLimitsConfig            `mapstructure:"global"`
	Strategies map[string]RiskLimitsConfig `mapstructure:"strategies"`
}

type StrategyConfig struct {
	Name            string                 `mapstructure:"name"`
	Type            string                 `mapstructure:"type"`
	EventTicker     string                 `mapstructure:"event_ticker"`
	Tickers         []string               `mapstructure:"tickers"`
	Interval        time.Duration          `mapstructure:"interval"`
	FailOnNoMarkets *bool                  `mapstructure:"fail_on_no_markets"`
	DisplayTickers  []string               `mapstructure:"display_tickers"`
	QuoteSymbol     string                 `mapstructure:"quote_symbol"`
	Params          map[string]interface{} `mapstructure:"params"`
}

// FailFast reports whether an empty tracked set aborts initialization.
// Defaults to true.
func (s StrategyConfig) FailFast() bool {
	return s.FailOnNoMarkets == nil || *s.FailOnNoMarkets
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	AuditListKey string `mapstructure:"audit_list_key"`
	AuditListMax int    `mapstructure:"audit_list_max"`
}

type AuditConfig struct {
	Dir string `mapstructure:"dir"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit_qps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("exchange.env", "demo")
	v.SetDefault("exchange.base_url", "")
	v.SetDefault("exchange.ws_url", "")
	v.SetDefault("exchange.api_key_id", "")
	v.SetDefault("exchange.private_key_path", "")
	v.SetDefault("exchange.rate_limit_qps", 10)
	v.SetDefault("exchange.rate_limit_burst", 10)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("polling.orders_interval", "2s")
	v.SetDefault("polling.positions_interval", "5s")
	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.positions", true)
	v.SetDefault("stream.ping_period", "10s")
	v.SetDefault("stream.reconnect_max", "30s")
	v.SetDefault("risk.enabled", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.audit_retention_days", 30)
	v.SetDefault("database.cleanup_interval_minutes", 60)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.audit_list_key", "audit_logs")
	v.SetDefault("redis.audit_list_max", 10000)
	v.SetDefault("audit.dir", "logs")
	v.SetDefault("journal.path", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env, then config.yaml from . or ./configs, then TRADER_*
// environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	return load(v)
}

// LoadFile reads configuration from an explicit file.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// e.g. TRADER_EXCHANGE_API_KEY_ID
	v.SetEnvPrefix("trader")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Info("no config file found, using defaults and env vars")
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Exchange.Env {
	case "demo", "prod":
	default:
		return fmt.Errorf("exchange.env must be demo or prod, got %q", c.Exchange.Env)
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("strategies[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Type == "" {
			return fmt.Errorf("strategy %s: type is required", s.Name)
		}
	}
	return nil
}

// RiskConfig converts the file form into the engine policy.
func (c *Config) RiskConfig() model.RiskConfig {
	out := model.RiskConfig{
		Enabled: c.Risk.Enabled,
		Global:  c.Risk.Global.limits(),
	}
	if len(c.Risk.Strategies) > 0 {
		out.Strategies = make(map[string]model.RiskLimits, len(c.Risk.Strategies))
		for name, l := range c.Risk.Strategies {
			out.Strategies[name] = l.limits()
		}
	}
	return out
}

func (l RiskLimitsConfig) limits() model.RiskLimits {
	return model.RiskLimits{
		MaxOrderQuantity:    optional(l.MaxOrderQuantity),
		MaxOrderNotional:    optional(l.MaxOrderNotional),
		MaxPositionQuantity: optional(l.MaxPositionQuantity),
		MaxPositionNotional: optional(l.MaxPositionNotional),
	}
}

func optional(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return model.Limit(v)
}
