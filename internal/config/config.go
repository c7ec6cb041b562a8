package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	mainnetRESTURL = "https://api.hyperliquid.xyz"
	testnetRESTURL = "https://api.hyperliquid-testnet.xyz"

	StrategySpotGrid = "spot_grid"
	StrategyPerpGrid = "perp_grid"

	GridArithmetic = "arithmetic"
	GridGeometric  = "geometric"

	MarginCross    = "cross"
	MarginIsolated = "isolated"

	BiasLong    = "long"
	BiasShort   = "short"
	BiasNeutral = "neutral"
)

type Config struct {
	Log         LoggingConfig  `yaml:"log"`
	Network     string         `yaml:"network"`
	REST        RESTConfig     `yaml:"rest"`
	WS          WSConfig       `yaml:"ws"`
	State       StateConfig    `yaml:"state"`
	Strategy    StrategyConfig `yaml:"strategy"`
	Engine      EngineConfig   `yaml:"engine"`
	Status      StatusConfig   `yaml:"status"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Audit       AuditConfig    `yaml:"audit"`
	Credentials Credentials    `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Buffer         int           `yaml:"buffer"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// StrategyConfig is the validated grid specification handed to the engine.
// Exactly one of GridCount and SpreadBips is set.
type StrategyConfig struct {
	Type            string   `yaml:"type"`
	Symbol          string   `yaml:"symbol"`
	LowerPrice      float64  `yaml:"lower_price"`
	UpperPrice      float64  `yaml:"upper_price"`
	GridType        string   `yaml:"grid_type"`
	GridCount       int      `yaml:"grid_count"`
	SpreadBips      float64  `yaml:"spread_bips"`
	TotalInvestment float64  `yaml:"total_investment"`
	TriggerPrice    *float64 `yaml:"trigger_price"`
	Leverage        int      `yaml:"leverage"`
	MarginMode      string   `yaml:"margin_mode"`
	Bias            string   `yaml:"bias"`
}

// EngineConfig carries the loop cadences and the numeric constants of the
// order lifecycle.
type EngineConfig struct {
	BalanceRefreshInterval time.Duration `yaml:"balance_refresh_interval"`
	SummaryInterval        time.Duration `yaml:"summary_interval"`
	ReconcileInterval      time.Duration `yaml:"reconcile_interval"`
	FillThreshold          float64       `yaml:"fill_threshold"`
	AcquisitionBuffer      float64       `yaml:"acquisition_buffer"`
	MarketSlippage         float64       `yaml:"market_slippage"`
	MinNotional            float64       `yaml:"min_notional"`
	RequestsPerSecond      float64       `yaml:"requests_per_second"`
	RequestBurst           int           `yaml:"request_burst"`
	CompletedCacheSize     int           `yaml:"completed_cache_size"`
}

type StatusConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Backlog  int           `yaml:"backlog"`
	RedisURL string        `yaml:"redis_url"`
	RedisKey string        `yaml:"redis_key"`
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

func (s StatusConfig) EnabledValue() bool {
	return s.Enabled != nil && *s.Enabled
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	Workers int    `yaml:"workers"`
}

type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Credentials come from the environment only.
type Credentials struct {
	PrivateKey     string `env:"HL_PRIVATE_KEY"`
	WalletAddress  string `env:"HL_WALLET_ADDRESS"`
	AccountAddress string `env:"HL_ACCOUNT_ADDRESS"`
	VaultAddress   string `env:"HL_VAULT_ADDRESS"`
}

type secretOverrides struct {
	TelegramToken  string `env:"HL_TELEGRAM_TOKEN"`
	TelegramChatID string `env:"HL_TELEGRAM_CHAT_ID"`
	AuditDSN       string `env:"HL_AUDIT_DSN"`
	RedisURL       string `env:"HL_REDIS_URL"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, validate(&cfg)
}

// IsMainnet reports whether the REST endpoint targets mainnet.
func (c *Config) IsMainnet() bool {
	return !strings.Contains(strings.ToLower(c.REST.BaseURL), "testnet")
}

func (c *Config) IsPerp() bool {
	return c.Strategy.Type == StrategyPerpGrid
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = mainnetRESTURL
		if strings.EqualFold(cfg.Network, "testnet") {
			cfg.REST.BaseURL = testnetRESTURL
		}
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.MaxRetries == 0 {
		cfg.REST.MaxRetries = 3
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = wsURLFromREST(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.WS.Buffer == 0 {
		cfg.WS.Buffer = 1024
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-grid-bot.db"
	}
	if cfg.Strategy.GridType == "" {
		cfg.Strategy.GridType = GridArithmetic
	}
	if cfg.Strategy.Type == StrategyPerpGrid {
		if cfg.Strategy.Leverage == 0 {
			cfg.Strategy.Leverage = 1
		}
		if cfg.Strategy.MarginMode == "" {
			cfg.Strategy.MarginMode = MarginCross
		}
		if cfg.Strategy.Bias == "" {
			cfg.Strategy.Bias = BiasLong
		}
	}
	applyEngineDefaults(&cfg.Engine)
	if cfg.Status.Enabled == nil {
		enabled := true
		cfg.Status.Enabled = &enabled
	}
	if cfg.Status.Address == "" {
		cfg.Status.Address = "127.0.0.1:9000"
	}
	if cfg.Status.Backlog == 0 {
		cfg.Status.Backlog = 256
	}
	if cfg.Status.RedisKey == "" {
		cfg.Status.RedisKey = "hl-grid-bot:summary"
	}
	if cfg.Status.RedisTTL == 0 {
		cfg.Status.RedisTTL = 5 * time.Minute
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.Workers == 0 {
		cfg.Telegram.Workers = 2
	}
	if cfg.Audit.Schema == "" {
		cfg.Audit.Schema = "public"
	}
	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = 256
	}
}

func applyEngineDefaults(e *EngineConfig) {
	if e.BalanceRefreshInterval == 0 {
		e.BalanceRefreshInterval = 30 * time.Second
	}
	if e.SummaryInterval == 0 {
		e.SummaryInterval = 10 * time.Second
	}
	if e.ReconcileInterval == 0 {
		e.ReconcileInterval = 15 * time.Second
	}
	if e.FillThreshold == 0 {
		e.FillThreshold = 0.9999
	}
	if e.AcquisitionBuffer == 0 {
		e.AcquisitionBuffer = 0.002
	}
	if e.MarketSlippage == 0 {
		e.MarketSlippage = 0.05
	}
	if e.MinNotional == 0 {
		e.MinNotional = 10
	}
	if e.RequestsPerSecond == 0 {
		e.RequestsPerSecond = 10
	}
	if e.RequestBurst == 0 {
		e.RequestBurst = 5
	}
	if e.CompletedCacheSize == 0 {
		e.CompletedCacheSize = 10000
	}
}

func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(&cfg.Credentials); err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}
	var secrets secretOverrides
	if err := env.Parse(&secrets); err != nil {
		return fmt.Errorf("parse secret overrides: %w", err)
	}
	if secrets.TelegramToken != "" {
		cfg.Telegram.Token = secrets.TelegramToken
	}
	if secrets.TelegramChatID != "" {
		cfg.Telegram.ChatID = secrets.TelegramChatID
	}
	if secrets.AuditDSN != "" {
		cfg.Audit.DSN = secrets.AuditDSN
	}
	if secrets.RedisURL != "" {
		cfg.Status.RedisURL = secrets.RedisURL
	}
	cfg.Credentials.PrivateKey = strings.TrimSpace(cfg.Credentials.PrivateKey)
	cfg.Credentials.WalletAddress = strings.TrimSpace(cfg.Credentials.WalletAddress)
	cfg.Credentials.AccountAddress = strings.TrimSpace(cfg.Credentials.AccountAddress)
	cfg.Credentials.VaultAddress = strings.TrimSpace(cfg.Credentials.VaultAddress)
	return nil
}

func wsURLFromREST(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return "wss://api.hyperliquid.xyz/ws"
	}
}

func validate(cfg *Config) error {
	if err := ValidateStrategy(cfg.Strategy); err != nil {
		return err
	}
	e := cfg.Engine
	if e.BalanceRefreshInterval < 0 || e.SummaryInterval < 0 || e.ReconcileInterval < 0 {
		return errors.New("engine intervals must be >= 0")
	}
	if e.FillThreshold <= 0 || e.FillThreshold > 1 {
		return errors.New("engine.fill_threshold must be in (0, 1]")
	}
	if e.AcquisitionBuffer < 0 {
		return errors.New("engine.acquisition_buffer must be >= 0")
	}
	if e.MarketSlippage < 0 || e.MarketSlippage >= 1 {
		return errors.New("engine.market_slippage must be in [0, 1)")
	}
	if e.MinNotional < 0 {
		return errors.New("engine.min_notional must be >= 0")
	}
	if e.RequestsPerSecond < 0 || e.RequestBurst < 0 {
		return errors.New("engine request pacing must be >= 0")
	}
	if cfg.Status.Backlog < 0 {
		return errors.New("status.backlog must be >= 0")
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return errors.New("audit.dsn is required when audit is enabled")
	}
	return nil
}

// ValidateStrategy checks the grid specification on its own so the planner
// can reuse it without a full config.
func ValidateStrategy(s StrategyConfig) error {
	switch s.Type {
	case StrategySpotGrid, StrategyPerpGrid:
	case "":
		return errors.New("strategy.type is required")
	default:
		return fmt.Errorf("strategy.type %q is not supported", s.Type)
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return errors.New("strategy.symbol is required")
	}
	if s.LowerPrice <= 0 || s.UpperPrice <= 0 {
		return errors.New("strategy price range must be > 0")
	}
	if s.LowerPrice >= s.UpperPrice {
		return errors.New("strategy.lower_price must be below strategy.upper_price")
	}
	switch s.GridType {
	case GridArithmetic, GridGeometric:
	default:
		return fmt.Errorf("strategy.grid_type %q is not supported", s.GridType)
	}
	hasCount := s.GridCount != 0
	hasSpread := s.SpreadBips != 0
	if hasCount == hasSpread {
		return errors.New("exactly one of strategy.grid_count and strategy.spread_bips must be set")
	}
	if hasCount && s.GridCount < 2 {
		return errors.New("strategy.grid_count must be >= 2")
	}
	if hasSpread && (s.SpreadBips <= 0 || math.IsNaN(s.SpreadBips)) {
		return errors.New("strategy.spread_bips must be > 0")
	}
	if s.TotalInvestment <= 0 {
		return errors.New("strategy.total_investment must be > 0")
	}
	if s.TriggerPrice != nil && *s.TriggerPrice <= 0 {
		return errors.New("strategy.trigger_price must be > 0")
	}
	if s.Type == StrategyPerpGrid {
		if s.Leverage < 1 {
			return errors.New("strategy.leverage must be >= 1")
		}
		switch s.MarginMode {
		case MarginCross, MarginIsolated:
		default:
			return fmt.Errorf("strategy.margin_mode %q is not supported", s.MarginMode)
		}
		switch s.Bias {
		case BiasLong, BiasShort, BiasNeutral:
		default:
			return fmt.Errorf("strategy.bias %q is not supported", s.Bias)
		}
	}
	return nil
}
