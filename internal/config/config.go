package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Bot       BotConfig       `yaml:"bot"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	TradeLog  TradeLogConfig  `yaml:"trade_log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec" validate:"gt=0"`
	Burst          int           `yaml:"burst" validate:"gt=0"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath   string `yaml:"sqlite_path" validate:"required"`
	DefaultsPath string `yaml:"defaults_path"`
}

// BotConfig drives the live execution loop.
type BotConfig struct {
	Asset             string        `yaml:"asset" validate:"required"`
	Window            int           `yaml:"window" validate:"gte=1"`
	Entry             float64       `yaml:"entry" validate:"gte=0,lte=100"`
	Exit              float64       `yaml:"exit" validate:"gte=0,lte=100"`
	Quantity          float64       `yaml:"quantity" validate:"gt=0"`
	Lookback          int           `yaml:"lookback"`
	KlineInterval     time.Duration `yaml:"kline_interval"`
	MaxMarketAge      time.Duration `yaml:"max_market_age"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ErrorCooldown     time.Duration `yaml:"error_cooldown"`
	UnfilledCooldown  time.Duration `yaml:"unfilled_cooldown"`
	FillPollInterval  time.Duration `yaml:"fill_poll_interval"`
	FillPollMax       time.Duration `yaml:"fill_poll_max"`
	FillPollAttempts  int           `yaml:"fill_poll_attempts"`
	AlertAfterFailure int           `yaml:"alert_after_failures"`
	InitialState      string        `yaml:"initial_state" validate:"omitempty,oneof=WAITING_TO_BUY WAITING_TO_SELL"`
	DryRun            bool          `yaml:"dry_run"`
}

// BacktestConfig mirrors the grid backtester parameters. Stop loss, take
// profit and fee are fractions (0.05 = 5%).
type BacktestConfig struct {
	DataPath   string        `yaml:"data_path"`
	Asset      string        `yaml:"asset"`
	Interval   time.Duration `yaml:"interval"`
	Window     int           `yaml:"window" validate:"gte=1"`
	EntryRange [2]float64    `yaml:"entry_range"`
	ExitRange  [2]float64    `yaml:"exit_range"`
	Num        int           `yaml:"num" validate:"gte=1"`
	Fee        float64       `yaml:"fee" validate:"gte=0,lt=1"`
	StopLoss   float64       `yaml:"stop_loss" validate:"gte=0,lt=1"`
	TakeProfit float64       `yaml:"take_profit" validate:"gte=0"`
	Metric     string        `yaml:"metric"`
	Workers    int           `yaml:"workers" validate:"gte=0"`
}

type TradeLogConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Token                string        `yaml:"token"`
	ChatID               string        `yaml:"chat_id"`
	OperatorEnabled      bool          `yaml:"operator_enabled"`
	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUsers []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
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
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Default is the configuration used when no file is given.
func Default() (*Config, error) {
	var cfg Config
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://testnet.binance.vision"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RequestsPerSec == 0 {
		cfg.REST.RequestsPerSec = 10
	}
	if cfg.REST.Burst == 0 {
		cfg.REST.Burst = 5
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = deriveWSURL(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/rsi-grid-bot.db"
	}
	if cfg.Bot.Asset == "" {
		cfg.Bot.Asset = "BTCUSDT"
	}
	cfg.Bot.Asset = strings.ToUpper(strings.TrimSpace(cfg.Bot.Asset))
	if cfg.Bot.Window == 0 {
		cfg.Bot.Window = 14
	}
	if cfg.Bot.Entry == 0 {
		cfg.Bot.Entry = 30
	}
	if cfg.Bot.Exit == 0 {
		cfg.Bot.Exit = 70
	}
	if cfg.Bot.Quantity == 0 {
		cfg.Bot.Quantity = 0.01
	}
	if cfg.Bot.Lookback == 0 {
		// two hours of 1m candles
		cfg.Bot.Lookback = 120
	}
	if cfg.Bot.Lookback <= cfg.Bot.Window {
		cfg.Bot.Lookback = cfg.Bot.Window + 1
	}
	if cfg.Bot.KlineInterval == 0 {
		cfg.Bot.KlineInterval = time.Minute
	}
	if cfg.Bot.MaxMarketAge == 0 {
		// the newest closed candle opened at most two intervals ago
		cfg.Bot.MaxMarketAge = 3 * cfg.Bot.KlineInterval
	}
	if cfg.Bot.PollInterval == 0 {
		cfg.Bot.PollInterval = 2 * time.Second
	}
	if cfg.Bot.ErrorCooldown == 0 {
		cfg.Bot.ErrorCooldown = 30 * time.Second
	}
	if cfg.Bot.UnfilledCooldown == 0 {
		cfg.Bot.UnfilledCooldown = 2 * time.Minute
	}
	if cfg.Bot.FillPollInterval == 0 {
		cfg.Bot.FillPollInterval = time.Second
	}
	if cfg.Bot.FillPollMax == 0 {
		cfg.Bot.FillPollMax = 10 * time.Second
	}
	if cfg.Bot.FillPollAttempts == 0 {
		cfg.Bot.FillPollAttempts = 30
	}
	if cfg.Bot.AlertAfterFailure == 0 {
		cfg.Bot.AlertAfterFailure = 3
	}
	if cfg.Bot.InitialState == "" {
		cfg.Bot.InitialState = "WAITING_TO_BUY"
	}
	if cfg.Backtest.Asset == "" {
		cfg.Backtest.Asset = cfg.Bot.Asset
	}
	if cfg.Backtest.Interval == 0 {
		cfg.Backtest.Interval = time.Hour
	}
	if cfg.Backtest.Window == 0 {
		cfg.Backtest.Window = 100
	}
	if cfg.Backtest.EntryRange == [2]float64{} {
		cfg.Backtest.EntryRange = [2]float64{30, 50}
	}
	if cfg.Backtest.ExitRange == [2]float64{} {
		cfg.Backtest.ExitRange = [2]float64{58, 72}
	}
	if cfg.Backtest.Num == 0 {
		cfg.Backtest.Num = 30
	}
	if cfg.Backtest.Metric == "" {
		cfg.Backtest.Metric = "total_return"
	}
	if cfg.TradeLog.Dir == "" {
		cfg.TradeLog.Dir = "trades"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func deriveWSURL(restURL string) string {
	base := strings.TrimRight(restURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

var structValidator = validator.New()

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Bot.Entry >= cfg.Bot.Exit {
		return errors.New("bot.entry must be below bot.exit")
	}
	if cfg.Bot.PollInterval < 0 || cfg.Bot.ErrorCooldown < 0 || cfg.Bot.UnfilledCooldown < 0 || cfg.Bot.MaxMarketAge < 0 {
		return errors.New("bot intervals must be >= 0")
	}
	if cfg.Bot.FillPollAttempts < 1 {
		return errors.New("bot.fill_poll_attempts must be >= 1")
	}
	if cfg.Backtest.EntryRange[0] > cfg.Backtest.EntryRange[1] {
		return errors.New("backtest.entry_range lower bound exceeds upper bound")
	}
	if cfg.Backtest.ExitRange[0] > cfg.Backtest.ExitRange[1] {
		return errors.New("backtest.exit_range lower bound exceeds upper bound")
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.ChatID == "" {
		return errors.New("telegram.chat_id is required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
