package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/touch"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Market struct {
		Timezone           string   `yaml:"timezone"`
		TradingStart       string   `yaml:"trading_start"`
		TradingEnd         string   `yaml:"trading_end"`
		SessionOpen        string   `yaml:"session_open"`
		SessionClose       string   `yaml:"session_close"`
		Holidays           []string `yaml:"holidays"`
		ForwardSessions    int      `yaml:"forward_sessions"`
		ConfirmationWindow int      `yaml:"confirmation_window"`
		IntervalMinutes    int      `yaml:"interval_minutes"`
		LookbackDays       int      `yaml:"lookback_days"`
		PercentDiffDays    int      `yaml:"percent_diff_days"`
	} `yaml:"market"`
	DataSource struct {
		Provider      string        `yaml:"provider"`
		BaseURL       string        `yaml:"base_url"`
		AccessToken   string        `yaml:"access_token"`
		RetryAttempts int           `yaml:"retry_attempts"`
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"data_source"`
	Schedule struct {
		TouchCron       string `yaml:"touch_cron"`
		CrossoverCron   string `yaml:"crossover_cron"`
		BreakoutCron    string `yaml:"breakout_cron"`
		StopLossCron    string `yaml:"stop_loss_cron"`
		PercentDiffCron string `yaml:"percent_diff_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken   string   `yaml:"bot_token"`
		ChatID     string   `yaml:"chat_id"`
		Recipients []string `yaml:"recipients"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Outbox struct {
		Path     string `yaml:"path"`
		Quantity int64  `yaml:"quantity"`
	} `yaml:"outbox"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Touch struct {
		Mode string `yaml:"mode"`
	} `yaml:"touch"`
	Seed struct {
		VibrationPoint string           `yaml:"vibration_point"`
		SpanPairs      []model.SpanPair `yaml:"span_pairs" validate:"dive"`
	} `yaml:"seed"`
	Proxy    string `yaml:"proxy"`
	LogLevel string `yaml:"log_level"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		cfg.DataSource.Provider = v
	}
	if v := os.Getenv("DHAN_ACCESS_TOKEN"); v != "" {
		cfg.DataSource.AccessToken = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("VIBRATION_POINT"); v != "" {
		cfg.Seed.VibrationPoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	m := &cfg.Market
	if m.Timezone == "" {
		m.Timezone = "Asia/Kolkata"
	}
	if m.TradingStart == "" {
		m.TradingStart = "09:30"
	}
	if m.TradingEnd == "" {
		m.TradingEnd = "15:00"
	}
	if m.SessionOpen == "" {
		m.SessionOpen = "09:15"
	}
	if m.SessionClose == "" {
		m.SessionClose = "15:30"
	}
	if m.ForwardSessions == 0 {
		m.ForwardSessions = 7
	}
	if m.ConfirmationWindow == 0 {
		m.ConfirmationWindow = touch.DefaultWindow
	}
	if m.IntervalMinutes == 0 {
		m.IntervalMinutes = 15
	}
	if m.LookbackDays == 0 {
		m.LookbackDays = 90
	}
	if m.PercentDiffDays == 0 {
		m.PercentDiffDays = 5
	}

	ds := &cfg.DataSource
	if ds.Provider == "" {
		ds.Provider = "dhan"
	}
	if ds.RetryAttempts == 0 {
		ds.RetryAttempts = 3
	}
	if ds.RetryBackoff == 0 {
		ds.RetryBackoff = 2 * time.Second
	}
	if ds.Timeout == 0 {
		ds.Timeout = 30 * time.Second
	}

	s := &cfg.Schedule
	if s.TouchCron == "" {
		s.TouchCron = "0 */15 9-15 * * 1-5"
	}
	if s.CrossoverCron == "" {
		s.CrossoverCron = "30 */15 9-15 * * 1-5"
	}
	if s.BreakoutCron == "" {
		s.BreakoutCron = "0 */5 9-15 * * 1-5"
	}
	if s.StopLossCron == "" {
		s.StopLossCron = "30 */5 9-15 * * 1-5"
	}
	if s.PercentDiffCron == "" {
		s.PercentDiffCron = "0 0 16 * * 1-5"
	}

	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/trend_sentinel.db"
	}
	if cfg.Outbox.Path == "" {
		cfg.Outbox.Path = "data/order_intents.jsonl"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Touch.Mode == "" {
		cfg.Touch.Mode = string(touch.ModeIntersection)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks that all required fields are set and parse.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	start, err := ParseClock(c.Market.TradingStart)
	if err != nil {
		return fmt.Errorf("market.trading_start: %w", err)
	}
	end, err := ParseClock(c.Market.TradingEnd)
	if err != nil {
		return fmt.Errorf("market.trading_end: %w", err)
	}
	if start >= end {
		return fmt.Errorf("market.trading_start must be before market.trading_end")
	}
	open, err := ParseClock(c.Market.SessionOpen)
	if err != nil {
		return fmt.Errorf("market.session_open: %w", err)
	}
	closing, err := ParseClock(c.Market.SessionClose)
	if err != nil {
		return fmt.Errorf("market.session_close: %w", err)
	}
	if open >= closing {
		return fmt.Errorf("market.session_open must be before market.session_close")
	}
	if _, err := c.Calendar(); err != nil {
		return fmt.Errorf("market.holidays: %w", err)
	}
	if c.Market.ConfirmationWindow < 1 {
		return fmt.Errorf("market.confirmation_window must be positive")
	}

	switch c.DataSource.Provider {
	case "dhan":
		if c.DataSource.AccessToken == "" {
			return fmt.Errorf("data_source.access_token is required for the dhan provider")
		}
	case "yahoo":
	default:
		return fmt.Errorf("data_source.provider must be dhan or yahoo, got %q", c.DataSource.Provider)
	}
	if c.DataSource.RetryAttempts < 1 {
		return fmt.Errorf("data_source.retry_attempts must be positive")
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	if _, err := touch.ParseMode(c.Touch.Mode); err != nil {
		return fmt.Errorf("touch.mode: %w", err)
	}
	if c.Outbox.Quantity < 0 {
		return fmt.Errorf("outbox.quantity must not be negative")
	}
	if _, err := c.SeedVibration(); err != nil {
		return err
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("seed.span_pairs: %w", err)
	}
	return nil
}

// Location loads the market timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market.timezone: %w", err)
	}
	return loc, nil
}

// Calendar builds the session calendar from the configured holidays.
func (c *Config) Calendar() (*calendar.Calendar, error) {
	return calendar.Parse(c.Market.Holidays)
}

// SeedVibration parses the seed vibration point; Valid is false when none is configured.
func (c *Config) SeedVibration() (decimal.NullDecimal, error) {
	if c.Seed.VibrationPoint == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(c.Seed.VibrationPoint)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("seed.vibration_point: %w", err)
	}
	if v.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("seed.vibration_point must not be negative")
	}
	return decimal.NewNullDecimal(v), nil
}

// ParseClock turns "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
