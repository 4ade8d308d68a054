package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete simulation configuration
type Config struct {
	Portfolio PortfolioConfig `json:"portfolio" yaml:"portfolio"`
	Trading   TradingConfig   `json:"trading" yaml:"trading"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// PortfolioConfig contains portfolio initialization parameters
type PortfolioConfig struct {
	InitialCash float64 `json:"initial_cash" yaml:"initial_cash"`
}

// TradingConfig contains entry sizing and exit rule parameters
type TradingConfig struct {
	RiskPerTrade     float64       `json:"risk_per_trade" yaml:"risk_per_trade"`
	ExecThresholdPct float64       `json:"exec_threshold_pct" yaml:"exec_threshold_pct"`
	MinTradeValue    float64       `json:"min_trade_value" yaml:"min_trade_value"`
	FeeRate          float64       `json:"fee_rate" yaml:"fee_rate"`
	MaxPositions     int           `json:"max_positions" yaml:"max_positions"`
	TrailingStopPct  float64       `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	StopLossPct      float64       `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct    float64       `json:"take_profit_pct" yaml:"take_profit_pct"`
	MaxHold          time.Duration `json:"max_hold" yaml:"max_hold"`
}

// FeedConfig contains market data retrieval parameters
type FeedConfig struct {
	BaseURL      string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TopN         int           `json:"top_n" yaml:"top_n"`
	ScanInterval time.Duration `json:"scan_interval" yaml:"scan_interval"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// JournalConfig contains event log parameters
type JournalConfig struct {
	Type    string `json:"type" yaml:"type"` // "csv" or "sqlite"
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	DBPath  string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// DashboardConfig contains control surface parameters
type DashboardConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LoggingConfig contains operational log parameters
type LoggingConfig struct {
	File  string `json:"file" yaml:"file"`
	Level string `json:"level" yaml:"level"` // debug|info|warn|error
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if (len(path) > 5 && path[len(path)-5:] == ".yaml") || (len(path) > 4 && path[len(path)-4:] == ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays environment variables on the configuration. Variable
// names follow the historical deployment surface (RISK_PER_TRADE,
// SCAN_INTERVAL, ...); durations are given in whole seconds.
func (c *Config) ApplyEnv() error {
	var err error

	if err = envFloat("PORTFOLIO_INITIAL", &c.Portfolio.InitialCash); err != nil {
		return err
	}
	if err = envFloat("RISK_PER_TRADE", &c.Trading.RiskPerTrade); err != nil {
		return err
	}
	if err = envFloat("TRAILING_STOP_PCT", &c.Trading.TrailingStopPct); err != nil {
		return err
	}
	if err = envFloat("STOP_LOSS_PCT", &c.Trading.StopLossPct); err != nil {
		return err
	}
	if err = envFloat("TAKE_PROFIT_PCT", &c.Trading.TakeProfitPct); err != nil {
		return err
	}
	if err = envFloat("FEE_PCT", &c.Trading.FeeRate); err != nil {
		return err
	}
	if err = envInt("MAX_POSITIONS", &c.Trading.MaxPositions); err != nil {
		return err
	}
	if err = envInt("TOP_N", &c.Feed.TopN); err != nil {
		return err
	}
	if err = envSeconds("SCAN_INTERVAL", &c.Feed.ScanInterval); err != nil {
		return err
	}
	if err = envSeconds("TRADE_DURATION", &c.Trading.MaxHold); err != nil {
		return err
	}
	return nil
}

func envFloat(name string, dst *float64) error {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*dst = v
	return nil
}

func envInt(name string, dst *int) error {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*dst = v
	return nil
}

func envSeconds(name string, dst *time.Duration) error {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*dst = time.Duration(v) * time.Second
	return nil
}

// Validate checks if the configuration is valid. Invalid risk or
// threshold parameters are fatal at startup and never partially applied.
func (c *Config) Validate() error {
	if c.Portfolio.InitialCash <= 0 {
		return fmt.Errorf("portfolio.initial_cash must be positive")
	}
	if c.Trading.RiskPerTrade <= 0 || c.Trading.RiskPerTrade > 1 {
		return fmt.Errorf("trading.risk_per_trade must be between 0 and 1")
	}
	if c.Trading.ExecThresholdPct <= 0 {
		return fmt.Errorf("trading.exec_threshold_pct must be positive")
	}
	if c.Trading.MinTradeValue < 0 {
		return fmt.Errorf("trading.min_trade_value must not be negative")
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return fmt.Errorf("trading.fee_rate must be in [0, 1)")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be positive")
	}
	if c.Trading.TrailingStopPct <= 0 || c.Trading.TrailingStopPct >= 1 {
		return fmt.Errorf("trading.trailing_stop_pct must be in (0, 1)")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		return fmt.Errorf("trading.stop_loss_pct must be in (0, 1)")
	}
	if c.Trading.TakeProfitPct <= 0 {
		return fmt.Errorf("trading.take_profit_pct must be positive")
	}
	if c.Trading.MaxHold <= 0 {
		return fmt.Errorf("trading.max_hold must be positive")
	}
	if c.Feed.TopN <= 0 || c.Feed.TopN > 250 {
		return fmt.Errorf("feed.top_n must be between 1 and 250")
	}
	if c.Feed.ScanInterval <= 0 {
		return fmt.Errorf("feed.scan_interval must be positive")
	}
	if c.Journal.Type != "csv" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}
	if c.Journal.Type == "csv" && c.Journal.LogFile == "" {
		return fmt.Errorf("journal.log_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path required for SQLite type")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error")
	}
	if c.Logging.File == "" {
		return fmt.Errorf("logging.file must not be empty")
	}
	return nil
}

// Default returns a configuration with the historical defaults
func Default() *Config {
	return &Config{
		Portfolio: PortfolioConfig{
			InitialCash: 1000,
		},
		Trading: TradingConfig{
			RiskPerTrade:     0.05,
			ExecThresholdPct: 1.5,
			MinTradeValue:    10,
			FeeRate:          0.001,
			MaxPositions:     3,
			TrailingStopPct:  0.02,
			StopLossPct:      0.03,
			TakeProfitPct:    0.05,
			MaxHold:          300 * time.Second,
		},
		Feed: FeedConfig{
			TopN:         50,
			ScanInterval: 30 * time.Second,
			Timeout:      15 * time.Second,
		},
		Journal: JournalConfig{
			Type:    "csv",
			LogFile: "./bue_log.csv",
		},
		Dashboard: DashboardConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			File:  "./bot.log",
			Level: "info",
		},
	}
}
