package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, 1000.0, cfg.Portfolio.InitialCash)
	assert.Equal(t, 0.05, cfg.Trading.RiskPerTrade)
	assert.Equal(t, 3, cfg.Trading.MaxPositions)
	assert.Equal(t, 30*time.Second, cfg.Feed.ScanInterval)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "negative initial cash",
			mutate:  func(c *Config) { c.Portfolio.InitialCash = -100 },
			wantErr: true,
			errMsg:  "portfolio.initial_cash must be positive",
		},
		{
			name:    "risk per trade over 1",
			mutate:  func(c *Config) { c.Trading.RiskPerTrade = 1.5 },
			wantErr: true,
			errMsg:  "trading.risk_per_trade must be between 0 and 1",
		},
		{
			name:    "zero exec threshold",
			mutate:  func(c *Config) { c.Trading.ExecThresholdPct = 0 },
			wantErr: true,
			errMsg:  "trading.exec_threshold_pct must be positive",
		},
		{
			name:    "fee rate of 1",
			mutate:  func(c *Config) { c.Trading.FeeRate = 1 },
			wantErr: true,
			errMsg:  "trading.fee_rate must be in [0, 1)",
		},
		{
			name:    "zero max positions",
			mutate:  func(c *Config) { c.Trading.MaxPositions = 0 },
			wantErr: true,
			errMsg:  "trading.max_positions must be positive",
		},
		{
			name:    "trailing stop of 1",
			mutate:  func(c *Config) { c.Trading.TrailingStopPct = 1 },
			wantErr: true,
			errMsg:  "trading.trailing_stop_pct must be in (0, 1)",
		},
		{
			name:    "zero max hold",
			mutate:  func(c *Config) { c.Trading.MaxHold = 0 },
			wantErr: true,
			errMsg:  "trading.max_hold must be positive",
		},
		{
			name:    "top n too large",
			mutate:  func(c *Config) { c.Feed.TopN = 1000 },
			wantErr: true,
			errMsg:  "feed.top_n must be between 1 and 250",
		},
		{
			name:    "unknown journal type",
			mutate:  func(c *Config) { c.Journal.Type = "parquet" },
			wantErr: true,
			errMsg:  "journal.type must be 'csv' or 'sqlite'",
		},
		{
			name: "sqlite without db path",
			mutate: func(c *Config) {
				c.Journal.Type = "sqlite"
				c.Journal.DBPath = ""
			},
			wantErr: true,
			errMsg:  "journal.db_path required for SQLite type",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errMsg:  "logging.level must be debug|info|warn|error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spiralbot.yaml")

	cfg := Default()
	cfg.Trading.MaxPositions = 5
	cfg.Journal.LogFile = "/tmp/events.csv"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Trading.MaxPositions)
	assert.Equal(t, "/tmp/events.csv", loaded.Journal.LogFile)
}

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spiralbot.json")

	cfg := Default()
	cfg.Feed.TopN = 25
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Feed.TopN)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")

	cfg := Default()
	cfg.Trading.RiskPerTrade = 2.0
	require.NoError(t, cfg.SaveToFile(path))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RISK_PER_TRADE", "0.10")
	t.Setenv("SCAN_INTERVAL", "60")
	t.Setenv("MAX_POSITIONS", "7")
	t.Setenv("TRADE_DURATION", "600")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, 0.10, cfg.Trading.RiskPerTrade)
	assert.Equal(t, 60*time.Second, cfg.Feed.ScanInterval)
	assert.Equal(t, 7, cfg.Trading.MaxPositions)
	assert.Equal(t, 600*time.Second, cfg.Trading.MaxHold)
}

func TestApplyEnvBadValue(t *testing.T) {
	t.Setenv("MAX_POSITIONS", "many")

	cfg := Default()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_POSITIONS")
}
