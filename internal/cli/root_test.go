package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/spiralbot/config"
	"github.com/rustyeddy/spiralbot/journal"
)

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCmd()

	want := []string{"run", "serve", "replay", "journal", "config", "version"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "missing subcommand %s", name)
	}
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := config.Default()
	cfg.Logging.Level = "info"
	require.NoError(t, cfg.SaveToFile(path))

	rc := &RootConfig{ConfigPath: path, LogLevel: "warn"}
	loaded, err := rc.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.Logging.Level)

	rc = &RootConfig{ConfigPath: path, Debug: true}
	loaded, err = rc.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	rc := &RootConfig{LogLevel: "verbose"}
	_, err := rc.Load()
	require.Error(t, err)
}

func TestOpenJournalSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	j, err := openJournal(config.JournalConfig{
		Type:    "csv",
		LogFile: filepath.Join(dir, "log.csv"),
	})
	require.NoError(t, err)
	defer j.Close()
	_, ok := j.(*journal.CSV)
	assert.True(t, ok)

	j2, err := openJournal(config.JournalConfig{
		Type:   "sqlite",
		DBPath: filepath.Join(dir, "log.db"),
	})
	require.NoError(t, err)
	defer j2.Close()
	_, ok = j2.(*journal.SQLite)
	assert.True(t, ok)
}
