package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-tracker/internal/types"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "panels.wal", cfg.JournalPath)
	assert.Equal(t, 2*time.Second, cfg.StatsInterval())
	assert.Equal(t, 2, cfg.LineAssignments["144"])
	assert.Equal(t, 1, cfg.LineAssignments["60"])
	assert.Empty(t, cfg.ReworkEscalationRule)
	assert.Equal(t, types.Station1, cfg.Terminal.StationID)
	assert.Equal(t, time.Second, cfg.Terminal.PollInterval())
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.yaml")
	content := `
http_addr: ":9090"
rework_escalation_rule: "panel.ReworkCount >= 3"
terminal:
  station_id: STATION_4
  fail_rate: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("PANEL_JOURNAL_PATH", "/tmp/override.wal")
	t.Setenv("PANEL_TERMINAL_OPERATOR_ID", "op-7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "panel.ReworkCount >= 3", cfg.ReworkEscalationRule)
	assert.Equal(t, "/tmp/override.wal", cfg.JournalPath)
	assert.Equal(t, types.Station4, cfg.Terminal.StationID)
	assert.Equal(t, 0.5, cfg.Terminal.FailRate)
	assert.Equal(t, "op-7", cfg.Terminal.OperatorID)
	assert.Equal(t, 2, cfg.LineAssignments["144"])
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("terminal:\n  fail_rate: 2\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "fail_rate")
}
