package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 25, cfg.Admission.DailyQuota)
	assert.False(t, cfg.Admission.StrictQuota)
	assert.Equal(t, 70, cfg.Triage.PromoteAt)
	assert.Equal(t, 14, cfg.Cooldown.ShortDays)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Database.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
admission:
  daily_quota: 5
  strict_quota: true
triage:
  promote_at: 80
  hold_at: 50
server:
  addr: ":9090"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Admission.DailyQuota)
	assert.True(t, cfg.Admission.StrictQuota)
	assert.Equal(t, 80, cfg.Triage.PromoteAt)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	// untouched sections keep their defaults
	assert.Equal(t, 14, cfg.Cooldown.ShortDays)
}

func TestLoadConfigRejectsInvertedBands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
triage:
  promote_at: 40
  hold_at: 70
`), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hold_at")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
