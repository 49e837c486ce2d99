package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "taskpet-scheduler", cfg.App.Name)
	assert.Equal(t, "data/tasks.db", cfg.Storage.Path)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.RecoverStaleAfter)
	assert.Equal(t, "scheduler.events", cfg.NATS.EventPrefix)
	assert.Equal(t, "scheduler.cmd", cfg.NATS.CommandPrefix)
	assert.True(t, cfg.Monitor.Enabled)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
app:
  log_mode: production
storage:
  path: /var/lib/taskpet/tasks.db
scheduler:
  tick_interval: 500ms
  retention_keep: 100
  cron_location: Europe/Berlin
nats:
  embedded: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("TASKPET_NATS_URL", "nats://10.0.0.5:4222")
	t.Setenv("TASKPET_SCHEDULER_RETENTION_KEEP", "25")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.LogMode)
	assert.Equal(t, "/var/lib/taskpet/tasks.db", cfg.Storage.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, 25, cfg.Scheduler.RetentionKeep)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, "nats://10.0.0.5:4222", cfg.NATS.URL)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("TASKPET_SCHEDULER_TICK_INTERVAL", "0s")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "tick_interval")
}

func TestLoadBadLocation(t *testing.T) {
	t.Setenv("TASKPET_SCHEDULER_CRON_LOCATION", "Mars/Olympus")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "cron_location")
}
