package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Interval())
	assert.Equal(t, time.Second, cfg.Tick())
	assert.Equal(t, 5*time.Minute, cfg.IdleThreshold())
	assert.Equal(t, 45*time.Minute, cfg.BreakInterval())
	assert.Equal(t, 10*time.Minute, cfg.MeetingBuffer())
	assert.Equal(t, []string{"focus", "environment", "nudge", "delivery"}, cfg.Scheduler.AgentSequence)
	assert.Equal(t, filepath.Join("data", "agent_context.json"), cfg.SnapshotPath())
	assert.Equal(t, filepath.Join("data", "context_backups"), cfg.BackupDir())
}

func TestLoadJSONWithEnv(t *testing.T) {
	t.Setenv("NUDGE_LLM_KEY", "sk-test")
	path := writeFile(t, "nudge.json", `{
		"scheduler": {"interval_seconds": 60},
		"timezone": "Europe/Berlin",
		"llm": {"endpoint": "${NUDGE_LLM_URL:http://localhost:11434/v1}", "api_key": "${NUDGE_LLM_KEY}"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.Interval())
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.Endpoint)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	// Options the file omits keep their defaults.
	assert.Equal(t, 10, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 8080, cfg.Server.Port)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "nudge.yaml", `
scheduler:
  interval_seconds: 120
  agent_sequence: [focus, nudge]
mock_time: "2026-03-10T10:00:00Z"
notify:
  slack:
    enabled: true
    channel_id: C123
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"focus", "nudge"}, cfg.Scheduler.AgentSequence)
	assert.True(t, cfg.Notify.Slack.Enabled)
	assert.Equal(t, "C123", cfg.Notify.Slack.ChannelID)

	mock, err := cfg.Mock()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), mock)
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeFile(t, "bad.json", `{"scheduler": `))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.IntervalSeconds = 0
	cfg.Timezone = "Mars/Olympus"
	cfg.MockTime = "yesterday"
	cfg.LLM.Provider = "bard"
	cfg.TimeSpeed = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "interval_seconds")
	assert.ErrorContains(t, err, "Mars/Olympus")
	assert.ErrorContains(t, err, "mock_time")
	assert.ErrorContains(t, err, "llm.provider")
	assert.ErrorContains(t, err, "time_speed")
}
