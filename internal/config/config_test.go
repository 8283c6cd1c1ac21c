package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logger:
  level: debug
  env: production
quiz:
  data_dir: /var/quiz
  exams: [cpa, ea]
  reveal_delay: 45s
  daily_post_utc: "09:30"
  bank_ttl: 2h
redis:
  addr: localhost:6379
  db: 2
  ttl: 5m
postgres:
  url: postgres://localhost/quiz
discord:
  token: tok
  prefix: "?"
telegram:
  token: tg
  poll_timeout: 60
slack:
  webhook_url: https://hooks.slack.com/x
  channel: "#quiz"
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/quiz", cfg.Quiz.DataDir)
	assert.Equal(t, []string{"cpa", "ea"}, cfg.Quiz.Exams)
	assert.Equal(t, "45s", cfg.Quiz.RevealDelay)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "?", cfg.Discord.Prefix)
	assert.Equal(t, 60, cfg.Telegram.PollTimeout)
	assert.Equal(t, "#quiz", cfg.Slack.Channel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestTTLDuration(t *testing.T) {
	assert.Equal(t, 45*time.Second, TTLDuration("45s", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("bogus", time.Minute))
}

func TestDailyPostTime(t *testing.T) {
	hour, minute, err := DailyPostTime("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 30, minute)

	hour, minute, err = DailyPostTime("")
	require.NoError(t, err)
	assert.Equal(t, 14, hour)
	assert.Equal(t, 0, minute)

	_, _, err = DailyPostTime("25:00")
	assert.Error(t, err)
	_, _, err = DailyPostTime("noon")
	assert.Error(t, err)
}

func TestBotConfig(t *testing.T) {
	cfg := BotConfig{
		Color:        "#1a73e8",
		SectionNames: map[string]string{"FAR": "Financial Accounting and Reporting"},
	}
	assert.Equal(t, 0x1a73e8, cfg.ColorInt())
	assert.Equal(t, "Financial Accounting and Reporting", cfg.SectionName("FAR"))
	assert.Equal(t, "REG", cfg.SectionName("REG"))
	assert.Equal(t, 0, BotConfig{Color: "nope"}.ColorInt())
}

func TestLoadBotConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_configs.json")
	doc := `{"cpa": {"name": "cpa", "full_name": "Certified Public Accountant", "emoji": "🧾", "url": "https://example.com"}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	configs, err := LoadBotConfigs(path)
	require.NoError(t, err)
	require.Contains(t, configs, "cpa")
	assert.Equal(t, "Certified Public Accountant", configs["cpa"].FullName)
}

func TestLoadBotConfigsMissingFile(t *testing.T) {
	configs, err := LoadBotConfigs(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, configs)
}
