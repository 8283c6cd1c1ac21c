package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Level string `yaml:"level"`
		Env   string `yaml:"env"`
	} `yaml:"logger"`
	Quiz struct {
		DataDir      string   `yaml:"data_dir"`
		Exams        []string `yaml:"exams"`
		RevealDelay  string   `yaml:"reveal_delay"`
		DailyPostUTC string   `yaml:"daily_post_utc"` // "HH:MM"
		BotConfigs   string   `yaml:"bot_configs"`
		BankTTL      string   `yaml:"bank_ttl"`
	} `yaml:"quiz"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Discord struct {
		Token  string `yaml:"token"`
		Prefix string `yaml:"prefix"`
	} `yaml:"discord"`
	Telegram struct {
		Token       string `yaml:"token"`
		PollTimeout int    `yaml:"poll_timeout"`
	} `yaml:"telegram"`
	Slack struct {
		WebhookURL string `yaml:"webhook_url"`
		Channel    string `yaml:"channel"`
	} `yaml:"slack"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// DailyPostTime parses an "HH:MM" wall-clock string into hour and minute (UTC).
func DailyPostTime(raw string) (hour, minute int, err error) {
	if raw == "" {
		return 14, 0, nil
	}
	if _, err := fmt.Sscanf(raw, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parse daily_post_utc %q: %w", raw, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("daily_post_utc %q out of range", raw)
	}
	return hour, minute, nil
}

// BotConfig is the per-exam presentation block from bot_configs.json. Purely
// presentational; the engine never sees it.
type BotConfig struct {
	Name         string            `json:"name"`
	FullName     string            `json:"full_name"`
	Emoji        string            `json:"emoji"`
	Color        string            `json:"color"` // hex string, e.g. "1a73e8"
	URL          string            `json:"url"`
	Description  string            `json:"description"`
	InvitePrompt string            `json:"invite_prompt"`
	SectionNames map[string]string `json:"section_names"`
}

// SectionName maps a section tag to its display name, falling back to the tag.
func (c BotConfig) SectionName(tag string) string {
	if name, ok := c.SectionNames[tag]; ok {
		return name
	}
	return tag
}

// ColorInt parses the hex color string; zero when unset or malformed.
func (c BotConfig) ColorInt() int {
	var v int
	raw := strings.TrimPrefix(c.Color, "#")
	if _, err := fmt.Sscanf(raw, "%x", &v); err != nil {
		return 0
	}
	return v
}

// LoadBotConfigs reads the exam -> BotConfig document. A missing file is not
// an error; adapters render with zero-value presentation.
func LoadBotConfigs(path string) (map[string]BotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]BotConfig{}, nil
		}
		return nil, err
	}
	configs := make(map[string]BotConfig)
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse bot configs: %w", err)
	}
	return configs, nil
}
