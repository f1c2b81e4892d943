package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/nudge.json"

// Config is the top-level configuration structure.
type Config struct {
	Server               ServerConfig    `json:"server" yaml:"server"`
	Scheduler            SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	IdleThresholdSeconds int             `json:"idle_threshold_seconds" yaml:"idle_threshold_seconds"`
	BreakIntervalMinutes int             `json:"break_interval_minutes" yaml:"break_interval_minutes"`
	MeetingBufferMinutes int             `json:"meeting_buffer_minutes" yaml:"meeting_buffer_minutes"`
	Timezone             string          `json:"timezone" yaml:"timezone"`
	MockTime             string          `json:"mock_time" yaml:"mock_time"`
	// TimeSpeed, when positive, lets mock time flow at that multiple of
	// real time instead of jumping one interval per cycle.
	TimeSpeed float64        `json:"time_speed" yaml:"time_speed"`
	DataDir   string         `json:"data_dir" yaml:"data_dir"`
	LLM       LLMConfig      `json:"llm" yaml:"llm"`
	Database  DatabaseConfig `json:"database" yaml:"database"`
	Calendar  CalendarConfig `json:"calendar" yaml:"calendar"`
	Notify    NotifyConfig   `json:"notify" yaml:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

type SchedulerConfig struct {
	IntervalSeconds     int      `json:"interval_seconds" yaml:"interval_seconds"`
	TickMillis          int      `json:"tick_millis" yaml:"tick_millis"`
	AgentSequence       []string `json:"agent_sequence" yaml:"agent_sequence"`
	AgentTimeoutSeconds int      `json:"agent_timeout_seconds" yaml:"agent_timeout_seconds"`
}

type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible runtime) or "anthropic".
	Provider       string `json:"provider" yaml:"provider"`
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type CalendarConfig struct {
	File string `json:"file" yaml:"file"`
}

type NotifyConfig struct {
	Slack   ChannelConfig `json:"slack" yaml:"slack"`
	Discord ChannelConfig `json:"discord" yaml:"discord"`
}

// ChannelConfig configures one chat delivery channel.
type ChannelConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BotToken  string `json:"bot_token" yaml:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id"`
	// APIURL overrides the Slack Web API base URL.
	APIURL string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
}

// Default returns the configuration used for options a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 300,
			TickMillis:      1000,
			AgentSequence:   []string{"focus", "environment", "nudge", "delivery"},
		},
		IdleThresholdSeconds: 300,
		BreakIntervalMinutes: 45,
		MeetingBufferMinutes: 10,
		Timezone:             "UTC",
		DataDir:              "data",
		LLM:                  LLMConfig{Provider: "openai", TimeoutSeconds: 10},
		Database: DatabaseConfig{
			SQLite: SQLiteConfig{Path: filepath.Join("data", "nudge.db")},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expandEnv(data []byte) []byte {
	return envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envVarRe.FindSubmatch(match)
		if v := os.Getenv(string(parts[1])); v != "" {
			return []byte(v)
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file over the defaults and substitutes
// environment variable references. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := expandEnv(data)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(resolved, cfg)
	default:
		err = json.Unmarshal(resolved, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval_seconds must be positive, got %d", c.Scheduler.IntervalSeconds))
	}
	if c.Scheduler.TickMillis <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_millis must be positive, got %d", c.Scheduler.TickMillis))
	}
	if c.Scheduler.AgentTimeoutSeconds < 0 {
		errs = append(errs, errors.New("scheduler.agent_timeout_seconds must not be negative"))
	}
	if c.IdleThresholdSeconds <= 0 {
		errs = append(errs, fmt.Errorf("idle_threshold_seconds must be positive, got %d", c.IdleThresholdSeconds))
	}
	if c.BreakIntervalMinutes < 0 || c.MeetingBufferMinutes < 0 {
		errs = append(errs, errors.New("break_interval_minutes and meeting_buffer_minutes must not be negative"))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of openai, anthropic", c.LLM.Provider))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := c.Mock(); err != nil {
		errs = append(errs, err)
	}
	if c.TimeSpeed < 0 {
		errs = append(errs, fmt.Errorf("time_speed must not be negative, got %v", c.TimeSpeed))
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Mock parses mock_time. The zero time means real time.
func (c *Config) Mock() (time.Time, error) {
	if c.MockTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.MockTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("mock_time %q: %w", c.MockTime, err)
	}
	return t, nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.Scheduler.TickMillis) * time.Millisecond
}

func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Scheduler.AgentTimeoutSeconds) * time.Second
}

func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdSeconds) * time.Second
}

func (c *Config) BreakInterval() time.Duration {
	return time.Duration(c.BreakIntervalMinutes) * time.Minute
}

func (c *Config) MeetingBuffer() time.Duration {
	return time.Duration(c.MeetingBufferMinutes) * time.Minute
}

// SnapshotPath is the context snapshot inside the data directory.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "agent_context.json")
}

// BackupDir holds timestamped snapshot backups.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "context_backups")
}
