package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvConfigPath names the environment variable holding the default config path.
const EnvConfigPath = "TGATE_CONFIG"

// Config is the main configuration structure for the gateway.
type Config struct {
	Version  int            `yaml:"version"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Offsets  OffsetsConfig  `yaml:"offsets"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for the Prometheus endpoint; empty disables it.
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// TracingConfig configures OTLP span export; an empty endpoint disables it.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// OffsetsConfig selects where last-seen update ids are persisted.
type OffsetsConfig struct {
	// Backend is "file" or "sql".
	Backend string `yaml:"backend"`
	// Path is the JSON file path for the file backend.
	Path string `yaml:"path"`
	// Driver is "sqlite", "sqlite3" or "postgres" for the sql backend.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// FlushInterval debounces writes; zero writes through.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type TelegramConfig struct {
	Accounts map[string]AccountConfig `yaml:"accounts"`
}

// Policy controls who may talk to the bot in a scope.
type Policy string

const (
	PolicyOpen      Policy = "open"
	PolicyAllowlist Policy = "allowlist"
	PolicyDisabled  Policy = "disabled"
)

// Valid reports whether p is a known policy or empty (inherit).
func (p Policy) Valid() bool {
	switch p {
	case "", PolicyOpen, PolicyAllowlist, PolicyDisabled:
		return true
	default:
		return false
	}
}

// AccountConfig configures one bot credential.
type AccountConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	APIRoot  string `yaml:"api_root"`

	DMPolicy       Policy                 `yaml:"dm_policy"`
	AllowFrom      []string               `yaml:"allow_from"`
	GroupPolicy    Policy                 `yaml:"group_policy"`
	GroupAllowFrom []string               `yaml:"group_allow_from"`
	RequireMention *bool                  `yaml:"require_mention"`
	Groups         map[string]GroupConfig `yaml:"groups"`

	// QueueDepth bounds pending updates per chat; zero is unbounded.
	QueueDepth    int            `yaml:"queue_depth"`
	PollTimeout   time.Duration  `yaml:"poll_timeout"`
	RateLimit     float64        `yaml:"rate_limit"`
	RateBurst     int            `yaml:"rate_burst"`
	ChatRateLimit float64        `yaml:"chat_rate_limit"`
	ChatRateBurst int            `yaml:"chat_rate_burst"`
	MediaMaxBytes int64          `yaml:"media_max_bytes"`
	Stream        StreamConfig   `yaml:"stream"`
	Markdown      MarkdownConfig `yaml:"markdown"`
}

// IsEnabled reports whether the account should be started.
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// GroupConfig overrides account settings for one group chat.
type GroupConfig struct {
	Enabled        *bool                  `yaml:"enabled"`
	RequireMention *bool                  `yaml:"require_mention"`
	GroupPolicy    Policy                 `yaml:"group_policy"`
	AllowFrom      []string               `yaml:"allow_from"`
	Topics         map[string]TopicConfig `yaml:"topics"`
}

// TopicConfig overrides group settings for one forum topic.
type TopicConfig struct {
	Enabled        *bool    `yaml:"enabled"`
	RequireMention *bool    `yaml:"require_mention"`
	GroupPolicy    Policy   `yaml:"group_policy"`
	AllowFrom      []string `yaml:"allow_from"`
}

type StreamConfig struct {
	Throttle time.Duration `yaml:"throttle"`
	MaxChars int           `yaml:"max_chars"`
	Grace    time.Duration `yaml:"grace"`
}

type MarkdownConfig struct {
	// Tables is "off", "bullets" or "code".
	Tables string `yaml:"tables"`
}

const (
	DefaultAPIRoot       = "https://api.telegram.org"
	DefaultPollTimeout   = 30 * time.Second
	DefaultRateLimit     = 30
	DefaultRateBurst     = 20
	DefaultChatRateLimit = 1
	DefaultChatRateBurst = 3
	DefaultMediaMaxBytes = 20 * 1024 * 1024
	DefaultThrottle      = time.Second
	DefaultMaxChars      = 4096
	DefaultGrace         = 5 * time.Second
)

// Load reads, merges, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the config path from the environment, or tgate.yaml.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return "tgate.yaml"
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Offsets.Backend == "" {
		cfg.Offsets.Backend = "file"
	}
	if cfg.Offsets.Backend == "file" && cfg.Offsets.Path == "" {
		cfg.Offsets.Path = "telegram-offsets.json"
	}
	if cfg.Offsets.Backend == "sql" && cfg.Offsets.Driver == "" {
		cfg.Offsets.Driver = "sqlite"
	}
	for id, acct := range cfg.Telegram.Accounts {
		ApplyAccountDefaults(&acct)
		cfg.Telegram.Accounts[id] = acct
	}
}

// ApplyAccountDefaults fills unset account fields.
func ApplyAccountDefaults(acct *AccountConfig) {
	if acct.APIRoot == "" {
		acct.APIRoot = DefaultAPIRoot
	}
	acct.APIRoot = strings.TrimRight(acct.APIRoot, "/")
	if acct.DMPolicy == "" {
		acct.DMPolicy = PolicyOpen
	}
	if acct.GroupPolicy == "" {
		acct.GroupPolicy = PolicyOpen
	}
	if acct.RequireMention == nil {
		v := true
		acct.RequireMention = &v
	}
	if acct.PollTimeout == 0 {
		acct.PollTimeout = DefaultPollTimeout
	}
	if acct.RateLimit == 0 {
		acct.RateLimit = DefaultRateLimit
	}
	if acct.RateBurst == 0 {
		acct.RateBurst = DefaultRateBurst
	}
	if acct.ChatRateLimit == 0 {
		acct.ChatRateLimit = DefaultChatRateLimit
	}
	if acct.ChatRateBurst == 0 {
		acct.ChatRateBurst = DefaultChatRateBurst
	}
	if acct.MediaMaxBytes == 0 {
		acct.MediaMaxBytes = DefaultMediaMaxBytes
	}
	if acct.Stream.Throttle == 0 {
		acct.Stream.Throttle = DefaultThrottle
	}
	if acct.Stream.MaxChars == 0 {
		acct.Stream.MaxChars = DefaultMaxChars
	}
	if acct.Stream.Grace == 0 {
		acct.Stream.Grace = DefaultGrace
	}
	if acct.Markdown.Tables == "" {
		acct.Markdown.Tables = "code"
	}
}
