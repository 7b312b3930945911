package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config represents the main anuneko adapter configuration
type Config struct {
	// Backend endpoints and client identity
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// Chat command behaviour
	Chat ChatConfig `json:"chat" mapstructure:"chat"`

	// Timeouts
	Timeouts TimeoutsConfig `json:"timeouts" mapstructure:"timeouts"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// BackendConfig holds the remote endpoints and the fixed client identity block
type BackendConfig struct {
	CreateSessionURL string `json:"create_session_url" mapstructure:"create_session_url"`
	StreamURL        string `json:"stream_url" mapstructure:"stream_url"` // {uuid} is replaced by the session id
	SelectChoiceURL  string `json:"select_choice_url" mapstructure:"select_choice_url"`
	SelectModelURL   string `json:"select_model_url" mapstructure:"select_model_url"`

	DefaultToken string `json:"default_token" mapstructure:"default_token"`
	Cookie       string `json:"cookie" mapstructure:"cookie"`

	Origin     string `json:"origin" mapstructure:"origin"`
	Referer    string `json:"referer" mapstructure:"referer"`
	UserAgent  string `json:"user_agent" mapstructure:"user_agent"`
	AppID      string `json:"app_id" mapstructure:"app_id"`
	ClientType string `json:"client_type" mapstructure:"client_type"`
	DeviceID   string `json:"device_id" mapstructure:"device_id"`
}

// ChatConfig holds the chat action settings
type ChatConfig struct {
	CommandPrefix string `json:"command_prefix" mapstructure:"command_prefix"`
	Watermark     string `json:"watermark" mapstructure:"watermark"`
	// BranchWorkers bounds concurrent branch-resolution calls
	BranchWorkers int `json:"branch_workers" mapstructure:"branch_workers"`
}

// TimeoutsConfig holds request timeouts in seconds
type TimeoutsConfig struct {
	Request int `json:"request" mapstructure:"request"`
	Stream  int `json:"stream" mapstructure:"stream"` // <= 0 disables the streaming timeout
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// RedactPatterns are extra regular expressions scrubbed when redaction is on
	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
	// TraceFile receives finished spans as JSON lines when set
	TraceFile string `json:"trace_file" mapstructure:"trace_file"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`

	// Per WebSocket client limits
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int `json:"max_concurrent" mapstructure:"max_concurrent"`

	// CleanupSchedule clears every session on a cron expression or
	// "@every <duration>". Empty disables scheduled cleanup.
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// DefaultWatermark is appended to every successful chat reply
const DefaultWatermark = "\n\n—— 内容由 anuneko.com 提供，该服务只是一个第三方前端"

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			CreateSessionURL: "https://anuneko.com/api/v1/chat",
			StreamURL:        "https://anuneko.com/api/v1/msg/{uuid}/stream",
			SelectChoiceURL:  "https://anuneko.com/api/v1/msg/select-choice",
			SelectModelURL:   "https://anuneko.com/api/v1/user/select_model",
			Origin:           "https://anuneko.com",
			Referer:          "https://anuneko.com/",
			UserAgent:        "Mozilla/5.0",
			AppID:            "com.anuttacon.neko",
			ClientType:       "4",
			DeviceID:         "7b75a432-6b24-48ad-b9d3-3dc57648e3e3",
		},
		Chat: ChatConfig{
			CommandPrefix: "/chat",
			Watermark:     DefaultWatermark,
			BranchWorkers: 4,
		},
		Timeouts: TimeoutsConfig{
			Request: 10,
			Stream:  10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port:              8080,
			Host:              "127.0.0.1",
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
	}
}

// RequestTimeout returns the timeout for plain backend calls
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeouts.Request <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Timeouts.Request) * time.Second
}

// StreamTimeout returns the timeout for the streaming call; zero means unbounded
func (c *Config) StreamTimeout() time.Duration {
	if c.Timeouts.Stream <= 0 {
		return 0
	}
	return time.Duration(c.Timeouts.Stream) * time.Second
}

// StreamURLFor fills the session id into the stream URL template
func (c *Config) StreamURLFor(sessionID string) string {
	return strings.ReplaceAll(c.Backend.StreamURL, "{uuid}", url.PathEscape(sessionID))
}

// Clone returns a deep copy of the config
func (c *Config) Clone() *Config {
	cp := *c
	cp.Logging.RedactPatterns = append([]string(nil), c.Logging.RedactPatterns...)
	return &cp
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	endpoints := map[string]string{
		"create_session_url": c.Backend.CreateSessionURL,
		"stream_url":         c.Backend.StreamURL,
		"select_choice_url":  c.Backend.SelectChoiceURL,
		"select_model_url":   c.Backend.SelectModelURL,
	}
	for name, raw := range endpoints {
		if raw == "" {
			return fmt.Errorf("backend %s is required", name)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("backend %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backend %s: unsupported scheme %q", name, u.Scheme)
		}
	}

	if !strings.Contains(c.Backend.StreamURL, "{uuid}") {
		return fmt.Errorf("backend stream_url must contain the {uuid} placeholder")
	}

	if strings.TrimSpace(c.Chat.CommandPrefix) == "" {
		return fmt.Errorf("chat command_prefix cannot be empty")
	}

	if c.Chat.BranchWorkers < 0 {
		return fmt.Errorf("chat branch_workers cannot be negative")
	}

	if c.Timeouts.Request < 0 {
		return fmt.Errorf("timeouts.request cannot be negative")
	}

	if c.Gateway.RequestsPerMinute < 0 || c.Gateway.MaxConcurrent < 0 {
		return fmt.Errorf("gateway limits cannot be negative")
	}

	for _, pattern := range c.Logging.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("logging redact_patterns: %w", err)
		}
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	return nil
}
