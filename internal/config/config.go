package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the bridge configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Editor     EditorConfig     `yaml:"editor"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Rules      RulesConfig      `yaml:"rules"`
	State      StateConfig      `yaml:"state"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	APIURL string `yaml:"api_url"`
}

type EditorConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`  // 0 = auto-detect from Ports
	Ports []int  `yaml:"ports"` // candidate CDP ports to probe
}

type MonitorConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	StableTicks          int           `yaml:"stable_ticks"`
	ScanInterval         time.Duration `yaml:"scan_interval"`
	ContextFillThreshold int           `yaml:"context_fill_threshold"`
}

type RulesConfig struct {
	Path string `yaml:"path"`
}

type StateConfig struct {
	Path string `yaml:"path"`
}

type TranscribeConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{APIURL: "https://api.telegram.org"},
		Editor: EditorConfig{
			Host:  "127.0.0.1",
			Ports: []int{9222, 9223, 9224},
		},
		Monitor: MonitorConfig{
			PollInterval:         time.Second,
			StableTicks:          2,
			ScanInterval:         3 * time.Second,
			ContextFillThreshold: 80,
		},
		Transcribe: TranscribeConfig{Model: "gpt-4o-transcribe"},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file, applies environment overrides,
// and validates the result. A missing file is not an error: defaults plus
// environment variables are enough to run. An empty path means the
// default location under the data directory.
func Load(path string) (*Config, error) {
	cfg, err := Peek(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Peek reads configuration without validating. Read-only commands use it
// to locate the state database even when no relay token is configured.
func Peek(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if dir, err := DataDir(); err == nil {
			path = filepath.Join(dir, "pocketbridge.yaml")
		}
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else if path != "" && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Transcribe.APIKey = key
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (or set TELEGRAM_BOT_TOKEN)")
	}
	if c.Telegram.APIURL == "" {
		return fmt.Errorf("telegram.api_url is required")
	}
	if c.Editor.Port == 0 && len(c.Editor.Ports) == 0 {
		return fmt.Errorf("editor.port or editor.ports is required")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.StableTicks < 1 {
		return fmt.Errorf("monitor.stable_ticks must be at least 1")
	}
	if c.Monitor.ScanInterval < c.Monitor.PollInterval {
		return fmt.Errorf("monitor.scan_interval must be >= monitor.poll_interval")
	}
	if c.Monitor.ContextFillThreshold < 0 || c.Monitor.ContextFillThreshold > 100 {
		return fmt.Errorf("monitor.context_fill_threshold must be 0-100")
	}
	return nil
}
