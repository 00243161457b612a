// Package config handles configuration loading and management for the
// image-chat client.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultServerURL is the analysis backend address used when none is configured.
const DefaultServerURL = "http://localhost:5000"

// DefaultQuestionTimeout is how long to wait for an answer to a question
// before giving up on the request.
const DefaultQuestionTimeout = 60 * time.Second

// Prompt represents a predefined question for the chat interface.
type Prompt struct {
	// Name is the display name for the prompt
	Name string
	// Prompt is the actual question text to send
	Prompt string
}

// ServerConfig holds the analysis backend connection settings.
type ServerConfig struct {
	// URL is the base address of the analysis backend (http or https).
	// The WebSocket endpoint and the upload endpoint are derived from it.
	URL string
	// QuestionTimeout is how long to wait for an answer to a question.
	QuestionTimeout time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// File is an optional file path for rotated log output
	File string
	// MaxSizeMB is the log rotation size threshold
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep
	MaxBackups int
	// JSON enables JSON log output
	JSON bool
}

// Config represents the complete client configuration.
type Config struct {
	// Server contains the backend connection settings
	Server ServerConfig
	// Prompts is a list of predefined questions offered by the chat UI
	Prompts []Prompt
	// Log contains logging settings
	Log LogConfig
}

// rawConfig is used for YAML unmarshaling.
type rawConfig struct {
	Server struct {
		URL             string `yaml:"url"`
		QuestionTimeout string `yaml:"question_timeout"`
	} `yaml:"server"`
	Prompts []struct {
		Name   string `yaml:"name"`
		Prompt string `yaml:"prompt"`
	} `yaml:"prompts"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		JSON       bool   `yaml:"json"`
	} `yaml:"log"`
}

// DefaultConfigPath returns the default configuration file path for the current platform.
func DefaultConfigPath() string {
	// Check for environment variable override first
	if envPath := os.Getenv("IMAGECHATRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default: // linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".imagechatrc")
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:             DefaultServerURL,
			QuestionTimeout: DefaultQuestionTimeout,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and parses the configuration file from the given path.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data into a Config struct.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()

	if raw.Server.URL != "" {
		if _, err := url.Parse(raw.Server.URL); err != nil {
			return nil, fmt.Errorf("invalid server url %q: %w", raw.Server.URL, err)
		}
		cfg.Server.URL = raw.Server.URL
	}
	if raw.Server.QuestionTimeout != "" {
		d, err := time.ParseDuration(raw.Server.QuestionTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid question_timeout %q: %w", raw.Server.QuestionTimeout, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("question_timeout must be positive, got %q", raw.Server.QuestionTimeout)
		}
		cfg.Server.QuestionTimeout = d
	}

	for _, p := range raw.Prompts {
		if p.Prompt == "" {
			continue
		}
		name := p.Name
		if name == "" {
			name = p.Prompt
		}
		cfg.Prompts = append(cfg.Prompts, Prompt{Name: name, Prompt: p.Prompt})
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	cfg.Log.File = raw.Log.File
	cfg.Log.MaxSizeMB = raw.Log.MaxSizeMB
	cfg.Log.MaxBackups = raw.Log.MaxBackups
	cfg.Log.JSON = raw.Log.JSON

	return cfg, nil
}
