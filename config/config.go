// Package config loads the notion-mcp configuration.
//
// Values come from an optional YAML file, then from the environment, then from command
// line flags, each overriding the previous one. ${VAR} references in the YAML file are
// expanded from the environment before parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Transports.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// DefaultPort is the port the HTTP transport listens on.
const DefaultPort = 3002

// Config is the complete notion-mcp configuration.
type Config struct {
	Notion  NotionConfig  `yaml:"notion"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// NotionConfig configures access to the Notion API.
type NotionConfig struct {
	Token              string  `yaml:"token" env:"NOTION_API_TOKEN"`
	BaseURL            string  `yaml:"base_url" env:"NOTION_API_BASE_URL"`
	MarkdownConversion bool    `yaml:"markdown_conversion" env:"NOTION_MARKDOWN_CONVERSION"`
	MaxRetries         int     `yaml:"max_retries" env:"NOTION_MAX_RETRIES"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" env:"NOTION_REQUESTS_PER_SECOND"`
}

// ServerConfig configures the MCP transport and the exposed tools.
type ServerConfig struct {
	Port         int      `yaml:"port" env:"NOTION_MCP_PORT"`
	Transport    string   `yaml:"transport" env:"NOTION_MCP_TRANSPORT"`
	EnabledTools []string `yaml:"enabled_tools" env:"NOTION_MCP_ENABLED_TOOLS" envSeparator:","`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"NOTION_MCP_LOG_LEVEL"`
	Format string `yaml:"format" env:"NOTION_MCP_LOG_FORMAT"`
}

// ErrMissingToken is returned by Validate when no Notion token is configured.
var ErrMissingToken = errors.New("NOTION_API_TOKEN is required")

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Notion: NotionConfig{
			MaxRetries:        3,
			RequestsPerSecond: 3,
		},
		Server: ServerConfig{
			Port:      DefaultPort,
			Transport: TransportHTTP,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Load reads the YAML file at path, when path is not empty, and then applies the
// environment. The result is not validated, since flags may still override it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(expandEnvVars(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Server.EnabledTools = cleanList(cfg.Server.EnabledTools)
	return cfg, nil
}

// ParseEnv overrides target with the environment variables named by its env tags.
// Unset variables leave the current value untouched.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseToolList splits a comma-separated list of tool names.
func ParseToolList(s string) []string {
	return cleanList(strings.Split(s, ","))
}

// Validate checks that the configuration can be served. It returns the first problem found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Notion.Token) == "" {
		return ErrMissingToken
	}
	if c.Notion.MaxRetries < 0 {
		return fmt.Errorf("notion.max_retries must not be negative, got %d", c.Notion.MaxRetries)
	}
	if c.Notion.RequestsPerSecond < 0 {
		return fmt.Errorf("notion.requests_per_second must not be negative, got %g", c.Notion.RequestsPerSecond)
	}

	switch c.Server.Transport {
	case TransportHTTP:
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
		}
	case TransportStdio:
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Server.Transport)
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", LogFormatText, LogFormatJSON, c.Logging.Format)
	}

	return nil
}

// NewLogger returns a logger writing to w with the configured level and format.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// expandEnvVars replaces ${VAR} with the value of VAR, or nothing when it is unset.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func cleanList(items []string) []string {
	var cleaned []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			cleaned = append(cleaned, item)
		}
	}
	return cleaned
}
