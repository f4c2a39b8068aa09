package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TangGee/notion-mcp/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NOTION_API_TOKEN", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, config.TransportHTTP, cfg.Server.Transport)
	assert.Empty(t, cfg.Server.EnabledTools)
	assert.False(t, cfg.Notion.MarkdownConversion)
	assert.Equal(t, 3, cfg.Notion.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatText, cfg.Logging.Format)

	assert.ErrorIs(t, cfg.Validate(), config.ErrMissingToken)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_NOTION_SECRET", "secret-from-env")

	path := writeConfig(t, `
notion:
  token: "${TEST_NOTION_SECRET}"
  markdown_conversion: true
  max_retries: 5
  requests_per_second: 2.5
server:
  port: 8080
  enabled_tools:
    - notion_search
    - " notion_retrieve_page "
logging:
  level: debug
  format: json
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "secret-from-env", cfg.Notion.Token)
	assert.True(t, cfg.Notion.MarkdownConversion)
	assert.Equal(t, 5, cfg.Notion.MaxRetries)
	assert.InDelta(t, 2.5, cfg.Notion.RequestsPerSecond, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"notion_search", "notion_retrieve_page"}, cfg.Server.EnabledTools)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatJSON, cfg.Logging.Format)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
notion:
  token: from-file
server:
  port: 8080
`)
	t.Setenv("NOTION_API_TOKEN", "from-env")
	t.Setenv("NOTION_MARKDOWN_CONVERSION", "true")
	t.Setenv("NOTION_MCP_ENABLED_TOOLS", "notion_search,notion_retrieve_user")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Notion.Token)
	assert.True(t, cfg.Notion.MarkdownConversion)
	assert.Equal(t, 8080, cfg.Server.Port, "unset variables keep the file value")
	assert.Equal(t, []string{"notion_search", "notion_retrieve_user"}, cfg.Server.EnabledTools)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "reading config file")

	_, err = config.Load(writeConfig(t, "server:\n  prot: 1\n"))
	require.ErrorContains(t, err, "parsing config file")

	t.Setenv("NOTION_MCP_PORT", "not-a-port")
	_, err = config.Load("")
	require.ErrorContains(t, err, "parse env")
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestValidate(t *testing.T) {
	valid := config.Default()
	valid.Notion.Token = "secret"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "negative retries",
			mutate: func(c *config.Config) { c.Notion.MaxRetries = -1 },
			want:   "notion.max_retries",
		},
		{
			name:   "negative rate",
			mutate: func(c *config.Config) { c.Notion.RequestsPerSecond = -1 },
			want:   "notion.requests_per_second",
		},
		{
			name:   "port out of range",
			mutate: func(c *config.Config) { c.Server.Port = 70000 },
			want:   "server.port",
		},
		{
			name:   "unknown transport",
			mutate: func(c *config.Config) { c.Server.Transport = "grpc" },
			want:   "server.transport",
		},
		{
			name:   "unknown level",
			mutate: func(c *config.Config) { c.Logging.Level = "loud" },
			want:   "logging.level",
		},
		{
			name:   "unknown format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	stdio := valid
	stdio.Server.Transport = config.TransportStdio
	stdio.Server.Port = 0
	assert.NoError(t, stdio.Validate(), "stdio does not listen")
}

func TestParseToolList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, config.ParseToolList(" a, ,b,"))
	assert.Empty(t, config.ParseToolList(""))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := config.LoggingConfig{Level: "warn", Format: config.LogFormatJSON}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "tool", "notion_search")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"tool":"notion_search"`)
}
