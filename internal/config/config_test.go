package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Scrape.BaseURL)
	assert.Equal(t, 0, cfg.Scrape.Limit)
	assert.Equal(t, 2*time.Second, cfg.Scrape.Delay)
	assert.Equal(t, RenderBrowser, cfg.Render.Mode)
	assert.False(t, cfg.Render.Headless)
	assert.Equal(t, 30*time.Second, cfg.Render.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "startups_data.json", cfg.Output.JSON)
	assert.Equal(t, "Startups", cfg.Sheets.SheetName)
	assert.Equal(t, "credentials.json", cfg.Sheets.CredentialsFile)
	assert.Equal(t, 250*time.Millisecond, cfg.Progress.MaxBatchWait)
	assert.False(t, cfg.UploadEnabled(), "no spreadsheet id configured")
	assert.False(t, cfg.NotifyEnabled())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
scrape:
  base_url: https://dir.example/companies
  limit: 25
  delay: 500ms
render:
  mode: static
  timeout: 45s
retry:
  max_attempts: 5
output:
  json: gs://exports/profiles.json
  xlsx: out/profiles.xlsx
sheets:
  spreadsheet_id: sheet-123
  sheet_name: Companies
db:
  dsn: postgres://scraper@localhost/scraper
  profiles_table: profiles
pubsub:
  project_id: proj
  topic: runs
server:
  addr: ":9090"
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://dir.example/companies", cfg.Scrape.BaseURL)
	assert.Equal(t, 25, cfg.Scrape.Limit)
	assert.Equal(t, 500*time.Millisecond, cfg.Scrape.Delay)
	assert.Equal(t, RenderStatic, cfg.Render.Mode)
	assert.Equal(t, 45*time.Second, cfg.Render.Timeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "gs://exports/profiles.json", cfg.Output.JSON)
	assert.Equal(t, "out/profiles.xlsx", cfg.Output.XLSX)
	assert.True(t, cfg.UploadEnabled())
	assert.Equal(t, "Companies", cfg.Sheets.SheetName)
	assert.Equal(t, "profiles", cfg.DB.ProfilesTable)
	assert.Equal(t, "scrape_runs", cfg.DB.RunsTable)
	assert.True(t, cfg.NotifyEnabled())
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_SCRAPE_LIMIT", "7")
	t.Setenv("SCRAPER_RENDER_HEADLESS", "true")
	t.Setenv("SCRAPER_SHEETS_SKIP_UPLOAD", "true")
	t.Setenv("SCRAPER_SHEETS_SPREADSHEET_ID", "sheet-1")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scrape.Limit)
	assert.True(t, cfg.Render.Headless)
	assert.False(t, cfg.UploadEnabled(), "skip-upload wins over a configured spreadsheet")
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SCRAPER_SCRAPE_LIMIT", "7")

	flags := pflag.NewFlagSet("scrape", pflag.ContinueOnError)
	flags.Int("limit", 0, "")
	flags.Bool("headless", false, "")
	flags.Duration("delay", 2*time.Second, "")
	flags.String("output", "startups_data.json", "")
	require.NoError(t, flags.Parse([]string{"--limit", "3", "--headless", "--output", "out.json"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scrape.Limit)
	assert.True(t, cfg.Render.Headless)
	assert.Equal(t, "out.json", cfg.Output.JSON)
	assert.Equal(t, 2*time.Second, cfg.Scrape.Delay, "unset flags keep the configured default")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidate(t *testing.T) {
	base, err := Load("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.Scrape.BaseURL = "/directory" }, "scrape.base_url"},
		{"ftp base url", func(c *Config) { c.Scrape.BaseURL = "ftp://dir.example" }, "scrape.base_url"},
		{"negative delay", func(c *Config) { c.Scrape.Delay = -time.Second }, "scrape.delay"},
		{"unknown mode", func(c *Config) { c.Render.Mode = "lynx" }, "render.mode"},
		{"zero timeout", func(c *Config) { c.Render.Timeout = 0 }, "render.timeout"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"no output", func(c *Config) { c.Output.JSON = "" }, "output.json"},
		{"bad table", func(c *Config) {
			c.DB.DSN = "postgres://x"
			c.DB.ProfilesTable = "profiles; DROP TABLE x"
		}, "db.profiles_table"},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "proj" }, "pubsub"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
