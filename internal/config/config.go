// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/directory-scraper/internal/storage/postgres"
)

// Render modes.
const (
	RenderBrowser = "browser"
	RenderStatic  = "static"
	RenderAuto    = "auto"
)

// DefaultBaseURL is the listing scraped when no base URL is configured.
const DefaultBaseURL = "https://www.startupsg.gov.sg/directory/startups"

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Render   RenderConfig   `mapstructure:"render"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Discover DiscoverConfig `mapstructure:"discover"`
	Output   OutputConfig   `mapstructure:"output"`
	Sheets   SheetsConfig   `mapstructure:"sheets"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScrapeConfig governs one run. Limit <= 0 scrapes every profile.
type ScrapeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Limit          int           `mapstructure:"limit"`
	Delay          time.Duration `mapstructure:"delay"`
	ProfilePattern string        `mapstructure:"profile_pattern"`
}

// RenderConfig selects and tunes the page renderer.
type RenderConfig struct {
	Mode          string        `mapstructure:"mode"`
	Headless      bool          `mapstructure:"headless"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WaitSelector  string        `mapstructure:"wait_selector"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	HostQPS       float64       `mapstructure:"host_qps"`
	ExecPath      string        `mapstructure:"exec_path"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// RetryConfig bounds navigation retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DiscoverConfig tunes listing pagination.
type DiscoverConfig struct {
	LinkSelector               string `mapstructure:"link_selector"`
	PageParam                  string `mapstructure:"page_param"`
	MaxPages                   int    `mapstructure:"max_pages"`
	MaxConsecutivePageFailures int    `mapstructure:"max_consecutive_page_failures"`
}

// OutputConfig names the file outputs. JSON accepts a local path, a file://
// URI or a gs://bucket/object URI. XLSX is optional.
type OutputConfig struct {
	JSON        string        `mapstructure:"json"`
	XLSX        string        `mapstructure:"xlsx"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

// SheetsConfig targets the Google Sheets upload.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
	SkipUpload      bool   `mapstructure:"skip_upload"`
}

// DBConfig enables the Postgres sink and run history when DSN is set.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	ProfilesTable string `mapstructure:"profiles_table"`
	RunsTable     string `mapstructure:"runs_table"`
}

// PubSubConfig enables run notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig enables the status server when Addr is set.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"url":         "scrape.base_url",
	"limit":       "scrape.limit",
	"delay":       "scrape.delay",
	"headless":    "render.headless",
	"render-mode": "render.mode",
	"output":      "output.json",
	"xlsx":        "output.xlsx",
	"spreadsheet": "sheets.spreadsheet_id",
	"sheet":       "sheets.sheet_name",
	"credentials": "sheets.credentials_file",
	"skip-upload": "sheets.skip_upload",
	"server-addr": "server.addr",
	"dev":         "logging.development",
	"log-level":   "logging.level",
}

// Load builds a Config from defaults, an optional file at path, SCRAPER_*
// environment variables and, when flags is non-nil, any flags the user set.
// Later sources win.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrape.base_url", DefaultBaseURL)
	v.SetDefault("scrape.limit", 0)
	v.SetDefault("scrape.delay", "2s")
	v.SetDefault("scrape.profile_pattern", "")
	v.SetDefault("render.mode", RenderBrowser)
	v.SetDefault("render.headless", false)
	v.SetDefault("render.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("render.timeout", "30s")
	v.SetDefault("render.wait_selector", "body")
	v.SetDefault("render.settle_delay", "3s")
	v.SetDefault("render.host_qps", 0.5)
	v.SetDefault("render.respect_robots", false)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("discover.link_selector", "")
	v.SetDefault("discover.page_param", "page")
	v.SetDefault("discover.max_pages", 1000)
	v.SetDefault("discover.max_consecutive_page_failures", 3)
	v.SetDefault("output.json", "startups_data.json")
	v.SetDefault("output.xlsx", "")
	v.SetDefault("output.sink_timeout", "2m")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.sheet_name", "Startups")
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.skip_upload", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.profiles_table", "company_profiles")
	v.SetDefault("db.runs_table", "scrape_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Scrape.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("scrape.base_url must be an absolute http(s) URL, got %q", c.Scrape.BaseURL)
	}
	if c.Scrape.Delay < 0 {
		return errors.New("scrape.delay must be >= 0")
	}
	switch c.Render.Mode {
	case RenderBrowser, RenderStatic, RenderAuto:
	default:
		return fmt.Errorf("render.mode must be %q, %q or %q, got %q", RenderBrowser, RenderStatic, RenderAuto, c.Render.Mode)
	}
	if c.Render.Timeout <= 0 {
		return errors.New("render.timeout must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be > 0")
	}
	if c.Output.JSON == "" {
		return errors.New("output.json must be set")
	}
	if c.DB.DSN != "" {
		if !postgres.ValidTableName(c.DB.ProfilesTable) {
			return fmt.Errorf("db.profiles_table %q is not a valid table name", c.DB.ProfilesTable)
		}
		if !postgres.ValidTableName(c.DB.RunsTable) {
			return fmt.Errorf("db.runs_table %q is not a valid table name", c.DB.RunsTable)
		}
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// UploadEnabled reports whether the Sheets sink should run. An upload that
// was not skipped but has no spreadsheet id is disabled; the command warns.
func (c Config) UploadEnabled() bool {
	return !c.Sheets.SkipUpload && c.Sheets.SpreadsheetID != ""
}

// NotifyEnabled reports whether run summaries are published.
func (c Config) NotifyEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.Topic != ""
}
