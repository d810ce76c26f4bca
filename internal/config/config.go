package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir  string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	OutputFormat string        `envconfig:"OUTPUT_FORMAT" default:"pdf"`
	ChapterRange string        `envconfig:"CHAPTER_RANGE" default:"All"`
	SortOrder    string        `envconfig:"SORT_ORDER" default:"desc"`
	KeepImages   bool          `envconfig:"KEEP_IMAGES" default:"false"`
	Verbose      bool          `envconfig:"VERBOSE" default:"false"`
	RequestDelay time.Duration `envconfig:"REQUEST_DELAY" default:"1s"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"4"`
	SourceURL    string        `envconfig:"SOURCE_BASE_URL" default:"https://fanfox.net"`

	RetryMaxAttempts uint          `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile           string `envconfig:"LOG_FILE"`
	HistoryDB         string `envconfig:"HISTORY_DB"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	MetricsAddr       string `envconfig:"METRICS_ADDR"`
	OTLPEndpoint      string `envconfig:"OTLP_ENDPOINT"`
	ConfigFile        string `envconfig:"CONFIG_FILE"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// fileConfig mirrors Config for TOML files. Nil fields are left untouched.
type fileConfig struct {
	DownloadDir       *string `toml:"download_dir"`
	Format            *string `toml:"format"`
	Chapters          *string `toml:"chapters"`
	Sort              *string `toml:"sort"`
	KeepImages        *bool   `toml:"keep_images"`
	Verbose           *bool   `toml:"verbose"`
	Delay             *string `toml:"delay"`
	PoolSize          *int    `toml:"pool_size"`
	SourceURL         *string `toml:"source_base_url"`
	RetryMaxAttempts  *int    `toml:"retry_max_attempts"`
	RetryBaseDelay    *string `toml:"retry_base_delay"`
	RequestTimeout    *string `toml:"request_timeout"`
	LogLevel          *string `toml:"log_level"`
	LogFile           *string `toml:"log_file"`
	HistoryDB         *string `toml:"history_db"`
	DiscordWebhookURL *string `toml:"discord_webhook_url"`
	MetricsAddr       *string `toml:"metrics_addr"`
	OTLPEndpoint      *string `toml:"otlp_endpoint"`
}

// ApplyFile overlays the settings of a TOML file on c. Durations are written
// as strings such as "1s" or "500ms".
func (c *Config) ApplyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var raw fileConfig
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.DownloadDir, raw.DownloadDir)
	setString(&c.OutputFormat, raw.Format)
	setString(&c.ChapterRange, raw.Chapters)
	setString(&c.SortOrder, raw.Sort)
	setString(&c.SourceURL, raw.SourceURL)
	setString(&c.LogLevel, raw.LogLevel)
	setString(&c.LogFile, raw.LogFile)
	setString(&c.HistoryDB, raw.HistoryDB)
	setString(&c.DiscordWebhookURL, raw.DiscordWebhookURL)
	setString(&c.MetricsAddr, raw.MetricsAddr)
	setString(&c.OTLPEndpoint, raw.OTLPEndpoint)

	if raw.KeepImages != nil {
		c.KeepImages = *raw.KeepImages
	}

	if raw.Verbose != nil {
		c.Verbose = *raw.Verbose
	}

	if raw.PoolSize != nil {
		c.PoolSize = *raw.PoolSize
	}

	if raw.RetryMaxAttempts != nil {
		if *raw.RetryMaxAttempts < 1 {
			return fmt.Errorf("parse config %s: retry_max_attempts must be at least 1", path)
		}

		c.RetryMaxAttempts = uint(*raw.RetryMaxAttempts)
	}

	durations := []struct {
		key string
		raw *string
		dst *time.Duration
	}{
		{"delay", raw.Delay, &c.RequestDelay},
		{"retry_base_delay", raw.RetryBaseDelay, &c.RetryBaseDelay},
		{"request_timeout", raw.RequestTimeout, &c.RequestTimeout},
	}

	for _, d := range durations {
		if d.raw == nil {
			continue
		}

		v, err := time.ParseDuration(strings.TrimSpace(*d.raw))
		if err != nil {
			return fmt.Errorf("parse config %s: %s: %w", path, d.key, err)
		}

		*d.dst = v
	}

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func (c *Config) SlogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
