package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. The defaults are the dataset the
// tool was written for; every value can be overridden from the environment.
type Config struct {
	SourceURL      string        `envconfig:"SOURCE_URL" default:"https://files.grouplens.org/datasets/movielens/ml-latest.zip"`
	ArchivePath    string        `envconfig:"ARCHIVE_PATH" default:"ml-latest.zip"`
	TargetDir      string        `envconfig:"TARGET_DIR" default:"data"`
	ExistingFiles  string        `envconfig:"EXISTING_FILES" default:"overwrite"`
	SourceToken    string        `envconfig:"SOURCE_TOKEN"`
	RateLimit      int           `envconfig:"RATE_LIMIT" default:"0"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"0s"`
	ShowProgress   bool          `envconfig:"SHOW_PROGRESS" default:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	DBPath            string `envconfig:"DB_PATH"`
	SkipCompleted     bool   `envconfig:"SKIP_COMPLETED" default:"false"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"false"`
		Exporter       string `split_words:"true" default:"prometheus"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
		MetricsAddress string `split_words:"true"`
		ServiceName    string `split_words:"true" default:"dataset_setup"`
	}

	Web struct {
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values envconfig cannot check on its own.
func (c *Config) Validate() error {
	u, err := url.Parse(c.SourceURL)
	if err != nil {
		return fmt.Errorf("invalid SOURCE_URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid SOURCE_URL: unsupported scheme %q", u.Scheme)
	}

	if strings.TrimSpace(c.ArchivePath) == "" {
		return fmt.Errorf("ARCHIVE_PATH must not be empty")
	}

	if strings.TrimSpace(c.TargetDir) == "" {
		return fmt.Errorf("TARGET_DIR must not be empty")
	}

	switch strings.ToLower(c.ExistingFiles) {
	case "overwrite", "skip", "error":
	default:
		return fmt.Errorf("invalid EXISTING_FILES %q: want overwrite, skip or error", c.ExistingFiles)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative")
	}

	switch strings.ToLower(c.Telemetry.Exporter) {
	case "prometheus", "otlp":
	default:
		return fmt.Errorf("invalid TELEMETRY_EXPORTER %q: want prometheus or otlp", c.Telemetry.Exporter)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
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

// LogHandler builds the slog handler selected by LOG_FORMAT.
func (c *Config) LogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}
