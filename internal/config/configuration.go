package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT" validate:"min=1,max=65535"`

	// Library and pipeline
	DataDir             string  `mapstructure:"DATA_DIR" validate:"required"`
	IngestWorkers       int     `mapstructure:"INGEST_WORKERS" validate:"min=1,max=32"`
	QueuePollIntervalMS int     `mapstructure:"QUEUE_POLL_INTERVAL_MS" validate:"min=10,max=5000"`
	FrameSampleRate     float64 `mapstructure:"FRAME_SAMPLE_RATE" validate:"gt=0,lte=10"`
	VisualEnabled       bool    `mapstructure:"VISUAL_ENABLED"`

	// Tools
	DefaultWhisperModel   string `mapstructure:"DEFAULT_WHISPER_MODEL" validate:"oneof=tiny base small medium large turbo"`
	WhisperCmd            string `mapstructure:"WHISPER_CMD"`
	WhisperDevice         string `mapstructure:"WHISPER_DEVICE"`
	WhisperTimeoutSeconds int    `mapstructure:"WHISPER_TIMEOUT_SECONDS" validate:"min=0"`
	YTDLPPath             string `mapstructure:"YTDLP_PATH"`
	YTDLPCookiesFile      string `mapstructure:"YTDLP_COOKIES_FILE"`
	Fetcher               string `mapstructure:"FETCHER" validate:"oneof=ytdlp native"`
	EmbeddingURL          string `mapstructure:"EMBEDDING_URL" validate:"required,url"`

	// Search index
	IndexBackend    string `mapstructure:"INDEX_BACKEND" validate:"oneof=sqlite postgres"`
	IndexSQLitePath string `mapstructure:"INDEX_SQLITE_PATH"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required_if=IndexBackend postgres"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES" validate:"min=1"`

	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// PollInterval is the bounded re-check interval of an idle worker.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.QueuePollIntervalMS) * time.Millisecond
}

// WhisperTimeout bounds one transcription run. Zero means no limit.
func (c Config) WhisperTimeout() time.Duration {
	return time.Duration(c.WhisperTimeoutSeconds) * time.Second
}

// SQLitePath is the index database file, inside DATA_DIR unless set.
func (c Config) SQLitePath() string {
	if c.IndexSQLitePath != "" {
		return c.IndexSQLitePath
	}
	return filepath.Join(c.DataDir, "index.db")
}

// LogValue keeps the database DSN out of logs.
func (c Config) LogValue() slog.Value {
	redacted := c
	if redacted.DatabaseDSN != "" {
		redacted.DatabaseDSN = "[redacted]"
	}
	return slog.AnyValue(configView(redacted))
}

type configView Config

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("mapstructure"); tag != "" {
			viper.BindEnv(tag)
		}
	}
}

// LoadConfig reads .env when present, then the environment, applies defaults and validates.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("WEBSERVER_PORT", 9091)
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("INGEST_WORKERS", 2)
	viper.SetDefault("QUEUE_POLL_INTERVAL_MS", 1000)
	viper.SetDefault("FRAME_SAMPLE_RATE", 0.5)
	viper.SetDefault("VISUAL_ENABLED", true)
	viper.SetDefault("DEFAULT_WHISPER_MODEL", "base")
	viper.SetDefault("WHISPER_CMD", "whisper")
	viper.SetDefault("WHISPER_DEVICE", "cpu")
	viper.SetDefault("WHISPER_TIMEOUT_SECONDS", 0)
	viper.SetDefault("YTDLP_PATH", "yt-dlp")
	viper.SetDefault("FETCHER", "ytdlp")
	viper.SetDefault("EMBEDDING_URL", "http://localhost:8001")
	viper.SetDefault("INDEX_BACKEND", "sqlite")
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("LOG_LEVEL", "info")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Debug("Loaded configuration", "config", cfg)
	return &cfg, nil
}
