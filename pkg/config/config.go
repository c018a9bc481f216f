package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage backends.
const (
	BackendDocument   = "document"
	BackendRelational = "relational"
)

type Config struct {
	Env string

	Storage  StorageConfig
	Database DatabaseConfig
	Log      LogConfig
	Grading  GradingConfig
	Export   ExportConfig
	Queue    QueueConfig
}

// StorageConfig selects the persistence gateway.
type StorageConfig struct {
	Backend      string
	SnapshotPath string
}

type DatabaseConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type LogConfig struct {
	Level  string
	Format string
}

// GradingConfig tunes read-side presentation of the gradebook.
type GradingConfig struct {
	SearchLimit       int
	HistogramBinWidth int
	DisplayPrecision  int
}

// ExportConfig controls where grade table exports are written.
type ExportConfig struct {
	Dir string
}

// QueueConfig tunes the persistence job queue.
type QueueConfig struct {
	Buffer     int
	Retries    int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Storage = StorageConfig{
		Backend:      strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_BACKEND"))),
		SnapshotPath: v.GetString("SNAPSHOT_PATH"),
	}

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DSN:          v.GetString("DB_DSN"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Grading = GradingConfig{
		SearchLimit:       positiveOr(v.GetInt("SEARCH_LIMIT"), 30),
		HistogramBinWidth: v.GetInt("HISTOGRAM_BIN_WIDTH"),
		DisplayPrecision:  v.GetInt("DISPLAY_PRECISION"),
	}
	if cfg.Grading.HistogramBinWidth < 1 || cfg.Grading.HistogramBinWidth > 100 {
		cfg.Grading.HistogramBinWidth = 5
	}
	if cfg.Grading.DisplayPrecision < 0 {
		cfg.Grading.DisplayPrecision = 0
	}

	cfg.Export = ExportConfig{Dir: v.GetString("EXPORT_DIR")}

	cfg.Queue = QueueConfig{
		Buffer:     positiveOr(v.GetInt("QUEUE_BUFFER"), 8),
		Retries:    v.GetInt("QUEUE_RETRIES"),
		RetryDelay: parseDuration(v.GetString("QUEUE_RETRY_DELAY"), 500*time.Millisecond),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("STORAGE_BACKEND", BackendDocument)
	v.SetDefault("SNAPSHOT_PATH", "")

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "scorebook.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 1)
	v.SetDefault("DB_MAX_IDLE_CONNS", 1)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("SEARCH_LIMIT", 30)
	v.SetDefault("HISTOGRAM_BIN_WIDTH", 5)
	v.SetDefault("DISPLAY_PRECISION", 1)

	v.SetDefault("EXPORT_DIR", "./exports")

	v.SetDefault("QUEUE_BUFFER", 8)
	v.SetDefault("QUEUE_RETRIES", 0)
	v.SetDefault("QUEUE_RETRY_DELAY", "500ms")
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
