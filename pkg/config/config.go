package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/dberrors"
)

// Config - корневая структура конфигурации демона

type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Server  ServerConfig  `yaml:"http-server"`
	DB      DBConfig      `yaml:"db"`
	Scanner ScannerConfig `yaml:"scanner"`
	Writer  WriterConfig  `yaml:"writer"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type DBConfig struct {
	// MinSplitBits is the smallest depth handed out for new buckets.
	MinSplitBits uint8 `yaml:"min_split_bits"`
	// IDSeed perturbs the document id hash; 0 keeps plain xxhash.
	IDSeed uint64 `yaml:"id_seed"`
}

type ScannerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type WriterConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		DB: DBConfig{
			MinSplitBits: 16,
		},
		Scanner: ScannerConfig{
			Enabled:   true,
			Interval:  time.Second,
			BatchSize: 1024,
		},
		Writer: WriterConfig{
			QueueSize: 128,
		},
	}
}

// Load reads a YAML config from path. Keys missing from the file keep their
// default values; a missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: http-server.port %d out of range", dberrors.ErrInvalidArgument, c.Server.Port)
	}
	if c.DB.MinSplitBits > bucket.MaxUsedBits {
		return fmt.Errorf("%w: db.min_split_bits %d exceeds %d",
			dberrors.ErrInvalidArgument, c.DB.MinSplitBits, bucket.MaxUsedBits)
	}
	if c.Scanner.Enabled && (c.Scanner.Interval <= 0 || c.Scanner.BatchSize <= 0) {
		return fmt.Errorf("%w: scanner needs a positive interval and batch_size", dberrors.ErrInvalidArgument)
	}
	if c.Writer.QueueSize < 0 {
		return fmt.Errorf("%w: writer.queue_size is negative", dberrors.ErrInvalidArgument)
	}
	if _, err := c.Logger.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level (DEBUG, INFO, WARN, ERROR in any case).
func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("%w: logger.level %q", dberrors.ErrInvalidArgument, l.Level)
	}
	return lvl, nil
}
