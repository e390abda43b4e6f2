package main

import (
	"log/slog"
	"os"

	"bucketdb/pkg/config"
)

// initConfig загружает конфиг из файла YAML. Если файл не найден, возвращается config.Default().
func initConfig(path string, port int) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	return cfg, cfg.Validate()
}

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.Logger.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{AddSource: true, Level: level}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", level, "json", cfg.Logger.JSON)
	return logger
}
