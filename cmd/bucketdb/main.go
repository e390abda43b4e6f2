package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	httpapi "bucketdb/internal/http"
	"bucketdb/internal/writer"
	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/metrics"
	"bucketdb/pkg/scanner"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML config",
		Value:   "config.yaml",
		EnvVars: []string{"BUCKETDB_CONFIG"},
	}
	portFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "HTTP port, overrides http-server.port",
		EnvVars: []string{"BUCKETDB_PORT"},
	}
)

func main() {
	app := &cli.App{
		Name:   "bucketdb",
		Usage:  "in-memory bucket database with an HTTP status API",
		Flags:  []cli.Flag{configFlag, portFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bucketdb:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(c.String(configFlag.Name), c.Int(portFlag.Name))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := initLogger(&cfg)

	db := bucketdb.New(bucketdb.WithLogger(log))

	w := writer.New(db, cfg.Writer.QueueSize, log)
	w.Start(ctx)
	defer w.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Scanner.Enabled {
		scan := scanner.New(db.Reader(), scanner.Config{
			Interval:  cfg.Scanner.Interval,
			BatchSize: cfg.Scanner.BatchSize,
		}, log)
		scan.Start(ctx)
		defer scan.Stop()
		reg.MustRegister(metrics.NewBucketDBCollector(db, scan))
	} else {
		reg.MustRegister(metrics.NewBucketDBCollector(db, nil))
	}

	server := httpapi.NewServer(db.Reader(), w, httpapi.Options{
		Port:              strconv.Itoa(cfg.Server.Port),
		MinSplitBits:      cfg.DB.MinSplitBits,
		Factory:           bucket.Factory{Seed: cfg.DB.IDSeed},
		Gatherer:          reg,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Logger:            log,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	if err := server.Stop(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
