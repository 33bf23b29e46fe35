package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrysalis/replicant/internal/bootstrap"
	"github.com/chrysalis/replicant/internal/config"
	"github.com/chrysalis/replicant/internal/control"
	"github.com/chrysalis/replicant/internal/metrics"
	"github.com/chrysalis/replicant/internal/replicant"
	"github.com/chrysalis/replicant/internal/store/boltdb"
	"github.com/chrysalis/replicant/internal/wal"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()

	showVersion := flag.Bool("version", false, "Show version information")
	flag.StringVar(&cfg.AgentID, "agentId", "", "Agent identifier (required)")
	flag.StringVar(&cfg.InstanceID, "instanceId", "", "Unique instance identifier (required)")
	flag.StringVar(&cfg.HTTPSBase, "httpsBase", "", "Base HTTPS URL of the hub (required)")
	flag.StringVar(&cfg.CRDTWs, "crdtWs", "", "WebSocket URL of the hub sync endpoint (required)")
	flag.StringVar(&cfg.StorageDir, "storageDir", "", "Directory for durable local state (required)")
	flag.StringVar(&cfg.MetricsAddr, "metricsAddr", "", "Address for Prometheus metrics endpoint (disabled if empty)")
	flag.StringVar(&cfg.LogLevel, "logLevel", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Float64Var(&cfg.Quorum, "quorum", cfg.Quorum, "Vote weight fraction a candidate must exceed to win")
	flag.DurationVar(&cfg.PollTimeout, "pollTimeout", cfg.PollTimeout, "Idle poll resolution timeout")
	flag.DurationVar(&cfg.StaleAfter, "staleAfter", cfg.StaleAfter, "Local state age that forces a fresh bootstrap")
	flag.DurationVar(&cfg.FlushInterval, "flushInterval", cfg.FlushInterval, "Outbox flush period")
	flag.DurationVar(&cfg.MaxBackoff, "maxBackoff", cfg.MaxBackoff, "Reconnect backoff ceiling")
	flag.DurationVar(&cfg.StopTimeout, "stopTimeout", cfg.StopTimeout, "Graceful shutdown budget")

	flag.Parse()

	if *showVersion {
		printVersion()
		return 0
	}

	// stdout принадлежит управляющему протоколу, вся диагностика — в stderr
	logger := newLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 2
	}

	walLog, err := wal.Open(cfg.StorageDir, logger)
	if err != nil {
		logger.Error("failed to open wal", "error", err)
		return 1
	}

	meta, err := boltdb.New(cfg.StorageDir)
	if err != nil {
		logger.Error("failed to open metadata store", "error", err)
		walLog.Close()
		return 1
	}

	m := metrics.New()
	fetcher := bootstrap.NewClient(cfg.HTTPSBase, logger)
	replica := replicant.New(cfg, walLog, meta, fetcher, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := replica.Start(ctx); err != nil {
		logger.Error("failed to start replica", "error", err)
		walLog.Close()
		meta.Close()
		return 1
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddr, m, logger)
	}

	// Управляющий протокол ведет процесс: exit или EOF на stdin,
	// как и сигнал, завершают его штатно
	handler := control.New(replica, os.Stdin, os.Stdout, logger)
	controlDone := make(chan error, 1)
	go func() {
		controlDone <- handler.Run(ctx)
	}()

	exitCode := 0
	select {
	case err := <-controlDone:
		if err != nil {
			logger.Error("control protocol failed", "error", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+time.Second)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	if err := replica.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop replica", "error", err)
		exitCode = 1
	}

	return exitCode
}

// newLogger настраивает slog на stderr с заданным уровнем
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// serveMetrics поднимает HTTP endpoint /metrics в фоне
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return srv
}

func printVersion() {
	fmt.Printf("Chrysalis Replicant\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
