package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/analyst/agent/pkg/config"
	"github.com/malbeclabs/analyst/agent/pkg/memory"
	"github.com/malbeclabs/analyst/agent/pkg/metrics"
	"github.com/malbeclabs/analyst/agent/pkg/warehouse"
	"github.com/malbeclabs/analyst/agent/pkg/warehouse/clickhouse"
	"github.com/malbeclabs/analyst/agent/pkg/workflow"
	"github.com/malbeclabs/analyst/agent/pkg/workflow/analysis"
	"github.com/malbeclabs/analyst/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// godotenv does not override variables that are already set.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to listen on for prometheus metrics (or set METRICS_ADDR env var)")
	modelFlag := flag.String("model", "", "Anthropic model (or set ANALYST_MODEL env var)")
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	memoryBackendFlag := flag.String("memory-backend", "", "Memory backend: file, s3, postgres or redis (or set MEMORY_BACKEND env var)")
	memoryDirFlag := flag.String("memory-dir", "", "Directory for the file memory backend (or set MEMORY_DIR env var)")
	memoryMigrateFlag := flag.Bool("memory-migrate", false, "Apply memory migrations on startup (postgres backend)")
	stateOutFlag := flag.String("state-out", "", "Write the final session state as JSON to this file")
	flag.Parse()

	log := logger.New(*verboseFlag)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flag.CommandLine.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddrFlag
	}
	if flag.CommandLine.Changed("model") {
		cfg.Model = *modelFlag
	}
	if flag.CommandLine.Changed("clickhouse-addr") {
		cfg.ClickHouse.Addr = *clickhouseAddrFlag
	}
	if flag.CommandLine.Changed("memory-backend") {
		cfg.Memory.Backend = *memoryBackendFlag
	}
	if flag.CommandLine.Changed("memory-dir") {
		cfg.Memory.Dir = *memoryDirFlag
	}
	cfg.Memory.PostgresMigrate = *memoryMigrateFlag
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			log.Warn("sentry initialization failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go serveMetrics(log, cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.SentryDSN != "" {
		ctx = sentry.SetHubOnContext(ctx, sentry.CurrentHub().Clone())
	}

	ch, err := clickhouse.Open(ctx, log, cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer ch.Close()

	wh, err := warehouse.NewCachingWarehouse(&warehouse.CachingWarehouseConfig{
		Logger:    log,
		Warehouse: ch,
		TTL:       cfg.SchemaCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create warehouse cache: %w", err)
	}

	store, err := memory.Open(ctx, log, clockwork.NewRealClock(), cfg.Memory)
	if err != nil {
		return err
	}
	defer store.Close()

	term := NewTerminal(os.Stdin, os.Stdout)
	wc := &workflow.Config{
		Logger:     log,
		LLM:        workflow.NewAnthropicLLMClient(anthropic.Model(cfg.Model), cfg.MaxTokens),
		Warehouse:  wh,
		Memory:     store,
		Input:      term,
		OnProgress: term.Progress,
	}
	cfg.ApplyWorkflow(wc)

	wf, err := analysis.New(wc)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	st, err := wf.Run(ctx)
	if err != nil {
		return err
	}
	if *stateOutFlag != "" {
		if err := writeState(*stateOutFlag, st); err != nil {
			log.Warn("failed to write session state", "path", *stateOutFlag, "error", err)
		}
	}

	if !st.Done() {
		return fmt.Errorf("analysis failed (%s): %s", st.ErrorKind, st.ErrorMessage)
	}

	fmt.Fprintf(os.Stdout, "\n%s\n\n", st.Report())
	renderResults(os.Stdout, st.QueryResults)
	fmt.Fprintf(os.Stdout, "\nSession: %s\n", st.SessionID)
	return nil
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start prometheus metrics server listener", "error", err)
		return
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	http.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, nil); err != nil {
		log.Error("failed to start prometheus metrics server", "error", err)
	}
}

func writeState(path string, st *workflow.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
