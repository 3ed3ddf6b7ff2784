package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/analyst/admin/internal/admin"
	"github.com/malbeclabs/analyst/agent/pkg/config"
	"github.com/malbeclabs/analyst/agent/pkg/memory"
	"github.com/malbeclabs/analyst/agent/pkg/warehouse/clickhouse"
	"github.com/malbeclabs/analyst/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Memory configuration
	memoryBackendFlag := flag.String("memory-backend", "", "Memory backend: file, s3, postgres or redis (or set MEMORY_BACKEND env var)")
	memoryDirFlag := flag.String("memory-dir", "", "Directory for the file memory backend (or set MEMORY_DIR env var)")
	memoryPostgresURLFlag := flag.String("memory-postgres-url", "", "Postgres URL for the postgres memory backend (or set MEMORY_POSTGRES_URL env var)")
	retentionFlag := flag.Duration("retention", 0, "Remove memory entries older than this (or set MEMORY_RETENTION env var)")

	// Commands
	memoryMigrateFlag := flag.Bool("memory-migrate", false, "Run memory database migrations using goose (postgres backend)")
	memoryListFlag := flag.String("memory-list", "", "List the memory entries of a session")
	memoryGetFlag := flag.String("memory-get", "", "Print the payload stored under a memory key")
	memoryCleanupFlag := flag.Bool("memory-cleanup", false, "Remove memory entries older than the retention period")
	catalogFlag := flag.Bool("catalog", false, "List warehouse datasets, tables and column counts")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")

	flag.Parse()

	log := logger.New(*verboseFlag)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flag.CommandLine.Changed("memory-backend") {
		cfg.Memory.Backend = *memoryBackendFlag
	}
	if flag.CommandLine.Changed("memory-dir") {
		cfg.Memory.Dir = *memoryDirFlag
	}
	if flag.CommandLine.Changed("memory-postgres-url") {
		cfg.Memory.PostgresURL = *memoryPostgresURLFlag
	}
	if flag.CommandLine.Changed("retention") {
		cfg.MemoryRetention = *retentionFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *catalogFlag {
		ch, err := clickhouse.Open(ctx, log, cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer ch.Close()
		return admin.PrintCatalog(ctx, os.Stdout, ch)
	}

	if !*memoryMigrateFlag && *memoryListFlag == "" && *memoryGetFlag == "" && !*memoryCleanupFlag {
		flag.Usage()
		return nil
	}

	if *memoryMigrateFlag {
		if cfg.Memory.Backend != memory.BackendPostgres {
			return fmt.Errorf("--memory-migrate requires the postgres backend")
		}
		if *dryRunFlag {
			fmt.Println("[DRY RUN] Would apply memory migrations")
			return nil
		}
		cfg.Memory.PostgresMigrate = true
	}

	store, err := memory.Open(ctx, log, clockwork.NewRealClock(), cfg.Memory)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case *memoryListFlag != "":
		return admin.ListEntries(ctx, os.Stdout, store, *memoryListFlag)
	case *memoryGetFlag != "":
		return admin.GetEntry(ctx, os.Stdout, store, *memoryGetFlag)
	case *memoryCleanupFlag:
		return admin.Cleanup(ctx, log, os.Stdout, store, admin.CleanupConfig{
			Retention: cfg.MemoryRetention,
			DryRun:    *dryRunFlag,
		})
	}

	log.Info("admin: memory migrations applied")
	return nil
}
