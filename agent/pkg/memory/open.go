package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	backend "github.com/redis/go-redis/v9"

	"github.com/malbeclabs/analyst/agent/pkg/metrics"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	Dir string // file

	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3EndpointURL     string
	S3AccessKeyID     string
	S3SecretAccessKey string

	PostgresURL     string
	PostgresMigrate bool // Apply migrations on open

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// Open builds the configured backend and wraps it with metrics.
func Open(ctx context.Context, log *slog.Logger, clock clockwork.Clock, cfg Config) (Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", BackendFile:
		cfg.Backend = BackendFile
		store, err = NewFileStore(FileStoreConfig{Logger: log, Clock: clock, Dir: cfg.Dir})
	case BackendS3:
		store, err = NewS3Store(ctx, S3StoreConfig{
			Logger:          log,
			Clock:           clock,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			EndpointURL:     cfg.S3EndpointURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	case BackendPostgres:
		store, err = openPostgres(ctx, log, clock, cfg)
	case BackendRedis:
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", pingErr)
		}
		store, err = NewRedisStore(RedisStoreConfig{Logger: log, Clock: clock, Client: client, TTL: cfg.RedisTTL})
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s memory backend: %w", cfg.Backend, err)
	}

	log.Info("memory: backend ready", "backend", cfg.Backend)
	return Instrument(store, cfg.Backend), nil
}

func openPostgres(ctx context.Context, log *slog.Logger, clock clockwork.Clock, cfg Config) (Store, error) {
	if cfg.PostgresURL == "" {
		return nil, errors.New("postgres URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if cfg.PostgresMigrate {
		if err := Migrate(ctx, log, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	store, err := NewPostgresStore(PostgresStoreConfig{Logger: log, Clock: clock, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &ownedPoolStore{PostgresStore: store, pool: pool}, nil
}

// ownedPoolStore closes the pool that Open created.
type ownedPoolStore struct {
	*PostgresStore
	pool *pgxpool.Pool
}

func (s *ownedPoolStore) Close() error {
	s.pool.Close()
	return nil
}

// Instrument records an operations counter for every call on store.
func Instrument(store Store, backendName string) Store {
	return &instrumented{inner: store, backend: backendName}
}

type instrumented struct {
	inner   Store
	backend string
}

func (s *instrumented) Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error) {
	key, err := s.inner.Store(ctx, sessionID, payload, summary)
	metrics.RecordMemoryOp(s.backend, "store", err)
	return key, err
}

func (s *instrumented) Retrieve(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Retrieve(ctx, key)
	metrics.RecordMemoryOp(s.backend, "retrieve", ignoreNotFound(err))
	return data, err
}

func (s *instrumented) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := s.inner.Get(ctx, key)
	metrics.RecordMemoryOp(s.backend, "get", ignoreNotFound(err))
	return e, err
}

func (s *instrumented) List(ctx context.Context, sessionID string) ([]EntryInfo, error) {
	infos, err := s.inner.List(ctx, sessionID)
	metrics.RecordMemoryOp(s.backend, "list", err)
	return infos, err
}

func (s *instrumented) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.inner.Cleanup(ctx, olderThan)
	metrics.RecordMemoryOp(s.backend, "cleanup", err)
	return n, err
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}

// ignoreNotFound counts a miss as a successful operation.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
