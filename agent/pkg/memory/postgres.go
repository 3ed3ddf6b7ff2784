package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
)

// PostgresStoreConfig configures a PostgresStore.
type PostgresStoreConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Pool   *pgxpool.Pool
}

func (c *PostgresStoreConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// PostgresStore keeps entries in the memory_entries table.
type PostgresStore struct {
	log   *slog.Logger
	clock clockwork.Clock
	pool  *pgxpool.Pool
}

// NewPostgresStore returns a store on an existing pool. Run Migrate first.
func NewPostgresStore(cfg PostgresStoreConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PostgresStore{log: cfg.Logger, clock: cfg.Clock, pool: cfg.Pool}, nil
}

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate applies the embedded memory schema migrations using goose.
func Migrate(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	log.Info("running memory store migrations with goose")

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(MigrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "db/migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("memory store migrations completed successfully")
	return nil
}

// Store inserts payload under a new key.
func (s *PostgresStore) Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error) {
	return storeWithUniqueKey(sessionID, func(key string) (bool, error) {
		if payload == nil {
			payload = []byte{}
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO memory_entries (key, session_id, summary, payload, size, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO NOTHING
		`, key, sessionID, summary, payload, len(payload), s.clock.Now().UTC())
		if err != nil {
			return false, fmt.Errorf("failed to insert memory entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
		s.log.Debug("memory: stored payload", "key", key, "bytes", len(payload))
		return true, nil
	})
}

// Retrieve returns the payload stored under key.
func (s *PostgresStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM memory_entries WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory entry: %w", err)
	}
	return payload, nil
}

// Get returns the entry stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx, `
		SELECT key, session_id, summary, payload, created_at
		FROM memory_entries WHERE key = $1
	`, key).Scan(&e.Key, &e.SessionID, &e.Summary, &e.Payload, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory entry: %w", err)
	}
	return &e, nil
}

// List returns the entries of a session, newest first.
func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]EntryInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, session_id, summary, created_at, size
		FROM memory_entries
		WHERE session_id = $1
		ORDER BY created_at DESC, key
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory entries: %w", err)
	}
	defer rows.Close()

	var out []EntryInfo
	for rows.Next() {
		var info EntryInfo
		if err := rows.Scan(&info.Key, &info.SessionID, &info.Summary, &info.CreatedAt, &info.Size); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memory entries: %w", err)
	}
	return out, nil
}

// Cleanup deletes entries older than olderThan.
func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan).UTC()
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up memory entries: %w", err)
	}
	removed := int(tag.RowsAffected())
	if removed > 0 {
		s.log.Info("memory: cleaned up old entries", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}
