// Package clickhouse implements the analysis warehouse on ClickHouse.
// Datasets map to ClickHouse databases.
package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v5"

	"github.com/malbeclabs/analyst/agent/pkg/metrics"
	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

const (
	// DefaultMaxResultBytes caps the bytes a single query may return server side.
	DefaultMaxResultBytes = 256 << 20

	modeNullable = "NULLABLE"
	modeRequired = "REQUIRED"
	modeRepeated = "REPEATED"
)

// systemDatabases are never offered as datasets.
var systemDatabases = []string{"system", "INFORMATION_SCHEMA", "information_schema"}

// Config holds the ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool

	ConnectTries   uint  // Ping attempts on Open (default 5)
	MaxResultBytes int64 // Server-side result byte cap (default 256 MiB)
}

func (cfg *Config) Validate() error {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:9000"
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.ConnectTries == 0 {
		cfg.ConnectTries = 5
	}
	if cfg.MaxResultBytes == 0 {
		cfg.MaxResultBytes = DefaultMaxResultBytes
	}
	return nil
}

// Client implements workflow.Warehouse on a ClickHouse connection.
type Client struct {
	log            *slog.Logger
	conn           driver.Conn
	maxResultBytes int64
}

// Open connects to ClickHouse and pings it with exponential backoff.
func Open(ctx context.Context, log *slog.Logger, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("clickhouse: connecting", "addr", cfg.Addr, "database", cfg.Database, "username", cfg.Username, "secure", cfg.Secure)

	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}

	// Enable TLS for ClickHouse Cloud (port 9440)
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse connection: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			log.Warn("clickhouse: ping failed, retrying", "attempt", attempt)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, conn.Ping(pingCtx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.ConnectTries))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info("clickhouse: connected")
	return New(log, conn, cfg.MaxResultBytes), nil
}

// New wraps an existing connection.
func New(log *slog.Logger, conn driver.Conn, maxResultBytes int64) *Client {
	if maxResultBytes <= 0 {
		maxResultBytes = DefaultMaxResultBytes
	}
	return &Client{log: log, conn: conn, maxResultBytes: maxResultBytes}
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ListDatasets returns the non-system databases ordered by name.
func (c *Client) ListDatasets(ctx context.Context) ([]string, error) {
	return c.queryStrings(ctx, `
		SELECT name
		FROM system.databases
		WHERE name NOT IN ($1, $2, $3)
		ORDER BY name
	`, systemDatabases[0], systemDatabases[1], systemDatabases[2])
}

// ListTables returns the tables and views of a database ordered by name.
func (c *Client) ListTables(ctx context.Context, dataset string) ([]string, error) {
	return c.queryStrings(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = $1
		  AND NOT is_temporary
		  AND name NOT LIKE '.inner%'
		ORDER BY name
	`, dataset)
}

func (c *Client) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	start := time.Now()
	rows, err := c.conn.Query(ctx, query, args...)
	metrics.RecordWarehouseQuery(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return out, nil
}

// GetTableSchema returns the columns of a table in declaration order.
func (c *Client) GetTableSchema(ctx context.Context, dataset, table string) ([]workflow.Column, error) {
	start := time.Now()
	rows, err := c.conn.Query(ctx, `
		SELECT name, type, comment
		FROM system.columns
		WHERE database = $1 AND table = $2
		ORDER BY position
	`, dataset, table)
	metrics.RecordWarehouseQuery(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns for %s.%s: %w", dataset, table, err)
	}
	defer rows.Close()

	var cols []workflow.Column
	for rows.Next() {
		var name, typ, comment string
		if err := rows.Scan(&name, &typ, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, workflow.Column{
			Name:        name,
			Type:        typ,
			Mode:        ColumnMode(typ),
			Description: comment,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", dataset, table)
	}
	return cols, nil
}

// ColumnMode maps a ClickHouse type to NULLABLE, REPEATED or REQUIRED.
func ColumnMode(typ string) string {
	t := typ
	if inner, ok := strings.CutPrefix(t, "LowCardinality("); ok {
		t = strings.TrimSuffix(inner, ")")
	}
	switch {
	case strings.HasPrefix(t, "Nullable("):
		return modeNullable
	case strings.HasPrefix(t, "Array("):
		return modeRepeated
	default:
		return modeRequired
	}
}

// ExecuteQuery runs sql with a timeout and row cap. The row cap is applied
// both server side and while reading.
func (c *Client) ExecuteQuery(ctx context.Context, sql string, opts workflow.QueryOptions) (*workflow.TabularResult, error) {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// readonly=2 rejects writes and DDL but still lets the query carry its own settings.
	settings := clickhouse.Settings{
		"readonly":         2,
		"max_result_bytes": c.maxResultBytes,
	}
	if opts.Timeout > 0 {
		settings["max_execution_time"] = max(1, int(opts.Timeout.Seconds()))
	}
	if opts.MaxRows > 0 {
		settings["max_result_rows"] = opts.MaxRows
		settings["result_overflow_mode"] = "break"
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(settings))

	start := time.Now()
	result, err := c.execute(ctx, sql, opts.MaxRows)
	duration := time.Since(start)
	metrics.RecordWarehouseQuery(duration, err)
	if err != nil {
		c.log.Debug("clickhouse: query failed", "error", err, "duration", duration)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, workflow.NewQueryError(sql, err)
	}
	c.log.Debug("clickhouse: query complete", "rows", result.RowCount(), "duration", duration)
	return result, nil
}

func (c *Client) execute(ctx context.Context, sql string, maxRows int) (*workflow.TabularResult, error) {
	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	columns := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = ct.Name()
	}

	resultRows := []map[string]any{}
	for rows.Next() {
		if maxRows > 0 && len(resultRows) >= maxRows {
			break
		}
		// Create properly typed values based on column types
		values := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = reflect.ValueOf(values[i]).Elem().Interface()
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Replace NaN/Inf and driver-specific types so rows serialize cleanly
	workflow.SanitizeRows(resultRows)

	return &workflow.TabularResult{Columns: columns, Rows: resultRows}, nil
}
