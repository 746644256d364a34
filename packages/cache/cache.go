// Package cache stores fetched resources in a SQLite database, keyed by
// client cache id.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id         TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	expires_at INTEGER NOT NULL
)`

// Cache is a resource cache backed by SQLite. It is safe for concurrent use.
type Cache struct {
	db           *sql.DB
	logger       *slog.Logger
	now          func() time.Time
	queryTimeout time.Duration
}

type Option func(*Cache)

// WithLogger sets the cache logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Open opens the cache database and creates its table if needed.
// Supported connection strings:
//   - sqlite://path/to/cache.db
//   - sqlite:./cache.db
func Open(connectionString string, opts ...Option) (*Cache, error) {
	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	c := &Cache{
		db:           db,
		logger:       slog.Default(),
		now:          time.Now,
		queryTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the database connection
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the unexpired data stored under id. A hit moves the expiry
// to maxAge from now.
func (c *Cache) Get(id string, maxAge time.Duration) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout)
	defer cancel()

	now := c.now()
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM resources WHERE id = ? AND expires_at > ?`, id, now.UnixNano()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE resources SET expires_at = ? WHERE id = ?`, now.Add(maxAge).UnixNano(), id); err != nil {
		c.logger.Warn("failed to refresh cache entry", "id", id, "error", err)
	}
	return data, true, nil
}

// Put stores data under id until maxAge from now, replacing any entry.
func (c *Cache) Put(id string, data []byte, maxAge time.Duration) error {
	if id == "" {
		return errors.New("cache id must not be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout)
	defer cancel()

	if data == nil {
		data = []byte{}
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO resources (id, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		id, data, c.now().Add(maxAge).UnixNano())
	if err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (c *Cache) Prune() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `DELETE FROM resources WHERE expires_at <= ?`, c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cache prune failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache prune failed: %w", err)
	}
	if n > 0 {
		c.logger.Debug("pruned cache entries", "count", n)
	}
	return n, nil
}

func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)

	switch {
	case strings.HasPrefix(connStr, "sqlite://"):
		return strings.TrimPrefix(connStr, "sqlite://"), nil
	case strings.HasPrefix(connStr, "sqlite:"):
		return strings.TrimPrefix(connStr, "sqlite:"), nil
	default:
		return "", fmt.Errorf("unsupported cache connection string: %q", connStr)
	}
}
