// Package postgres provides a PostgreSQL implementation of the gateway's
// storage contracts. One pgx/v5 connection pool backs both the key-value
// namespace (kv_entries, with lazy TTL expiry) and the request log
// (request_logs).
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelgate/modelgate/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a PostgreSQL-backed KV and RequestLogStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements both contracts at compile time.
var (
	_ storage.KV              = (*Store)(nil)
	_ storage.RequestLogStore = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get returns the value stored under key. Expired entries are treated as
// missing; cleanup of the dead row is left to the next Put of the same key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying kv entry: %w", err)
	}
	return value, nil
}

// Put stores value under key, replacing any existing entry. A positive ttl
// sets expires_at; zero clears it.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("upserting kv entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM kv_entries WHERE key = $1", key); err != nil {
		return fmt.Errorf("deleting kv entry: %w", err)
	}
	return nil
}

// List returns all live keys beginning with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key FROM kv_entries
		WHERE key LIKE $1 || '%' AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing kv entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning kv key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Insert appends one request log row.
func (s *Store) Insert(ctx context.Context, log *storage.RequestLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_logs (
			id, user_id, provider, model,
			prompt_tokens, completion_tokens, total_tokens,
			latency_ms, cost_usd, timestamp, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		log.ID, log.UserID, log.Provider, log.Model,
		log.PromptTokens, log.CompletionTokens, log.TotalTokens,
		log.LatencyMS, log.CostUSD, log.Timestamp, log.Success,
		nullString(log.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

// UsageByUser aggregates a caller's logs since the given time by provider.
func (s *Store) UsageByUser(ctx context.Context, userID string, since time.Time) ([]storage.ProviderUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider,
		       COUNT(*),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM request_logs
		WHERE user_id = $1 AND timestamp >= $2
		GROUP BY provider
		ORDER BY provider
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var out []storage.ProviderUsage
	for rows.Next() {
		var u storage.ProviderUsage
		if err := rows.Scan(&u.Provider, &u.RequestCount, &u.TotalTokens, &u.TotalCostUSD, &u.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// migrate brings the schema up to date. Each embedded migrations/NNN_*.sql
// file runs at most once, in filename order, inside its own transaction.
// Applied versions are tracked in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("migration %s: file name must start with a version number", name)
		}
		if applied[version] {
			continue
		}

		ddl, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.applyMigration(ctx, version, string(ddl)); err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		slog.Info("applied migration", "file", name, "version", version)
	}
	return nil
}

// appliedVersions reads schema_migrations, tolerating its absence on a
// fresh database (the first migration creates it).
func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return applied, nil
	}
	defer rows.Close()

	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, version int, ddl string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING",
		version,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
