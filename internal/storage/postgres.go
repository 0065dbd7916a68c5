package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"examshield/internal/license"
)

const defaultPostgresTable = "licenses"

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a PostgresBackend.
type PostgresOption func(*PostgresBackend)

// WithTableName sets the license table name. Backups go to <name>_backups.
func WithTableName(name string) PostgresOption {
	return func(b *PostgresBackend) {
		b.table = name
	}
}

// WithPostgresRetention keeps at most n snapshot backups. Zero keeps every snapshot.
func WithPostgresRetention(n int) PostgresOption {
	return func(b *PostgresBackend) {
		b.retention = n
	}
}

// withOwnedPool makes Close shut the pool down
func withOwnedPool() PostgresOption {
	return func(b *PostgresBackend) {
		b.ownsPool = true
	}
}

// PostgresBackend keeps one JSONB row per license key
type PostgresBackend struct {
	pool      *pgxpool.Pool
	table     string
	retention int
	ownsPool  bool
}

// NewPostgresBackend creates the license and backup tables if needed.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresBackend, error) {
	b := &PostgresBackend{
		pool:      pool,
		table:     defaultPostgresTable,
		retention: 50,
	}
	for _, opt := range opts {
		opt(b)
	}
	if !validIdentifier.MatchString(b.table) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", b.table)
	}
	if err := b.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return b, nil
}

// OpenPostgres connects to dsn and returns a backend that owns its pool
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b, err := NewPostgresBackend(ctx, pool, append(opts, withOwnedPool())...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) backupTable() string {
	return b.table + "_backups"
}

func (b *PostgresBackend) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			license_key TEXT PRIMARY KEY,
			record      JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS %s (
			id       BIGSERIAL PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			snapshot JSONB NOT NULL
		);
	`, b.table, b.backupTable())
	_, err := b.pool.Exec(ctx, query)
	return err
}

// Name implements license.Backend
func (b *PostgresBackend) Name() string { return "postgres" }

// Load reads every row into the key to record mapping
func (b *PostgresBackend) Load(ctx context.Context) (map[string]*license.Record, error) {
	query := fmt.Sprintf(`SELECT license_key, record FROM %s`, b.table)
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	defer rows.Close()

	db := map[string]*license.Record{}
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		var rec license.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode license %s: %w", license.MaskKey(key), err)
		}
		rec.Key = key
		db[key] = &rec
	}
	return db, rows.Err()
}

// Save replaces the table contents with db in one transaction, snapshotting
// the previous contents into the backup table first.
func (b *PostgresBackend) Save(ctx context.Context, db map[string]*license.Record) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	backup := fmt.Sprintf(`
		INSERT INTO %s (snapshot)
		SELECT COALESCE(jsonb_object_agg(license_key, record), '{}'::jsonb) FROM %s
	`, b.backupTable(), b.table)
	if _, err := tx.Exec(ctx, backup); err != nil {
		return fmt.Errorf("snapshot licenses: %w", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (license_key, record, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (license_key) DO UPDATE SET
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at
		WHERE %s.record IS DISTINCT FROM EXCLUDED.record
	`, b.table, b.table)

	keys := make([]string, 0, len(db))
	batch := &pgx.Batch{}
	for key, rec := range db {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode license %s: %w", license.MaskKey(key), err)
		}
		batch.Queue(upsert, key, raw)
		keys = append(keys, key)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert licenses: %w", err)
		}
	}

	remove := fmt.Sprintf(`DELETE FROM %s WHERE NOT (license_key = ANY($1))`, b.table)
	if _, err := tx.Exec(ctx, remove, keys); err != nil {
		return fmt.Errorf("delete stale licenses: %w", err)
	}

	if b.retention > 0 {
		prune := fmt.Sprintf(`
			DELETE FROM %s WHERE id NOT IN (
				SELECT id FROM %s ORDER BY id DESC LIMIT $1
			)
		`, b.backupTable(), b.backupTable())
		if _, err := tx.Exec(ctx, prune, b.retention); err != nil {
			return fmt.Errorf("prune backups: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit licenses: %w", err)
	}
	return nil
}

// BackupCount returns the number of retained snapshots
func (b *PostgresBackend) BackupCount(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.backupTable())
	if err := b.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backups: %w", err)
	}
	return count, nil
}

// Ping implements license.Backend
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close shuts the pool down when the backend opened it
func (b *PostgresBackend) Close() error {
	if b.ownsPool {
		b.pool.Close()
	}
	return nil
}
