package securestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresBackend stores records in a single table keyed by (namespace, key).
// The pool is owned by the caller; Close is never called on it.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	table     string
	namespace string
}

// PostgresOption configures a PostgresBackend.
type PostgresOption func(*PostgresBackend) error

// WithTable overrides the table name (default "sessionguard_store").
func WithTable(table string) PostgresOption {
	return func(p *PostgresBackend) error {
		table = strings.TrimSpace(table)
		if !pgIdentRe.MatchString(table) {
			return fmt.Errorf("%w: invalid table identifier", ErrInvalidConfig)
		}
		p.table = table
		return nil
	}
}

// WithNamespace scopes the backend to one logical store inside the table.
func WithNamespace(namespace string) PostgresOption {
	return func(p *PostgresBackend) error {
		p.namespace = namespace
		return nil
	}
}

// NewPostgresBackend constructs a PostgresBackend. Call EnsureSchema once
// before first use unless the table is managed elsewhere.
func NewPostgresBackend(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresBackend, error) {
	p := &PostgresBackend{
		pool:      pool,
		table:     "sessionguard_store",
		namespace: "default",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return p, nil
}

func (p *PostgresBackend) ident() string {
	return pgx.Identifier{p.table}.Sanitize()
}

// EnsureSchema creates the backing table if it does not exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	sql := `CREATE TABLE IF NOT EXISTS ` + p.ident() + ` (
	namespace  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	expires_at TIMESTAMPTZ NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`
	if _, err := p.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM `+p.ident()+` WHERE namespace = $1 AND key = $2`,
		p.namespace, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return value, nil
}

func (p *PostgresBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		expiresAt = &t
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.ident()+` (namespace, key, value, expires_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		p.namespace, key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (p *PostgresBackend) Remove(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM `+p.ident()+` WHERE namespace = $1 AND key = $2`,
		p.namespace, key,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (p *PostgresBackend) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM `+p.ident()+` WHERE namespace = $1`, p.namespace)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (p *PostgresBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM `+p.ident()+` WHERE namespace = $1 ORDER BY key`,
		p.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return keys, nil
}

// PurgeExpired deletes rows whose retention hint has passed. The Sweeper calls
// it after each CleanExpired pass.
func (p *PostgresBackend) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM `+p.ident()+` WHERE namespace = $1 AND expires_at IS NOT NULL AND expires_at <= now()`,
		p.namespace,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
