package policy

import (
	"context"
	"database/sql"
)

// PostgresStore persists config values in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed config store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetLimit(ctx context.Context, name string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM system_config WHERE key = $1`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrLimitNotSet
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (p *PostgresStore) SetLimit(ctx context.Context, name, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		name, value)
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
