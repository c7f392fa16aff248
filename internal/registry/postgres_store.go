package registry

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists vendors in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed vendor store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, v *Vendor) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vendors (name, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`,
		normalizeName(v.Name), v.Address, v.CreatedAt, v.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrVendorExists
	}
	return err
}

func (p *PostgresStore) GetByName(ctx context.Context, name string) (*Vendor, error) {
	v := &Vendor{}
	err := p.db.QueryRowContext(ctx, `
		SELECT name, address, created_at, updated_at
		FROM vendors WHERE name = $1`, normalizeName(name)).
		Scan(&v.Name, &v.Address, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrVendorNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Vendor, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, address, created_at, updated_at
		FROM vendors ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Vendor
	for rows.Next() {
		v := &Vendor{}
		if err := rows.Scan(&v.Name, &v.Address, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, name string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM vendors WHERE name = $1`, normalizeName(name))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrVendorNotFound
	}
	return nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
