package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists reservations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reservation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reservationColumns = `id, request_id, requester_id, vendor, amount, currency,
		       state, settlement_ref, release_reason, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, r *Reservation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reservations (
			id, request_id, requester_id, vendor, amount, currency,
			state, settlement_ref, release_reason, created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(38,18), $6,
			$7, $8, $9, $10, $11
		)`,
		r.ID, r.RequestID, nullString(r.RequesterID), r.Vendor, r.Amount, r.Currency,
		string(r.State), nullString(r.SettlementRef), nullString(r.ReleaseReason),
		r.CreatedAt, nullTime(r.ResolvedAt),
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateRequest
	}
	return err
}

func (p *PostgresStore) GetByRequestID(ctx context.Context, requestID string) (*Reservation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE request_id = $1`, requestID)

	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, ErrReservationNotFound
	}
	return r, err
}

// Update writes a state transition. The WHERE clause pins the current state
// to RESERVED so a write that lost a race with a finalizing write affects
// zero rows instead of overwriting a terminal record.
func (p *PostgresStore) Update(ctx context.Context, r *Reservation) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE reservations SET
			state = $1, settlement_ref = $2, release_reason = $3, resolved_at = $4
		WHERE id = $5 AND state = 'RESERVED'`,
		string(r.State), nullString(r.SettlementRef), nullString(r.ReleaseReason),
		nullTime(r.ResolvedAt), r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from one already finalized.
		var state string
		err := p.db.QueryRowContext(ctx,
			`SELECT state FROM reservations WHERE id = $1`, r.ID).Scan(&state)
		if err == sql.ErrNoRows {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: reservation %s is %s", ErrInvalidTransition, r.ID, state)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(s scanner) (*Reservation, error) {
	r := &Reservation{}
	var (
		requesterID   sql.NullString
		settlementRef sql.NullString
		releaseReason sql.NullString
		resolvedAt    sql.NullTime
		state         string
	)

	err := s.Scan(
		&r.ID, &r.RequestID, &requesterID, &r.Vendor, &r.Amount, &r.Currency,
		&state, &settlementRef, &releaseReason, &r.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = State(state)
	r.RequesterID = requesterID.String
	r.SettlementRef = settlementRef.String
	r.ReleaseReason = releaseReason.String
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}

	return r, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
