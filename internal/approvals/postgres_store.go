package approvals

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/treasurer/internal/pagination"
)

// PostgresStore persists approval tickets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed approval store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ticketColumns = `id, request_id, requester_id, vendor, amount, currency,
			       reason, status, decided_by, decision_note, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, t *Ticket) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO approval_tickets (
			id, request_id, requester_id, vendor, amount, currency,
			reason, status, decided_by, decision_note, created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(38,18), $6,
			$7, $8, $9, $10, $11, $12
		)`,
		t.ID, t.RequestID, nullString(t.RequesterID), t.Vendor, t.Amount, t.Currency,
		t.Reason, string(t.Status), nullString(t.DecidedBy), nullString(t.DecisionNote),
		t.CreatedAt, nullTime(t.ResolvedAt),
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		// Partial unique index on (request_id) WHERE status = 'PENDING'
		return ErrDuplicateTicket
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM approval_tickets WHERE id = $1`, id)

	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (p *PostgresStore) GetPendingByRequestID(ctx context.Context, requestID string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM approval_tickets
		 WHERE request_id = $1 AND status = 'PENDING'`, requestID)

	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (p *PostgresStore) ListPending(ctx context.Context, after *pagination.Cursor, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if after != nil {
		rows, err = p.db.QueryContext(ctx,
			`SELECT `+ticketColumns+` FROM approval_tickets
			 WHERE status = 'PENDING' AND (created_at, id) > ($1, $2)
			 ORDER BY created_at ASC, id ASC LIMIT $3`,
			after.CreatedAt, after.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT `+ticketColumns+` FROM approval_tickets
			 WHERE status = 'PENDING' ORDER BY created_at ASC, id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, t *Ticket) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE approval_tickets SET
			status = $1, decided_by = $2, decision_note = $3, resolved_at = $4
		WHERE id = $5`,
		string(t.Status), nullString(t.DecidedBy), nullString(t.DecisionNote),
		nullTime(t.ResolvedAt), t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (p *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approval_tickets WHERE status = 'PENDING'`).Scan(&count)
	return count, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(s scanner) (*Ticket, error) {
	t := &Ticket{}
	var (
		requesterID  sql.NullString
		decidedBy    sql.NullString
		decisionNote sql.NullString
		resolvedAt   sql.NullTime
		status       string
	)

	err := s.Scan(
		&t.ID, &t.RequestID, &requesterID, &t.Vendor, &t.Amount, &t.Currency,
		&t.Reason, &status, &decidedBy, &decisionNote, &t.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.RequesterID = requesterID.String
	t.DecidedBy = decidedBy.String
	t.DecisionNote = decisionNote.String
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}

	return t, nil
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
