// Package ledger records payment intent durably before any irreversible
// chain action.
//
// Every payment that passes the policy gate gets a reservation:
//
//  1. Reserve — RESERVED row written before the chain is touched
//  2. Commit  — RESERVED → COMMITTED once a settlement reference exists
//  3. Release — RESERVED → RELEASED when the payment definitively failed
//     without a broadcast
//
// A COMMITTED reservation always carries a settlement reference; a RELEASED
// one never does. At most one open reservation exists per request ID: a
// second Reserve for the same request fails with ErrInFlight until the
// first reaches a terminal state, so concurrent retries cannot double-book
// intent or double-broadcast.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/treasurer/internal/idgen"
)

var (
	ErrReservationNotFound = errors.New("ledger: reservation not found")
	ErrDuplicateRequest    = errors.New("ledger: reservation already exists for request")
	ErrInFlight            = errors.New("ledger: reservation in flight for request")
	ErrInvalidTransition   = errors.New("ledger: invalid reservation state transition")
	ErrAlreadyFinalized    = errors.New("ledger: reservation already finalized")
	ErrMissingSettlement   = errors.New("ledger: commit requires a settlement reference")
)

// State represents the lifecycle stage of a reservation.
type State string

const (
	StateReserved  State = "RESERVED"
	StateCommitted State = "COMMITTED"
	StateReleased  State = "RELEASED"
)

// Reservation is a durable record of intent to pay.
type Reservation struct {
	ID            string     `json:"id"`
	RequestID     string     `json:"requestId"`
	RequesterID   string     `json:"requesterId,omitempty"`
	Vendor        string     `json:"vendor"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	State         State      `json:"state"`
	SettlementRef string     `json:"settlementRef,omitempty"`
	ReleaseReason string     `json:"releaseReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true once the reservation has been committed or released.
func (r *Reservation) IsTerminal() bool {
	return r.State == StateCommitted || r.State == StateReleased
}

// Store persists reservations. Create must enforce uniqueness on RequestID
// and return ErrDuplicateRequest on conflict.
type Store interface {
	Create(ctx context.Context, r *Reservation) error
	GetByRequestID(ctx context.Context, requestID string) (*Reservation, error)
	Update(ctx context.Context, r *Reservation) error
}

// Reservations implements the funds-reservation protocol over a Store.
type Reservations struct {
	store  Store
	logger *slog.Logger
}

// NewReservations creates a new reservation service.
func NewReservations(store Store, logger *slog.Logger) *Reservations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reservations{store: store, logger: logger}
}

// ReserveRequest carries the immutable payment fields recorded with the
// reservation.
type ReserveRequest struct {
	RequestID   string
	RequesterID string
	Vendor      string
	Amount      string
	Currency    string
}

// Reserve writes a RESERVED record for the request. While that record is
// open, a second Reserve for the same request ID fails with ErrInFlight so
// only one saga attempt at a time holds the reservation. A request whose
// reservation already reached a terminal state cannot be re-reserved.
func (s *Reservations) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if existing, err := s.store.GetByRequestID(ctx, req.RequestID); err == nil {
		if existing.IsTerminal() {
			return nil, fmt.Errorf("%w: request %s is %s", ErrAlreadyFinalized, req.RequestID, existing.State)
		}
		return nil, fmt.Errorf("%w: request %s", ErrInFlight, req.RequestID)
	} else if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("ledger: lookup reservation for %s: %w", req.RequestID, err)
	}

	r := &Reservation{
		ID:          idgen.WithPrefix("rsv_"),
		RequestID:   req.RequestID,
		RequesterID: req.RequesterID,
		Vendor:      req.Vendor,
		Amount:      req.Amount,
		Currency:    req.Currency,
		State:       StateReserved,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			// Lost a race with a concurrent reserve for the same request.
			existing, getErr := s.store.GetByRequestID(ctx, req.RequestID)
			if getErr != nil {
				return nil, fmt.Errorf("ledger: reservation conflict for %s: %w", req.RequestID, getErr)
			}
			if existing.IsTerminal() {
				return nil, fmt.Errorf("%w: request %s is %s", ErrAlreadyFinalized, req.RequestID, existing.State)
			}
			return nil, fmt.Errorf("%w: request %s", ErrInFlight, req.RequestID)
		}
		return nil, fmt.Errorf("ledger: write reservation for %s: %w", req.RequestID, err)
	}

	return r, nil
}

// Commit transitions RESERVED → COMMITTED with the settlement reference.
// The transfer has already been broadcast when Commit is called, so a
// failed write is retried once and then surfaced for manual resolution
// rather than compensated.
func (s *Reservations) Commit(ctx context.Context, r *Reservation, settlementRef string) error {
	if settlementRef == "" {
		return ErrMissingSettlement
	}
	if r.State != StateReserved {
		return fmt.Errorf("%w: commit from %s", ErrInvalidTransition, r.State)
	}

	now := time.Now()
	r.State = StateCommitted
	r.SettlementRef = settlementRef
	r.ResolvedAt = &now

	if err := s.store.Update(ctx, r); err != nil {
		if retryErr := s.store.Update(ctx, r); retryErr != nil {
			// CRITICAL: the transfer is on chain but the ledger still says
			// RESERVED. There is no inverse operation for a broadcast.
			s.logger.Error("CRITICAL: transfer broadcast but commit write failed",
				"reservation_id", r.ID,
				"settlement_ref", settlementRef,
				"error", retryErr)
			return fmt.Errorf("ledger: commit reservation %s after broadcast (requires manual resolution): %w", r.ID, err)
		}
	}
	return nil
}

// Release transitions RESERVED → RELEASED with the failure reason. Legal
// only while no transfer has been broadcast for the request.
func (s *Reservations) Release(ctx context.Context, r *Reservation, reason string) error {
	if r.State != StateReserved {
		return fmt.Errorf("%w: release from %s", ErrInvalidTransition, r.State)
	}

	now := time.Now()
	r.State = StateReleased
	r.ReleaseReason = reason
	r.ResolvedAt = &now

	if err := s.store.Update(ctx, r); err != nil {
		return fmt.Errorf("ledger: release reservation %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the reservation recorded for a request ID.
func (s *Reservations) Get(ctx context.Context, requestID string) (*Reservation, error) {
	return s.store.GetByRequestID(ctx, requestID)
}
