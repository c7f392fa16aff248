// Package approvals holds payments that the policy gate paused for a human
// decision.
//
// A paused payment becomes a PENDING ticket. Approving a ticket re-enters
// the payment into the execution pipeline with the policy gate bypassed —
// the human decision replaces the gate for exactly one attempt. Rejecting a
// ticket ends the payment without any chain action.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/treasurer/internal/idgen"
	"github.com/mbd888/treasurer/internal/metrics"
	"github.com/mbd888/treasurer/internal/pagination"
)

var (
	ErrTicketNotFound  = errors.New("approvals: ticket not found")
	ErrTicketResolved  = errors.New("approvals: ticket already resolved")
	ErrDuplicateTicket = errors.New("approvals: pending ticket already exists for request")
	ErrNoResubmitter   = errors.New("approvals: no resubmitter configured")
)

// Status is the lifecycle stage of an approval ticket.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Ticket is a paused payment awaiting a human decision.
type Ticket struct {
	ID           string     `json:"id"`
	RequestID    string     `json:"requestId"`
	RequesterID  string     `json:"requesterId,omitempty"`
	Vendor       string     `json:"vendor"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency"`
	Reason       string     `json:"reason"`
	Status       Status     `json:"status"`
	DecidedBy    string     `json:"decidedBy,omitempty"`
	DecisionNote string     `json:"decisionNote,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// IsResolved returns true once a decision has been recorded.
func (t *Ticket) IsResolved() bool {
	return t.Status == StatusApproved || t.Status == StatusRejected
}

// Store persists approval tickets. Create must reject a second PENDING
// ticket for the same request ID with ErrDuplicateTicket.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	GetPendingByRequestID(ctx context.Context, requestID string) (*Ticket, error)
	ListPending(ctx context.Context, after *pagination.Cursor, limit int) ([]*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	CountPending(ctx context.Context) (int, error)
}

// Resubmitter re-enters an approved payment into the execution pipeline,
// skipping the policy gate, and returns the settlement reference on success.
type Resubmitter interface {
	ExecuteApproved(ctx context.Context, t *Ticket) (string, error)
}

// Queue manages the approval ticket lifecycle.
type Queue struct {
	store       Store
	resubmitter Resubmitter
	logger      *slog.Logger
}

// NewQueue creates an approval queue over the given store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// SetResubmitter wires the execution pipeline approved tickets re-enter.
// Called once at startup; the queue and the pipeline reference each other.
func (q *Queue) SetResubmitter(r Resubmitter) {
	q.resubmitter = r
}

// EnqueueRequest carries the payment fields recorded on the ticket.
type EnqueueRequest struct {
	RequestID   string
	RequesterID string
	Vendor      string
	Amount      string
	Currency    string
	Reason      string
}

// Enqueue creates a PENDING ticket for a paused payment. A request that
// already has a pending ticket gets the existing one back rather than a
// duplicate.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*Ticket, error) {
	t := &Ticket{
		ID:          idgen.WithPrefix("apr_"),
		RequestID:   req.RequestID,
		RequesterID: req.RequesterID,
		Vendor:      req.Vendor,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reason:      req.Reason,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	if err := q.store.Create(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTicket) {
			existing, getErr := q.store.GetPendingByRequestID(ctx, req.RequestID)
			if getErr != nil {
				return nil, fmt.Errorf("approvals: ticket conflict for %s: %w", req.RequestID, getErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("approvals: enqueue ticket for %s: %w", req.RequestID, err)
	}

	metrics.ApprovalsPending.Inc()
	q.logger.Info("approval ticket enqueued",
		"ticket_id", t.ID,
		"request_id", t.RequestID,
		"vendor", t.Vendor,
		"amount", t.Amount,
		"reason", t.Reason,
	)
	return t, nil
}

// ListPending returns tickets awaiting a decision, oldest first. A non-nil
// cursor resumes after the (createdAt, id) position of a previous page.
func (q *Queue) ListPending(ctx context.Context, after *pagination.Cursor, limit int) ([]*Ticket, error) {
	return q.store.ListPending(ctx, after, limit)
}

// Get returns a ticket by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Ticket, error) {
	return q.store.Get(ctx, id)
}

// Resolution is the result of deciding a ticket.
type Resolution struct {
	Ticket        *Ticket
	SettlementRef string // set when an approved payment executed successfully
	ExecutionErr  error  // set when an approved payment failed to execute
}

// Resolve records a human decision on a pending ticket. An approved ticket
// is immediately resubmitted for execution with the gate bypassed; the
// approval is consumed either way, so an execution failure does not return
// the ticket to PENDING.
func (q *Queue) Resolve(ctx context.Context, id string, approve bool, decidedBy, note string) (*Resolution, error) {
	t, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsResolved() {
		return nil, fmt.Errorf("%w: ticket %s is %s", ErrTicketResolved, t.ID, t.Status)
	}

	now := time.Now()
	if approve {
		t.Status = StatusApproved
	} else {
		t.Status = StatusRejected
	}
	t.DecidedBy = decidedBy
	t.DecisionNote = note
	t.ResolvedAt = &now

	if err := q.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("approvals: resolve ticket %s: %w", t.ID, err)
	}

	metrics.ApprovalsPending.Dec()
	decision := "rejected"
	if approve {
		decision = "approved"
	}
	metrics.ApprovalsResolvedTotal.WithLabelValues(decision).Inc()
	q.logger.Info("approval ticket resolved",
		"ticket_id", t.ID,
		"request_id", t.RequestID,
		"decision", decision,
		"decided_by", decidedBy,
	)

	res := &Resolution{Ticket: t}
	if !approve {
		return res, nil
	}

	if q.resubmitter == nil {
		return nil, ErrNoResubmitter
	}
	ref, execErr := q.resubmitter.ExecuteApproved(ctx, t)
	if execErr != nil {
		q.logger.Error("approved payment failed to execute",
			"ticket_id", t.ID,
			"request_id", t.RequestID,
			"error", execErr,
		)
		res.ExecutionErr = execErr
		return res, nil
	}
	res.SettlementRef = ref
	return res, nil
}
