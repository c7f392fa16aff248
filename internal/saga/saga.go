// Package saga orchestrates the payment pipeline: policy gate, funds
// reservation, on-chain execution, and ledger commit or release.
//
// The chain transfer is the one irreversible step, so everything is ordered
// around it: intent is recorded durably before the transfer, and only
// failures that provably happened before a broadcast compensate by releasing
// the reservation. A payment the gate declines to auto-approve never reaches
// the chain; it pauses as an approval ticket instead.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/treasurer/internal/approvals"
	"github.com/mbd888/treasurer/internal/ledger"
	"github.com/mbd888/treasurer/internal/metrics"
	"github.com/mbd888/treasurer/internal/notify"
	"github.com/mbd888/treasurer/internal/policy"
	"github.com/mbd888/treasurer/internal/retry"
	"github.com/mbd888/treasurer/internal/traces"
	"github.com/mbd888/treasurer/internal/treasury"
)

// Status is the terminal status of one payment request.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPaused  Status = "PAUSED"
	StatusFailed  Status = "FAILED"
)

// FailureKind classifies why a payment failed.
type FailureKind string

const (
	FailureReservation FailureKind = "RESERVATION_FAILED"
	FailureResolution  FailureKind = "IDENTIFIER_RESOLUTION_ERROR"
	FailureLiquidity   FailureKind = "INSUFFICIENT_LIQUIDITY"
	FailureChain       FailureKind = "CHAIN_SUBMISSION_ERROR"
)

// Currency is the only settlement asset the pipeline moves.
const Currency = "MNEE"

// Request is one payment submission.
type Request struct {
	RequestID   string `json:"requestId"`
	RequesterID string `json:"requesterId,omitempty"`
	Vendor      string `json:"vendor"`
	Amount      string `json:"amount"`
}

// Outcome is the terminal result of running a payment through the pipeline.
type Outcome struct {
	Status        Status      `json:"status"`
	RequestID     string      `json:"requestId"`
	SettlementRef string      `json:"settlementRef,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	FailureKind   FailureKind `json:"failureKind,omitempty"`
	TicketID      string      `json:"ticketId,omitempty"`
}

// Executor performs the irreversible transfer and returns a settlement
// reference. Satisfied by treasury.Executor.
type Executor interface {
	Execute(ctx context.Context, requestID, vendor, amount string) (string, error)
}

// Orchestrator runs payment requests through the pipeline.
type Orchestrator struct {
	gate         *policy.Gate
	reservations *ledger.Reservations
	executor     Executor
	queue        *approvals.Queue
	sink         notify.Sink
	retryPolicy  retry.Policy
	logger       *slog.Logger
}

// New creates a payment orchestrator.
func New(
	gate *policy.Gate,
	reservations *ledger.Reservations,
	executor Executor,
	queue *approvals.Queue,
	sink notify.Sink,
	retryPolicy retry.Policy,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		gate:         gate,
		reservations: reservations,
		executor:     executor,
		queue:        queue,
		sink:         sink,
		retryPolicy:  retryPolicy,
		logger:       logger,
	}
}

// Compile-time assertion: the orchestrator is the re-entry point for
// approved tickets.
var _ approvals.Resubmitter = (*Orchestrator)(nil)

// Submit runs one payment request through policy evaluation and, when
// auto-approved, through reservation and execution. The gate reads the
// limit exactly once per submission; a concurrent limit change affects the
// next submission, never this one.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "saga.Submit",
		traces.RequestID(req.RequestID),
		traces.Vendor(req.Vendor),
		traces.Amount(req.Amount),
	)
	defer span.End()

	if req.RequestID == "" || req.Vendor == "" {
		return nil, fmt.Errorf("saga: request id and vendor are required")
	}

	eval, err := o.gate.Evaluate(ctx, req.Amount)
	if err != nil {
		return nil, err
	}

	if eval.Decision == policy.RequireApproval {
		outcome, err := o.pause(ctx, req, eval.Reason)
		if err == nil {
			span.SetAttributes(traces.Outcome(string(outcome.Status)), traces.TicketID(outcome.TicketID))
		}
		return outcome, err
	}

	outcome, err := o.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Outcome(string(outcome.Status)))
	return outcome, nil
}

// ExecuteApproved re-enters an approved ticket into the pipeline with the
// policy gate bypassed. The human decision stands in for the gate.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, t *approvals.Ticket) (string, error) {
	ctx, span := traces.StartSpan(ctx, "saga.ExecuteApproved",
		traces.RequestID(t.RequestID),
		traces.TicketID(t.ID),
	)
	defer span.End()

	outcome, err := o.execute(ctx, Request{
		RequestID:   t.RequestID,
		RequesterID: t.RequesterID,
		Vendor:      t.Vendor,
		Amount:      t.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("saga: approved payment %s: %w", t.RequestID, err)
	}
	span.SetAttributes(traces.Outcome(string(outcome.Status)))

	if outcome.Status != StatusSuccess {
		return "", fmt.Errorf("saga: approved payment %s failed: %s (%s)",
			t.RequestID, outcome.Reason, outcome.FailureKind)
	}
	return outcome.SettlementRef, nil
}

// pause parks the payment as a PENDING approval ticket.
func (o *Orchestrator) pause(ctx context.Context, req Request, reason string) (*Outcome, error) {
	ticket, err := o.queue.Enqueue(ctx, approvals.EnqueueRequest{
		RequestID:   req.RequestID,
		RequesterID: req.RequesterID,
		Vendor:      req.Vendor,
		Amount:      req.Amount,
		Currency:    Currency,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues("paused").Inc()
	o.sink.Alert(ctx, notify.CategoryApprovalRequired, map[string]interface{}{
		"requestId": req.RequestID,
		"ticketId":  ticket.ID,
		"vendor":    req.Vendor,
		"amount":    req.Amount,
		"reason":    reason,
	})
	o.logger.Info("payment paused for approval",
		"request_id", req.RequestID,
		"ticket_id", ticket.ID,
		"reason", reason,
	)

	return &Outcome{
		Status:    StatusPaused,
		RequestID: req.RequestID,
		Reason:    reason,
		TicketID:  ticket.ID,
	}, nil
}

// execute reserves funds, runs the transfer with retries, and finalizes the
// reservation. Every path out of here leaves the reservation in a terminal
// state except a post-broadcast commit failure, which is flagged for manual
// resolution. A request whose reservation is still open under another saga
// attempt is not a payment failure; the conflict is returned as an error so
// the caller can reject the duplicate submission.
func (o *Orchestrator) execute(ctx context.Context, req Request) (*Outcome, error) {
	rsv, err := o.reservations.Reserve(ctx, ledger.ReserveRequest{
		RequestID:   req.RequestID,
		RequesterID: req.RequesterID,
		Vendor:      req.Vendor,
		Amount:      req.Amount,
		Currency:    Currency,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyFinalized) {
			return o.replayFinalized(ctx, req), nil
		}
		if errors.Is(err, ledger.ErrInFlight) {
			o.logger.Warn("duplicate submission while in flight", "request_id", req.RequestID)
			return nil, err
		}
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		o.logger.Error("reservation failed", "request_id", req.RequestID, "error", err)
		return &Outcome{
			Status:      StatusFailed,
			RequestID:   req.RequestID,
			Reason:      err.Error(),
			FailureKind: FailureReservation,
		}, nil
	}

	var ref string
	attempt := 0
	execErr := retry.Do(ctx, o.retryPolicy, treasury.IsRetriable, func() error {
		if attempt > 0 {
			metrics.TransferRetriesTotal.Inc()
			o.logger.Warn("retrying transfer",
				"request_id", req.RequestID,
				"attempt", attempt+1,
			)
		}
		attempt++

		r, err := o.executor.Execute(ctx, req.RequestID, req.Vendor, req.Amount)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})

	if execErr != nil {
		return o.fail(ctx, req, rsv, execErr), nil
	}

	if err := o.reservations.Commit(ctx, rsv, ref); err != nil {
		// Funds are on chain; the ledger write failed twice. Never
		// compensate here — flag for manual resolution and report the
		// payment as settled.
		o.sink.Alert(ctx, notify.CategoryPaymentFailed, map[string]interface{}{
			"requestId":     req.RequestID,
			"settlementRef": ref,
			"error":         err.Error(),
			"action":        "manual ledger resolution required",
		})
	} else {
		metrics.ReservationsTotal.WithLabelValues("committed").Inc()
	}

	metrics.PaymentsTotal.WithLabelValues("success").Inc()
	o.logger.Info("payment settled",
		"request_id", req.RequestID,
		"settlement_ref", ref,
		"vendor", req.Vendor,
		"amount", req.Amount,
	)
	return &Outcome{
		Status:        StatusSuccess,
		RequestID:     req.RequestID,
		SettlementRef: ref,
	}, nil
}

// fail releases the reservation and maps the execution error to a failure
// kind. Release is legal here because nothing was broadcast: resolution and
// liquidity failures happen before signing, and submission errors surface
// only after the node rejected or never received the transaction.
func (o *Orchestrator) fail(ctx context.Context, req Request, rsv *ledger.Reservation, execErr error) *Outcome {
	kind := FailureChain
	var rerr *treasury.ResolutionError
	var lerr *treasury.LiquidityError
	switch {
	case errors.As(execErr, &rerr):
		kind = FailureResolution
	case errors.As(execErr, &lerr):
		kind = FailureLiquidity
	default:
		o.sink.Alert(ctx, notify.CategoryPaymentFailed, map[string]interface{}{
			"requestId": req.RequestID,
			"vendor":    req.Vendor,
			"amount":    req.Amount,
			"error":     execErr.Error(),
		})
	}

	if err := o.reservations.Release(ctx, rsv, execErr.Error()); err != nil {
		o.logger.Error("release failed", "request_id", req.RequestID, "error", err)
	} else {
		metrics.ReservationsTotal.WithLabelValues("released").Inc()
	}

	metrics.PaymentsTotal.WithLabelValues("failed").Inc()
	o.logger.Error("payment failed",
		"request_id", req.RequestID,
		"kind", string(kind),
		"error", execErr,
	)
	return &Outcome{
		Status:      StatusFailed,
		RequestID:   req.RequestID,
		Reason:      execErr.Error(),
		FailureKind: kind,
	}
}

// replayFinalized answers a resubmission whose reservation already reached
// a terminal state: a committed payment replays its original success, a
// released one its failure. Either way nothing touches the chain again.
func (o *Orchestrator) replayFinalized(ctx context.Context, req Request) *Outcome {
	rsv, err := o.reservations.Get(ctx, req.RequestID)
	if err != nil {
		return &Outcome{
			Status:      StatusFailed,
			RequestID:   req.RequestID,
			Reason:      err.Error(),
			FailureKind: FailureReservation,
		}
	}

	if rsv.State == ledger.StateCommitted {
		return &Outcome{
			Status:        StatusSuccess,
			RequestID:     req.RequestID,
			SettlementRef: rsv.SettlementRef,
		}
	}
	return &Outcome{
		Status:      StatusFailed,
		RequestID:   req.RequestID,
		Reason:      rsv.ReleaseReason,
		FailureKind: FailureReservation,
	}
}
