package approvals

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mbd888/treasurer/internal/pagination"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResubmitter records re-entries and returns a canned result.
type fakeResubmitter struct {
	calls []string // request IDs
	ref   string
	err   error
}

func (f *fakeResubmitter) ExecuteApproved(ctx context.Context, t *Ticket) (string, error) {
	f.calls = append(f.calls, t.RequestID)
	return f.ref, f.err
}

func newTestQueue(re Resubmitter) *Queue {
	q := NewQueue(NewMemoryStore(), testLogger())
	if re != nil {
		q.SetResubmitter(re)
	}
	return q
}

func enqueue(t *testing.T, q *Queue, requestID string) *Ticket {
	t.Helper()
	ticket, err := q.Enqueue(context.Background(), EnqueueRequest{
		RequestID: requestID,
		Vendor:    "cloud hosting inc",
		Amount:    "75",
		Currency:  "MNEE",
		Reason:    "Exceeds Policy Limit",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return ticket
}

func TestEnqueue_CreatesPendingTicket(t *testing.T) {
	q := newTestQueue(nil)
	ticket := enqueue(t, q, "req-1")

	if ticket.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", ticket.Status)
	}
	if ticket.ID == "" {
		t.Error("expected ticket ID")
	}
	if ticket.Reason != "Exceeds Policy Limit" {
		t.Errorf("reason = %q", ticket.Reason)
	}

	pending, err := q.ListPending(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending ticket, got %d", len(pending))
	}
}

func TestEnqueue_SameRequestReturnsExistingTicket(t *testing.T) {
	q := newTestQueue(nil)
	first := enqueue(t, q, "req-1")
	second := enqueue(t, q, "req-1")

	if second.ID != first.ID {
		t.Errorf("expected existing ticket %s, got new ticket %s", first.ID, second.ID)
	}

	pending, _ := q.ListPending(context.Background(), nil, 10)
	if len(pending) != 1 {
		t.Errorf("expected 1 pending ticket, got %d", len(pending))
	}
}

func TestResolve_ApproveResubmitsWithGateBypassed(t *testing.T) {
	re := &fakeResubmitter{ref: "0xabc123"}
	q := newTestQueue(re)
	ticket := enqueue(t, q, "req-1")

	res, err := q.Resolve(context.Background(), ticket.ID, true, "ops@example.com", "verified invoice")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Ticket.Status != StatusApproved {
		t.Errorf("status = %s, want APPROVED", res.Ticket.Status)
	}
	if res.Ticket.DecidedBy != "ops@example.com" {
		t.Errorf("decidedBy = %q", res.Ticket.DecidedBy)
	}
	if res.SettlementRef != "0xabc123" {
		t.Errorf("settlementRef = %q", res.SettlementRef)
	}
	if len(re.calls) != 1 || re.calls[0] != "req-1" {
		t.Errorf("resubmitter calls = %v", re.calls)
	}
}

func TestResolve_RejectEndsPaymentWithoutExecution(t *testing.T) {
	re := &fakeResubmitter{}
	q := newTestQueue(re)
	ticket := enqueue(t, q, "req-1")

	res, err := q.Resolve(context.Background(), ticket.ID, false, "ops@example.com", "not recognized")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Ticket.Status != StatusRejected {
		t.Errorf("status = %s, want REJECTED", res.Ticket.Status)
	}
	if len(re.calls) != 0 {
		t.Errorf("rejected ticket must not execute, got calls %v", re.calls)
	}
	if res.SettlementRef != "" {
		t.Errorf("unexpected settlement ref %q", res.SettlementRef)
	}
}

func TestResolve_SecondDecisionRejected(t *testing.T) {
	q := newTestQueue(&fakeResubmitter{ref: "0xabc"})
	ticket := enqueue(t, q, "req-1")

	if _, err := q.Resolve(context.Background(), ticket.ID, false, "ops", ""); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	_, err := q.Resolve(context.Background(), ticket.ID, true, "ops", "")
	if !errors.Is(err, ErrTicketResolved) {
		t.Errorf("expected ErrTicketResolved, got %v", err)
	}
}

func TestResolve_ExecutionFailureConsumesApproval(t *testing.T) {
	re := &fakeResubmitter{err: fmt.Errorf("insufficient liquidity")}
	q := newTestQueue(re)
	ticket := enqueue(t, q, "req-1")

	res, err := q.Resolve(context.Background(), ticket.ID, true, "ops", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.ExecutionErr == nil {
		t.Fatal("expected execution error surfaced")
	}

	// The approval is spent; the ticket does not return to PENDING.
	got, _ := q.Get(context.Background(), ticket.ID)
	if got.Status != StatusApproved {
		t.Errorf("status = %s, want APPROVED", got.Status)
	}
	pending, _ := q.ListPending(context.Background(), nil, 10)
	if len(pending) != 0 {
		t.Errorf("expected no pending tickets, got %d", len(pending))
	}
}

func TestResolve_UnknownTicket(t *testing.T) {
	q := newTestQueue(nil)
	_, err := q.Resolve(context.Background(), "apr_missing", true, "ops", "")
	if !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestListPending_OldestFirstAndLimited(t *testing.T) {
	q := newTestQueue(nil)
	for i := 0; i < 5; i++ {
		enqueue(t, q, fmt.Sprintf("req-%d", i))
	}

	pending, err := q.ListPending(context.Background(), nil, 3)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].CreatedAt.Before(pending[i-1].CreatedAt) {
			t.Error("tickets not ordered oldest first")
		}
	}
}

func TestListPending_CursorResumesWithoutOverlap(t *testing.T) {
	q := newTestQueue(nil)
	for i := 0; i < 5; i++ {
		enqueue(t, q, fmt.Sprintf("req-%d", i))
	}

	first, err := q.ListPending(context.Background(), nil, 3)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	last := first[len(first)-1]

	cursor, err := pagination.Decode(pagination.Encode(last.CreatedAt, last.ID))
	if err != nil {
		t.Fatalf("cursor round trip failed: %v", err)
	}

	second, err := q.ListPending(context.Background(), cursor, 3)
	if err != nil {
		t.Fatalf("ListPending with cursor failed: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 remaining tickets, got %d", len(second))
	}

	seen := make(map[string]bool)
	for _, tk := range append(first, second...) {
		if seen[tk.ID] {
			t.Errorf("ticket %s appeared on both pages", tk.ID)
		}
		seen[tk.ID] = true
	}
}
