//go:build integration

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/treasurer/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func testReservation(requestID string) *Reservation {
	return &Reservation{
		ID:        "res_" + requestID,
		RequestID: requestID,
		Vendor:    "0x104f9c75c9f170e85d299f13766243838787fa12",
		Amount:    "45",
		Currency:  "MNEE",
		State:     StateReserved,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPostgres_CreateAndGetReservation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testReservation("req-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByRequestID failed: %v", err)
	}
	if got.State != StateReserved {
		t.Errorf("state = %s, want RESERVED", got.State)
	}
	if got.Currency != "MNEE" {
		t.Errorf("currency = %s", got.Currency)
	}
}

func TestPostgres_DuplicateRequestID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testReservation("req-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second := testReservation("req-1")
	second.ID = "res_other"
	if err := store.Create(ctx, second); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestPostgres_UpdateToCommitted(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	r := testReservation("req-1")
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now().UTC()
	r.State = StateCommitted
	r.SettlementRef = "0xdeadbeef"
	r.ResolvedAt = &now
	if err := store.Update(ctx, r); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByRequestID failed: %v", err)
	}
	if got.State != StateCommitted || got.SettlementRef != "0xdeadbeef" {
		t.Errorf("got state=%s ref=%s", got.State, got.SettlementRef)
	}
	if got.ResolvedAt == nil {
		t.Error("expected resolvedAt set")
	}
}

func TestPostgres_UpdateCannotOverwriteTerminalRecord(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	r := testReservation("req-1")
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now().UTC()
	r.State = StateCommitted
	r.SettlementRef = "0xdeadbeef"
	r.ResolvedAt = &now
	if err := store.Update(ctx, r); err != nil {
		t.Fatalf("commit update failed: %v", err)
	}

	// A stale writer racing the commit must not flip the terminal record.
	stale := testReservation("req-1")
	stale.State = StateReleased
	stale.ReleaseReason = "stale writer"
	stale.ResolvedAt = &now
	if err := store.Update(ctx, stale); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := store.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByRequestID failed: %v", err)
	}
	if got.State != StateCommitted || got.SettlementRef != "0xdeadbeef" {
		t.Errorf("terminal record was disturbed: state=%s ref=%s", got.State, got.SettlementRef)
	}
}

func TestPostgres_GetMissingReservation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetByRequestID(context.Background(), "req-missing")
	if !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestPostgres_UpdateMissingReservation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	r := testReservation("req-ghost")
	r.ID = "res_ghost"
	if err := store.Update(context.Background(), r); !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("expected ErrReservationNotFound, got %v", err)
	}
}
