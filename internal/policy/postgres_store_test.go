//go:build integration

package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/treasurer/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgres_GetLimitUnset(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetLimit(context.Background(), "system:approval_limit")
	if !errors.Is(err, ErrLimitNotSet) {
		t.Errorf("expected ErrLimitNotSet, got %v", err)
	}
}

func TestPostgres_SetAndGetLimit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SetLimit(ctx, "system:approval_limit", "50"); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}

	got, err := store.GetLimit(ctx, "system:approval_limit")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if got != "50" {
		t.Errorf("limit = %q, want 50", got)
	}
}

func TestPostgres_SetLimitOverwrites(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SetLimit(ctx, "system:approval_limit", "50"); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	if err := store.SetLimit(ctx, "system:approval_limit", "100"); err != nil {
		t.Fatalf("second SetLimit failed: %v", err)
	}

	got, err := store.GetLimit(ctx, "system:approval_limit")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if got != "100" {
		t.Errorf("limit = %q, want 100", got)
	}
}
