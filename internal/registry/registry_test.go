package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedVendor(t *testing.T, store Store, name, addr string) {
	t.Helper()
	now := time.Now()
	if err := store.Create(context.Background(), &Vendor{
		Name: name, Address: addr, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed vendor %q: %v", name, err)
	}
}

func TestResolve_WellFormedAddressPassesThrough(t *testing.T) {
	r := NewResolver(NewMemoryStore())

	addr := "0x104F9C75c9F170e85D299F13766243838787Fa12"
	got, err := r.Resolve(context.Background(), addr)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "0x104f9c75c9f170e85d299f13766243838787fa12" {
		t.Errorf("expected normalized address, got %s", got)
	}
}

func TestResolve_RegisteredName(t *testing.T) {
	store := NewMemoryStore()
	seedVendor(t, store, "Cloud Hosting Inc", "0x104f9c75c9f170e85d299f13766243838787fa12")
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), "cloud hosting inc")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "0x104f9c75c9f170e85d299f13766243838787fa12" {
		t.Errorf("unexpected address %s", got)
	}
}

func TestResolve_NameLookupIsCaseInsensitive(t *testing.T) {
	store := NewMemoryStore()
	seedVendor(t, store, "acme", "0x104f9c75c9f170e85d299f13766243838787fa12")
	r := NewResolver(store)

	if _, err := r.Resolve(context.Background(), "  ACME "); err != nil {
		t.Errorf("case/whitespace variant should resolve, got %v", err)
	}
}

func TestResolve_UnknownNameFailsExplicitly(t *testing.T) {
	r := NewResolver(NewMemoryStore())

	_, err := r.Resolve(context.Background(), "Unknown Vendor LLC")
	if !errors.Is(err, ErrVendorNotFound) {
		t.Errorf("expected ErrVendorNotFound, got %v", err)
	}
}

func TestMemoryStore_DuplicateNameRejected(t *testing.T) {
	store := NewMemoryStore()
	seedVendor(t, store, "acme", "0x104f9c75c9f170e85d299f13766243838787fa12")

	err := store.Create(context.Background(), &Vendor{
		Name: "ACME", Address: "0x0000000000000000000000000000000000000001",
	})
	if !errors.Is(err, ErrVendorExists) {
		t.Errorf("expected ErrVendorExists, got %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	seedVendor(t, store, "acme", "0x104f9c75c9f170e85d299f13766243838787fa12")

	if err := store.Delete(context.Background(), "acme"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetByName(context.Background(), "acme"); !errors.Is(err, ErrVendorNotFound) {
		t.Errorf("expected ErrVendorNotFound after delete, got %v", err)
	}
}
