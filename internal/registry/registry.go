// Package registry maps vendor names to payment addresses.
//
// Payees arrive either as a well-formed chain address or as a human vendor
// name. Names resolve through this registry; an unknown name is an explicit,
// auditable failure — never a silent substitution.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/treasurer/internal/validation"
)

var (
	ErrVendorNotFound = errors.New("registry: vendor not found")
	ErrVendorExists   = errors.New("registry: vendor already registered")
)

// Vendor is a registered payee.
type Vendor struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists vendor registrations.
type Store interface {
	Create(ctx context.Context, v *Vendor) error
	GetByName(ctx context.Context, name string) (*Vendor, error)
	List(ctx context.Context, limit int) ([]*Vendor, error)
	Delete(ctx context.Context, name string) error
}

// Resolver resolves a payee identifier to a concrete chain address.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the chain address for identifier. A well-formed address
// passes through (normalized); anything else is treated as a vendor name
// and must be registered, otherwise ErrVendorNotFound is returned.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)

	if validation.IsValidEthAddress(identifier) {
		return validation.SanitizeAddress(identifier), nil
	}

	v, err := r.store.GetByName(ctx, normalizeName(identifier))
	if err != nil {
		return "", err
	}
	return v.Address, nil
}

// normalizeName canonicalizes vendor names for lookup.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
