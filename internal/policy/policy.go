// Package policy provides the auto-approval spending limit and the gate
// that evaluates payment amounts against it.
//
// The limit is a single named decimal value owned by an external config
// store. The gate reads it exactly once per evaluation: a change to the
// limit during an in-flight payment never retroactively affects a decision
// already made.
package policy

import (
	"context"
	"errors"
)

var (
	ErrLimitNotSet = errors.New("policy: limit not set")
)

// Store holds named decimal configuration values.
type Store interface {
	// GetLimit returns the decimal value stored under name, or
	// ErrLimitNotSet when the name has never been written.
	GetLimit(ctx context.Context, name string) (string, error)
	// SetLimit writes the decimal value stored under name.
	SetLimit(ctx context.Context, name, value string) error
}

// Decision is the gate's routing verdict for one payment amount.
type Decision string

const (
	Approve         Decision = "APPROVE"
	RequireApproval Decision = "REQUIRE_APPROVAL"
)

// Evaluation carries the decision plus the limit snapshot it was made against.
type Evaluation struct {
	Decision Decision
	Limit    string // the limit value read for this evaluation
	Reason   string // human-readable, set when Decision is RequireApproval
}
