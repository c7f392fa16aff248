package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/treasurer/internal/mnee"
)

// ReasonExceedsLimit is the pause reason for amounts above the limit.
const ReasonExceedsLimit = "Exceeds Policy Limit"

// ReasonInvalidAmount is the pause reason for missing or non-positive amounts.
const ReasonInvalidAmount = "Invalid Amount"

// Gate evaluates requested amounts against the current spending limit.
type Gate struct {
	store        Store
	limitName    string
	defaultLimit string
}

// NewGate creates a gate reading the named limit from store, falling back
// to defaultLimit when the name is unset.
func NewGate(store Store, limitName, defaultLimit string) *Gate {
	return &Gate{store: store, limitName: limitName, defaultLimit: defaultLimit}
}

// Evaluate reads the limit once and decides whether amount may proceed
// automatically. Missing, unparseable, or non-positive amounts require
// approval rather than erroring: a human gets to look at anything the
// system cannot price. The gate itself has no side effects and is never
// retried; a stale limit read holds for one evaluation.
func (g *Gate) Evaluate(ctx context.Context, amount string) (Evaluation, error) {
	limit, err := g.store.GetLimit(ctx, g.limitName)
	if errors.Is(err, ErrLimitNotSet) {
		limit = g.defaultLimit
	} else if err != nil {
		return Evaluation{}, fmt.Errorf("policy: read limit %q: %w", g.limitName, err)
	}

	raw, ok := mnee.Parse(amount)
	if !ok || raw.Sign() <= 0 {
		return Evaluation{Decision: RequireApproval, Limit: limit, Reason: ReasonInvalidAmount}, nil
	}

	cmp, ok := mnee.Cmp(amount, limit)
	if !ok {
		// The stored limit itself is unparseable; treat as zero limit.
		return Evaluation{Decision: RequireApproval, Limit: limit, Reason: ReasonExceedsLimit}, nil
	}
	if cmp > 0 {
		return Evaluation{Decision: RequireApproval, Limit: limit, Reason: ReasonExceedsLimit}, nil
	}

	return Evaluation{Decision: Approve, Limit: limit}, nil
}
