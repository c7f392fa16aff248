package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/treasurer/internal/metrics"
	"github.com/mbd888/treasurer/internal/mnee"
	"github.com/mbd888/treasurer/internal/notify"
	"github.com/mbd888/treasurer/internal/registry"
)

// ResolutionError reports a payee identifier that could not be resolved to
// a chain address. It is never retried and never silently substituted.
type ResolutionError struct {
	Identifier string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("treasury: cannot resolve payee %q: %v", e.Identifier, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// LiquidityError reports that the treasury balance does not cover the
// requested amount. No nonce is consumed and nothing is broadcast.
type LiquidityError struct {
	Have *big.Int
	Need *big.Int
}

func (e *LiquidityError) Error() string {
	return fmt.Sprintf("treasury: insufficient liquidity: have %s, need %s",
		mnee.Format(e.Have), mnee.Format(e.Need))
}

// IsRetriable is the retriable predicate for executor failures: only
// transient chain/RPC errors qualify. Business outcomes (liquidity,
// resolution, invalid amount) and node rejections never do.
func IsRetriable(err error) bool {
	var le *LiquidityError
	var re *ResolutionError
	if errors.As(err, &le) || errors.As(err, &re) {
		return false
	}
	if errors.Is(err, ErrInvalidAmount) {
		return false
	}
	return IsTransient(err)
}

// Executor turns an approved payment into a broadcast transfer: resolve the
// payee, verify liquidity, then sign and submit.
type Executor struct {
	chain    Service
	resolver *registry.Resolver
	sink     notify.Sink
	logger   *slog.Logger
}

// NewExecutor creates a transfer executor.
func NewExecutor(chain Service, resolver *registry.Resolver, sink notify.Sink, logger *slog.Logger) *Executor {
	return &Executor{chain: chain, resolver: resolver, sink: sink, logger: logger}
}

// Execute broadcasts a transfer of amount to the payee identified by
// vendorIdentifier and returns the settlement reference. The liquidity
// check runs before any nonce is acquired; a shortfall raises an alert and
// fails without touching the chain state.
func (e *Executor) Execute(ctx context.Context, requestID, vendorIdentifier, amount string) (string, error) {
	raw, ok := mnee.Parse(amount)
	if !ok || raw.Sign() <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	addr, err := e.resolver.Resolve(ctx, vendorIdentifier)
	if err != nil {
		return "", &ResolutionError{Identifier: vendorIdentifier, Err: err}
	}

	balance, err := e.chain.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("treasury: read balance: %w", err)
	}

	if balance.Cmp(raw) < 0 {
		metrics.TransfersTotal.WithLabelValues("insufficient_liquidity").Inc()
		e.logger.Warn("insufficient liquidity",
			"request_id", requestID,
			"have", mnee.Format(balance),
			"need", mnee.Format(raw),
		)
		e.sink.Alert(ctx, notify.CategoryInsufficientLiquidity, map[string]interface{}{
			"requestId": requestID,
			"have":      mnee.Format(balance),
			"need":      mnee.Format(raw),
			"vendor":    vendorIdentifier,
		})
		return "", &LiquidityError{Have: balance, Need: raw}
	}

	result, err := e.chain.Transfer(ctx, common.HexToAddress(addr), raw)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	metrics.TransfersTotal.WithLabelValues("broadcast").Inc()
	e.logger.Info("transfer broadcast",
		"request_id", requestID,
		"tx_hash", result.TxHash,
		"to", result.To,
		"amount", result.Amount,
		"nonce", result.Nonce,
	)
	return result.TxHash, nil
}
