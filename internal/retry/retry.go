// Package retry provides a shared retry utility with exponential backoff and jitter.
//
// Callers describe the backoff schedule with a Policy and pass an explicit
// retriable predicate. Only failures the predicate accepts are retried;
// everything else propagates to the caller on first occurrence.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// cryptoFloat64 returns a random float64 in [0, 1) using crypto/rand.
func cryptoFloat64() float64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 11 // 53 bits of randomness
	return float64(v) / (1 << 53)
}

// Policy describes the backoff schedule for a retried operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64 // exponential base, 2.0 when unset
	Jitter       bool    // multiply each delay by a uniform factor in [0.5, 1.5)
}

// DefaultPolicy matches the schedule used for chain RPC calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Base:         2.0,
		Jitter:       true,
	}
}

// Delay computes the backoff before retrying after attempt n (0-indexed):
// min(InitialDelay * Base^n, MaxDelay), optionally scaled by jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 2.0
	}
	d := float64(p.InitialDelay) * math.Pow(base, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + cryptoFloat64()
	}
	return time.Duration(d)
}

// PermanentError wraps an error that should not be retried regardless of
// what the retriable predicate says.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to p.MaxAttempts times following p's backoff schedule.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (never retried)
//   - retriable is non-nil and returns false for the failure
//   - ctx is cancelled while sleeping
//
// On exhaustion the last observed error is returned, never masked.
func Do(ctx context.Context, p Policy, retriable func(error) bool, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if retriable != nil && !retriable(err) {
			return err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}

	return err
}
