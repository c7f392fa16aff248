// Package notify delivers operational alerts to external sinks.
//
// Alerts are strictly best-effort: a failure to deliver is reported via the
// return value and logged, but must never fail the payment that raised it.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/treasurer/internal/circuitbreaker"
	"github.com/mbd888/treasurer/internal/idgen"
)

// Category classifies an alert.
type Category string

const (
	CategoryInsufficientLiquidity Category = "INSUFFICIENT_LIQUIDITY"
	CategoryApprovalRequired      Category = "APPROVAL_REQUIRED"
	CategoryPaymentFailed         Category = "PAYMENT_FAILED"
)

// Sink delivers alerts. Implementations must not block beyond a bounded
// timeout and must never panic on delivery failure.
type Sink interface {
	// Alert delivers one alert and reports whether delivery succeeded.
	Alert(ctx context.Context, category Category, details map[string]interface{}) bool
}

// LogSink writes alerts to the structured log. It always succeeds.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that records alerts via logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Alert(ctx context.Context, category Category, details map[string]interface{}) bool {
	s.logger.Warn("treasury alert", "category", string(category), "details", details)
	return true
}

// WebhookSink POSTs alerts as signed JSON to a fixed operator endpoint.
// A circuit breaker suppresses delivery attempts while the endpoint is
// persistently failing, so a dead webhook cannot slow down payments.
type WebhookSink struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// breakerKey is the circuit breaker key for the single operator endpoint.
const breakerKey = "alert_webhook"

// NewWebhookSink creates a sink posting to url. When secret is non-empty,
// payloads are signed with HMAC-SHA256 in the X-Treasurer-Signature header.
func NewWebhookSink(url, secret string, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// alertPayload is the wire shape of one alert.
type alertPayload struct {
	ID        string                 `json:"id"`
	Category  Category               `json:"category"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
}

func (s *WebhookSink) Alert(ctx context.Context, category Category, details map[string]interface{}) bool {
	if !s.breaker.Allow(breakerKey) {
		s.logger.Warn("alert delivery suppressed, webhook circuit open", "category", string(category))
		return false
	}

	body := alertPayload{
		ID:        idgen.WithPrefix("alr_"),
		Category:  category,
		Timestamp: time.Now(),
		Details:   details,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Warn("alert marshal failed", "category", string(category), "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("alert request failed", "category", string(category), "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Treasurer-Alert", string(category))
	req.Header.Set("X-Treasurer-Timestamp", fmt.Sprintf("%d", body.Timestamp.Unix()))
	if s.secret != "" {
		req.Header.Set("X-Treasurer-Signature", sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure(breakerKey)
		s.logger.Warn("alert delivery failed", "category", string(category), "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.breaker.RecordFailure(breakerKey)
		s.logger.Warn("alert delivery rejected", "category", string(category), "status", resp.StatusCode)
		return false
	}
	s.breaker.RecordSuccess(breakerKey)
	return true
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MultiSink fans an alert out to several sinks. Delivery succeeds when
// every sink succeeds.
type MultiSink []Sink

func (m MultiSink) Alert(ctx context.Context, category Category, details map[string]interface{}) bool {
	ok := true
	for _, s := range m {
		if !s.Alert(ctx, category, details) {
			ok = false
		}
	}
	return ok
}
