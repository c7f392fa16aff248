package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/treasurer/internal/config"
	"github.com/mbd888/treasurer/internal/ledger"
	"github.com/mbd888/treasurer/internal/treasury"
)

// stubTreasury fakes the chain for HTTP-level tests.
type stubTreasury struct {
	balance   *big.Int
	transfers int
}

func (s *stubTreasury) Address() string { return "0x0000000000000000000000000000000000000001" }

func (s *stubTreasury) Balance(ctx context.Context) (*big.Int, error) {
	return s.balance, nil
}

func (s *stubTreasury) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	return s.balance, nil
}

func (s *stubTreasury) PendingSequence(ctx context.Context) (uint64, error) { return 0, nil }

func (s *stubTreasury) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*treasury.TransferResult, error) {
	s.transfers++
	return &treasury.TransferResult{TxHash: "0xstub", To: to.Hex(), AmountRaw: amount}, nil
}

func (s *stubTreasury) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		RPCURL:               "http://localhost:8545",
		ChainID:              1946,
		PrivateKey:           "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		MNEEContract:         "0x8ccedbAe4916b79da7F3F612EfB2EB93A2bFD6cF",
		ApprovalLimitName:    "system:approval_limit",
		ApprovalLimitDefault: "50",
		RetryMaxAttempts:     3,
		AdminSecret:          "test-secret",
	}
}

func newTestServer(t *testing.T) (*Server, *stubTreasury) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chain := &stubTreasury{balance: new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))}
	srv, err := New(testConfig(), WithTreasury(chain))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv, chain
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health = %d", w.Code)
	}
	w = doJSON(t, srv, "GET", "/health/live", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health/live = %d", w.Code)
	}
}

func TestSubmitPayment_UnderLimitSettles(t *testing.T) {
	srv, chain := newTestServer(t)

	w := doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"requestId": "req-1",
		"vendor":    "0x104f9c75c9f170e85d299f13766243838787fa12",
		"amount":    "45",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var outcome struct {
		Status        string `json:"status"`
		SettlementRef string `json:"settlementRef"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Status != "SUCCESS" {
		t.Errorf("status = %s", outcome.Status)
	}
	if outcome.SettlementRef == "" {
		t.Error("expected settlement reference")
	}
	if chain.transfers != 1 {
		t.Errorf("transfers = %d", chain.transfers)
	}

	// Reservation visible afterwards
	w = doJSON(t, srv, "GET", "/v1/reservations/req-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("reservation lookup = %d", w.Code)
	}
}

func TestSubmitPayment_OverLimitPausesAndApprovalExecutes(t *testing.T) {
	srv, chain := newTestServer(t)

	w := doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"requestId": "req-1",
		"vendor":    "0x104f9c75c9f170e85d299f13766243838787fa12",
		"amount":    "75",
	}, nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var outcome struct {
		Status   string `json:"status"`
		Reason   string `json:"reason"`
		TicketID string `json:"ticketId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Status != "PAUSED" || outcome.Reason != "Exceeds Policy Limit" {
		t.Errorf("outcome = %+v", outcome)
	}
	if chain.transfers != 0 {
		t.Errorf("paused payment must not transfer, got %d", chain.transfers)
	}

	admin := map[string]string{"X-Admin-Secret": "test-secret"}

	// Ticket appears in the pending list
	w = doJSON(t, srv, "GET", "/v1/approvals", nil, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("list approvals = %d", w.Code)
	}

	// Approve → payment executes with the gate bypassed
	w = doJSON(t, srv, "POST", "/v1/approvals/"+outcome.TicketID+"/resolve", map[string]interface{}{
		"approve":   true,
		"decidedBy": "ops@example.com",
	}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve = %d: %s", w.Code, w.Body.String())
	}
	if chain.transfers != 1 {
		t.Errorf("approved payment should transfer once, got %d", chain.transfers)
	}
}

func TestApprovalRoutes_RequireAdminSecret(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/v1/approvals", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", w.Code)
	}

	w = doJSON(t, srv, "PUT", "/v1/policy/limit", map[string]string{"limit": "100"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", w.Code)
	}
}

func TestPolicyLimit_ReadPublicWriteProtected(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/v1/policy/limit", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read limit = %d", w.Code)
	}
	var limitResp struct {
		Limit   string `json:"limit"`
		Default bool   `json:"default"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &limitResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if limitResp.Limit != "50" || !limitResp.Default {
		t.Errorf("limit = %+v, want default 50", limitResp)
	}

	admin := map[string]string{"X-Admin-Secret": "test-secret"}
	w = doJSON(t, srv, "PUT", "/v1/policy/limit", map[string]string{"limit": "100"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("write limit = %d: %s", w.Code, w.Body.String())
	}

	// Raised limit takes effect for the next submission
	w = doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"requestId": "req-1",
		"vendor":    "0x104f9c75c9f170e85d299f13766243838787fa12",
		"amount":    "75",
	}, nil)
	if w.Code != http.StatusOK {
		t.Errorf("75 under raised limit should settle, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitPayment_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"vendor": "acme", "amount": "10",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing requestId: expected 400, got %d", w.Code)
	}
}

func TestSubmitPayment_InFlightConflict(t *testing.T) {
	srv, chain := newTestServer(t)

	// An open reservation means another saga attempt owns this request.
	_, err := srv.reservations.Reserve(context.Background(), ledger.ReserveRequest{
		RequestID: "req-1",
		Vendor:    "0x104f9c75c9f170e85d299f13766243838787fa12",
		Amount:    "45",
		Currency:  "MNEE",
	})
	if err != nil {
		t.Fatalf("seed Reserve failed: %v", err)
	}

	w := doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"requestId": "req-1",
		"vendor":    "0x104f9c75c9f170e85d299f13766243838787fa12",
		"amount":    "45",
	}, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "payment_in_flight" {
		t.Errorf("error = %q, want payment_in_flight", resp.Error)
	}
	if chain.transfers != 0 {
		t.Errorf("conflicting submission must not transfer, got %d", chain.transfers)
	}
}

func TestVendorLifecycle(t *testing.T) {
	srv, chain := newTestServer(t)
	admin := map[string]string{"X-Admin-Secret": "test-secret"}

	w := doJSON(t, srv, "POST", "/v1/vendors", map[string]string{
		"name":    "Cloud Hosting Inc",
		"address": "0x104F9C75c9F170e85D299F13766243838787Fa12",
	}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create vendor = %d: %s", w.Code, w.Body.String())
	}

	// Pay the vendor by name
	w = doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"requestId": "req-1",
		"vendor":    "cloud hosting inc",
		"amount":    "10",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("payment by vendor name = %d: %s", w.Code, w.Body.String())
	}
	if chain.transfers != 1 {
		t.Errorf("transfers = %d", chain.transfers)
	}

	// Unknown vendor name fails explicitly
	w = doJSON(t, srv, "POST", "/v1/payments", map[string]string{
		"requestId": "req-2",
		"vendor":    "Unknown Vendor LLC",
		"amount":    "10",
	}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown vendor: expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTreasuryBalanceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/v1/treasury/balance", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance = %d", w.Code)
	}
	var resp struct {
		Balance  string `json:"balance"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != "1000" || resp.Currency != "MNEE" {
		t.Errorf("resp = %+v", resp)
	}
}
