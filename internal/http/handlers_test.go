package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tally/internal/auth"
	"tally/internal/ledger"
	"tally/internal/middleware/ratelimit"
	"tally/internal/storage/memory"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo := memory.New()
	service := ledger.New(repo, nil)
	s := NewServer(":0", testSecret, service, repo, ratelimit.Config{
		RequestsPerMinute: 10000,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s
}

func authedRequest(t *testing.T, method, target, owner string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	token, err := auth.GenerateToken(testSecret, owner, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func addTransaction(t *testing.T, s *Server, owner string, body map[string]any) mutationResponse {
	t.Helper()

	rec := doRequest(s, authedRequest(t, http.MethodPost, "/api/transactions", owner, body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func incomeBody(amount string) map[string]any {
	return map[string]any{
		"type":           "income",
		"category":       "salary",
		"amount":         amount,
		"description":    "pay",
		"date":           "2026-08-01",
		"payment_method": "card",
	}
}

func TestAddTransactionUpdatesBalances(t *testing.T) {
	s := newTestServer(t)

	resp := addTransaction(t, s, "user-1", incomeBody("100.00"))

	if resp.Transaction.ID == "" {
		t.Fatal("expected transaction ID")
	}
	if resp.Balances.BankCents != 10000 {
		t.Fatalf("bank = %d, want 10000", resp.Balances.BankCents)
	}
	if resp.Balances.CashCents != 0 {
		t.Fatalf("cash = %d, want 0", resp.Balances.CashCents)
	}
}

func TestAddExpenseInsufficientBalance(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"type":           "expense",
		"category":       "groceries",
		"amount":         "50.00",
		"description":    "food",
		"date":           "2026-08-02",
		"payment_method": "cash",
	}
	rec := doRequest(s, authedRequest(t, http.MethodPost, "/api/transactions", "user-1", body))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAddTransactionValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"bad amount", func(b map[string]any) { b["amount"] = "-5" }},
		{"zero amount", func(b map[string]any) { b["amount"] = "0" }},
		{"bad type", func(b map[string]any) { b["type"] = "transfer" }},
		{"bad method", func(b map[string]any) { b["payment_method"] = "crypto" }},
		{"empty description", func(b map[string]any) { b["description"] = "  " }},
		{"empty category", func(b map[string]any) { b["category"] = "" }},
		{"bad date", func(b map[string]any) { b["date"] = "01/08/2026" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := incomeBody("10.00")
			tt.mutate(body)

			rec := doRequest(s, authedRequest(t, http.MethodPost, "/api/transactions", "user-1", body))
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEditTransactionMovesBalance(t *testing.T) {
	s := newTestServer(t)
	created := addTransaction(t, s, "user-1", incomeBody("100.00"))

	body := incomeBody("40.00")
	body["payment_method"] = "cash"
	rec := doRequest(s, authedRequest(t, http.MethodPut, "/api/transactions/"+created.Transaction.ID, "user-1", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balances.BankCents != 0 || resp.Balances.CashCents != 4000 {
		t.Fatalf("balances = %+v, want bank 0 cash 4000", resp.Balances)
	}
}

func TestDeleteTransactionRestoresBalances(t *testing.T) {
	s := newTestServer(t)
	created := addTransaction(t, s, "user-1", incomeBody("100.00"))

	rec := doRequest(s, authedRequest(t, http.MethodDelete, "/api/transactions/"+created.Transaction.ID, "user-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp deleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balances.BankCents != 0 || resp.Balances.CashCents != 0 {
		t.Fatalf("balances = %+v, want zero", resp.Balances)
	}
}

func TestTransactionNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, authedRequest(t, http.MethodDelete, "/api/transactions/missing", "user-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = doRequest(s, authedRequest(t, http.MethodGet, "/api/transactions/missing", "user-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestOwnerIsolation(t *testing.T) {
	s := newTestServer(t)
	created := addTransaction(t, s, "user-1", incomeBody("100.00"))

	rec := doRequest(s, authedRequest(t, http.MethodDelete, "/api/transactions/"+created.Transaction.ID, "user-2", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign owner", rec.Code)
	}
}

func TestStaleClientBalancesConflict(t *testing.T) {
	s := newTestServer(t)
	addTransaction(t, s, "user-1", incomeBody("100.00"))

	body := incomeBody("10.00")
	body["client_balances"] = map[string]any{"cash_cents": 0, "bank_cents": 999}
	rec := doRequest(s, authedRequest(t, http.MethodPost, "/api/transactions", "user-1", body))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}
}

func TestMatchingClientBalancesAccepted(t *testing.T) {
	s := newTestServer(t)
	created := addTransaction(t, s, "user-1", incomeBody("100.00"))

	body := incomeBody("10.00")
	body["client_balances"] = map[string]any{
		"cash_cents": created.Balances.CashCents,
		"bank_cents": created.Balances.BankCents,
	}
	rec := doRequest(s, authedRequest(t, http.MethodPost, "/api/transactions", "user-1", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}
}

func TestListTransactions(t *testing.T) {
	s := newTestServer(t)
	for i := 1; i <= 3; i++ {
		body := incomeBody("10.00")
		body["date"] = fmt.Sprintf("2026-0%d-15", i)
		addTransaction(t, s, "user-1", body)
	}

	rec := doRequest(s, authedRequest(t, http.MethodGet, "/api/transactions?year=2026", "user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Transactions) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", resp.Total, len(resp.Transactions))
	}

	rec = doRequest(s, authedRequest(t, http.MethodGet, "/api/transactions?year=2026&month=2", "user-1", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("month filter total = %d, want 1", resp.Total)
	}
}

func TestMonthSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)
	addTransaction(t, s, "user-1", incomeBody("100.00"))

	expense := map[string]any{
		"type":           "expense",
		"category":       "groceries",
		"amount":         "30.00",
		"description":    "food",
		"date":           "2026-08-10",
		"payment_method": "card",
	}
	addTransaction(t, s, "user-1", expense)

	rec := doRequest(s, authedRequest(t, http.MethodGet, "/api/summary/month?year=2026&month=8", "user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp monthSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IncomeCents != 10000 || resp.ExpenseCents != 3000 || resp.NetCents != 7000 {
		t.Fatalf("summary = %+v", resp)
	}
	if len(resp.ByCategory) != 1 || resp.ByCategory[0].Name != "groceries" {
		t.Fatalf("by_category = %+v", resp.ByCategory)
	}
}

func TestSummaryCacheInvalidatedByMutation(t *testing.T) {
	s := newTestServer(t)
	addTransaction(t, s, "user-1", incomeBody("100.00"))

	// Prime the cache.
	rec := doRequest(s, authedRequest(t, http.MethodGet, "/api/summary/month?year=2026&month=8", "user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	addTransaction(t, s, "user-1", incomeBody("50.00"))

	rec = doRequest(s, authedRequest(t, http.MethodGet, "/api/summary/month?year=2026&month=8", "user-1", nil))
	var resp monthSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IncomeCents != 15000 {
		t.Fatalf("income = %d, want 15000 after invalidation", resp.IncomeCents)
	}
}

func TestYearSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)
	body := incomeBody("100.00")
	body["date"] = "2026-03-01"
	addTransaction(t, s, "user-1", body)

	rec := doRequest(s, authedRequest(t, http.MethodGet, "/api/summary/year?year=2026", "user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp yearSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IncomeCents != 10000 {
		t.Fatalf("income = %d, want 10000", resp.IncomeCents)
	}
	found := false
	for _, m := range resp.Months {
		if m.Month == 3 && m.IncomeCents == 10000 {
			found = true
		}
	}
	if !found {
		t.Fatalf("march totals missing: %+v", resp.Months)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	s := newTestServer(t)

	// Before any write the defaults come back.
	rec := doRequest(s, authedRequest(t, http.MethodGet, "/api/preferences", "user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var pref preferenceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pref); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pref.Currency != "USD" {
		t.Fatalf("currency = %q, want USD", pref.Currency)
	}

	body := map[string]any{
		"currency":       "EUR",
		"default_type":   "expense",
		"default_method": "card",
		"cash_cents":     5000,
		"bank_cents":     10000,
	}
	rec = doRequest(s, authedRequest(t, http.MethodPut, "/api/preferences", "user-1", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pref); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pref.Currency != "EUR" || pref.Balances.CashCents != 5000 {
		t.Fatalf("pref = %+v", pref)
	}
}

func TestPutPreferencesInvalidCurrency(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{"currency": "XYZ"}
	rec := doRequest(s, authedRequest(t, http.MethodPut, "/api/preferences", "user-1", body))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	rec := doRequest(s, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
}
