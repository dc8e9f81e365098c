package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/storage"
)

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	in, err := req.toInput()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.service.Add(r.Context(), owner, in, req.clientBalances())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.invalidateSummaries(owner)
	writeJSON(w, http.StatusCreated, mutationResponse{
		Transaction: toTransactionResponse(result.Transaction),
		Balances:    toBalancesResponse(result.Balances),
	})
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	id := r.PathValue("id")

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	in, err := req.toInput()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.service.Edit(r.Context(), owner, id, in, req.clientBalances())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.invalidateSummaries(owner)
	writeJSON(w, http.StatusOK, mutationResponse{
		Transaction: toTransactionResponse(result.Transaction),
		Balances:    toBalancesResponse(result.Balances),
	})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	id := r.PathValue("id")

	balances, err := s.service.Delete(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.invalidateSummaries(owner)
	writeJSON(w, http.StatusOK, deleteResponse{Balances: toBalancesResponse(balances)})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	id := r.PathValue("id")

	tx, err := s.repo.GetTransaction(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	filter := listFilterFromQuery(r)

	txs, err := s.repo.ListTransactions(r.Context(), owner, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	total, err := s.repo.CountTransactions(r.Context(), owner, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	resp := listResponse{
		Transactions: make([]transactionResponse, 0, len(txs)),
		Total:        total,
		Limit:        limit,
		Offset:       filter.Offset,
	}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	now := time.Now()
	year := queryInt(r, "year", now.Year())
	month := queryInt(r, "month", int(now.Month()))
	if month < 1 || month > 12 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "month must be between 1 and 12"})
		return
	}

	key := s.monthCacheKey(owner, year, month)
	if summary, found := s.monthCache.Get(key); found {
		writeJSON(w, http.StatusOK, toMonthSummaryResponse(summary))
		return
	}

	ctx, cancel := summaryContext(r)
	defer cancel()
	summary, err := s.repo.MonthSummary(ctx, owner, year, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.monthCache.Set(key, summary)
	writeJSON(w, http.StatusOK, toMonthSummaryResponse(summary))
}

func (s *Server) handleYearSummary(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())
	year := queryInt(r, "year", time.Now().Year())

	key := s.yearCacheKey(owner, year)
	if summary, found := s.yearCache.Get(key); found {
		writeJSON(w, http.StatusOK, toYearSummaryResponse(summary))
		return
	}

	ctx, cancel := summaryContext(r)
	defer cancel()
	summary, err := s.repo.YearSummary(ctx, owner, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.yearCache.Set(key, summary)
	writeJSON(w, http.StatusOK, toYearSummaryResponse(summary))
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	pref, err := s.repo.GetPreference(r.Context(), owner)
	if errors.Is(err, core.ErrNotFound) {
		// A user with no writes yet sees the defaults.
		pref = core.Preference{Owner: owner, Currency: "USD"}
		err = nil
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreferenceResponse(pref))
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	pref := core.Preference{
		Owner:         owner,
		Currency:      core.Currency(req.Currency),
		CashBalance:   core.Money{Cents: req.CashCents},
		BankBalance:   core.Money{Cents: req.BankCents},
		DefaultType:   core.TransactionType(req.DefaultType),
		DefaultMethod: core.PaymentMethod(req.DefaultMethod),
	}
	if err := pref.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	saved, err := s.repo.UpsertPreference(r.Context(), pref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreferenceResponse(saved))
}

// writeError maps domain errors onto HTTP status codes. Validation
// failures are 422, baseline drift is 409, everything unexpected is a
// logged 500 with a generic body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transaction not found"})
	case errors.Is(err, core.ErrStaleBalances):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "client balances are stale, refresh and retry"})
	case isValidationError(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		core.ErrInvalidAmount,
		core.ErrInsufficientBalance,
		core.ErrEmptyDescription,
		core.ErrEmptyCategory,
		core.ErrInvalidType,
		core.ErrInvalidMethod,
		core.ErrInvalidCurrency,
		core.ErrInvalidDate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	// Length and range checks from Validate come back as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "too long") || strings.Contains(msg, "cannot be negative")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func listFilterFromQuery(r *http.Request) storage.ListFilter {
	filter := storage.ListFilter{
		Year:   queryInt(r, "year", 0),
		Month:  queryInt(r, "month", 0),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	if v := strings.TrimSpace(r.URL.Query().Get("type")); v != "" {
		filter.Type = core.TransactionType(v)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("method")); v != "" {
		filter.Method = core.PaymentMethod(v)
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

// summaryContext bounds aggregate reads so a slow backend cannot hang
// the request.
func summaryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 7*time.Second)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
