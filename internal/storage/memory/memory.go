// Package memory provides an in-memory Repository used by tests and
// the default development backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

type exportState struct {
	owner     string
	version   int64
	pending   bool
	failed    bool
	createdAt time.Time
}

type Repository struct {
	mu      sync.Mutex
	prefs   map[string]core.Preference
	txs     map[string]core.Transaction
	exports map[string]*exportState
}

var _ storage.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		prefs:   make(map[string]core.Preference),
		txs:     make(map[string]core.Transaction),
		exports: make(map[string]*exportState),
	}
}

func (r *Repository) GetPreference(_ context.Context, owner string) (core.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pref, ok := r.prefs[owner]
	if !ok {
		return core.Preference{}, core.ErrNotFound
	}
	return pref, nil
}

func (r *Repository) UpsertPreference(_ context.Context, pref core.Preference) (core.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.prefs[pref.Owner]
	if ok {
		// Balances are owned by the reconciliation path; an upsert only
		// replaces display settings unless no record existed yet.
		pref.CashBalance = existing.CashBalance
		pref.BankBalance = existing.BankBalance
	}
	r.prefs[pref.Owner] = pref
	return pref, nil
}

func (r *Repository) GetTransaction(_ context.Context, owner, id string) (core.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok || tx.Owner != owner {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, nil
}

func matches(tx core.Transaction, f storage.ListFilter) bool {
	if f.Year != 0 && tx.Date.Year() != f.Year {
		return false
	}
	if f.Month != 0 && int(tx.Date.Month()) != f.Month {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Method != "" && tx.PaymentMethod != f.Method {
		return false
	}
	return true
}

func (r *Repository) ListTransactions(_ context.Context, owner string, f storage.ListFilter) ([]core.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.Transaction
	for _, tx := range r.txs {
		if tx.Owner == owner && matches(tx, f) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) CountTransactions(_ context.Context, owner string, f storage.ListFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, tx := range r.txs {
		if tx.Owner == owner && matches(tx, f) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) ApplyMutation(_ context.Context, owner string, m storage.Mutation) (core.Balances, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pref, ok := r.prefs[owner]
	switch m.Kind {
	case storage.MutationCreate:
		if !ok {
			// Lazily created on first ledger write.
			pref = core.Preference{Owner: owner, Currency: "USD"}
		}
	default:
		if !ok {
			return core.Balances{}, core.ErrNotFound
		}
		existing, found := r.txs[m.Transaction.ID]
		if !found || existing.Owner != owner {
			return core.Balances{}, core.ErrNotFound
		}
	}

	newCash := pref.CashBalance.Cents + m.CashDelta
	newBank := pref.BankBalance.Cents + m.BankDelta
	if newCash < 0 || newBank < 0 {
		return core.Balances{}, core.ErrInsufficientBalance
	}

	pref.CashBalance = core.Money{Cents: newCash}
	pref.BankBalance = core.Money{Cents: newBank}
	r.prefs[owner] = pref

	switch m.Kind {
	case storage.MutationCreate:
		r.txs[m.Transaction.ID] = m.Transaction
		r.exports[m.Transaction.ID] = &exportState{
			owner:     owner,
			version:   1,
			pending:   true,
			createdAt: time.Now(),
		}
	case storage.MutationUpdate:
		r.txs[m.Transaction.ID] = m.Transaction
		if st := r.exports[m.Transaction.ID]; st != nil {
			st.version++
			st.pending = true
			st.failed = false
		}
	case storage.MutationDelete:
		delete(r.txs, m.Transaction.ID)
		delete(r.exports, m.Transaction.ID)
	}

	return pref.Balances(), nil
}

func (r *Repository) MonthSummary(_ context.Context, owner string, year, month int) (core.MonthSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := core.MonthSummary{Year: year, Month: month}
	byCategory := make(map[string]int64)
	for _, tx := range r.txs {
		if tx.Owner != owner || tx.Date.Year() != year || int(tx.Date.Month()) != month {
			continue
		}
		switch tx.Type {
		case core.Income:
			summary.Income.Cents += tx.Amount.Cents
		case core.Expense:
			summary.Expense.Cents += tx.Amount.Cents
			byCategory[tx.Category] += tx.Amount.Cents
		}
	}
	summary.ByCategory = sortedCategories(byCategory)
	return summary, nil
}

func (r *Repository) YearSummary(_ context.Context, owner string, year int) (core.YearSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := core.YearSummary{Year: year}
	months := make([]core.MonthTotal, 12)
	for i := range months {
		months[i].Month = i + 1
	}
	byCategory := make(map[string]int64)
	for _, tx := range r.txs {
		if tx.Owner != owner || tx.Date.Year() != year {
			continue
		}
		m := &months[int(tx.Date.Month())-1]
		switch tx.Type {
		case core.Income:
			m.Income.Cents += tx.Amount.Cents
			summary.Income.Cents += tx.Amount.Cents
		case core.Expense:
			m.Expense.Cents += tx.Amount.Cents
			summary.Expense.Cents += tx.Amount.Cents
			byCategory[tx.Category] += tx.Amount.Cents
		}
	}
	summary.Months = months
	summary.ByCategory = sortedCategories(byCategory)
	return summary, nil
}

func sortedCategories(sums map[string]int64) []core.CategoryAmount {
	out := make([]core.CategoryAmount, 0, len(sums))
	for name, cents := range sums {
		out = append(out, core.CategoryAmount{Name: name, Amount: core.Money{Cents: cents}})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Repository) PendingExport(_ context.Context, limit int) ([]storage.ExportItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []storage.ExportItem
	for id, st := range r.exports {
		if !st.pending || st.failed {
			continue
		}
		out = append(out, storage.ExportItem{
			ID:        id,
			Owner:     st.owner,
			Version:   st.version,
			CreatedAt: st.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) MarkExported(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.exports[id]
	if !ok {
		return core.ErrNotFound
	}
	st.pending = false
	st.failed = false
	return nil
}

func (r *Repository) MarkExportError(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.exports[id]
	if !ok {
		return core.ErrNotFound
	}
	st.failed = true
	return nil
}

func (r *Repository) Close() error { return nil }
