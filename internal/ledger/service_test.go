package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
	"tally/internal/storage/memory"
)

const owner = "user-1"

func newService() (*Service, *memory.Repository) {
	repo := memory.New()
	return New(repo, nil), repo
}

func seedBalances(t *testing.T, repo *memory.Repository, cash, bank int64) {
	t.Helper()
	_, err := repo.UpsertPreference(context.Background(), core.Preference{
		Owner:       owner,
		Currency:    "USD",
		CashBalance: core.Money{Cents: cash},
		BankBalance: core.Money{Cents: bank},
	})
	if err != nil {
		t.Fatalf("seed preference: %v", err)
	}
}

func input(typ core.TransactionType, cents int64, method core.PaymentMethod) Input {
	return Input{
		Type:          typ,
		Category:      "general",
		Amount:        core.Money{Cents: cents},
		Description:   "test entry",
		Date:          time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		PaymentMethod: method,
	}
}

func balances(t *testing.T, repo *memory.Repository) core.Balances {
	t.Helper()
	pref, err := repo.GetPreference(context.Background(), owner)
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	return pref.Balances()
}

func TestAddInsufficientBalanceRejectedWithoutSideEffects(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 10000, 0)

	_, err := svc.Add(context.Background(), owner, input(core.Expense, 15000, core.Cash), nil)
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	got := balances(t, repo)
	if got.Cash.Cents != 10000 || got.Bank.Cents != 0 {
		t.Fatalf("balances changed after rejection: %+v", got)
	}
	n, _ := repo.CountTransactions(context.Background(), owner, storage.ListFilter{})
	if n != 0 {
		t.Fatalf("ledger changed after rejection: %d entries", n)
	}
}

func TestAddEditDeleteRoundTrip(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 10000, 0)
	ctx := context.Background()

	// Add income 50.00 cash -> {150.00, 0}
	res, err := svc.Add(ctx, owner, input(core.Income, 5000, core.Cash), nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Balances.Cash.Cents != 15000 || res.Balances.Bank.Cents != 0 {
		t.Fatalf("after add: %+v", res.Balances)
	}

	// Edit amount to 30.00, same method -> adjustment -20.00 -> {130.00, 0}
	res, err = svc.Edit(ctx, owner, res.Transaction.ID, input(core.Income, 3000, core.Cash), nil)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if res.Balances.Cash.Cents != 13000 || res.Balances.Bank.Cents != 0 {
		t.Fatalf("after edit: %+v", res.Balances)
	}

	// Delete reverses the (edited) contribution -> back to {100.00, 0}
	got, err := svc.Delete(ctx, owner, res.Transaction.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got.Cash.Cents != 10000 || got.Bank.Cents != 0 {
		t.Fatalf("after delete: %+v", got)
	}
}

func TestAddThenDeleteRestoresBalances(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 7700, 4200)
	ctx := context.Background()
	before := balances(t, repo)

	cases := []Input{
		input(core.Income, 1234, core.Cash),
		input(core.Expense, 1234, core.Cash),
		input(core.Income, 999, core.Card),
		input(core.Expense, 999, core.Card),
	}
	for _, in := range cases {
		res, err := svc.Add(ctx, owner, in, nil)
		if err != nil {
			t.Fatalf("add %v %s: %v", in.Type, in.PaymentMethod, err)
		}
		if _, err := svc.Delete(ctx, owner, res.Transaction.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if got := balances(t, repo); got != before {
			t.Fatalf("balances not restored after %v %s: %+v", in.Type, in.PaymentMethod, got)
		}
	}
}

func TestSignConsistency(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 5000, 5000)
	ctx := context.Background()

	res, err := svc.Add(ctx, owner, input(core.Income, 700, core.Card), nil)
	if err != nil {
		t.Fatalf("add income: %v", err)
	}
	if res.Balances.Bank.Cents != 5700 || res.Balances.Cash.Cents != 5000 {
		t.Fatalf("income on card: %+v", res.Balances)
	}

	res, err = svc.Add(ctx, owner, input(core.Expense, 700, core.Cash), nil)
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if res.Balances.Cash.Cents != 4300 || res.Balances.Bank.Cents != 5700 {
		t.Fatalf("expense on cash: %+v", res.Balances)
	}
}

func TestEditNoOpKeepsBalances(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 5000, 0)
	ctx := context.Background()

	in := input(core.Expense, 1000, core.Cash)
	res, err := svc.Add(ctx, owner, in, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	after := res.Balances

	res, err = svc.Edit(ctx, owner, res.Transaction.ID, in, nil)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if res.Balances != after {
		t.Fatalf("no-op edit changed balances: %+v -> %+v", after, res.Balances)
	}
}

func TestEditMethodChangeMovesContribution(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 10000, 10000)
	ctx := context.Background()

	// Expense 50.00 on cash: cash 100 -> 50.
	res, err := svc.Add(ctx, owner, input(core.Expense, 5000, core.Cash), nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Balances.Cash.Cents != 5000 || res.Balances.Bank.Cents != 10000 {
		t.Fatalf("after add: %+v", res.Balances)
	}

	// Move the expense to card: cash restored, bank charged.
	res, err = svc.Edit(ctx, owner, res.Transaction.ID, input(core.Expense, 5000, core.Card), nil)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if res.Balances.Cash.Cents != 10000 || res.Balances.Bank.Cents != 5000 {
		t.Fatalf("after method change: %+v", res.Balances)
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 5000, 0)

	for _, cents := range []int64{0, -100} {
		_, err := svc.Add(context.Background(), owner, input(core.Income, cents, core.Cash), nil)
		if !errors.Is(err, core.ErrInvalidAmount) {
			t.Fatalf("amount %d: got %v, want ErrInvalidAmount", cents, err)
		}
	}
	if got := balances(t, repo); got.Cash.Cents != 5000 || got.Bank.Cents != 0 {
		t.Fatalf("balances changed after rejections: %+v", got)
	}
}

func TestStaleClientBalancesRejected(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 5000, 0)

	stale := &core.Balances{Cash: core.Money{Cents: 4000}}
	_, err := svc.Add(context.Background(), owner, input(core.Income, 100, core.Cash), stale)
	if !errors.Is(err, core.ErrStaleBalances) {
		t.Fatalf("got %v, want ErrStaleBalances", err)
	}

	fresh := &core.Balances{Cash: core.Money{Cents: 5000}}
	if _, err := svc.Add(context.Background(), owner, input(core.Income, 100, core.Cash), fresh); err != nil {
		t.Fatalf("fresh baseline rejected: %v", err)
	}
}

func TestEditDeleteMissingTransaction(t *testing.T) {
	svc, repo := newService()
	seedBalances(t, repo, 5000, 0)
	ctx := context.Background()

	if _, err := svc.Edit(ctx, owner, "missing", input(core.Income, 100, core.Cash), nil); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("edit missing: got %v, want ErrNotFound", err)
	}
	if _, err := svc.Delete(ctx, owner, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete missing: got %v, want ErrNotFound", err)
	}

	// A record owned by someone else is indistinguishable from missing.
	res, err := svc.Add(ctx, owner, input(core.Income, 100, core.Cash), nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Delete(ctx, "other-user", res.Transaction.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("cross-owner delete: got %v, want ErrNotFound", err)
	}
}

func TestLazyPreferenceCreationOnFirstAdd(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	res, err := svc.Add(ctx, owner, input(core.Income, 2500, core.Card), nil)
	if err != nil {
		t.Fatalf("add without preference: %v", err)
	}
	if res.Balances.Bank.Cents != 2500 {
		t.Fatalf("bank balance = %d, want 2500", res.Balances.Bank.Cents)
	}

	pref, err := repo.GetPreference(ctx, owner)
	if err != nil {
		t.Fatalf("preference not created: %v", err)
	}
	if pref.Currency != "USD" {
		t.Fatalf("default currency = %s, want USD", pref.Currency)
	}
}

func TestConcurrentAddsDoNotLoseUpdates(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Add(ctx, owner, input(core.Income, 10, core.Cash), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add: %v", err)
		}
	}

	got := balances(t, repo)
	if got.Cash.Cents != n*10 {
		t.Fatalf("cash = %d, want %d (lost update)", got.Cash.Cents, n*10)
	}
}

func TestUnauthorizedOwner(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Add(context.Background(), "", input(core.Income, 100, core.Cash), nil); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}
