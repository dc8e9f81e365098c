package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validTransaction() Transaction {
	return Transaction{
		ID:            "tx-1",
		Owner:         "user-1",
		Type:          Expense,
		Category:      "groceries",
		Amount:        Money{Cents: 1250},
		Description:   "weekly shop",
		Date:          time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		PaymentMethod: Cash,
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{"valid", func(tx *Transaction) {}, nil},
		{"bad type", func(tx *Transaction) { tx.Type = "transfer" }, ErrInvalidType},
		{"bad method", func(tx *Transaction) { tx.PaymentMethod = "cheque" }, ErrInvalidMethod},
		{"zero amount", func(tx *Transaction) { tx.Amount = Money{} }, ErrInvalidAmount},
		{"negative amount", func(tx *Transaction) { tx.Amount = Money{Cents: -5} }, ErrInvalidAmount},
		{"empty description", func(tx *Transaction) { tx.Description = "  " }, ErrEmptyDescription},
		{"empty category", func(tx *Transaction) { tx.Category = "" }, ErrEmptyCategory},
		{"zero date", func(tx *Transaction) { tx.Date = time.Time{} }, ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("description too long", func(t *testing.T) {
		tx := validTransaction()
		tx.Description = strings.Repeat("x", 201)
		if tx.Validate() == nil {
			t.Fatal("expected error for long description")
		}
	})
}

func TestSignedDelta(t *testing.T) {
	if got := Income.Signed(Money{Cents: 500}); got != 500 {
		t.Fatalf("income delta = %d, want 500", got)
	}
	if got := Expense.Signed(Money{Cents: 500}); got != -500 {
		t.Fatalf("expense delta = %d, want -500", got)
	}
}

func TestPreferenceValidate(t *testing.T) {
	pref := Preference{
		Owner:         "user-1",
		Currency:      "EUR",
		CashBalance:   Money{Cents: 1000},
		BankBalance:   Money{Cents: 0},
		DefaultType:   Expense,
		DefaultMethod: Card,
	}
	if err := pref.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pref.Currency = "XYZ"
	if !errors.Is(pref.Validate(), ErrInvalidCurrency) {
		t.Fatal("expected ErrInvalidCurrency")
	}

	pref.Currency = "USD"
	pref.CashBalance = Money{Cents: -1}
	if pref.Validate() == nil {
		t.Fatal("expected error for negative balance")
	}
}

func TestSummaryNet(t *testing.T) {
	s := MonthSummary{Income: Money{Cents: 5000}, Expense: Money{Cents: 1800}}
	if s.Net().Cents != 3200 {
		t.Fatalf("net = %d, want 3200", s.Net().Cents)
	}
}
