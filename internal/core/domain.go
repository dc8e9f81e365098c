package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	Cash PaymentMethod = "cash"
	Card PaymentMethod = "card"
)

type (
	TransactionType string

	PaymentMethod string

	Currency string

	Money struct {
		Cents int64
	}

	// Receipt is an opaque reference to an externally stored image.
	Receipt struct {
		PublicID string
		URL      string
	}

	Transaction struct {
		ID            string
		Owner         string
		Type          TransactionType
		Category      string
		Amount        Money
		Description   string
		Date          time.Time
		PaymentMethod PaymentMethod
		Receipt       *Receipt
	}

	// Balances is the pair of denormalized running totals kept per user.
	Balances struct {
		Cash Money
		Bank Money
	}

	// Preference is the singleton per-user record holding the running
	// balances and display defaults. Created lazily on first write.
	Preference struct {
		Owner         string
		Currency      Currency
		CashBalance   Money
		BankBalance   Money
		DefaultType   TransactionType
		DefaultMethod PaymentMethod
	}
)

// SupportedCurrencies lists the currency codes a preference may use.
var SupportedCurrencies = []Currency{"USD", "EUR", "GBP", "INR", "JPY", "CAD", "AUD"}

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrStaleBalances       = errors.New("stale balances")
	ErrEmptyDescription    = errors.New("empty description")
	ErrEmptyCategory       = errors.New("empty category")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInvalidMethod       = errors.New("invalid payment method")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidDate         = errors.New("invalid date")
)

func (t TransactionType) IsValid() bool {
	return t == Income || t == Expense
}

func (m PaymentMethod) IsValid() bool {
	return m == Cash || m == Card
}

func (c Currency) IsValid() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Signed returns the balance delta a transaction of this type
// contributes: positive for income, negative for expense.
func (t TransactionType) Signed(m Money) int64 {
	if t == Income {
		return m.Cents
	}
	return -m.Cents
}

func (tx Transaction) Validate() error {
	if !tx.Type.IsValid() {
		return ErrInvalidType
	}
	if !tx.PaymentMethod.IsValid() {
		return ErrInvalidMethod
	}
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(tx.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(tx.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if strings.TrimSpace(tx.Category) == "" {
		return ErrEmptyCategory
	}
	if tx.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (p Preference) Validate() error {
	if !p.Currency.IsValid() {
		return ErrInvalidCurrency
	}
	if p.CashBalance.Cents < 0 || p.BankBalance.Cents < 0 {
		return errors.New("balance cannot be negative")
	}
	if p.DefaultType != "" && !p.DefaultType.IsValid() {
		return ErrInvalidType
	}
	if p.DefaultMethod != "" && !p.DefaultMethod.IsValid() {
		return ErrInvalidMethod
	}
	return nil
}

// Balances returns the preference's running totals as a pair.
func (p Preference) Balances() Balances {
	return Balances{Cash: p.CashBalance, Bank: p.BankBalance}
}
