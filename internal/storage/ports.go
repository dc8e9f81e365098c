// Package storage defines the repository ports the reconciliation
// service and HTTP layer depend on. Concrete backends live in the
// sqlite, postgres and memory subpackages.
package storage

import (
	"context"
	"time"

	"tally/internal/core"
)

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

type (
	MutationKind string

	// Mutation is one reconciled ledger write: the transaction record
	// to create, replace or remove, plus the signed balance deltas the
	// write must apply. A repository applies the deltas as conditional
	// increments and the ledger write in a single storage transaction;
	// if either balance would go negative nothing is written and
	// core.ErrInsufficientBalance is returned.
	Mutation struct {
		Kind        MutationKind
		Transaction core.Transaction
		CashDelta   int64
		BankDelta   int64
	}

	// ListFilter narrows and pages a transaction listing. Zero values
	// mean "no filter"; Limit <= 0 falls back to the backend default.
	ListFilter struct {
		Year   int
		Month  int
		Type   core.TransactionType
		Method core.PaymentMethod
		Limit  int
		Offset int
	}

	// ExportItem is the minimal record the export worker needs to pick
	// up a pending spreadsheet row.
	ExportItem struct {
		ID        string
		Owner     string
		Version   int64
		CreatedAt time.Time
	}

	// Repository is the full persistence port. All reads and writes are
	// scoped by owner; lookups for records owned by someone else behave
	// as core.ErrNotFound.
	Repository interface {
		GetPreference(ctx context.Context, owner string) (core.Preference, error)
		UpsertPreference(ctx context.Context, pref core.Preference) (core.Preference, error)

		GetTransaction(ctx context.Context, owner, id string) (core.Transaction, error)
		ListTransactions(ctx context.Context, owner string, filter ListFilter) ([]core.Transaction, error)
		CountTransactions(ctx context.Context, owner string, filter ListFilter) (int64, error)

		// ApplyMutation performs the reconciled write and returns the
		// new balances as persisted.
		ApplyMutation(ctx context.Context, owner string, m Mutation) (core.Balances, error)

		MonthSummary(ctx context.Context, owner string, year, month int) (core.MonthSummary, error)
		YearSummary(ctx context.Context, owner string, year int) (core.YearSummary, error)

		PendingExport(ctx context.Context, limit int) ([]ExportItem, error)
		MarkExported(ctx context.Context, id string) error
		MarkExportError(ctx context.Context, id string) error

		Close() error
	}
)

// DefaultListLimit bounds unpaged listing requests.
const DefaultListLimit = 50
