// Package ledger implements balance reconciliation: every transaction
// create, edit or delete is translated into signed balance deltas and
// applied together with the ledger write as one atomic storage
// mutation. Balances therefore always reflect the net effect of the
// accepted ledger and can never be driven negative.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/storage"
)

// EventPublisher forwards accepted ledger mutations to the export
// pipeline. Publishing is best-effort; a failed publish never fails
// the request because the periodic export scan picks the row up later.
type EventPublisher interface {
	PublishTransactionUpsert(ctx context.Context, id, owner string, version int64) error
	PublishTransactionDelete(ctx context.Context, id, owner string) error
}

// Input is the full replacement set of mutable transaction fields.
type Input struct {
	Type          core.TransactionType
	Category      string
	Amount        core.Money
	Description   string
	Date          time.Time
	PaymentMethod core.PaymentMethod
	Receipt       *core.Receipt
}

// Result is returned by Add and Edit: the persisted record plus the
// new authoritative balances the client should adopt as its baseline.
type Result struct {
	Transaction core.Transaction
	Balances    core.Balances
}

type Service struct {
	repo   storage.Repository
	events EventPublisher
}

// New creates a reconciliation service. events may be nil when no
// export pipeline is configured.
func New(repo storage.Repository, events EventPublisher) *Service {
	return &Service{repo: repo, events: events}
}

// Add validates and persists a new transaction, applying its
// contribution to the matching balance. clientBalances, when non-nil,
// is checked against the stored balances and rejected with
// core.ErrStaleBalances on drift; it is never used as the arithmetic
// baseline.
func (s *Service) Add(ctx context.Context, owner string, in Input, clientBalances *core.Balances) (Result, error) {
	if owner == "" {
		return Result{}, core.ErrUnauthorized
	}

	tx := core.Transaction{
		ID:            uuid.NewString(),
		Owner:         owner,
		Type:          in.Type,
		Category:      in.Category,
		Amount:        in.Amount,
		Description:   in.Description,
		Date:          in.Date,
		PaymentMethod: in.PaymentMethod,
		Receipt:       in.Receipt,
	}
	if err := tx.Validate(); err != nil {
		return Result{}, err
	}

	if err := s.checkBaseline(ctx, owner, clientBalances); err != nil {
		return Result{}, err
	}

	var cashDelta, bankDelta int64
	applyDelta(&cashDelta, &bankDelta, tx.PaymentMethod, tx.Type.Signed(tx.Amount))

	balances, err := s.repo.ApplyMutation(ctx, owner, storage.Mutation{
		Kind:        storage.MutationCreate,
		Transaction: tx,
		CashDelta:   cashDelta,
		BankDelta:   bankDelta,
	})
	if err != nil {
		return Result{}, err
	}

	s.publishUpsert(ctx, tx.ID, owner, 1)

	slog.InfoContext(ctx, "Transaction added",
		"transaction_id", tx.ID,
		"type", string(tx.Type),
		"payment_method", string(tx.PaymentMethod),
		"amount_cents", tx.Amount.Cents)

	return Result{Transaction: tx, Balances: balances}, nil
}

// Edit replaces an existing transaction's mutable fields. The original
// contribution is fully reversed against its original payment method
// and the new contribution applied to the new method, so a method
// change moves the money instead of stranding the old deduction.
func (s *Service) Edit(ctx context.Context, owner, id string, in Input, clientBalances *core.Balances) (Result, error) {
	if owner == "" {
		return Result{}, core.ErrUnauthorized
	}

	original, err := s.repo.GetTransaction(ctx, owner, id)
	if err != nil {
		return Result{}, err
	}

	updated := core.Transaction{
		ID:            original.ID,
		Owner:         owner,
		Type:          in.Type,
		Category:      in.Category,
		Amount:        in.Amount,
		Description:   in.Description,
		Date:          in.Date,
		PaymentMethod: in.PaymentMethod,
		Receipt:       in.Receipt,
	}
	if err := updated.Validate(); err != nil {
		return Result{}, err
	}

	if err := s.checkBaseline(ctx, owner, clientBalances); err != nil {
		return Result{}, err
	}

	var cashDelta, bankDelta int64
	applyDelta(&cashDelta, &bankDelta, original.PaymentMethod, -original.Type.Signed(original.Amount))
	applyDelta(&cashDelta, &bankDelta, updated.PaymentMethod, updated.Type.Signed(updated.Amount))

	balances, err := s.repo.ApplyMutation(ctx, owner, storage.Mutation{
		Kind:        storage.MutationUpdate,
		Transaction: updated,
		CashDelta:   cashDelta,
		BankDelta:   bankDelta,
	})
	if err != nil {
		return Result{}, err
	}

	s.publishUpsert(ctx, updated.ID, owner, 0)

	slog.InfoContext(ctx, "Transaction edited",
		"transaction_id", updated.ID,
		"cash_delta", cashDelta,
		"bank_delta", bankDelta)

	return Result{Transaction: updated, Balances: balances}, nil
}

// Delete removes a transaction and reverses its original contribution.
func (s *Service) Delete(ctx context.Context, owner, id string) (core.Balances, error) {
	if owner == "" {
		return core.Balances{}, core.ErrUnauthorized
	}

	original, err := s.repo.GetTransaction(ctx, owner, id)
	if err != nil {
		return core.Balances{}, err
	}

	var cashDelta, bankDelta int64
	applyDelta(&cashDelta, &bankDelta, original.PaymentMethod, -original.Type.Signed(original.Amount))

	balances, err := s.repo.ApplyMutation(ctx, owner, storage.Mutation{
		Kind:        storage.MutationDelete,
		Transaction: original,
		CashDelta:   cashDelta,
		BankDelta:   bankDelta,
	})
	if err != nil {
		return core.Balances{}, err
	}

	if s.events != nil {
		if err := s.events.PublishTransactionDelete(ctx, original.ID, owner); err != nil {
			slog.ErrorContext(ctx, "Failed to publish delete event",
				"transaction_id", original.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", original.ID,
		"cash_delta", cashDelta,
		"bank_delta", bankDelta)

	return balances, nil
}

// checkBaseline compares a client-supplied balance pair against the
// stored balances. A missing preference counts as zero balances.
func (s *Service) checkBaseline(ctx context.Context, owner string, client *core.Balances) error {
	if client == nil {
		return nil
	}

	stored := core.Balances{}
	pref, err := s.repo.GetPreference(ctx, owner)
	switch {
	case err == nil:
		stored = pref.Balances()
	case errors.Is(err, core.ErrNotFound):
		// no preference yet, baseline is zero
	default:
		return fmt.Errorf("read preference: %w", err)
	}

	if stored != *client {
		return core.ErrStaleBalances
	}
	return nil
}

func applyDelta(cash, bank *int64, method core.PaymentMethod, delta int64) {
	if method == core.Cash {
		*cash += delta
	} else {
		*bank += delta
	}
}

func (s *Service) publishUpsert(ctx context.Context, id, owner string, version int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionUpsert(ctx, id, owner, version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish upsert event",
			"transaction_id", id, "error", err)
	}
}
