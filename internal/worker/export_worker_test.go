package worker

import (
	"context"
	"testing"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	sheetsmem "tally/internal/sheets/memory"
	"tally/internal/storage"
	"tally/internal/storage/memory"
)

func seedTransaction(t *testing.T, repo *memory.Repository, id string) core.Transaction {
	t.Helper()
	tx := core.Transaction{
		ID:            id,
		Owner:         "user-1",
		Type:          core.Expense,
		Category:      "groceries",
		Amount:        core.Money{Cents: 2500},
		Description:   "weekly shop",
		Date:          time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		PaymentMethod: core.Card,
	}
	// Deltas left at zero; only the export state matters for these tests.
	_, err := repo.ApplyMutation(context.Background(), tx.Owner, storage.Mutation{
		Kind:        storage.MutationCreate,
		Transaction: tx,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return tx
}

func TestHandleUpsertExportsAndMarks(t *testing.T) {
	repo := memory.New()
	store := sheetsmem.New()
	w := NewExportWorker(repo, store, store, 5)
	tx := seedTransaction(t, repo, "tx-1")

	msg := amqp.NewUpsertMessage(tx.ID, tx.Owner, 1)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 || rows[0].ID != tx.ID {
		t.Fatalf("exported rows = %+v", rows)
	}

	pending, err := repo.PendingExport(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending export: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("still pending after export: %+v", pending)
	}
}

func TestHandleUpsertForDeletedTransactionIsNoop(t *testing.T) {
	repo := memory.New()
	store := sheetsmem.New()
	w := NewExportWorker(repo, store, store, 5)

	msg := amqp.NewUpsertMessage("gone", "user-1", 1)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("expected nil for deleted transaction, got %v", err)
	}
	if len(store.Rows()) != 0 {
		t.Fatal("nothing should have been exported")
	}
}

func TestHandleDeleteRemovesRow(t *testing.T) {
	repo := memory.New()
	store := sheetsmem.New()
	w := NewExportWorker(repo, store, store, 5)
	tx := seedTransaction(t, repo, "tx-2")

	if err := w.HandleEvent(context.Background(), amqp.NewUpsertMessage(tx.ID, tx.Owner, 1)); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := w.HandleEvent(context.Background(), amqp.NewDeleteMessage(tx.ID, tx.Owner)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.Rows()) != 0 {
		t.Fatalf("row not removed: %+v", store.Rows())
	}
}

func TestProcessPendingDrainsBacklog(t *testing.T) {
	repo := memory.New()
	store := sheetsmem.New()
	w := NewExportWorker(repo, store, store, 10)

	seedTransaction(t, repo, "tx-a")
	seedTransaction(t, repo, "tx-b")

	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if len(store.Rows()) != 2 {
		t.Fatalf("exported %d rows, want 2", len(store.Rows()))
	}

	// Second run has nothing left to do.
	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("second process pending: %v", err)
	}
	if len(store.Rows()) != 2 {
		t.Fatalf("re-export duplicated rows: %d", len(store.Rows()))
	}
}
