// Package worker drains accepted ledger mutations into the report
// spreadsheet. Events arrive over AMQP; a periodic scan of pending
// rows catches anything a lost message left behind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets"
	"tally/internal/storage"
)

type ExportWorker struct {
	repo      storage.Repository
	writer    sheets.ReportWriter
	deleter   sheets.ReportDeleter
	batchSize int
}

func NewExportWorker(repo storage.Repository, writer sheets.ReportWriter, deleter sheets.ReportDeleter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		repo:      repo,
		writer:    writer,
		deleter:   deleter,
		batchSize: batchSize,
	}
}

// HandleEvent processes one ledger event from the queue.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.TransactionEventMessage) error {
	switch msg.Action {
	case amqp.ActionUpsert:
		return w.exportTransaction(ctx, msg.Owner, msg.ID)
	case amqp.ActionDelete:
		if err := w.deleter.RemoveTransaction(ctx, msg.ID); err != nil {
			return fmt.Errorf("remove exported transaction: %w", err)
		}
		return nil
	default:
		slog.WarnContext(ctx, "Dropping event with unknown action",
			"action", msg.Action, "transaction_id", msg.ID)
		return nil
	}
}

func (w *ExportWorker) exportTransaction(ctx context.Context, owner, id string) error {
	tx, err := w.repo.GetTransaction(ctx, owner, id)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before the export ran; nothing to do.
		slog.InfoContext(ctx, "Skipping export of deleted transaction", "transaction_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}

	ref, err := w.writer.AppendTransaction(ctx, tx)
	if err != nil {
		if markErr := w.repo.MarkExportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"transaction_id", id, "error", markErr)
		}
		return fmt.Errorf("append to report: %w", err)
	}

	if err := w.repo.MarkExported(ctx, id); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}

	slog.InfoContext(ctx, "Transaction exported",
		"transaction_id", id, "row_ref", ref)
	return nil
}

// ProcessPending exports up to one batch of transactions whose rows
// are still marked pending. Failures are logged and skipped so one
// bad row cannot block the batch.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	items, err := w.repo.PendingExport(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending exports: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(items))

	for _, item := range items {
		if err := w.exportTransaction(ctx, item.Owner, item.ID); err != nil {
			slog.ErrorContext(ctx, "Pending export failed",
				"transaction_id", item.ID, "error", err)
		}
	}
	return nil
}

// Run consumes queue events and runs the periodic pending scan until
// the context is cancelled. client may be nil, in which case only the
// periodic scan runs.
func (w *ExportWorker) Run(ctx context.Context, client *amqp.Client, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if client != nil {
		g.Go(func() error {
			if err := client.ConsumeEvents(ctx, w.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consume events: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Drain anything that accumulated while the worker was down.
		if err := w.ProcessPending(ctx); err != nil {
			slog.ErrorContext(ctx, "Startup export scan failed", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Periodic export scan failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}
