// Package sheets defines the outbound report-export ports.
package sheets

import (
	"context"

	"tally/internal/core"
)

type (
	// ReportWriter appends exported transactions to a report sheet.
	ReportWriter interface {
		AppendTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}

	// ReportDeleter removes a previously exported transaction row.
	ReportDeleter interface {
		RemoveTransaction(ctx context.Context, id string) error
	}
)
