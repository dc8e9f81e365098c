// Package google implements the report-export ports against the
// Google Sheets API using service account credentials.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tally/internal/core"
	ports "tally/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year; the export sheet is one tab per year.
	sheetBase string
}

var (
	_ ports.ReportWriter  = (*Client)(nil)
	_ ports.ReportDeleter = (*Client)(nil)
)

// NewFromEnv creates a Sheets client from environment variables.
// Required: GOOGLE_SPREADSHEET_ID plus service account credentials via
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS. Optional: GOOGLE_SHEET_NAME
// (default "Transactions").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetBase := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if sheetBase == "" {
		sheetBase = "Transactions"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return service, nil
}

// sheetName returns the per-year tab name, e.g. "2026 Transactions".
func (c *Client) sheetName(year int) string {
	return fmt.Sprintf("%d %s", year, c.sheetBase)
}

// AppendTransaction appends one exported transaction as a row:
// date, owner, type, category, amount, payment method, description, id.
func (c *Client) AppendTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := c.sheetName(tx.Date.Year())
	row := []interface{}{
		tx.Date.Format("2006-01-02"),
		tx.Owner,
		string(tx.Type),
		tx.Category,
		core.FormatCents(tx.Amount.Cents),
		string(tx.PaymentMethod),
		tx.Description,
		tx.ID,
	}

	vr := &gsheet.ValueRange{Values: [][]interface{}{row}}
	resp, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, fmt.Sprintf("%s!A:H", sheet), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append row: %w", err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}

	slog.InfoContext(ctx, "Transaction exported to sheet",
		"transaction_id", tx.ID,
		"sheet", sheet,
		"range", ref)

	return ref, nil
}

// RemoveTransaction blanks the row holding the given transaction ID.
// The ID lives in column H; the current and previous year tabs are
// searched since exports span year boundaries.
func (c *Client) RemoveTransaction(ctx context.Context, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	year := time.Now().Year()
	for _, y := range []int{year, year - 1} {
		sheet := c.sheetName(y)
		found, err := c.clearRowByID(ctx, sheet, id)
		if err != nil {
			return err
		}
		if found {
			slog.InfoContext(ctx, "Transaction removed from sheet",
				"transaction_id", id, "sheet", sheet)
			return nil
		}
	}

	// Already absent; removal is idempotent.
	slog.WarnContext(ctx, "Transaction not found in export sheets", "transaction_id", id)
	return nil
}

func (c *Client) clearRowByID(ctx context.Context, sheet, id string) (bool, error) {
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, fmt.Sprintf("%s!H:H", sheet)).
		Context(ctx).
		Do()
	if err != nil {
		// A missing tab for the probed year is not an error.
		return false, nil
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if fmt.Sprint(row[0]) != id {
			continue
		}
		rng := fmt.Sprintf("%s!A%d:H%d", sheet, i+1, i+1)
		_, err := c.svc.Spreadsheets.Values.
			Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
			Context(ctx).
			Do()
		if err != nil {
			return false, fmt.Errorf("clear row: %w", err)
		}
		return true, nil
	}
	return false, nil
}
