// Package sqlite implements the storage.Repository port on an embedded
// SQLite database. Reconciled writes run in a single transaction with
// conditional balance increments so a balance can never go negative
// and the ledger can never drift from the preference totals.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/storage"

	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339
)

type Repository struct {
	db *sql.DB
}

var _ storage.Repository = (*Repository)(nil)

func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) GetPreference(ctx context.Context, owner string) (core.Preference, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, currency, cash_balance_cents, bank_balance_cents, default_type, default_method
		FROM preferences
		WHERE owner_id = ?`, owner)

	var pref core.Preference
	err := row.Scan(&pref.Owner, &pref.Currency, &pref.CashBalance.Cents,
		&pref.BankBalance.Cents, &pref.DefaultType, &pref.DefaultMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Preference{}, core.ErrNotFound
	}
	if err != nil {
		return core.Preference{}, fmt.Errorf("get preference: %w", err)
	}
	return pref, nil
}

func (r *Repository) UpsertPreference(ctx context.Context, pref core.Preference) (core.Preference, error) {
	now := time.Now().UTC().Format(timeLayout)
	// Balances are only seeded on first insert; afterwards they belong
	// to the reconciliation path.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO preferences (owner_id, currency, cash_balance_cents, bank_balance_cents, default_type, default_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			currency = excluded.currency,
			default_type = excluded.default_type,
			default_method = excluded.default_method,
			updated_at = excluded.updated_at`,
		pref.Owner, pref.Currency, pref.CashBalance.Cents, pref.BankBalance.Cents,
		pref.DefaultType, pref.DefaultMethod, now, now)
	if err != nil {
		return core.Preference{}, fmt.Errorf("upsert preference: %w", err)
	}
	return r.GetPreference(ctx, pref.Owner)
}

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		tx              core.Transaction
		dateStr         string
		receiptPublicID sql.NullString
		receiptURL      sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.Owner, &tx.Type, &tx.Category, &tx.Amount.Cents,
		&tx.Description, &dateStr, &tx.PaymentMethod, &receiptPublicID, &receiptURL)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Date, err = time.Parse(dateLayout, dateStr)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction date %q: %w", dateStr, err)
	}
	if receiptPublicID.Valid || receiptURL.Valid {
		tx.Receipt = &core.Receipt{PublicID: receiptPublicID.String, URL: receiptURL.String}
	}
	return tx, nil
}

const transactionColumns = `id, owner_id, type, category, amount_cents, description, tx_date, payment_method, receipt_public_id, receipt_url`

func (r *Repository) GetTransaction(ctx context.Context, owner, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ? AND owner_id = ?`, id, owner)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func filterClauses(owner string, f storage.ListFilter) (string, []any) {
	clauses := []string{"owner_id = ?"}
	args := []any{owner}

	if f.Year != 0 {
		clauses = append(clauses, "substr(tx_date, 1, 4) = ?")
		args = append(args, fmt.Sprintf("%04d", f.Year))
	}
	if f.Month != 0 {
		clauses = append(clauses, "substr(tx_date, 6, 2) = ?")
		args = append(args, fmt.Sprintf("%02d", f.Month))
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Method != "" {
		clauses = append(clauses, "payment_method = ?")
		args = append(args, string(f.Method))
	}
	return strings.Join(clauses, " AND "), args
}

func (r *Repository) ListTransactions(ctx context.Context, owner string, f storage.ListFilter) ([]core.Transaction, error) {
	where, args := filterClauses(owner, f)

	limit := f.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE `+where+`
		ORDER BY tx_date DESC, created_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *Repository) CountTransactions(ctx context.Context, owner string, f storage.ListFilter) (int64, error) {
	where, args := filterClauses(owner, f)

	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// ApplyMutation performs the ledger write and the conditional balance
// increments inside one database transaction. The WHERE predicate on
// the balance update is the authoritative non-negativity check; when it
// rejects the increment nothing else is committed.
func (r *Repository) ApplyMutation(ctx context.Context, owner string, m storage.Mutation) (core.Balances, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Balances{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	now := time.Now().UTC().Format(timeLayout)

	switch m.Kind {
	case storage.MutationCreate:
		// Lazily create the preference row on first ledger write.
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO preferences (owner_id, currency, created_at, updated_at)
			VALUES (?, 'USD', ?, ?)
			ON CONFLICT (owner_id) DO NOTHING`, owner, now, now); err != nil {
			return core.Balances{}, fmt.Errorf("ensure preference: %w", err)
		}
	case storage.MutationUpdate, storage.MutationDelete:
		var exists int
		err := dbTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transactions WHERE id = ? AND owner_id = ?`,
			m.Transaction.ID, owner).Scan(&exists)
		if err != nil {
			return core.Balances{}, fmt.Errorf("check transaction: %w", err)
		}
		if exists == 0 {
			return core.Balances{}, core.ErrNotFound
		}
	}

	res, err := dbTx.ExecContext(ctx, `
		UPDATE preferences
		SET cash_balance_cents = cash_balance_cents + ?,
		    bank_balance_cents = bank_balance_cents + ?,
		    updated_at = ?
		WHERE owner_id = ?
		  AND cash_balance_cents + ? >= 0
		  AND bank_balance_cents + ? >= 0`,
		m.CashDelta, m.BankDelta, now, owner, m.CashDelta, m.BankDelta)
	if err != nil {
		return core.Balances{}, fmt.Errorf("apply balance delta: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Balances{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := dbTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM preferences WHERE owner_id = ?`, owner).Scan(&exists); err != nil {
			return core.Balances{}, fmt.Errorf("check preference: %w", err)
		}
		if exists == 0 {
			return core.Balances{}, core.ErrNotFound
		}
		return core.Balances{}, core.ErrInsufficientBalance
	}

	tx := m.Transaction
	switch m.Kind {
	case storage.MutationCreate:
		_, err = dbTx.ExecContext(ctx, `
			INSERT INTO transactions (id, owner_id, type, category, amount_cents, description, tx_date, payment_method, receipt_public_id, receipt_url, export_state, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 1, ?, ?)`,
			tx.ID, owner, tx.Type, tx.Category, tx.Amount.Cents, tx.Description,
			tx.Date.Format(dateLayout), tx.PaymentMethod,
			receiptField(tx.Receipt, true), receiptField(tx.Receipt, false), now, now)
		if err != nil {
			return core.Balances{}, fmt.Errorf("insert transaction: %w", err)
		}
	case storage.MutationUpdate:
		_, err = dbTx.ExecContext(ctx, `
			UPDATE transactions
			SET type = ?, category = ?, amount_cents = ?, description = ?, tx_date = ?,
			    payment_method = ?, receipt_public_id = ?, receipt_url = ?,
			    export_state = 'pending', version = version + 1, updated_at = ?
			WHERE id = ? AND owner_id = ?`,
			tx.Type, tx.Category, tx.Amount.Cents, tx.Description,
			tx.Date.Format(dateLayout), tx.PaymentMethod,
			receiptField(tx.Receipt, true), receiptField(tx.Receipt, false),
			now, tx.ID, owner)
		if err != nil {
			return core.Balances{}, fmt.Errorf("update transaction: %w", err)
		}
	case storage.MutationDelete:
		_, err = dbTx.ExecContext(ctx,
			`DELETE FROM transactions WHERE id = ? AND owner_id = ?`, tx.ID, owner)
		if err != nil {
			return core.Balances{}, fmt.Errorf("delete transaction: %w", err)
		}
	default:
		return core.Balances{}, fmt.Errorf("unsupported mutation kind: %s", m.Kind)
	}

	var balances core.Balances
	err = dbTx.QueryRowContext(ctx,
		`SELECT cash_balance_cents, bank_balance_cents FROM preferences WHERE owner_id = ?`,
		owner).Scan(&balances.Cash.Cents, &balances.Bank.Cents)
	if err != nil {
		return core.Balances{}, fmt.Errorf("read balances: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return core.Balances{}, fmt.Errorf("commit mutation: %w", err)
	}

	slog.DebugContext(ctx, "Ledger mutation applied",
		"kind", string(m.Kind),
		"transaction_id", tx.ID,
		"cash_delta", m.CashDelta,
		"bank_delta", m.BankDelta)

	return balances, nil
}

func receiptField(r *core.Receipt, publicID bool) any {
	if r == nil {
		return nil
	}
	if publicID {
		return r.PublicID
	}
	return r.URL
}

func (r *Repository) MonthSummary(ctx context.Context, owner string, year, month int) (core.MonthSummary, error) {
	summary := core.MonthSummary{Year: year, Month: month}
	yearStr := fmt.Sprintf("%04d", year)
	monthStr := fmt.Sprintf("%02d", month)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions
		WHERE owner_id = ? AND substr(tx_date, 1, 4) = ? AND substr(tx_date, 6, 2) = ?`,
		owner, yearStr, monthStr).Scan(&summary.Income.Cents, &summary.Expense.Cents)
	if err != nil {
		return summary, fmt.Errorf("month totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, SUM(amount_cents)
		FROM transactions
		WHERE owner_id = ? AND type = 'expense' AND substr(tx_date, 1, 4) = ? AND substr(tx_date, 6, 2) = ?
		GROUP BY category
		ORDER BY SUM(amount_cents) DESC, category ASC`,
		owner, yearStr, monthStr)
	if err != nil {
		return summary, fmt.Errorf("category sums: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return summary, fmt.Errorf("scan category sum: %w", err)
		}
		summary.ByCategory = append(summary.ByCategory, ca)
	}
	return summary, rows.Err()
}

func (r *Repository) YearSummary(ctx context.Context, owner string, year int) (core.YearSummary, error) {
	summary := core.YearSummary{Year: year}
	months := make([]core.MonthTotal, 12)
	for i := range months {
		months[i].Month = i + 1
	}
	yearStr := fmt.Sprintf("%04d", year)

	rows, err := r.db.QueryContext(ctx, `
		SELECT CAST(substr(tx_date, 6, 2) AS INTEGER),
			COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions
		WHERE owner_id = ? AND substr(tx_date, 1, 4) = ?
		GROUP BY substr(tx_date, 6, 2)`,
		owner, yearStr)
	if err != nil {
		return summary, fmt.Errorf("year totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var month int
		var income, expense int64
		if err := rows.Scan(&month, &income, &expense); err != nil {
			return summary, fmt.Errorf("scan month total: %w", err)
		}
		if month < 1 || month > 12 {
			continue
		}
		months[month-1].Income.Cents = income
		months[month-1].Expense.Cents = expense
		summary.Income.Cents += income
		summary.Expense.Cents += expense
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}
	summary.Months = months

	catRows, err := r.db.QueryContext(ctx, `
		SELECT category, SUM(amount_cents)
		FROM transactions
		WHERE owner_id = ? AND type = 'expense' AND substr(tx_date, 1, 4) = ?
		GROUP BY category
		ORDER BY SUM(amount_cents) DESC, category ASC`,
		owner, yearStr)
	if err != nil {
		return summary, fmt.Errorf("year category sums: %w", err)
	}
	defer catRows.Close()

	for catRows.Next() {
		var ca core.CategoryAmount
		if err := catRows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return summary, fmt.Errorf("scan category sum: %w", err)
		}
		summary.ByCategory = append(summary.ByCategory, ca)
	}
	return summary, catRows.Err()
}

func (r *Repository) PendingExport(ctx context.Context, limit int) ([]storage.ExportItem, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, version, created_at
		FROM transactions
		WHERE export_state = 'pending'
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending export: %w", err)
	}
	defer rows.Close()

	var out []storage.ExportItem
	for rows.Next() {
		var item storage.ExportItem
		var createdAt string
		if err := rows.Scan(&item.ID, &item.Owner, &item.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan export item: %w", err)
		}
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			item.CreatedAt = t
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *Repository) MarkExported(ctx context.Context, id string) error {
	return r.setExportState(ctx, id, "exported")
}

func (r *Repository) MarkExportError(ctx context.Context, id string) error {
	return r.setExportState(ctx, id, "error")
}

func (r *Repository) setExportState(ctx context.Context, id, state string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET export_state = ?, updated_at = ?
		WHERE id = ?`,
		state, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("set export state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}
