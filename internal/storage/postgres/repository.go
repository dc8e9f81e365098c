// Package postgres implements the storage.Repository port on a
// PostgreSQL pool. Reconciliation semantics match the sqlite backend:
// conditional balance increments plus the ledger write in one
// database transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/core"
	"tally/internal/storage"
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repository)(nil)

func New(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *Repository) GetPreference(ctx context.Context, owner string) (core.Preference, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT owner_id, currency, cash_balance_cents, bank_balance_cents, default_type, default_method
		FROM preferences
		WHERE owner_id = $1`, owner)

	var pref core.Preference
	err := row.Scan(&pref.Owner, &pref.Currency, &pref.CashBalance.Cents,
		&pref.BankBalance.Cents, &pref.DefaultType, &pref.DefaultMethod)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Preference{}, core.ErrNotFound
	}
	if err != nil {
		return core.Preference{}, fmt.Errorf("get preference: %w", err)
	}
	return pref, nil
}

func (r *Repository) UpsertPreference(ctx context.Context, pref core.Preference) (core.Preference, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO preferences (owner_id, currency, cash_balance_cents, bank_balance_cents, default_type, default_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			currency = EXCLUDED.currency,
			default_type = EXCLUDED.default_type,
			default_method = EXCLUDED.default_method,
			updated_at = now()`,
		pref.Owner, pref.Currency, pref.CashBalance.Cents, pref.BankBalance.Cents,
		pref.DefaultType, pref.DefaultMethod)
	if err != nil {
		return core.Preference{}, fmt.Errorf("upsert preference: %w", err)
	}
	return r.GetPreference(ctx, pref.Owner)
}

const transactionColumns = `id, owner_id, type, category, amount_cents, description, tx_date, payment_method, receipt_public_id, receipt_url`

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx              core.Transaction
		receiptPublicID *string
		receiptURL      *string
	)
	err := row.Scan(&tx.ID, &tx.Owner, &tx.Type, &tx.Category, &tx.Amount.Cents,
		&tx.Description, &tx.Date, &tx.PaymentMethod, &receiptPublicID, &receiptURL)
	if err != nil {
		return core.Transaction{}, err
	}
	if receiptPublicID != nil || receiptURL != nil {
		tx.Receipt = &core.Receipt{}
		if receiptPublicID != nil {
			tx.Receipt.PublicID = *receiptPublicID
		}
		if receiptURL != nil {
			tx.Receipt.URL = *receiptURL
		}
	}
	return tx, nil
}

func (r *Repository) GetTransaction(ctx context.Context, owner, id string) (core.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND owner_id = $2`, id, owner)

	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func filterClauses(owner string, f storage.ListFilter) (string, []any) {
	clauses := []string{"owner_id = $1"}
	args := []any{owner}

	add := func(expr string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}

	if f.Year != 0 {
		add("EXTRACT(YEAR FROM tx_date) = $%d", f.Year)
	}
	if f.Month != 0 {
		add("EXTRACT(MONTH FROM tx_date) = $%d", f.Month)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Method != "" {
		add("payment_method = $%d", string(f.Method))
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

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s
		ORDER BY tx_date DESC, created_at DESC
		LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)-1, len(args)), args...)
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
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *Repository) ApplyMutation(ctx context.Context, owner string, m storage.Mutation) (core.Balances, error) {
	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return core.Balances{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	switch m.Kind {
	case storage.MutationCreate:
		if _, err := dbTx.Exec(ctx, `
			INSERT INTO preferences (owner_id, currency)
			VALUES ($1, 'USD')
			ON CONFLICT (owner_id) DO NOTHING`, owner); err != nil {
			return core.Balances{}, fmt.Errorf("ensure preference: %w", err)
		}
	case storage.MutationUpdate, storage.MutationDelete:
		var exists int
		err := dbTx.QueryRow(ctx,
			`SELECT COUNT(*) FROM transactions WHERE id = $1 AND owner_id = $2`,
			m.Transaction.ID, owner).Scan(&exists)
		if err != nil {
			return core.Balances{}, fmt.Errorf("check transaction: %w", err)
		}
		if exists == 0 {
			return core.Balances{}, core.ErrNotFound
		}
	}

	var balances core.Balances
	err = dbTx.QueryRow(ctx, `
		UPDATE preferences
		SET cash_balance_cents = cash_balance_cents + $1,
		    bank_balance_cents = bank_balance_cents + $2,
		    updated_at = now()
		WHERE owner_id = $3
		  AND cash_balance_cents + $1 >= 0
		  AND bank_balance_cents + $2 >= 0
		RETURNING cash_balance_cents, bank_balance_cents`,
		m.CashDelta, m.BankDelta, owner).Scan(&balances.Cash.Cents, &balances.Bank.Cents)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists int
		if err := dbTx.QueryRow(ctx,
			`SELECT COUNT(*) FROM preferences WHERE owner_id = $1`, owner).Scan(&exists); err != nil {
			return core.Balances{}, fmt.Errorf("check preference: %w", err)
		}
		if exists == 0 {
			return core.Balances{}, core.ErrNotFound
		}
		return core.Balances{}, core.ErrInsufficientBalance
	}
	if err != nil {
		return core.Balances{}, fmt.Errorf("apply balance delta: %w", err)
	}

	tx := m.Transaction
	switch m.Kind {
	case storage.MutationCreate:
		_, err = dbTx.Exec(ctx, `
			INSERT INTO transactions (id, owner_id, type, category, amount_cents, description, tx_date, payment_method, receipt_public_id, receipt_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			tx.ID, owner, tx.Type, tx.Category, tx.Amount.Cents, tx.Description,
			tx.Date, tx.PaymentMethod, receiptField(tx.Receipt, true), receiptField(tx.Receipt, false))
		if err != nil {
			return core.Balances{}, fmt.Errorf("insert transaction: %w", err)
		}
	case storage.MutationUpdate:
		_, err = dbTx.Exec(ctx, `
			UPDATE transactions
			SET type = $1, category = $2, amount_cents = $3, description = $4, tx_date = $5,
			    payment_method = $6, receipt_public_id = $7, receipt_url = $8,
			    export_state = 'pending', version = version + 1, updated_at = now()
			WHERE id = $9 AND owner_id = $10`,
			tx.Type, tx.Category, tx.Amount.Cents, tx.Description, tx.Date,
			tx.PaymentMethod, receiptField(tx.Receipt, true), receiptField(tx.Receipt, false),
			tx.ID, owner)
		if err != nil {
			return core.Balances{}, fmt.Errorf("update transaction: %w", err)
		}
	case storage.MutationDelete:
		_, err = dbTx.Exec(ctx,
			`DELETE FROM transactions WHERE id = $1 AND owner_id = $2`, tx.ID, owner)
		if err != nil {
			return core.Balances{}, fmt.Errorf("delete transaction: %w", err)
		}
	default:
		return core.Balances{}, fmt.Errorf("unsupported mutation kind: %s", m.Kind)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return core.Balances{}, fmt.Errorf("commit mutation: %w", err)
	}
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

	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'income'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'expense'), 0)
		FROM transactions
		WHERE owner_id = $1 AND EXTRACT(YEAR FROM tx_date) = $2 AND EXTRACT(MONTH FROM tx_date) = $3`,
		owner, year, month).Scan(&summary.Income.Cents, &summary.Expense.Cents)
	if err != nil {
		return summary, fmt.Errorf("month totals: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT category, SUM(amount_cents)
		FROM transactions
		WHERE owner_id = $1 AND type = 'expense' AND EXTRACT(YEAR FROM tx_date) = $2 AND EXTRACT(MONTH FROM tx_date) = $3
		GROUP BY category
		ORDER BY SUM(amount_cents) DESC, category ASC`,
		owner, year, month)
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

	rows, err := r.pool.Query(ctx, `
		SELECT EXTRACT(MONTH FROM tx_date)::int,
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'income'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'expense'), 0)
		FROM transactions
		WHERE owner_id = $1 AND EXTRACT(YEAR FROM tx_date) = $2
		GROUP BY 1`,
		owner, year)
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

	catRows, err := r.pool.Query(ctx, `
		SELECT category, SUM(amount_cents)
		FROM transactions
		WHERE owner_id = $1 AND type = 'expense' AND EXTRACT(YEAR FROM tx_date) = $2
		GROUP BY category
		ORDER BY SUM(amount_cents) DESC, category ASC`,
		owner, year)
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
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, version, created_at
		FROM transactions
		WHERE export_state = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending export: %w", err)
	}
	defer rows.Close()

	var out []storage.ExportItem
	for rows.Next() {
		var item storage.ExportItem
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.Owner, &item.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan export item: %w", err)
		}
		item.CreatedAt = createdAt
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
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET export_state = $1, updated_at = now()
		WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("set export state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
