package http

import (
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

const dateLayout = "2006-01-02"

type transactionRequest struct {
	Type           string           `json:"type"`
	Category       string           `json:"category"`
	Amount         string           `json:"amount"`
	Description    string           `json:"description"`
	Date           string           `json:"date"`
	PaymentMethod  string           `json:"payment_method"`
	Receipt        *receiptPayload  `json:"receipt,omitempty"`
	ClientBalances *balancesPayload `json:"client_balances,omitempty"`
}

type receiptPayload struct {
	PublicID string `json:"public_id"`
	URL      string `json:"url"`
}

type balancesPayload struct {
	CashCents int64 `json:"cash_cents"`
	BankCents int64 `json:"bank_cents"`
}

type transactionResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	AmountCents   int64           `json:"amount_cents"`
	Amount        string          `json:"amount"`
	Description   string          `json:"description"`
	Date          string          `json:"date"`
	PaymentMethod string          `json:"payment_method"`
	Receipt       *receiptPayload `json:"receipt,omitempty"`
}

type balancesResponse struct {
	CashCents int64  `json:"cash_cents"`
	BankCents int64  `json:"bank_cents"`
	Cash      string `json:"cash"`
	Bank      string `json:"bank"`
}

type mutationResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Balances    balancesResponse    `json:"balances"`
}

type deleteResponse struct {
	Balances balancesResponse `json:"balances"`
}

type listResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type preferenceRequest struct {
	Currency      string `json:"currency"`
	DefaultType   string `json:"default_type,omitempty"`
	DefaultMethod string `json:"default_method,omitempty"`
	CashCents     int64  `json:"cash_cents"`
	BankCents     int64  `json:"bank_cents"`
}

type preferenceResponse struct {
	Currency      string           `json:"currency"`
	DefaultType   string           `json:"default_type,omitempty"`
	DefaultMethod string           `json:"default_method,omitempty"`
	Balances      balancesResponse `json:"balances"`
}

type categoryAmountResponse struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

type monthSummaryResponse struct {
	Year         int                      `json:"year"`
	Month        int                      `json:"month"`
	IncomeCents  int64                    `json:"income_cents"`
	ExpenseCents int64                    `json:"expense_cents"`
	NetCents     int64                    `json:"net_cents"`
	ByCategory   []categoryAmountResponse `json:"by_category"`
}

type monthTotalResponse struct {
	Month        int   `json:"month"`
	IncomeCents  int64 `json:"income_cents"`
	ExpenseCents int64 `json:"expense_cents"`
}

type yearSummaryResponse struct {
	Year         int                      `json:"year"`
	Months       []monthTotalResponse     `json:"months"`
	IncomeCents  int64                    `json:"income_cents"`
	ExpenseCents int64                    `json:"expense_cents"`
	NetCents     int64                    `json:"net_cents"`
	ByCategory   []categoryAmountResponse `json:"by_category"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toInput converts the request body into a validated-later service
// input. Amount and date parse failures surface as domain errors so
// they map to 422 like every other validation failure.
func (req transactionRequest) toInput() (ledger.Input, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return ledger.Input{}, core.ErrInvalidAmount
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return ledger.Input{}, core.ErrInvalidDate
	}

	in := ledger.Input{
		Type:          core.TransactionType(req.Type),
		Category:      req.Category,
		Amount:        core.Money{Cents: cents},
		Description:   req.Description,
		Date:          date,
		PaymentMethod: core.PaymentMethod(req.PaymentMethod),
	}
	if req.Receipt != nil {
		in.Receipt = &core.Receipt{PublicID: req.Receipt.PublicID, URL: req.Receipt.URL}
	}
	return in, nil
}

func (req transactionRequest) clientBalances() *core.Balances {
	if req.ClientBalances == nil {
		return nil
	}
	return &core.Balances{
		Cash: core.Money{Cents: req.ClientBalances.CashCents},
		Bank: core.Money{Cents: req.ClientBalances.BankCents},
	}
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:            tx.ID,
		Type:          string(tx.Type),
		Category:      tx.Category,
		AmountCents:   tx.Amount.Cents,
		Amount:        core.FormatCents(tx.Amount.Cents),
		Description:   tx.Description,
		Date:          tx.Date.Format(dateLayout),
		PaymentMethod: string(tx.PaymentMethod),
	}
	if tx.Receipt != nil {
		resp.Receipt = &receiptPayload{PublicID: tx.Receipt.PublicID, URL: tx.Receipt.URL}
	}
	return resp
}

func toBalancesResponse(b core.Balances) balancesResponse {
	return balancesResponse{
		CashCents: b.Cash.Cents,
		BankCents: b.Bank.Cents,
		Cash:      core.FormatCents(b.Cash.Cents),
		Bank:      core.FormatCents(b.Bank.Cents),
	}
}

func toPreferenceResponse(p core.Preference) preferenceResponse {
	return preferenceResponse{
		Currency:      string(p.Currency),
		DefaultType:   string(p.DefaultType),
		DefaultMethod: string(p.DefaultMethod),
		Balances:      toBalancesResponse(p.Balances()),
	}
}

func toCategoryResponses(rows []core.CategoryAmount) []categoryAmountResponse {
	out := make([]categoryAmountResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, categoryAmountResponse{
			Name:        row.Name,
			AmountCents: row.Amount.Cents,
			Amount:      core.FormatCents(row.Amount.Cents),
		})
	}
	return out
}

func toMonthSummaryResponse(s core.MonthSummary) monthSummaryResponse {
	return monthSummaryResponse{
		Year:         s.Year,
		Month:        s.Month,
		IncomeCents:  s.Income.Cents,
		ExpenseCents: s.Expense.Cents,
		NetCents:     s.Net().Cents,
		ByCategory:   toCategoryResponses(s.ByCategory),
	}
}

func toYearSummaryResponse(s core.YearSummary) yearSummaryResponse {
	months := make([]monthTotalResponse, 0, len(s.Months))
	for _, m := range s.Months {
		months = append(months, monthTotalResponse{
			Month:        m.Month,
			IncomeCents:  m.Income.Cents,
			ExpenseCents: m.Expense.Cents,
		})
	}
	return yearSummaryResponse{
		Year:         s.Year,
		Months:       months,
		IncomeCents:  s.Income.Cents,
		ExpenseCents: s.Expense.Cents,
		NetCents:     s.Net().Cents,
		ByCategory:   toCategoryResponses(s.ByCategory),
	}
}
