package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthSummary is a compact income/expense summary for a year+month.
type MonthSummary struct {
	Year       int
	Month      int // 1-12
	Income     Money
	Expense    Money
	ByCategory []CategoryAmount
}

// Net returns income minus expenses for the month.
func (s MonthSummary) Net() Money {
	return Money{Cents: s.Income.Cents - s.Expense.Cents}
}

// MonthTotal is one month's totals inside a YearSummary.
type MonthTotal struct {
	Month   int
	Income  Money
	Expense Money
}

// YearSummary aggregates a full year month by month.
type YearSummary struct {
	Year       int
	Months     []MonthTotal
	Income     Money
	Expense    Money
	ByCategory []CategoryAmount
}

// Net returns income minus expenses for the year.
func (s YearSummary) Net() Money {
	return Money{Cents: s.Income.Cents - s.Expense.Cents}
}
