// Package balances folds expense shares into per-member totals.
package balances

import (
	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/money"
)

// expenseCurrency returns the currency shared by every expense. Empty input
// yields an empty currency.
func expenseCurrency(expenses []allocation.Expense) (string, error) {
	if len(expenses) == 0 {
		return "", nil
	}
	currency := expenses[0].Amount.Currency
	for _, e := range expenses[1:] {
		if e.Amount.Currency != currency {
			return "", &money.MismatchError{Left: currency, Right: e.Amount.Currency}
		}
	}
	return currency, nil
}

// PerMemberTotal sums userID's shares across expenses. The result carries the
// currency of the first expense and is zero when no share references the
// member. Expenses in more than one currency are rejected.
func PerMemberTotal(expenses []allocation.Expense, userID string) (money.Money, error) {
	currency, err := expenseCurrency(expenses)
	if err != nil {
		return money.Money{}, err
	}
	total := money.Zero(currency)
	for _, e := range expenses {
		for _, s := range e.Shares {
			if s.UserID != userID {
				continue
			}
			next, err := total.Add(s.Amount)
			if err != nil {
				return money.Money{}, err
			}
			total = next
		}
	}
	return total, nil
}

// AllMemberTotals computes PerMemberTotal for every listed member, including
// members owed nothing.
func AllMemberTotals(expenses []allocation.Expense, members []string) (map[string]money.Money, error) {
	if _, err := expenseCurrency(expenses); err != nil {
		return nil, err
	}
	out := make(map[string]money.Money, len(members))
	for _, id := range members {
		total, err := PerMemberTotal(expenses, id)
		if err != nil {
			return nil, err
		}
		out[id] = total
	}
	return out, nil
}

// ExpenseCoverage sums the shares of an expense. While a split is being
// edited this may be below the expense amount.
func ExpenseCoverage(e allocation.Expense) (money.Money, error) {
	total := money.Zero(e.Amount.Currency)
	for _, s := range e.Shares {
		next, err := total.Add(s.Amount)
		if err != nil {
			return money.Money{}, err
		}
		total = next
	}
	return total, nil
}

// MemberTotal is one member's total in a stable ordering.
type MemberTotal struct {
	UserID string      `json:"user_id"`
	Total  money.Money `json:"total"`
}

// OrderedTotals returns totals in the order of members.
func OrderedTotals(totals map[string]money.Money, members []string) []MemberTotal {
	out := make([]MemberTotal, 0, len(members))
	for _, id := range members {
		out = append(out, MemberTotal{UserID: id, Total: totals[id]})
	}
	return out
}

// Coverage is the allocated-versus-amount progress of one expense.
type Coverage struct {
	ExpenseID string      `json:"expense_id"`
	Name      string      `json:"name"`
	Amount    money.Money `json:"amount"`
	Allocated money.Money `json:"allocated"`
	Remaining money.Money `json:"remaining"`
	Complete  bool        `json:"complete"`
}

// CoverageOf reports the coverage of e.
func CoverageOf(e allocation.Expense) (Coverage, error) {
	allocated, err := ExpenseCoverage(e)
	if err != nil {
		return Coverage{}, err
	}
	remaining, err := e.Amount.Subtract(allocated)
	if err != nil {
		return Coverage{}, err
	}
	return Coverage{
		ExpenseID: e.ID,
		Name:      e.Name,
		Amount:    e.Amount,
		Allocated: allocated,
		Remaining: remaining,
		Complete:  remaining.IsZero(),
	}, nil
}
