package balances

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/money"
)

func usd(minor int64) money.Money { return money.New(minor, "USD") }

func sampleExpenses() []allocation.Expense {
	return []allocation.Expense{
		{ID: "e1", Name: "Pizza", Amount: usd(1800), Shares: []allocation.Share{
			{UserID: "alice", Amount: usd(900)},
			{UserID: "bob", Amount: usd(900)},
		}},
		{ID: "e2", Name: "Soda", Amount: usd(301), Shares: []allocation.Share{
			{UserID: "alice", Amount: usd(101)},
		}},
	}
}

func TestPerMemberTotal(t *testing.T) {
	total, err := PerMemberTotal(sampleExpenses(), "alice")
	require.NoError(t, err)
	require.Equal(t, usd(1001), total)

	total, err = PerMemberTotal(sampleExpenses(), "carol")
	require.NoError(t, err)
	require.Equal(t, usd(0), total)
}

func TestPerMemberTotalEmpty(t *testing.T) {
	total, err := PerMemberTotal(nil, "alice")
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestPerMemberTotalRejectsMixedCurrencies(t *testing.T) {
	expenses := append(sampleExpenses(), allocation.Expense{Name: "Wine", Amount: money.New(500, "EUR")})
	_, err := PerMemberTotal(expenses, "alice")
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)

	_, err = AllMemberTotals(expenses, []string{"alice"})
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestAllMemberTotalsIncludesIdleMembers(t *testing.T) {
	totals, err := AllMemberTotals(sampleExpenses(), []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	require.Equal(t, map[string]money.Money{
		"alice": usd(1001),
		"bob":   usd(900),
		"carol": usd(0),
	}, totals)

	ordered := OrderedTotals(totals, []string{"carol", "alice"})
	require.Equal(t, []MemberTotal{{UserID: "carol", Total: usd(0)}, {UserID: "alice", Total: usd(1001)}}, ordered)
}

func TestExpenseCoverage(t *testing.T) {
	expenses := sampleExpenses()

	covered, err := ExpenseCoverage(expenses[0])
	require.NoError(t, err)
	require.Equal(t, usd(1800), covered)

	cov, err := CoverageOf(expenses[1])
	require.NoError(t, err)
	require.Equal(t, usd(101), cov.Allocated)
	require.Equal(t, usd(200), cov.Remaining)
	require.False(t, cov.Complete)

	empty, err := ExpenseCoverage(allocation.Expense{Amount: usd(50)})
	require.NoError(t, err)
	require.Equal(t, usd(0), empty)
}
