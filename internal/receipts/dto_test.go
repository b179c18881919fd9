package receipts

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/money"
)

func validInput() ReceiptInput {
	return ReceiptInput{
		Title:       "Groceries",
		TotalAmount: money.New(700, "USD"),
		Currency:    "USD",
		Date:        "2024-05-01",
		GroupID:     "g1",
		UploadedBy:  "alice",
		Items: []ItemInput{
			{Name: "Milk", Quantity: 2, UnitPrice: money.New(150, "USD")},
			{Name: "Bread", Quantity: 1, UnitPrice: money.New(400, "USD"), Category: "bakery"},
		},
	}
}

func TestNewReceipt(t *testing.T) {
	r, err := NewReceipt(validInput())
	require.NoError(t, err)
	require.Equal(t, "USD", r.Currency)
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), r.Date)

	total, err := r.ItemsTotal()
	require.NoError(t, err)
	require.Equal(t, money.New(700, "USD"), total)
}

func TestNewReceiptCollectsEveryViolation(t *testing.T) {
	in := validInput()
	in.Title = " "
	in.Date = "yesterday"
	in.Items[0].Quantity = 0
	in.Items[1].UnitPrice = money.New(-1, "USD")

	_, err := NewReceipt(in)
	require.ErrorIs(t, err, ErrInvalidReceipt)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	require.ElementsMatch(t, []string{"title", "date", "items[0].quantity", "items[1].unit_price"}, fields)
}

func TestNewReceiptRejectsForeignItemCurrency(t *testing.T) {
	in := validInput()
	in.Items[0].UnitPrice = money.New(150, "EUR")

	_, err := NewReceipt(in)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "items[0].unit_price", verr.Fields[0].Field)
}

func TestNewReceiptAllowsNoItems(t *testing.T) {
	in := validInput()
	in.Items = nil
	r, err := NewReceipt(in)
	require.NoError(t, err)
	require.Empty(t, r.Items)
}

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-31", "2024/01/31", "31.01.2024", "2024-01-31T00:00:00Z"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), in)
	}
	_, err := ParseDate("31 Jan")
	require.Error(t, err)
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestNewReceiptBoundsQuantityAndLineTotals(t *testing.T) {
	in := validInput()
	in.Items[0].Quantity = MaxQuantity + 1
	_, err := NewReceipt(in)
	require.ErrorIs(t, err, ErrInvalidReceipt)
	require.Equal(t, []string{"items[0].quantity"}, fieldNames(t, err))

	in = validInput()
	in.Items[0].Quantity = 2
	in.Items[0].UnitPrice = money.New(math.MaxInt64/2+1, "USD")
	_, err = NewReceipt(in)
	require.ErrorIs(t, err, ErrInvalidReceipt)
	require.Equal(t, []string{"items[0].unit_price"}, fieldNames(t, err))

	in = validInput()
	in.Items[0].Quantity = 1
	in.Items[0].UnitPrice = money.New(math.MaxInt64-10, "USD")
	_, err = NewReceipt(in)
	require.ErrorIs(t, err, ErrInvalidReceipt)
	require.Equal(t, []string{"items"}, fieldNames(t, err))
}
