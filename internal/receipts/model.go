package receipts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/groupspend/groupspend/internal/money"
)

// Item is a single purchased line on a receipt.
type Item struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
	Category  string      `json:"category,omitempty"`
}

// MaxQuantity bounds a single item line.
const MaxQuantity = 1_000_000

// LineTotal returns unit price multiplied by quantity, or money.ErrOverflow.
func (i Item) LineTotal() (money.Money, error) {
	return i.UnitPrice.Scale(i.Quantity)
}

// Receipt is the canonical record of a purchase shared by a group.
type Receipt struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	TotalAmount money.Money `json:"total_amount"`
	Currency    string      `json:"currency"`
	Date        time.Time   `json:"date"`
	Items       []Item      `json:"items"`
	GroupID     string      `json:"group_id"`
	UploadedBy  string      `json:"uploaded_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ItemsTotal sums the line totals of every item.
func (r Receipt) ItemsTotal() (money.Money, error) {
	totals := make([]money.Money, 0, len(r.Items))
	for _, item := range r.Items {
		line, err := item.LineTotal()
		if err != nil {
			return money.Money{}, err
		}
		totals = append(totals, line)
	}
	return money.Sum(r.Currency, totals...)
}

// Divergence compares the item sum against the printed total. It is reported
// for review and never blocks receipt creation.
type Divergence struct {
	ItemsTotal money.Money `json:"items_total"`
	Total      money.Money `json:"total"`
	Difference money.Money `json:"difference"`
	Flagged    bool        `json:"flagged"`
}

// Divergence reports how far the items drift from the total. Flagged is set
// when the absolute difference exceeds tolerancePct percent of the total.
func (r Receipt) Divergence(tolerancePct decimal.Decimal) (Divergence, error) {
	itemsTotal, err := r.ItemsTotal()
	if err != nil {
		return Divergence{}, err
	}
	diff, err := r.TotalAmount.Subtract(itemsTotal)
	if err != nil {
		return Divergence{}, err
	}
	out := Divergence{ItemsTotal: itemsTotal, Total: r.TotalAmount, Difference: diff}
	if diff.IsZero() {
		return out, nil
	}
	gap := decimal.NewFromInt(diff.Minor).Abs()
	allowed := decimal.NewFromInt(r.TotalAmount.Minor).Abs().Mul(tolerancePct).Div(decimal.NewFromInt(100))
	out.Flagged = gap.GreaterThan(allowed)
	return out, nil
}
