package receipts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/shared"
)

// ErrInvalidReceipt matches every receipt construction failure.
var ErrInvalidReceipt = errors.New("receipts: invalid receipt")

// dateLayouts lists the accepted receipt date formats.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"02.01.2006",
}

// ItemInput describes a line item before validation.
type ItemInput struct {
	Name      string
	Quantity  int64
	UnitPrice money.Money
	Category  string
}

// ReceiptInput groups the fields required to construct a receipt.
type ReceiptInput struct {
	Title       string
	TotalAmount money.Money
	Currency    string
	Date        string
	Items       []ItemInput
	GroupID     string
	UploadedBy  string
}

// ValidationError lists every violated field of a receipt.
type ValidationError struct {
	Fields []shared.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "receipts: invalid receipt: " + strings.Join(parts, "; ")
}

// Is lets callers match with errors.Is(err, ErrInvalidReceipt).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidReceipt || target == shared.ErrValidation
}

// FieldErrors exposes the individual violations.
func (e *ValidationError) FieldErrors() []shared.FieldError { return e.Fields }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, shared.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func invalidField(field, message string) *ValidationError {
	return &ValidationError{Fields: []shared.FieldError{{Field: field, Message: message}}}
}

// ParseDate accepts the date formats used by receipts.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("receipts: unrecognised date %q", value)
}

// NewReceipt validates input and builds a Receipt. All violations are
// collected into a single ValidationError.
func NewReceipt(in ReceiptInput) (Receipt, error) {
	verr := &ValidationError{}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		verr.add("title", "is required")
	}
	if strings.TrimSpace(in.GroupID) == "" {
		verr.add("group_id", "is required")
	}
	if strings.TrimSpace(in.UploadedBy) == "" {
		verr.add("uploaded_by", "is required")
	}

	code := in.Currency
	if strings.TrimSpace(code) == "" {
		code = in.TotalAmount.Currency
	}
	currency, err := money.NormalizeCurrency(code)
	if err != nil {
		verr.add("currency", "must be an ISO 4217 code")
	}

	if in.TotalAmount.IsNegative() {
		verr.add("total_amount", "must not be negative")
	}
	if currency != "" && in.TotalAmount.Currency != currency {
		verr.add("total_amount", "currency must be %s", currency)
	}

	var date time.Time
	if strings.TrimSpace(in.Date) == "" {
		verr.add("date", "is required")
	} else if date, err = ParseDate(in.Date); err != nil {
		verr.add("date", "is not a valid date")
	}

	items := make([]Item, 0, len(in.Items))
	for idx, it := range in.Items {
		field := fmt.Sprintf("items[%d]", idx)
		name := strings.TrimSpace(it.Name)
		if name == "" {
			verr.add(field+".name", "is required")
		}
		switch {
		case it.Quantity < 1:
			verr.add(field+".quantity", "must be at least 1")
		case it.Quantity > MaxQuantity:
			verr.add(field+".quantity", "must be at most %d", MaxQuantity)
		}
		if it.UnitPrice.IsNegative() {
			verr.add(field+".unit_price", "must not be negative")
		}
		if currency != "" && it.UnitPrice.Currency != currency {
			verr.add(field+".unit_price", "currency must be %s", currency)
		}
		items = append(items, Item{
			Name:      name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Category:  strings.TrimSpace(it.Category),
		})
	}

	if len(verr.Fields) > 0 {
		return Receipt{}, verr
	}
	receipt := Receipt{
		Title:       title,
		TotalAmount: in.TotalAmount,
		Currency:    currency,
		Date:        date,
		Items:       items,
		GroupID:     strings.TrimSpace(in.GroupID),
		UploadedBy:  strings.TrimSpace(in.UploadedBy),
	}
	for idx, item := range receipt.Items {
		if _, err := item.LineTotal(); err != nil {
			return Receipt{}, invalidField(fmt.Sprintf("items[%d].unit_price", idx), "line total is out of range")
		}
	}
	if _, err := receipt.ItemsTotal(); err != nil {
		return Receipt{}, invalidField("items", "total is out of range")
	}
	return receipt, nil
}
