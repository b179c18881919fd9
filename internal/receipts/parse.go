package receipts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/shared"
)

const (
	defaultItemName     = "Unknown Item"
	defaultItemCategory = "general"
)

// ErrInvalidParse matches every candidate parse rejection.
var ErrInvalidParse = errors.New("receipts: invalid parse")

// ParseError reports a candidate that cannot become a receipt.
type ParseError struct {
	MissingField string
	Reason       string
}

func (e *ParseError) Error() string {
	if e.MissingField == "" {
		return "receipts: invalid parse: " + e.Reason
	}
	return fmt.Sprintf("receipts: invalid parse: %s %s", e.MissingField, e.Reason)
}

// Is lets callers match with errors.Is(err, ErrInvalidParse).
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidParse || target == shared.ErrValidation
}

// FieldErrors reports the offending field.
func (e *ParseError) FieldErrors() []shared.FieldError {
	field := e.MissingField
	if field == "" {
		field = "payload"
	}
	return []shared.FieldError{{Field: field, Message: e.Reason}}
}

// Number is a leniently decoded numeric field. Numbers and numeric strings
// are accepted; anything else is treated as absent.
type Number struct {
	Value decimal.Decimal
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return nil
	}
	n.Value, n.Valid = d, true
	return nil
}

// Text is a leniently decoded string field. Non-string values are treated
// as absent.
type Text struct {
	Value string
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	t.Value, t.Valid = s, s != ""
	return nil
}

// Candidate is the untrusted shape produced by an extractor or a form.
type Candidate struct {
	Title       Text            `json:"title"`
	TotalAmount Number          `json:"totalAmount"`
	Currency    Text            `json:"currency"`
	Date        Text            `json:"date"`
	Items       json.RawMessage `json:"items"`
}

// CandidateItem is one untrusted line item.
type CandidateItem struct {
	Name     Text   `json:"name"`
	Quantity Number `json:"quantity"`
	Price    Number `json:"price"`
	Category Text   `json:"category"`
}

// Draft is a validated receipt that has not been stored yet.
type Draft struct {
	Receipt    Receipt    `json:"receipt"`
	Divergence Divergence `json:"divergence"`
}

// Parser turns candidate payloads into validated receipt drafts.
type Parser struct {
	defaultCurrency string
	tolerancePct    decimal.Decimal
	now             func() time.Time
}

// NewParser builds a Parser. Missing currencies fall back to defaultCurrency
// and missing dates to the current day.
func NewParser(defaultCurrency string, tolerancePct decimal.Decimal) *Parser {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Parser{defaultCurrency: defaultCurrency, tolerancePct: tolerancePct, now: time.Now}
}

// WithNow overrides the clock used for defaulted dates.
func (p *Parser) WithNow(now func() time.Time) *Parser {
	if now != nil {
		p.now = now
	}
	return p
}

// StripFences removes markdown code fences and any prose surrounding the
// outermost JSON object.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			// drop the language tag, e.g. ```json
			if tag := strings.TrimSpace(text[:nl]); !strings.ContainsAny(tag, "{[") {
				text = text[nl+1:]
			}
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.TrimSpace(text)
	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start >= 0 && end > start {
		text = text[start : end+1]
	}
	return text
}

// DecodeCandidate strips formatting noise and decodes the candidate shape.
func DecodeCandidate(raw []byte) (Candidate, []CandidateItem, error) {
	text := StripFences(string(raw))
	if text == "" {
		return Candidate{}, nil, &ParseError{Reason: "empty payload"}
	}
	var c Candidate
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return Candidate{}, nil, &ParseError{Reason: "payload is not a JSON object"}
	}
	if !c.Title.Valid {
		return Candidate{}, nil, &ParseError{MissingField: "title", Reason: "is missing"}
	}
	if !c.TotalAmount.Valid {
		return Candidate{}, nil, &ParseError{MissingField: "totalAmount", Reason: "is missing"}
	}
	trimmed := bytes.TrimSpace(c.Items)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Candidate{}, nil, &ParseError{MissingField: "items", Reason: "is missing"}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return Candidate{}, nil, &ParseError{MissingField: "items", Reason: "is not an array"}
	}
	items := make([]CandidateItem, 0, len(elems))
	for idx, elem := range elems {
		var item CandidateItem
		if err := json.Unmarshal(elem, &item); err != nil {
			return Candidate{}, nil, &ParseError{MissingField: fmt.Sprintf("items[%d]", idx), Reason: "is not an object"}
		}
		items = append(items, item)
	}
	return c, items, nil
}

// Parse validates a raw candidate payload into a draft receipt for the group.
// Item-sum divergence from the total is reported but not enforced.
func (p *Parser) Parse(raw []byte, groupID, uploadedBy string) (Draft, error) {
	c, items, err := DecodeCandidate(raw)
	if err != nil {
		return Draft{}, err
	}

	code := p.defaultCurrency
	if c.Currency.Valid {
		code = c.Currency.Value
	}
	currency, err := money.NormalizeCurrency(code)
	if err != nil {
		return Draft{}, invalidField("currency", "must be an ISO 4217 code")
	}

	date := p.now().UTC().Format("2006-01-02")
	if c.Date.Valid {
		date = c.Date.Value
	}

	total, err := money.FromDecimal(c.TotalAmount.Value, currency)
	if err != nil {
		return Draft{}, invalidField("total_amount", "is out of range")
	}

	in := ReceiptInput{
		Title:       c.Title.Value,
		TotalAmount: total,
		Currency:    currency,
		Date:        date,
		GroupID:     groupID,
		UploadedBy:  uploadedBy,
		Items:       make([]ItemInput, 0, len(items)),
	}
	verr := &ValidationError{}
	for idx, ci := range items {
		item := ItemInput{Name: defaultItemName, Quantity: 1, UnitPrice: money.Zero(currency), Category: defaultItemCategory}
		if ci.Name.Valid {
			item.Name = ci.Name.Value
		}
		if ci.Category.Valid {
			item.Category = ci.Category.Value
		}
		if ci.Quantity.Valid {
			q := ci.Quantity.Value
			switch {
			case !q.IsInteger():
				verr.add(fmt.Sprintf("items[%d].quantity", idx), "must be a whole number")
			case q.LessThan(decimal.NewFromInt(1)) || q.GreaterThan(decimal.NewFromInt(MaxQuantity)):
				verr.add(fmt.Sprintf("items[%d].quantity", idx), "must be between 1 and %d", MaxQuantity)
			default:
				item.Quantity = ci.Quantity.Value.IntPart()
			}
		}
		if ci.Price.Valid {
			price, err := money.FromDecimal(ci.Price.Value, currency)
			if err != nil {
				verr.add(fmt.Sprintf("items[%d].unit_price", idx), "is out of range")
			} else {
				item.UnitPrice = price
			}
		}
		in.Items = append(in.Items, item)
	}

	receipt, err := NewReceipt(in)
	if err != nil {
		var built *ValidationError
		if errors.As(err, &built) {
			verr.Fields = append(verr.Fields, built.Fields...)
		}
	}
	if len(verr.Fields) > 0 {
		return Draft{}, verr
	}
	if err != nil {
		return Draft{}, err
	}

	div, err := receipt.Divergence(p.tolerancePct)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Receipt: receipt, Divergence: div}, nil
}
