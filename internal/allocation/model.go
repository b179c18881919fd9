package allocation

import (
	"time"

	"github.com/groupspend/groupspend/internal/money"
)

// Share is one member's portion of an expense.
type Share struct {
	UserID string      `json:"user_id"`
	Amount money.Money `json:"amount"`
}

// Expense is a named sub-amount of a receipt split into shares.
type Expense struct {
	ID        string      `json:"id"`
	ReceiptID string      `json:"receipt_id"`
	Name      string      `json:"name"`
	Amount    money.Money `json:"amount"`
	Shares    []Share     `json:"shares"`
	CreatedAt time.Time   `json:"created_at"`
}

// Draft is an expense submitted for replacement but not yet validated.
type Draft struct {
	Name   string      `json:"name"`
	Amount money.Money `json:"amount"`
	Shares []Share     `json:"shares"`
}
