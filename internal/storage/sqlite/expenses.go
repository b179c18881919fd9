package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/shared"
)

// Expenses implements allocation.Repository.
type Expenses struct {
	db *sql.DB
}

var _ allocation.Repository = (*Expenses)(nil)

func (r *Expenses) ListExpenses(ctx context.Context, receiptID string) ([]allocation.Expense, error) {
	return r.query(ctx, `SELECT e.id, e.receipt_id, e.name, e.amount_minor, e.currency, e.created_at
FROM expenses e WHERE e.receipt_id = ? ORDER BY e.position`, receiptID)
}

func (r *Expenses) ListExpensesByGroup(ctx context.Context, groupID string) ([]allocation.Expense, error) {
	return r.query(ctx, `SELECT e.id, e.receipt_id, e.name, e.amount_minor, e.currency, e.created_at
FROM expenses e JOIN receipts rc ON rc.id = e.receipt_id
WHERE rc.group_id = ? ORDER BY rc.receipt_date, rc.created_at, e.position`, groupID)
}

func (r *Expenses) query(ctx context.Context, query, arg string) ([]allocation.Expense, error) {
	var out []allocation.Expense
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, arg)
		if err != nil {
			return err
		}
		for rows.Next() {
			var e allocation.Expense
			var createdAt string
			if err := rows.Scan(&e.ID, &e.ReceiptID, &e.Name, &e.Amount.Minor, &e.Amount.Currency, &createdAt); err != nil {
				rows.Close()
				return err
			}
			if e.CreatedAt, err = parseTime(createdAt); err != nil {
				rows.Close()
				return err
			}
			e.Shares = []allocation.Share{}
			out = append(out, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range out {
			if err := loadShares(ctx, tx, &out[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadShares(ctx context.Context, q queryer, e *allocation.Expense) error {
	rows, err := q.QueryContext(ctx, `SELECT user_id, amount_minor FROM expense_shares WHERE expense_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		var amount int64
		if err := rows.Scan(&userID, &amount); err != nil {
			return err
		}
		e.Shares = append(e.Shares, allocation.Share{UserID: userID, Amount: money.New(amount, e.Amount.Currency)})
	}
	return rows.Err()
}

func (r *Expenses) WithTx(ctx context.Context, fn func(context.Context, allocation.TxRepository) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &expensesTx{tx: tx})
	})
}

type expensesTx struct {
	tx *sql.Tx
}

// LockReceipt relies on the single connection for serialisation and only
// checks existence.
func (t *expensesTx) LockReceipt(ctx context.Context, receiptID string) error {
	var id string
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM receipts WHERE id = ?`, receiptID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

func (t *expensesTx) DeleteExpenses(ctx context.Context, receiptID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM expenses WHERE receipt_id = ?`, receiptID)
	return err
}

func (t *expensesTx) InsertExpense(ctx context.Context, e allocation.Expense, position int) (allocation.Expense, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO expenses (id, receipt_id, position, name, amount_minor, currency, created_at)
VALUES (?,?,?,?,?,?,?)`, e.ID, e.ReceiptID, position, e.Name, e.Amount.Minor, e.Amount.Currency, formatTime(e.CreatedAt)); err != nil {
		return allocation.Expense{}, err
	}
	for idx, s := range e.Shares {
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO expense_shares (expense_id, position, user_id, amount_minor) VALUES (?,?,?,?)`,
			e.ID, idx, s.UserID, s.Amount.Minor); err != nil {
			return allocation.Expense{}, err
		}
	}
	return e, nil
}
