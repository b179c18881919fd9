package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/platform/db"
	"github.com/groupspend/groupspend/internal/shared"
)

// Repository reads expenses and opens replacement units of work.
type Repository interface {
	ListExpenses(ctx context.Context, receiptID string) ([]Expense, error)
	ListExpensesByGroup(ctx context.Context, groupID string) ([]Expense, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes writes available within a transaction.
type TxRepository interface {
	// LockReceipt serialises replacements of the same receipt. It returns
	// shared.ErrNotFound when the receipt does not exist.
	LockReceipt(ctx context.Context, receiptID string) error
	DeleteExpenses(ctx context.Context, receiptID string) error
	InsertExpense(ctx context.Context, e Expense, position int) (Expense, error)
}

// ReplaceExpensesAtomic discards every stored expense of the receipt and
// installs expenses in their place within one transaction. Either all
// expenses are written or the previous set is left untouched.
func ReplaceExpensesAtomic(ctx context.Context, repo Repository, receiptID string, expenses []Expense) ([]Expense, error) {
	var persisted []Expense
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockReceipt(ctx, receiptID); err != nil {
			return err
		}
		if err := tx.DeleteExpenses(ctx, receiptID); err != nil {
			return fmt.Errorf("delete expenses: %w", err)
		}
		out := make([]Expense, 0, len(expenses))
		for idx, e := range expenses {
			e.ReceiptID = receiptID
			saved, err := tx.InsertExpense(ctx, e, idx)
			if err != nil {
				return fmt.Errorf("insert expense %d: %w", idx, err)
			}
			out = append(out, saved)
		}
		persisted = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed expense repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListExpenses(ctx context.Context, receiptID string) ([]Expense, error) {
	return r.query(ctx, `SELECT e.id, e.receipt_id, e.name, e.amount_minor, e.currency, e.created_at
FROM expenses e WHERE e.receipt_id = $1 ORDER BY e.position`, receiptID)
}

func (r *repository) ListExpensesByGroup(ctx context.Context, groupID string) ([]Expense, error) {
	return r.query(ctx, `SELECT e.id, e.receipt_id, e.name, e.amount_minor, e.currency, e.created_at
FROM expenses e JOIN receipts rc ON rc.id = e.receipt_id
WHERE rc.group_id = $1 ORDER BY rc.receipt_date, rc.created_at, e.position`, groupID)
}

func (r *repository) query(ctx context.Context, sql string, arg string) ([]Expense, error) {
	// one snapshot for expenses and shares
	var out []Expense
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, arg)
		if err != nil {
			return err
		}
		index := map[string]int{}
		for rows.Next() {
			var e Expense
			var amount int64
			if err := rows.Scan(&e.ID, &e.ReceiptID, &e.Name, &amount, &e.Amount.Currency, &e.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			e.Amount.Minor = amount
			e.Shares = []Share{}
			index[e.ID] = len(out)
			out = append(out, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		ids := make([]string, 0, len(out))
		for _, e := range out {
			ids = append(ids, e.ID)
		}
		shareRows, err := tx.Query(ctx, `SELECT expense_id, user_id, amount_minor FROM expense_shares
WHERE expense_id = ANY($1) ORDER BY expense_id, position`, ids)
		if err != nil {
			return err
		}
		defer shareRows.Close()
		for shareRows.Next() {
			var expenseID, userID string
			var amount int64
			if err := shareRows.Scan(&expenseID, &userID, &amount); err != nil {
				return err
			}
			pos := index[expenseID]
			out[pos].Shares = append(out[pos].Shares, Share{UserID: userID, Amount: money.New(amount, out[pos].Amount.Currency)})
		}
		return shareRows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithTx reports a concurrent writer on the same receipt as a conflict.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: expenses changed concurrently", shared.ErrConflict)
	}
	return err
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) LockReceipt(ctx context.Context, receiptID string) error {
	var id string
	err := r.tx.QueryRow(ctx, `SELECT id FROM receipts WHERE id = $1 FOR UPDATE`, receiptID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

func (r *txRepository) DeleteExpenses(ctx context.Context, receiptID string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM expenses WHERE receipt_id = $1`, receiptID)
	return err
}

func (r *txRepository) InsertExpense(ctx context.Context, e Expense, position int) (Expense, error) {
	e.ID = uuid.NewString()
	err := r.tx.QueryRow(ctx, `INSERT INTO expenses (id, receipt_id, position, name, amount_minor, currency)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`, e.ID, e.ReceiptID, position, e.Name, e.Amount.Minor, e.Amount.Currency).Scan(&e.CreatedAt)
	if err != nil {
		return Expense{}, err
	}
	batch := &pgx.Batch{}
	for idx, s := range e.Shares {
		batch.Queue(`INSERT INTO expense_shares (expense_id, position, user_id, amount_minor) VALUES ($1,$2,$3,$4)`,
			e.ID, idx, s.UserID, s.Amount.Minor)
	}
	if batch.Len() > 0 {
		if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
			return Expense{}, err
		}
	}
	return e, nil
}
