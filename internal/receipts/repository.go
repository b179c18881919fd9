package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/platform/db"
	"github.com/groupspend/groupspend/internal/shared"
)

// Repository persists receipts and their items.
type Repository interface {
	CreateReceipt(ctx context.Context, r Receipt) (Receipt, error)
	FindReceipt(ctx context.Context, id string) (Receipt, error)
	ListByGroup(ctx context.Context, groupID string) ([]Receipt, error)
	ListActiveGroupIDs(ctx context.Context, since time.Time) ([]string, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed receipt repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) CreateReceipt(ctx context.Context, rec Receipt) (Receipt, error) {
	rec.ID = uuid.NewString()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO receipts (id, group_id, uploaded_by, title, total_minor, currency, receipt_date)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at`,
			rec.ID, rec.GroupID, rec.UploadedBy, rec.Title, rec.TotalAmount.Minor, rec.Currency, rec.Date)
		if err := row.Scan(&rec.CreatedAt); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
		for idx := range rec.Items {
			item := &rec.Items[idx]
			item.ID = uuid.NewString()
			if _, err := tx.Exec(ctx, `INSERT INTO receipt_items (id, receipt_id, position, name, quantity, unit_price_minor, category)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, item.ID, rec.ID, idx, item.Name, item.Quantity, item.UnitPrice.Minor, item.Category); err != nil {
				return fmt.Errorf("insert receipt item %d: %w", idx, err)
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return rec, nil
}

func (r *repository) FindReceipt(ctx context.Context, id string) (Receipt, error) {
	var rec Receipt
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT id, group_id, uploaded_by, title, total_minor, currency, receipt_date, created_at
FROM receipts WHERE id = $1`, id).Scan(&rec.ID, &rec.GroupID, &rec.UploadedBy, &rec.Title, &total, &rec.Currency, &rec.Date, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	rec.TotalAmount = money.New(total, rec.Currency)
	items, err := r.listItems(ctx, rec.ID, rec.Currency)
	if err != nil {
		return Receipt{}, err
	}
	rec.Items = items
	return rec, nil
}

func (r *repository) listItems(ctx context.Context, receiptID, currency string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, quantity, unit_price_minor, category
FROM receipt_items WHERE receipt_id = $1 ORDER BY position`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		var price int64
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &price, &it.Category); err != nil {
			return nil, err
		}
		it.UnitPrice = money.New(price, currency)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) ListByGroup(ctx context.Context, groupID string) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, group_id, uploaded_by, title, total_minor, currency, receipt_date, created_at
FROM receipts WHERE group_id = $1 ORDER BY receipt_date DESC, created_at DESC`, groupID)
	if err != nil {
		return nil, err
	}
	var list []Receipt
	for rows.Next() {
		var rec Receipt
		var total int64
		var date time.Time
		if err := rows.Scan(&rec.ID, &rec.GroupID, &rec.UploadedBy, &rec.Title, &total, &rec.Currency, &date, &rec.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Date = date
		rec.TotalAmount = money.New(total, rec.Currency)
		list = append(list, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for idx := range list {
		items, err := r.listItems(ctx, list[idx].ID, list[idx].Currency)
		if err != nil {
			return nil, err
		}
		list[idx].Items = items
	}
	return list, nil
}

func (r *repository) ListActiveGroupIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT group_id FROM receipts WHERE created_at >= $1 ORDER BY group_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
