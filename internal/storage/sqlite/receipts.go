package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/internal/shared"
)

// Receipts implements receipts.Repository.
type Receipts struct {
	db *sql.DB
}

var _ receipts.Repository = (*Receipts)(nil)

func (r *Receipts) CreateReceipt(ctx context.Context, rec receipts.Receipt) (receipts.Receipt, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO receipts (id, group_id, uploaded_by, title, total_minor, currency, receipt_date, created_at)
VALUES (?,?,?,?,?,?,?,?)`, rec.ID, rec.GroupID, rec.UploadedBy, rec.Title, rec.TotalAmount.Minor, rec.Currency,
			rec.Date.Format(dateLayout), formatTime(rec.CreatedAt)); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
		for idx := range rec.Items {
			item := &rec.Items[idx]
			item.ID = uuid.NewString()
			if _, err := tx.ExecContext(ctx, `INSERT INTO receipt_items (id, receipt_id, position, name, quantity, unit_price_minor, category)
VALUES (?,?,?,?,?,?,?)`, item.ID, rec.ID, idx, item.Name, item.Quantity, item.UnitPrice.Minor, item.Category); err != nil {
				return fmt.Errorf("insert receipt item %d: %w", idx, err)
			}
		}
		return nil
	})
	if err != nil {
		return receipts.Receipt{}, err
	}
	return rec, nil
}

func (r *Receipts) FindReceipt(ctx context.Context, id string) (receipts.Receipt, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, group_id, uploaded_by, title, total_minor, currency, receipt_date, created_at
FROM receipts WHERE id = ?`, id)
	rec, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return receipts.Receipt{}, shared.ErrNotFound
	}
	if err != nil {
		return receipts.Receipt{}, err
	}
	if rec.Items, err = r.listItems(ctx, rec.ID, rec.Currency); err != nil {
		return receipts.Receipt{}, err
	}
	return rec, nil
}

func (r *Receipts) ListByGroup(ctx context.Context, groupID string) ([]receipts.Receipt, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, group_id, uploaded_by, title, total_minor, currency, receipt_date, created_at
FROM receipts WHERE group_id = ? ORDER BY receipt_date DESC, created_at DESC`, groupID)
	if err != nil {
		return nil, err
	}
	var list []receipts.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for idx := range list {
		if list[idx].Items, err = r.listItems(ctx, list[idx].ID, list[idx].Currency); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *Receipts) ListActiveGroupIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT group_id FROM receipts WHERE created_at >= ? ORDER BY group_id`, formatTime(since))
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

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s scanner) (receipts.Receipt, error) {
	var (
		rec             receipts.Receipt
		total           int64
		date, createdAt string
	)
	if err := s.Scan(&rec.ID, &rec.GroupID, &rec.UploadedBy, &rec.Title, &total, &rec.Currency, &date, &createdAt); err != nil {
		return receipts.Receipt{}, err
	}
	var err error
	if rec.Date, err = parseDate(date); err != nil {
		return receipts.Receipt{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return receipts.Receipt{}, err
	}
	rec.TotalAmount = money.New(total, rec.Currency)
	return rec, nil
}

func (r *Receipts) listItems(ctx context.Context, receiptID, currency string) ([]receipts.Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, quantity, unit_price_minor, category
FROM receipt_items WHERE receipt_id = ? ORDER BY position`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []receipts.Item{}
	for rows.Next() {
		var it receipts.Item
		var price int64
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &price, &it.Category); err != nil {
			return nil, err
		}
		it.UnitPrice = money.New(price, currency)
		items = append(items, it)
	}
	return items, rows.Err()
}
