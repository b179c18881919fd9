package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/shared"
)

// Groups implements groups.Repository.
type Groups struct {
	db *sql.DB
}

var _ groups.Repository = (*Groups)(nil)

func (r *Groups) GetGroup(ctx context.Context, id string) (groups.Group, error) {
	var g groups.Group
	var createdAt string
	err := r.db.QueryRowContext(ctx, `SELECT id, name, description, created_by, created_at FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return groups.Group{}, shared.ErrNotFound
	}
	if err != nil {
		return groups.Group{}, err
	}
	g.CreatedAt, err = parseTime(createdAt)
	return g, err
}

// ListGroupMembers returns members in join order.
func (r *Groups) ListGroupMembers(ctx context.Context, groupID string) ([]groups.Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, group_id, role, joined_at FROM group_members
WHERE group_id = ? ORDER BY joined_at, rowid`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []groups.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *Groups) FindMember(ctx context.Context, groupID, userID string) (groups.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, group_id, role, joined_at FROM group_members
WHERE group_id = ? AND user_id = ?`, groupID, userID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return groups.Member{}, shared.ErrNotFound
	}
	return m, err
}

func (r *Groups) ListGroupsForUser(ctx context.Context, userID string) ([]groups.Summary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT g.id, g.name, g.description, g.created_by, g.created_at, gm.role,
	(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id),
	(SELECT COUNT(*) FROM receipts rc WHERE rc.group_id = g.id)
FROM groups g
JOIN group_members gm ON gm.group_id = g.id AND gm.user_id = ?
ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []groups.Summary
	for rows.Next() {
		var s groups.Summary
		var createdAt string
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedBy, &createdAt, &s.Role, &s.MemberCount, &s.ReceiptCount); err != nil {
			return nil, err
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Groups) WithTx(ctx context.Context, fn func(context.Context, groups.TxRepository) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &groupsTx{tx: tx})
	})
}

type groupsTx struct {
	tx *sql.Tx
}

func (t *groupsTx) InsertGroup(ctx context.Context, g groups.Group) (groups.Group, error) {
	g.ID = uuid.NewString()
	g.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	_, err := t.tx.ExecContext(ctx, `INSERT INTO groups (id, name, description, created_by, created_at) VALUES (?,?,?,?,?)`,
		g.ID, g.Name, g.Description, g.CreatedBy, formatTime(g.CreatedAt))
	return g, err
}

func (t *groupsTx) InsertMember(ctx context.Context, m groups.Member) (groups.Member, error) {
	m.ID = uuid.NewString()
	m.JoinedAt = time.Now().UTC().Truncate(time.Millisecond)
	_, err := t.tx.ExecContext(ctx, `INSERT INTO group_members (id, group_id, user_id, role, joined_at) VALUES (?,?,?,?,?)`,
		m.ID, m.GroupID, m.UserID, m.Role, formatTime(m.JoinedAt))
	if isUniqueViolation(err) {
		return groups.Member{}, groups.ErrAlreadyMember
	}
	return m, err
}

func scanMember(s scanner) (groups.Member, error) {
	var m groups.Member
	var role, joinedAt string
	if err := s.Scan(&m.ID, &m.UserID, &m.GroupID, &role, &joinedAt); err != nil {
		return groups.Member{}, err
	}
	m.Role = groups.Role(role)
	var err error
	m.JoinedAt, err = parseTime(joinedAt)
	return m, err
}
