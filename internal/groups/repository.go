package groups

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupspend/groupspend/internal/platform/db"
	"github.com/groupspend/groupspend/internal/shared"
)

// Repository encapsulates group storage.
type Repository interface {
	GetGroup(ctx context.Context, id string) (Group, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]Member, error)
	FindMember(ctx context.Context, groupID, userID string) (Member, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]Summary, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes writes available within a transaction.
type TxRepository interface {
	InsertGroup(ctx context.Context, g Group) (Group, error)
	InsertMember(ctx context.Context, m Member) (Member, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed group repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_by, created_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, shared.ErrNotFound
	}
	return g, err
}

func (r *repository) ListGroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, group_id, role, joined_at FROM group_members
WHERE group_id = $1 ORDER BY joined_at, id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *repository) FindMember(ctx context.Context, groupID, userID string) (Member, error) {
	var m Member
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, group_id, role, joined_at FROM group_members
WHERE group_id = $1 AND user_id = $2`, groupID, userID).Scan(&m.ID, &m.UserID, &m.GroupID, &m.Role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, shared.ErrNotFound
	}
	return m, err
}

func (r *repository) ListGroupsForUser(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := r.pool.Query(ctx, `SELECT g.id, g.name, g.description, g.created_by, g.created_at, gm.role,
	(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id),
	(SELECT COUNT(*) FROM receipts rc WHERE rc.group_id = g.id)
FROM groups g
JOIN group_members gm ON gm.group_id = g.id AND gm.user_id = $1
ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedBy, &s.CreatedAt, &s.Role, &s.MemberCount, &s.ReceiptCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertGroup(ctx context.Context, g Group) (Group, error) {
	g.ID = uuid.NewString()
	err := r.tx.QueryRow(ctx, `INSERT INTO groups (id, name, description, created_by) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		g.ID, g.Name, g.Description, g.CreatedBy).Scan(&g.CreatedAt)
	return g, err
}

func (r *txRepository) InsertMember(ctx context.Context, m Member) (Member, error) {
	m.ID = uuid.NewString()
	err := r.tx.QueryRow(ctx, `INSERT INTO group_members (id, group_id, user_id, role) VALUES ($1,$2,$3,$4) RETURNING joined_at`,
		m.ID, m.GroupID, m.UserID, m.Role).Scan(&m.JoinedAt)
	if db.IsUniqueViolation(err) {
		return Member{}, ErrAlreadyMember
	}
	return m, err
}
