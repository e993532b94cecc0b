package postgres

import (
	"context"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

const groupColumns = `id, uuid, name, description, is_private, created_by, created_at, deleted_at`

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	if err := row.Scan(&g.ID, &g.UUID, &g.Name, &g.Description, &g.IsPrivate, &g.CreatedBy, &g.CreatedAt, &g.DeletedAt); err != nil {
		return nil, mapRowErr(err)
	}
	return &g, nil
}

// Create inserts the group and the creator membership in one transaction.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const ins = `
INSERT INTO groups (uuid, name, description, is_private, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`
	if err = tx.QueryRow(ctx, ins, g.UUID, g.Name, g.Description, g.IsPrivate, g.CreatedBy).Scan(&g.ID, &g.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	if g.CreatedBy != nil {
		const mem = `INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err = tx.Exec(ctx, mem, *g.CreatedBy, g.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetByUUID selects a live group by public uuid.
func (r *GroupRepo) GetByUUID(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	const q = `SELECT ` + groupColumns + ` FROM groups WHERE uuid=$1 AND deleted_at IS NULL`
	return scanGroup(r.db.Pool.QueryRow(ctx, q, id))
}

// ListVisible returns public groups and the private groups userID belongs to.
func (r *GroupRepo) ListVisible(ctx context.Context, userID int64) ([]model.Group, error) {
	const q = `
SELECT g.id, g.uuid, g.name, g.description, g.is_private, g.created_by, g.created_at, g.deleted_at
FROM groups g
WHERE g.deleted_at IS NULL
  AND (NOT g.is_private OR EXISTS (SELECT 1 FROM user_groups ug WHERE ug.group_id = g.id AND ug.user_id = $1))
ORDER BY g.created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Delete marks the group deleted.
func (r *GroupRepo) Delete(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE groups SET deleted_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AddMember inserts a membership row unless it already exists.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID int64) (bool, error) {
	const q = `INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q, userID, groupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveMember deletes a membership row if present.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	const q = `DELETE FROM user_groups WHERE user_id=$1 AND group_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, userID, groupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IsMember reports whether a membership row exists.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM user_groups WHERE user_id=$1 AND group_id=$2)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, userID, groupID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Members lists the users of a group in join order.
func (r *GroupRepo) Members(ctx context.Context, groupID int64) ([]model.User, error) {
	const q = `
SELECT u.id, u.uuid, u.username, u.codeword_hash, u.codeword_salt, u.is_online, u.last_seen, u.created_at
FROM user_groups ug
JOIN users u ON u.id = ug.user_id
WHERE ug.group_id = $1
ORDER BY ug.joined_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
