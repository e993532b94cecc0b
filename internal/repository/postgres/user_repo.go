package postgres

import (
	"context"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, uuid, username, codeword_hash, codeword_salt, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.UUID, &u.Username, &u.CodewordHash, &u.CodewordSalt, &u.IsOnline, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, mapRowErr(err)
	}
	return &u, nil
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (uuid, username, codeword_hash, codeword_salt, is_online, last_seen)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`
	err := r.db.Pool.QueryRow(ctx, q, u.UUID, u.Username, u.CodewordHash, u.CodewordSalt, u.IsOnline, u.LastSeen).
		Scan(&u.ID, &u.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUUID selects a user by public uuid.
func (r *UserRepo) GetByUUID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE uuid=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a user by display name.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, username))
}

// SetOnline stores the presence flag and last_seen.
func (r *UserRepo) SetOnline(ctx context.Context, id int64, online bool, at time.Time) error {
	const q = `UPDATE users SET is_online=$2, last_seen=$3 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, online, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Touch updates last_seen without changing the presence flag.
func (r *UserRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET last_seen=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ResetPresence clears flags left behind by a process that stopped without
// disconnecting its sessions.
func (r *UserRepo) ResetPresence(ctx context.Context) (int64, error) {
	const q = `UPDATE users SET is_online=false WHERE is_online`
	tag, err := r.db.Pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListOnline returns every user currently flagged online.
func (r *UserRepo) ListOnline(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE is_online ORDER BY username ASC`
	rows, err := r.db.Pool.Query(ctx, q)
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
