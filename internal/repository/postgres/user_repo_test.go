package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var userCols = []string{"id", "uuid", "username", "codeword_hash", "codeword_salt", "is_online", "last_seen", "created_at"}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now()
	u := &model.User{
		UUID:         uuid.Must(uuid.NewV4()),
		Username:     "alice",
		CodewordHash: []byte("h"),
		CodewordSalt: []byte("s"),
		LastSeen:     now,
	}

	mock.ExpectQuery(`INSERT INTO users \(uuid, username, codeword_hash, codeword_salt, is_online, last_seen\)`).
		WithArgs(u.UUID, u.Username, u.CodewordHash, u.CodewordSalt, false, now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))
	require.NoError(t, r.Create(ctx, u))
	require.Equal(t, int64(7), u.ID)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(u.UUID, u.Username, u.CodewordHash, u.CodewordSalt, false, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Getters(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM users WHERE uuid=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(int64(1), id, "bob", []byte("h"), []byte("s"), true, now, now))
	u, err := r.GetByUUID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "bob", u.Username)
	require.True(t, u.IsOnline)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, 2)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT .* FROM users WHERE username=\$1`).
		WithArgs("carol").
		WillReturnError(errors.New("conn reset"))
	_, err = r.GetByUsername(ctx, "carol")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SetOnline_and_Touch(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectExec(`UPDATE users SET is_online=\$2, last_seen=\$3 WHERE id=\$1`).
		WithArgs(int64(1), true, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetOnline(ctx, 1, true, at))

	mock.ExpectExec(`UPDATE users SET is_online=\$2, last_seen=\$3 WHERE id=\$1`).
		WithArgs(int64(9), false, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetOnline(ctx, 9, false, at), errs.ErrNotFound)

	mock.ExpectExec(`UPDATE users SET last_seen=\$2 WHERE id=\$1`).
		WithArgs(int64(1), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Touch(ctx, 1, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ResetPresence(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	mock.ExpectExec(`UPDATE users SET is_online=false WHERE is_online`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := r.ResetPresence(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	mock.ExpectExec(`UPDATE users SET is_online=false WHERE is_online`).
		WillReturnError(errors.New("conn closed"))
	_, err = r.ResetPresence(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_ListOnline(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE is_online ORDER BY username ASC`).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(1), uuid.Must(uuid.NewV4()), "a", []byte("h"), []byte("s"), true, now, now).
			AddRow(int64(2), uuid.Must(uuid.NewV4()), "b", []byte("h"), []byte("s"), true, now, now))
	users, err := r.ListOnline(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "a", users[0].Username)
	require.NoError(t, mock.ExpectationsWereMet())
}
