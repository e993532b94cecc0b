package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func newUser(t *testing.T, db *DB, name string) *model.User {
	t.Helper()
	u := &model.User{UUID: uuid.Must(uuid.NewV4()), Username: name}
	require.NoError(t, db.Store().Users.Create(context.Background(), u))
	return u
}

func TestUsers_UniqueAndPresence(t *testing.T) {
	db := New()
	users := db.Store().Users
	ctx := context.Background()
	u := newUser(t, db, "alice")

	dup := &model.User{UUID: uuid.Must(uuid.NewV4()), Username: "alice"}
	require.ErrorIs(t, users.Create(ctx, dup), errs.ErrAlreadyExists)

	at := time.Now()
	require.NoError(t, users.SetOnline(ctx, u.ID, true, at))
	online, err := users.ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)

	got, err := users.GetByUUID(ctx, u.UUID)
	require.NoError(t, err)
	require.True(t, got.IsOnline)
	require.ErrorIs(t, users.Touch(ctx, 999, at), errs.ErrNotFound)
}

func TestUsers_ResetPresence(t *testing.T) {
	db := New()
	users := db.Store().Users
	ctx := context.Background()
	a := newUser(t, db, "alice")
	b := newUser(t, db, "bob")
	newUser(t, db, "carol")
	at := time.Now()
	require.NoError(t, users.SetOnline(ctx, a.ID, true, at))
	require.NoError(t, users.SetOnline(ctx, b.ID, true, at))

	n, err := users.ResetPresence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	online, err := users.ListOnline(ctx)
	require.NoError(t, err)
	require.Empty(t, online)

	got, err := users.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.WithinDuration(t, at, got.LastSeen, 0, "last_seen is kept")

	n, err = users.ResetPresence(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGroups_MembershipIdempotent(t *testing.T) {
	db := New()
	groups := db.Store().Groups
	ctx := context.Background()
	owner := newUser(t, db, "owner")
	other := newUser(t, db, "other")

	g := &model.Group{UUID: uuid.Must(uuid.NewV4()), Name: "priv", IsPrivate: true, CreatedBy: &owner.ID}
	require.NoError(t, groups.Create(ctx, g))

	ok, err := groups.IsMember(ctx, g.ID, owner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	added, err := groups.AddMember(ctx, g.ID, other.ID)
	require.NoError(t, err)
	require.True(t, added)
	added, err = groups.AddMember(ctx, g.ID, other.ID)
	require.NoError(t, err)
	require.False(t, added)

	members, err := groups.Members(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	visible, err := groups.ListVisible(ctx, 12345)
	require.NoError(t, err)
	require.Empty(t, visible)

	require.NoError(t, groups.Delete(ctx, g.ID, time.Now()))
	_, err = groups.GetByUUID(ctx, g.UUID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMessages_ListRecentPerRoom(t *testing.T) {
	db := New()
	store := db.Store()
	ctx := context.Background()
	u := newUser(t, db, "writer")
	gid := int64(42)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Messages.Create(ctx, &model.Message{UUID: uuid.Must(uuid.NewV4()), Content: "g", AuthorID: u.ID}))
		require.NoError(t, store.Messages.Create(ctx, &model.Message{UUID: uuid.Must(uuid.NewV4()), Content: "r", AuthorID: u.ID, GroupID: &gid}))
	}

	global, err := store.Messages.ListRecent(ctx, nil, 3, 1)
	require.NoError(t, err)
	require.Len(t, global, 3)
	for _, m := range global {
		require.Nil(t, m.GroupID)
		require.Equal(t, "writer", m.AuthorName)
	}
	require.Greater(t, global[0].ID, global[1].ID)

	room, err := store.Messages.ListRecent(ctx, &gid, 10, 0)
	require.NoError(t, err)
	require.Len(t, room, 5)
}
