package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/Tyrowin/roomchat/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenMessages struct {
	repository.MessageRepository
}

func (brokenMessages) Create(context.Context, *model.Message) error {
	return errors.New("disk full")
}

func TestPost_Validate(t *testing.T) {
	tests := []struct {
		name string
		post Post
		ok   bool
	}{
		{"plain", Post{Content: "hello"}, true},
		{"default type", Post{Content: "hi", Type: ""}, true},
		{"empty", Post{Content: "   "}, false},
		{"max length", Post{Content: strings.Repeat("é", 2000)}, true},
		{"too long", Post{Content: strings.Repeat("a", 2001)}, false},
		{"script", Post{Content: "<script>alert(1)</script>"}, false},
		{"js url", Post{Content: "click javascript:void(0)"}, false},
		{"vb url", Post{Content: "VBScript:run"}, false},
		{"handler", Post{Content: `<img onerror=x>`}, false},
		{"system forged", Post{Content: "hi", Type: model.MessageSystem}, false},
		{"unknown type", Post{Content: "hi", Type: "video"}, false},
		{"image ok", Post{Type: model.MessageImage, File: &model.FileRef{URL: "/files/a.png", Name: "a.png"}}, true},
		{"image without file", Post{Type: model.MessageImage, Content: "x"}, false},
		{"file bad ext", Post{Type: model.MessageFile, File: &model.FileRef{URL: "/files/a.exe", Name: "a.exe"}}, false},
		{"file bad url", Post{Type: model.MessageFile, File: &model.FileRef{URL: "javascript:alert(1)", Name: "a.pdf"}}, false},
		{"encrypted without key", Post{Content: "zzz", IsEncrypted: true}, false},
		{"encrypted", Post{Content: "zzz", IsEncrypted: true, KeyRef: "k1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.post
			err := p.validate(DefaultMaxContentLength)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errs.ErrInvalidContent)
		})
	}
}

func TestPipeline_RejectionDoesNotBroadcast(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	ann := h.user(t, "ann")
	h.login(t, "a1", ann)
	h.login(t, "b1", h.user(t, "bob"))
	h.tr.connect("anon")

	_, err := h.svc.PostMessage(ctx, "a1", text(model.Global(), "<script>x</script>"))
	require.ErrorIs(t, err, errs.ErrInvalidContent)
	require.Equal(t, "invalid_content", errs.Reason(err))

	_, err = h.svc.PostMessage(ctx, "anon", text(model.Global(), "hello"))
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	for _, c := range []string{"a1", "b1", "anon"} {
		require.Empty(t, h.tr.events(c, EventNewMessage))
	}
	page, err := h.svc.HistoryFor(ctx, 0, model.Global(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, page.Messages)
}

func TestPipeline_PersistFailureDoesNotBroadcast(t *testing.T) {
	db := memory.New()
	store := db.Store()
	store.Messages = brokenMessages{store.Messages}
	h := newHarnessWithStore(t, db, store, Options{})
	h.login(t, "a1", h.user(t, "ann"))
	h.login(t, "b1", h.user(t, "bob"))

	_, err := h.svc.PostMessage(context.Background(), "a1", text(model.Global(), "hello"))
	require.ErrorIs(t, err, errs.ErrPersistence)
	require.Equal(t, "internal", errs.Reason(err))
	require.Empty(t, h.tr.events("a1", EventNewMessage))
	require.Empty(t, h.tr.events("b1", EventNewMessage))
}

func TestPipeline_GlobalReachesEveryConnection(t *testing.T) {
	h := newHarness(t, Options{})
	ann := h.user(t, "ann")
	h.login(t, "a1", ann)
	h.tr.connect("anon")

	m, err := h.svc.PostMessage(context.Background(), "a1", text(model.Global(), "  hi all  "))
	require.NoError(t, err)
	require.Equal(t, "hi all", m.Content)
	require.Nil(t, m.GroupID)

	for _, c := range []string{"a1", "anon"} {
		got := h.tr.events(c, EventNewMessage)
		require.Len(t, got, 1)
		v := decodeMessage(t, got[0])
		require.Equal(t, "hi all", v.Content)
		require.Equal(t, "ann", v.Author.Username)
		require.Empty(t, v.RoomID)
	}
}

func TestPipeline_RoomScopedToSubscribers(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	ann := h.user(t, "ann")
	g := h.room(t, ann, "lounge", false)
	scope := model.Room(g.UUID)
	h.login(t, "a1", ann)
	h.login(t, "b1", h.user(t, "bob"))
	_, err := h.svc.JoinRoom(ctx, "a1", scope)
	require.NoError(t, err)

	_, err = h.svc.PostMessage(ctx, "b1", text(scope, "from outside"))
	require.NoError(t, err, "public rooms accept posts from non-subscribers")

	require.Len(t, h.tr.events("a1", EventNewMessage), 1)
	require.Empty(t, h.tr.events("b1", EventNewMessage))
	v := decodeMessage(t, h.tr.events("a1", EventNewMessage)[0])
	require.Equal(t, g.UUID.String(), v.RoomID)
}

func TestPipeline_RoomOrderIsConsistent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	owner := h.user(t, "owner")
	g := h.room(t, owner, "busy", false)
	scope := model.Room(g.UUID)

	const writers, perWriter = 4, 25
	conns := []string{"watch1", "watch2"}
	h.login(t, "watch1", owner)
	h.login(t, "watch2", owner)
	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("w%d", i)
		h.login(t, id, h.user(t, id))
		conns = append(conns, id)
	}
	for _, c := range conns {
		_, err := h.svc.JoinRoom(ctx, c, scope)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := h.svc.PostMessage(ctx, fmt.Sprintf("w%d", i), text(scope, fmt.Sprintf("%d-%d", i, j)))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	page, err := h.svc.HistoryFor(ctx, owner.ID, scope, 100, 0)
	require.NoError(t, err)
	var stored []string
	for _, m := range page.Messages {
		if m.Type == model.MessageText {
			stored = append(stored, m.UUID.String())
		}
	}
	require.Len(t, stored, writers*perWriter)

	for _, c := range conns {
		var seen []string
		for _, r := range h.tr.events(c, EventNewMessage) {
			seen = append(seen, decodeMessage(t, r).UUID)
		}
		require.Equal(t, stored, seen, "connection %s", c)
	}
}

func TestPipeline_PostTouchesLastSeen(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	ann := h.user(t, "ann")
	h.login(t, "a1", ann)
	before, err := h.store.Users.GetByID(ctx, ann.ID)
	require.NoError(t, err)

	_, err = h.svc.PostMessage(ctx, "a1", text(model.Global(), "ping"))
	require.NoError(t, err)
	after, err := h.store.Users.GetByID(ctx, ann.ID)
	require.NoError(t, err)
	require.False(t, after.LastSeen.Before(before.LastSeen))
	require.True(t, after.IsOnline)
}
