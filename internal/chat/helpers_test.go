package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/Tyrowin/roomchat/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// fakeTransport records payloads per connection.
type fakeTransport struct {
	mu    sync.Mutex
	open  map[string]bool
	inbox map[string][]received
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: make(map[string]bool), inbox: make(map[string][]received)}
}

func (f *fakeTransport) connect(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[id] = true
}

func (f *fakeTransport) Send(id string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open[id] {
		return false
	}
	var r received
	if err := json.Unmarshal(payload, &r); err != nil {
		panic(err)
	}
	f.inbox[id] = append(f.inbox[id], r)
	return true
}

func (f *fakeTransport) SendAll(payload []byte, except string) int {
	f.mu.Lock()
	ids := make([]string, 0, len(f.open))
	for id := range f.open {
		if id != except {
			ids = append(ids, id)
		}
	}
	f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if f.Send(id, payload) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) events(id, typ string) []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []received
	for _, r := range f.inbox[id] {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = make(map[string][]received)
}

type harness struct {
	svc   *Service
	db    *memory.DB
	store repository.Store
	tr    *fakeTransport
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db := memory.New()
	return newHarnessWithStore(t, db, db.Store(), opts)
}

func newHarnessWithStore(t *testing.T, db *memory.DB, store repository.Store, opts Options) *harness {
	t.Helper()
	tr := newFakeTransport()
	return &harness{
		svc:   NewService(store, tr, opts, zap.NewNop(), nil),
		db:    db,
		store: store,
		tr:    tr,
	}
}

func (h *harness) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{UUID: uuid.Must(uuid.NewV4()), Username: name}
	require.NoError(t, h.store.Users.Create(context.Background(), u))
	return u
}

// login opens a transport connection and binds it to u.
func (h *harness) login(t *testing.T, connID string, u *model.User) Session {
	t.Helper()
	h.tr.connect(connID)
	s, err := h.svc.Identify(context.Background(), connID, u)
	require.NoError(t, err)
	return s
}

func (h *harness) room(t *testing.T, owner *model.User, name string, private bool) *model.Group {
	t.Helper()
	g, err := h.svc.Rooms.CreateRoom(context.Background(), owner.ID, RoomInput{Name: name, IsPrivate: private})
	require.NoError(t, err)
	return g
}

func identity(u *model.User) Identity {
	return Identity{UserID: u.ID, UUID: u.UUID, Username: u.Username}
}

func decodeMessage(t *testing.T, r received) MessageView {
	t.Helper()
	var v MessageView
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func text(scope model.Scope, content string) Post {
	return Post{Scope: scope, Content: content, Type: model.MessageText}
}

const eventually = time.Second
