package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "chat_session"

const maxBodyBytes = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	writeJSON(w, status, fields)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   errs.Reason(err),
		"message": errs.Message(err),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", errs.ErrInvalidInput)
	}
	return nil
}

func actorOf(u *model.User) chat.Identity {
	return chat.Identity{UserID: u.ID, UUID: u.UUID, Username: u.Username}
}

func roomIDVar(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed room id", errs.ErrInvalidInput)
	}
	return id, nil
}

// sessionUser resolves the session cookie; nil when absent or invalid.
func (s *Server) sessionUser(r *http.Request) *model.User {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	u, err := s.identity.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return u
}

// authed rejects requests without a valid session cookie.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.sessionUser(r)
		if u == nil {
			s.writeError(w, r, errs.ErrUnauthenticated)
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), u)))
	}
}

func mustUser(r *http.Request) *model.User {
	u, _ := UserFromCtx(r.Context())
	return u
}

type joinBody struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Codeword string `json:"codeword"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if !s.joinLimiter.Allow(clientIP(r)) {
		s.writeError(w, r, errs.ErrRateLimited)
		return
	}
	var body joinBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := service.JoinRequest{UUID: body.UUID, Username: body.Username, Codeword: body.Codeword}
	if u := s.sessionUser(r); u != nil {
		req.SessionUser = u.UUID
	}
	u, err := s.identity.Join(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, exp, err := s.identity.IssueToken(u.UUID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	message := "welcome back"
	if body.UUID == "" {
		message = "user created"
	}
	writeOK(w, http.StatusOK, map[string]any{"user": chat.NewUserView(*u), "message": message})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"user": chat.NewUserView(*mustUser(r))})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	groups, err := s.chat.ListRooms(r.Context(), mustUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rooms := make([]chat.RoomView, 0, len(groups))
	for i := range groups {
		rooms = append(rooms, chat.NewRoomView(&groups[i]))
	}
	writeOK(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type createRoomBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body createRoomBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.chat.CreateRoom(r.Context(), actorOf(mustUser(r)), chat.RoomInput{
		Name:        body.Name,
		Description: body.Description,
		IsPrivate:   body.IsPrivate,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"room": chat.NewRoomView(g)})
}

func (s *Server) handleRoomDetail(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, members, err := s.chat.RoomDetail(r.Context(), mustUser(r).ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]chat.UserView, 0, len(members))
	for _, m := range members {
		views = append(views, chat.NewUserView(m))
	}
	writeOK(w, http.StatusOK, map[string]any{"room": chat.NewRoomView(g), "members": views})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, g, err := s.chat.JoinGroup(r.Context(), actorOf(mustUser(r)), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"room":           chat.NewRoomView(g),
		"already_member": res == chat.AlreadyMember,
	})
}

type addMemberRequest struct {
	UserUUID string `json:"userUuid"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addMemberRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := uuid.FromString(req.UserUUID)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed user uuid", errs.ErrInvalidInput))
		return
	}
	res, g, u, err := s.chat.AddMember(r.Context(), actorOf(mustUser(r)), id, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"room":           chat.NewRoomView(g),
		"user":           chat.NewUserView(*u),
		"already_member": res == chat.AlreadyMember,
	})
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.chat.LeaveGroup(r.Context(), actorOf(mustUser(r)), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"room": chat.NewRoomView(g)})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.chat.DeleteRoom(r.Context(), actorOf(mustUser(r)), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errs.ErrInvalidInput, key)
	}
	return n, nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r.URL.Query().Get("room"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.chat.HistoryFor(r.Context(), mustUser(r).ID, scope, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]chat.MessageView, 0, len(page.Messages))
	for _, m := range page.Messages {
		views = append(views, chat.NewMessageView(m))
	}
	writeOK(w, http.StatusOK, map[string]any{"messages": views, "hasMore": page.HasMore})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.chat.OnlineUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]chat.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, chat.NewUserView(u))
	}
	writeOK(w, http.StatusOK, map[string]any{"users": views, "count": len(views)})
}
