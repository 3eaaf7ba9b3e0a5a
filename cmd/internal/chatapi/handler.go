// Package chatapi is the request/response surface next to the realtime
// gateway: signup and login, channel listing and membership, message history
// and the online-user list.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teamchat/cmd/records"
	"teamchat/cmd/security/password"
	"teamchat/cmd/security/token"
)

// OnlineLister reports the users that currently hold a live connection.
type OnlineLister interface {
	ListOnlineUserIDs() []string
}

type Handler struct {
	log    *slog.Logger
	cfg    Config
	store  records.Store
	pw     password.Config
	tokens *token.Manager
	online OnlineLister
	now    func() time.Time
}

func NewHandler(log *slog.Logger, store records.Store, pw password.Config, tokens *token.Manager, online OnlineLister, cfg Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("chatapi: nil store")
	}
	if tokens == nil {
		return nil, errors.New("chatapi: nil token manager")
	}
	if online == nil {
		return nil, errors.New("chatapi: nil online lister")
	}
	return &Handler{
		log:    log,
		cfg:    cfg.withDefaults(),
		store:  store,
		pw:     pw,
		tokens: tokens,
		online: online,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/auth/signup", h.handleSignup)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("GET /api/channels", h.handleListChannels)
	mux.HandleFunc("POST /api/channels", h.handleCreateChannel)
	mux.HandleFunc("POST /api/channels/{id}/join", h.handleJoin)
	mux.HandleFunc("DELETE /api/channels/{id}/leave", h.handleLeave)
	mux.HandleFunc("GET /api/channels/{id}/messages", h.handleMessages)
	mux.HandleFunc("GET /api/users/online", h.handleOnlineUsers)
}

// ---- auth ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := records.Register(r.Context(), h.store, h.pw, req.Email, req.Password, req.FullName, h.now())
	if err != nil {
		h.writeStoreError(w, "api.signup", err)
		return
	}
	h.log.Info("api.signup.ok", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, map[string]userResponse{"user": toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := records.Authenticate(r.Context(), h.store, h.pw, req.Email, req.Password)
	if err != nil {
		h.writeStoreError(w, "api.login", err)
		return
	}

	tok, exp, err := h.tokens.Issue(u.ID, u.DisplayName, h.now())
	if err != nil {
		h.log.Error("api.login.issue_token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(u), AccessToken: tok, ExpiresAt: exp})
}

// ---- channels ----

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorizeRead(w, r); !ok {
		return
	}

	chans, err := h.store.ListChannels(r.Context())
	if err != nil {
		h.writeStoreError(w, "api.channels.list", err)
		return
	}
	out := make([]channelResponse, 0, len(chans))
	for _, c := range chans {
		out = append(out, toChannelResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string][]channelResponse{"channels": out})
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	userID, ok := h.caller(w, r, req.UserID)
	if !ok {
		return
	}

	c, err := h.store.CreateChannel(r.Context(), records.CreateChannelInput{
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   userID,
		Now:         h.now(),
	})
	if err != nil {
		h.writeStoreError(w, "api.channels.create", err)
		return
	}
	h.log.Info("api.channel.created", "channel_id", c.ID, "user_id", userID)
	writeJSON(w, http.StatusCreated, map[string]channelResponse{"channel": toChannelResponse(c)})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, true)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, false)
}

func (h *Handler) membership(w http.ResponseWriter, r *http.Request, join bool) {
	// Open-mode callers may name themselves in the body or the query string.
	claimed := r.URL.Query().Get("user_id")
	if r.ContentLength != 0 {
		var req membershipRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		if strings.TrimSpace(req.UserID) != "" {
			claimed = req.UserID
		}
	}
	userID, ok := h.caller(w, r, claimed)
	if !ok {
		return
	}
	channelID := strings.TrimSpace(r.PathValue("id"))

	var err error
	if join {
		err = h.store.JoinChannel(r.Context(), channelID, userID, h.now())
	} else {
		err = h.store.LeaveChannel(r.Context(), channelID, userID)
	}
	if err != nil {
		h.writeStoreError(w, "api.channels.membership", err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{ChannelID: channelID, UserID: userID, Joined: join})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorizeRead(w, r); !ok {
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "offset must be an integer")
		return
	}
	limit, offset = records.ClampPage(limit, offset)

	msgs, err := h.store.ListMessages(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		h.writeStoreError(w, "api.messages.list", err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: out, Limit: limit, Offset: offset})
}

// ---- users ----

func (h *Handler) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorizeRead(w, r); !ok {
		return
	}

	users, err := h.store.ListUsersByIDs(r.Context(), h.online.ListOnlineUserIDs())
	if err != nil {
		h.writeStoreError(w, "api.users.online", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string][]userResponse{"users": out})
}

// ---- caller identity ----

// caller resolves the acting user: a bearer token always wins; without one,
// claimed is accepted only when auth is not required.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	if raw := bearerToken(r); raw != "" {
		claims, err := h.tokens.Verify(raw, h.now())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return "", false
		}
		return claims.Subject, true
	}
	if h.cfg.RequireAuth {
		writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
		return "", false
	}
	claimed = strings.TrimSpace(claimed)
	if claimed == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return "", false
	}
	return claimed, true
}

func (h *Handler) authorizeRead(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !h.cfg.RequireAuth && bearerToken(r) == "" {
		return "", true
	}
	return h.caller(w, r, "")
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func queryInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// writeStoreError maps the records error taxonomy onto HTTP.
func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	var (
		oe records.OpError
		nf records.NotFoundError
		ce records.ConflictError
	)
	switch {
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	case records.IsInvalidCredentials(err):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, "conflict", ce.Reason())
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "not_found", nf.Resource+" not found")
	case records.IsInvalidInput(err):
		msg := "invalid request"
		if errors.As(err, &oe) && oe.Msg != "" {
			msg = oe.Msg
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "store_error", "internal error")
	}
}
