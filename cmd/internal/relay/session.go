package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"teamchat/cmd/records"
	v1 "teamchat/shared/contracts/chat/v1"
)

type sessionState uint8

const (
	stateUnidentified sessionState = iota
	stateIdentified
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnidentified:
		return "unidentified"
	case stateIdentified:
		return "identified"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type eventHandler func(s *Session, ctx context.Context, env v1.Envelope)

// sessionHandlers is the dispatch table. An event with no entry for the
// current state is unsupported; Closed has no entries so everything is dropped.
var sessionHandlers = map[sessionState]map[string]eventHandler{
	stateUnidentified: {
		v1.TypeIdentify:     (*Session).identify,
		v1.TypeJoinChannel:  (*Session).ignore,
		v1.TypeLeaveChannel: (*Session).ignore,
		v1.TypeSendMessage:  (*Session).requireIdentity,
		v1.TypeTyping:       (*Session).requireIdentity,
		v1.TypeStopTyping:   (*Session).requireIdentity,
	},
	stateIdentified: {
		v1.TypeIdentify:     (*Session).reidentify,
		v1.TypeJoinChannel:  (*Session).join,
		v1.TypeLeaveChannel: (*Session).leave,
		v1.TypeSendMessage:  (*Session).sendMessage,
		v1.TypeTyping:       (*Session).typing,
		v1.TypeStopTyping:   (*Session).stopTyping,
	},
}

// Session is the per-connection state machine. It owns the connection's
// bound user and its joined channel set.
type Session struct {
	hub  *Hub
	conn *Conn
	log  *slog.Logger

	mu     sync.Mutex
	state  sessionState
	user   records.User
	joined map[string]struct{}
}

// Conn returns the session's connection.
func (s *Session) Conn() *Conn { return s.conn }

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// Handle dispatches one validated client envelope.
func (s *Session) Handle(ctx context.Context, env v1.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}
	h, ok := sessionHandlers[s.state][env.Type]
	if !ok {
		s.fail(env, "unsupported", "unsupported type: "+env.Type)
		return
	}
	h(s, ctx, env)
}

// Close moves the session to Closed: it leaves every room, clears the
// registry entry (announcing offline when this was the registered
// connection) and stops presence delivery. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}
	prev := s.state
	s.state = stateClosed
	s.joined = nil

	h := s.hub
	h.Presence.Unsubscribe(s.conn)
	h.Rooms.LeaveAll(s.conn)
	s.conn.Close()
	if prev == stateIdentified {
		h.Registry.Clear(s.conn)
	}
	h.metrics.connClosed()
}

// ---- handlers ----

func (s *Session) identify(ctx context.Context, env v1.Envelope) {
	u, ok := s.resolve(ctx, env)
	if !ok {
		return
	}
	s.user = u
	s.state = stateIdentified
	s.conn.bind(u.ID)
	s.log = s.log.With("user_id", u.ID)

	s.hub.Registry.SetOnline(u.ID, s.conn)
	s.ackIdentified()
	s.log.Info("session.identified")
}

func (s *Session) reidentify(ctx context.Context, env v1.Envelope) {
	u, ok := s.resolve(ctx, env)
	if !ok {
		return
	}
	if u.ID != s.user.ID {
		s.fail(env, "already_identified", "connection is bound to another user")
		return
	}
	s.user = u
	s.hub.Registry.SetOnline(u.ID, s.conn)
	s.ackIdentified()
}

func (s *Session) resolve(ctx context.Context, env v1.Envelope) (records.User, bool) {
	var p v1.IdentifyPayload
	if err := env.Decode(&p); err != nil {
		s.fail(env, "validation_failed", err.Error())
		return records.User{}, false
	}

	sctx, cancel := s.hub.storeCtx(ctx)
	defer cancel()

	u, err := s.hub.ident.Identify(sctx, p)
	if err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			s.fail(env, "unauthorized", err.Error())
		} else {
			s.log.Error("session.identify.fail", "err", err)
			s.fail(env, "store_error", "identity lookup failed")
		}
		return records.User{}, false
	}
	return u, true
}

func (s *Session) ackIdentified() {
	s.reply(newEnvelope(v1.TypeIdentified, v1.IdentifiedPayload{
		ConnectionID: s.conn.ID,
		User:         userInfo(s.user.Summary()),
		OnlineUsers:  s.hub.Registry.ListOnlineUserIDs(),
	}, s.hub.now()))
}

func (s *Session) join(ctx context.Context, env v1.Envelope) {
	channelID, ok := s.channelRef(env)
	if !ok {
		return
	}

	sctx, cancel := s.hub.storeCtx(ctx)
	defer cancel()

	if _, err := s.hub.store.GetChannel(sctx, channelID); err != nil {
		err = classifyStoreErr("relay.Join", err)
		if IsValidation(err) {
			s.fail(env, "validation_failed", "unknown channel")
		} else {
			s.log.Error("session.join.fail", "channel_id", channelID, "err", err)
			s.fail(env, "store_error", "channel lookup failed")
		}
		return
	}

	if !s.hub.Rooms.Join(channelID, s.conn) {
		s.log.Debug("session.join.closed", "channel_id", channelID)
		return
	}
	s.joined[channelID] = struct{}{}
	s.reply(newEnvelope(v1.TypeChannelJoined, v1.ChannelRefPayload{ChannelID: channelID}, s.hub.now()))
}

func (s *Session) leave(_ context.Context, env v1.Envelope) {
	channelID, ok := s.channelRef(env)
	if !ok {
		return
	}
	s.hub.Rooms.Leave(channelID, s.conn)
	delete(s.joined, channelID)
	s.reply(newEnvelope(v1.TypeChannelLeft, v1.ChannelRefPayload{ChannelID: channelID}, s.hub.now()))
}

func (s *Session) channelRef(env v1.Envelope) (string, bool) {
	var p v1.ChannelRefPayload
	if err := env.Decode(&p); err != nil {
		s.fail(env, "validation_failed", err.Error())
		return "", false
	}
	id := strings.TrimSpace(p.ChannelID)
	if id == "" {
		s.fail(env, "validation_failed", "missing channel_id")
		return "", false
	}
	return id, true
}

func (s *Session) sendMessage(ctx context.Context, env v1.Envelope) {
	var p v1.SendMessagePayload
	if err := env.Decode(&p); err != nil {
		s.fail(env, "validation_failed", err.Error())
		return
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if !s.requireJoined(env, channelID) {
		return
	}

	if _, err := s.hub.Relay.Send(ctx, channelID, s.user.ID, p.Content); err != nil {
		msg := err.Error()
		if !IsValidation(err) {
			msg = "message could not be stored"
		}
		s.fail(env, "message_rejected", msg)
	}
}

func (s *Session) typing(_ context.Context, env v1.Envelope) {
	var p v1.TypingPayload
	if err := env.Decode(&p); err != nil {
		s.fail(env, "validation_failed", err.Error())
		return
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if !s.requireJoined(env, channelID) {
		return
	}
	s.hub.Typing.NotifyTyping(channelID, s.conn, s.user.ID, s.user.DisplayName)
}

func (s *Session) stopTyping(_ context.Context, env v1.Envelope) {
	var p v1.StopTypingPayload
	if err := env.Decode(&p); err != nil {
		s.fail(env, "validation_failed", err.Error())
		return
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if !s.requireJoined(env, channelID) {
		return
	}
	s.hub.Typing.NotifyStopTyping(channelID, s.conn, s.user.ID)
}

func (s *Session) requireJoined(env v1.Envelope, channelID string) bool {
	if _, ok := s.joined[channelID]; ok && channelID != "" {
		return true
	}
	s.fail(env, "not_joined", "join the channel first")
	return false
}

func (s *Session) requireIdentity(_ context.Context, env v1.Envelope) {
	s.fail(env, "not_identified", "identify first")
}

func (s *Session) ignore(_ context.Context, env v1.Envelope) {
	s.log.Debug("session.ignored", "type", env.Type, "state", s.state.String())
}

// ---- replies ----

func (s *Session) fail(ref v1.Envelope, code, msg string) {
	s.reply(errorEnvelope(code, msg, ref.ID, s.hub.now()))
}

func (s *Session) reply(env v1.Envelope) {
	if !s.conn.Enqueue(env) && !s.conn.Closed() {
		s.hub.evict(s.conn)
	}
}
