package relay

import (
	"context"
	"testing"
	"time"

	"teamchat/cmd/records"
	"teamchat/cmd/security/token"
	v1 "teamchat/shared/contracts/chat/v1"
)

func identify(t *testing.T, h *Hub, u records.User) *Session {
	t.Helper()
	s := h.Open(NewConn(NewConnectionID(), 256))
	s.Handle(testCtx(t), clientEnv(t, v1.TypeIdentify, v1.IdentifyPayload{UserID: u.ID}))
	acks := ofType(drain(s.Conn()), v1.TypeIdentified)
	if len(acks) != 1 || s.State() != "identified" {
		t.Fatalf("identify %s: acks=%d state=%s", u.DisplayName, len(acks), s.State())
	}
	return s
}

func join(t *testing.T, s *Session, channelID string) {
	t.Helper()
	s.Handle(testCtx(t), clientEnv(t, v1.TypeJoinChannel, v1.ChannelRefPayload{ChannelID: channelID}))
	got := ofType(drain(s.Conn()), v1.TypeChannelJoined)
	if len(got) != 1 || decode[v1.ChannelRefPayload](t, got[0]).ChannelID != channelID {
		t.Fatalf("join %s: acks=%d", channelID, len(got))
	}
}

func TestSession_UnidentifiedPolicy(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice := mustUser(t, st, "alice")
	general := mustChannel(t, st, "general", alice.ID)

	s := h.Open(NewConn("c1", 16))
	ctx := testCtx(t)

	s.Handle(ctx, clientEnv(t, v1.TypeJoinChannel, v1.ChannelRefPayload{ChannelID: general.ID}))
	s.Handle(ctx, clientEnv(t, v1.TypeLeaveChannel, v1.ChannelRefPayload{ChannelID: general.ID}))
	if got := drain(s.Conn()); len(got) != 0 {
		t.Fatalf("join/leave before identify produced %d events", len(got))
	}
	if h.Rooms.IsMember(general.ID, s.Conn()) {
		t.Fatalf("unidentified connection joined a room")
	}

	cases := []v1.Envelope{
		clientEnv(t, v1.TypeSendMessage, v1.SendMessagePayload{ChannelID: general.ID, Content: "hi"}),
		clientEnv(t, v1.TypeTyping, v1.TypingPayload{ChannelID: general.ID}),
		clientEnv(t, v1.TypeStopTyping, v1.StopTypingPayload{ChannelID: general.ID}),
	}
	for _, env := range cases {
		s.Handle(ctx, env)
		if p := mustOneError(t, s.Conn(), "not_identified"); p.RefID != env.ID {
			t.Fatalf("%s: ref_id=%q want %q", env.Type, p.RefID, env.ID)
		}
	}
	if s.State() != "unidentified" {
		t.Fatalf("state=%s", s.State())
	}
}

func TestSession_Identify(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice, bob := mustUser(t, st, "alice"), mustUser(t, st, "bob")
	ctx := testCtx(t)

	s := h.Open(NewConn("c1", 16))
	s.Handle(ctx, clientEnv(t, v1.TypeIdentify, v1.IdentifyPayload{UserID: alice.ID}))

	acks := ofType(drain(s.Conn()), v1.TypeIdentified)
	if len(acks) != 1 {
		t.Fatalf("identified acks=%d", len(acks))
	}
	p := decode[v1.IdentifiedPayload](t, acks[0])
	if p.ConnectionID != "c1" || p.User.ID != alice.ID || p.User.DisplayName != "alice" || len(p.OnlineUsers) != 1 || p.OnlineUsers[0] != alice.ID {
		t.Fatalf("identified payload=%+v", p)
	}
	if s.Conn().UserID() != alice.ID {
		t.Fatalf("conn bound to %q", s.Conn().UserID())
	}

	s.Handle(ctx, clientEnv(t, v1.TypeIdentify, v1.IdentifyPayload{UserID: alice.ID}))
	if got := ofType(drain(s.Conn()), v1.TypeIdentified); len(got) != 1 {
		t.Fatalf("re-identify acks=%d want 1", len(got))
	}

	s.Handle(ctx, clientEnv(t, v1.TypeIdentify, v1.IdentifyPayload{UserID: bob.ID}))
	mustOneError(t, s.Conn(), "already_identified")
	if s.Conn().UserID() != alice.ID {
		t.Fatalf("identity changed to %q", s.Conn().UserID())
	}

	stranger := h.Open(NewConn("c2", 16))
	stranger.Handle(ctx, clientEnv(t, v1.TypeIdentify, v1.IdentifyPayload{UserID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"}))
	mustOneError(t, stranger.Conn(), "unauthorized")
	stranger.Handle(ctx, v1.Envelope{V: v1.Version, Type: v1.TypeIdentify, ID: "x", Payload: []byte(`"nope"`)})
	mustOneError(t, stranger.Conn(), "validation_failed")
	if stranger.State() != "unidentified" {
		t.Fatalf("state=%s", stranger.State())
	}
}

func TestSession_ChatScenario(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice, bob, carol := mustUser(t, st, "alice"), mustUser(t, st, "bob"), mustUser(t, st, "carol")
	general := mustChannel(t, st, "general", alice.ID)
	random := mustChannel(t, st, "random", carol.ID)
	ctx := testCtx(t)

	a, b, c := identify(t, h, alice), identify(t, h, bob), identify(t, h, carol)
	join(t, a, general.ID)
	join(t, b, general.ID)
	join(t, c, random.ID)
	drain(a.Conn())
	drain(b.Conn())
	drain(c.Conn())

	a.Handle(ctx, clientEnv(t, v1.TypeSendMessage, v1.SendMessagePayload{ChannelID: general.ID, Content: "hi"}))
	for _, s := range []*Session{a, b} {
		got := ofType(drain(s.Conn()), v1.TypeNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s new-message count=%d", s.Conn().UserID(), len(got))
		}
		p := decode[v1.NewMessagePayload](t, got[0])
		if p.Content != "hi" || p.UserID != alice.ID || p.Author.DisplayName != "alice" {
			t.Fatalf("payload=%+v", p)
		}
	}
	if got := drain(c.Conn()); len(got) != 0 {
		t.Fatalf("random member got %d events", len(got))
	}

	a.Handle(ctx, clientEnv(t, v1.TypeTyping, v1.TypingPayload{ChannelID: general.ID}))
	typing := ofType(drain(b.Conn()), v1.TypeUserTyping)
	if len(typing) != 1 {
		t.Fatalf("typing notices=%d", len(typing))
	}
	if p := decode[v1.TypingPayload](t, typing[0]); p.UserID != alice.ID || p.DisplayName != "alice" || p.ExpiresInMS != 3000 {
		t.Fatalf("typing payload=%+v", p)
	}
	if len(drain(a.Conn())) != 0 || len(drain(c.Conn())) != 0 {
		t.Fatalf("typing notice leaked")
	}

	a.Handle(ctx, clientEnv(t, v1.TypeSendMessage, v1.SendMessagePayload{ChannelID: random.ID, Content: "hi"}))
	mustOneError(t, a.Conn(), "not_joined")

	a.Handle(ctx, clientEnv(t, v1.TypeSendMessage, v1.SendMessagePayload{ChannelID: general.ID, Content: "   "}))
	mustOneError(t, a.Conn(), "message_rejected")
	if len(drain(b.Conn())) != 0 {
		t.Fatalf("rejected message reached the room")
	}

	a.Handle(ctx, clientEnv(t, v1.TypeJoinChannel, v1.ChannelRefPayload{ChannelID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"}))
	mustOneError(t, a.Conn(), "validation_failed")

	a.Handle(ctx, clientEnv(t, v1.TypeLeaveChannel, v1.ChannelRefPayload{ChannelID: general.ID}))
	if got := ofType(drain(a.Conn()), v1.TypeChannelLeft); len(got) != 1 {
		t.Fatalf("channel-left acks=%d", len(got))
	}
	a.Handle(ctx, clientEnv(t, v1.TypeStopTyping, v1.StopTypingPayload{ChannelID: general.ID}))
	mustOneError(t, a.Conn(), "not_joined")
	if h.Rooms.IsMember(general.ID, a.Conn()) {
		t.Fatalf("left connection still in room")
	}
}

func TestSession_CloseAnnouncesOfflineOnlyForRegisteredConn(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice, bob := mustUser(t, st, "alice"), mustUser(t, st, "bob")
	general := mustChannel(t, st, "general", alice.ID)

	observer := identify(t, h, bob)
	old := identify(t, h, alice)
	join(t, old, general.ID)
	if got := presenceFor(t, observer.Conn(), alice.ID); len(got) != 1 || !got[0] {
		t.Fatalf("online announcements=%v want [true]", got)
	}

	replacement := identify(t, h, alice)
	if got := presenceFor(t, observer.Conn(), alice.ID); len(got) != 0 {
		t.Fatalf("supersede announced %v", got)
	}

	old.Close()
	old.Close()
	if got := presenceFor(t, observer.Conn(), alice.ID); len(got) != 0 {
		t.Fatalf("closing the superseded conn announced %v", got)
	}
	if h.Rooms.IsMember(general.ID, old.Conn()) || !old.Conn().Closed() || old.State() != "closed" {
		t.Fatalf("closed session left state behind")
	}

	old.Handle(testCtx(t), clientEnv(t, v1.TypeSendMessage, v1.SendMessagePayload{ChannelID: general.ID, Content: "late"}))
	if got := drain(old.Conn()); len(got) != 0 {
		t.Fatalf("closed session replied with %d events", len(got))
	}

	replacement.Close()
	if got := presenceFor(t, observer.Conn(), alice.ID); len(got) != 1 || got[0] {
		t.Fatalf("offline announcements=%v want [false]", got)
	}
	if ids := h.Registry.ListOnlineUserIDs(); len(ids) != 1 || ids[0] != bob.ID {
		t.Fatalf("online=%v", ids)
	}
}

func TestSession_TokenIdentification(t *testing.T) {
	t.Parallel()

	st := records.NewMemoryStore()
	mgr, err := token.NewManager([]byte("0123456789abcdef0123456789abcdef"), token.DefaultIssuer, time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	h := NewHub(HubConfig{
		Store:      st,
		Log:        discardLogger(),
		Identifier: TokenIdentifier{Users: st, Tokens: mgr, RequireAuth: true},
	})
	alice, bob := mustUser(t, st, "alice"), mustUser(t, st, "bob")

	tok, _, err := mgr.Issue(alice.ID, alice.DisplayName, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name    string
		payload v1.IdentifyPayload
		wantErr string
	}{
		{name: "no token", payload: v1.IdentifyPayload{UserID: alice.ID}, wantErr: "unauthorized"},
		{name: "garbage token", payload: v1.IdentifyPayload{Token: "not.a.jwt"}, wantErr: "unauthorized"},
		{name: "mismatched user", payload: v1.IdentifyPayload{UserID: bob.ID, Token: tok}, wantErr: "unauthorized"},
		{name: "token only", payload: v1.IdentifyPayload{Token: tok}},
		{name: "token and user", payload: v1.IdentifyPayload{UserID: alice.ID, Token: tok}},
	}
	for _, tc := range cases {
		s := h.Open(NewConn(NewConnectionID(), 16))
		s.Handle(testCtx(t), clientEnv(t, v1.TypeIdentify, tc.payload))
		if tc.wantErr != "" {
			mustOneError(t, s.Conn(), tc.wantErr)
			continue
		}
		if got := ofType(drain(s.Conn()), v1.TypeIdentified); len(got) != 1 || s.Conn().UserID() != alice.ID {
			t.Fatalf("%s: acks=%d user=%q", tc.name, len(got), s.Conn().UserID())
		}
		s.Close()
	}
}

func TestSession_SlowConsumerIsEvicted(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice, bob := mustUser(t, st, "alice"), mustUser(t, st, "bob")
	general := mustChannel(t, st, "general", alice.ID)

	a := identify(t, h, alice)
	join(t, a, general.ID)

	slow := h.Open(NewConn("slow", 2))
	slow.Handle(testCtx(t), clientEnv(t, v1.TypeIdentify, v1.IdentifyPayload{UserID: bob.ID}))
	drain(slow.Conn())
	slow.Handle(testCtx(t), clientEnv(t, v1.TypeJoinChannel, v1.ChannelRefPayload{ChannelID: general.ID}))
	drain(slow.Conn())
	drain(a.Conn())
	if !h.Rooms.IsMember(general.ID, slow.Conn()) {
		t.Fatalf("slow consumer did not join")
	}

	for i := 0; i < 5; i++ {
		if _, err := h.Relay.Send(testCtx(t), general.ID, alice.ID, "flood"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	if !slow.Conn().Closed() {
		t.Fatalf("slow consumer not evicted")
	}
	if h.Rooms.IsMember(general.ID, slow.Conn()) {
		t.Fatalf("evicted connection still in room")
	}
	if got := ofType(drain(a.Conn()), v1.TypeNewMessage); len(got) != 5 {
		t.Fatalf("healthy member got %d messages want 5", len(got))
	}
}

func TestSession_JoinAfterEvictIsNotRecorded(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice := mustUser(t, st, "alice")
	general := mustChannel(t, st, "general", alice.ID)

	a := identify(t, h, alice)
	h.evict(a.Conn())

	a.Handle(testCtx(t), clientEnv(t, v1.TypeJoinChannel, v1.ChannelRefPayload{ChannelID: general.ID}))
	if h.Rooms.IsMember(general.ID, a.Conn()) {
		t.Fatalf("evicted connection admitted to room")
	}
	if _, ok := a.joined[general.ID]; ok {
		t.Fatalf("session recorded a join the room refused")
	}
	if got := ofType(drain(a.Conn()), v1.TypeChannelJoined); len(got) != 0 {
		t.Fatalf("channel-joined acked %d times", len(got))
	}
}

func TestHub_MarkAllOfflineFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	h, st := newTestHub(t)
	alice, bob := mustUser(t, st, "alice"), mustUser(t, st, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	identify(t, h, alice)
	identify(t, h, bob)
	waitFor(t, "durable online", func() bool {
		u, err := st.GetUser(testCtx(t), alice.ID)
		return err == nil && u.IsOnline
	})

	if n := h.MarkAllOffline(); n != 2 {
		t.Fatalf("MarkAllOffline=%d want 2", n)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}

	for _, u := range []records.User{alice, bob} {
		got, err := st.GetUser(testCtx(t), u.ID)
		if err != nil {
			t.Fatalf("get %s: %v", u.DisplayName, err)
		}
		if got.IsOnline || got.LastSeen == nil {
			t.Fatalf("%s online=%v last_seen=%v", u.DisplayName, got.IsOnline, got.LastSeen)
		}
	}
}
