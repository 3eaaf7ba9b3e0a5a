package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"teamchat/cmd/records"
	v1 "teamchat/shared/contracts/chat/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) (*Hub, *records.MemoryStore) {
	t.Helper()
	st := records.NewMemoryStore()
	return NewHub(HubConfig{Store: st, Log: discardLogger()}), st
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustUser(t *testing.T, st records.Store, name string) records.User {
	t.Helper()
	u, err := st.CreateUser(testCtx(t), records.CreateUserInput{
		Email:        name + "@example.com",
		DisplayName:  name,
		PasswordHash: "unused",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func mustChannel(t *testing.T, st records.Store, name, creatorID string) records.Channel {
	t.Helper()
	c, err := st.CreateChannel(testCtx(t), records.CreateChannelInput{Name: name, CreatorID: creatorID})
	if err != nil {
		t.Fatalf("create channel %s: %v", name, err)
	}
	return c
}

func clientEnv(t *testing.T, typ string, payload any) v1.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return v1.Envelope{V: v1.Version, Type: typ, ID: NewEnvelopeID(time.Now()), TS: time.Now().UTC(), Payload: raw}
}

// drain returns everything currently queued on c.
func drain(c *Conn) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []v1.Envelope, typ string) []v1.Envelope {
	var out []v1.Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func decode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var p T
	if err := env.Decode(&p); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return p
}

func mustOneError(t *testing.T, c *Conn, code string) v1.ErrorPayload {
	t.Helper()
	errs := ofType(drain(c), v1.TypeError)
	if len(errs) != 1 {
		t.Fatalf("want one error %q, got %d", code, len(errs))
	}
	p := decode[v1.ErrorPayload](t, errs[0])
	if p.Code != code {
		t.Fatalf("error code=%q want %q (%s)", p.Code, code, p.Message)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
