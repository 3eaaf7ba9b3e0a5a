package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// runStoreConformance exercises the Store contract. newStore must return an
// empty, migrated store.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("CreateUser", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)

		u, err := st.CreateUser(ctx, CreateUserInput{Email: "Ada@Example.com", DisplayName: " Ada ", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if len(u.ID) != 26 || u.DisplayName != "Ada" || u.Email != "Ada@Example.com" || u.IsOnline {
			t.Fatalf("unexpected user: %+v", u)
		}

		_, err = st.CreateUser(ctx, CreateUserInput{Email: "ada@example.COM", PasswordHash: "h"})
		var ce ConflictError
		if !errors.As(err, &ce) || ce.Field != "email" {
			t.Fatalf("expected email conflict, got %v", err)
		}

		noName, err := st.CreateUser(ctx, CreateUserInput{Email: "grace@example.com", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create without name: %v", err)
		}
		if noName.DisplayName != "grace" {
			t.Fatalf("display name fallback=%q", noName.DisplayName)
		}

		for _, bad := range []CreateUserInput{
			{Email: "", PasswordHash: "h"},
			{Email: "not an email", PasswordHash: "h"},
			{Email: "x@example.com"},
		} {
			if _, err := st.CreateUser(ctx, bad); !IsInvalidInput(err) {
				t.Fatalf("CreateUser(%+v) err=%v want invalid input", bad, err)
			}
		}

		got, hash, err := st.GetCredentials(ctx, "  ADA@example.com ")
		if err != nil || got.ID != u.ID || hash != "h" {
			t.Fatalf("credentials: %+v %q %v", got, hash, err)
		}
		if _, _, err := st.GetCredentials(ctx, "nobody@example.com"); !IsNotFound(err) {
			t.Fatalf("unknown credentials: %v", err)
		}
	})

	t.Run("Presence", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		u := mustUser(t, st, "p@example.com", "P")

		seen := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
		if err := st.UpdatePresence(ctx, u.ID, true, seen); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := st.GetUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.IsOnline || got.LastSeen == nil || !got.LastSeen.Equal(seen) {
			t.Fatalf("presence not stored: %+v", got)
		}

		if err := st.UpdatePresence(ctx, u.ID, false, seen.Add(time.Minute)); err != nil {
			t.Fatalf("update offline: %v", err)
		}
		got, _ = st.GetUser(ctx, u.ID)
		if got.IsOnline || !got.LastSeen.Equal(seen.Add(time.Minute)) {
			t.Fatalf("offline not stored: %+v", got)
		}

		if err := st.UpdatePresence(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", true, seen); !IsNotFound(err) {
			t.Fatalf("unknown user presence: %v", err)
		}
		if _, err := st.GetUser(ctx, "missing"); !IsNotFound(err) {
			t.Fatalf("unknown user get: %v", err)
		}
	})

	t.Run("ListUsersByIDs", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		b := mustUser(t, st, "b@example.com", "Bob")
		a := mustUser(t, st, "a@example.com", "alice")
		mustUser(t, st, "c@example.com", "Carol")

		got, err := st.ListUsersByIDs(ctx, []string{b.ID, "unknown", a.ID, b.ID})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
			t.Fatalf("unexpected users: %+v", got)
		}

		empty, err := st.ListUsersByIDs(ctx, nil)
		if err != nil || len(empty) != 0 {
			t.Fatalf("empty list: %+v %v", empty, err)
		}
	})

	t.Run("Channels", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		alice := mustUser(t, st, "alice@example.com", "Alice")
		bob := mustUser(t, st, "bob@example.com", "Bob")

		now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		general, err := st.CreateChannel(ctx, CreateChannelInput{Name: "general", Description: "all hands", CreatorID: alice.ID, Now: now})
		if err != nil {
			t.Fatalf("create general: %v", err)
		}
		if general.MemberCount != 1 || general.CreatedBy != alice.ID {
			t.Fatalf("creator not auto-joined: %+v", general)
		}
		random, err := st.CreateChannel(ctx, CreateChannelInput{Name: "random", CreatorID: bob.ID, Now: now.Add(time.Second)})
		if err != nil {
			t.Fatalf("create random: %v", err)
		}

		_, err = st.CreateChannel(ctx, CreateChannelInput{Name: " General ", CreatorID: bob.ID})
		var ce ConflictError
		if !errors.As(err, &ce) || ce.Field != "channel_name" {
			t.Fatalf("expected channel_name conflict, got %v", err)
		}
		if _, err := st.CreateChannel(ctx, CreateChannelInput{Name: "x", CreatorID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"}); !IsNotFound(err) {
			t.Fatalf("unknown creator: %v", err)
		}
		if _, err := st.CreateChannel(ctx, CreateChannelInput{Name: "  ", CreatorID: alice.ID}); !IsInvalidInput(err) {
			t.Fatalf("blank name: %v", err)
		}

		if err := st.JoinChannel(ctx, general.ID, bob.ID, now); err != nil {
			t.Fatalf("join: %v", err)
		}
		if err := st.JoinChannel(ctx, general.ID, bob.ID, now); err != nil {
			t.Fatalf("join twice: %v", err)
		}
		if err := st.JoinChannel(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", bob.ID, now); !IsNotFound(err) {
			t.Fatalf("join unknown channel: %v", err)
		}

		list, err := st.ListChannels(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != general.ID || list[1].ID != random.ID {
			t.Fatalf("unexpected order: %+v", list)
		}
		if list[0].MemberCount != 2 || list[1].MemberCount != 1 {
			t.Fatalf("member counts: %d %d", list[0].MemberCount, list[1].MemberCount)
		}

		if err := st.LeaveChannel(ctx, general.ID, bob.ID); err != nil {
			t.Fatalf("leave: %v", err)
		}
		if err := st.LeaveChannel(ctx, general.ID, bob.ID); err != nil {
			t.Fatalf("leave twice: %v", err)
		}
		got, err := st.GetChannel(ctx, general.ID)
		if err != nil || got.MemberCount != 1 || got.Description != "all hands" {
			t.Fatalf("get after leave: %+v %v", got, err)
		}
		if _, err := st.GetChannel(ctx, "nope"); !IsNotFound(err) {
			t.Fatalf("unknown channel: %v", err)
		}
	})

	t.Run("MessagesPaging", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		alice := mustUser(t, st, "alice@example.com", "Alice")
		ch, err := st.CreateChannel(ctx, CreateChannelInput{Name: "general", CreatorID: alice.ID})
		if err != nil {
			t.Fatalf("channel: %v", err)
		}

		base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		for i := 1; i <= 15; i++ {
			m, err := st.AppendMessage(ctx, AppendMessageInput{
				ChannelID: ch.ID, UserID: alice.ID, Content: fmt.Sprintf("m%02d", i), Now: base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
			if m.Seq != int64(i) || m.Author.DisplayName != "Alice" || m.Author.ID != alice.ID {
				t.Fatalf("append %d: %+v", i, m)
			}
		}

		page1, err := st.ListMessages(ctx, ch.ID, 10, 0)
		if err != nil {
			t.Fatalf("page1: %v", err)
		}
		assertContents(t, page1, 6, 15)

		page2, err := st.ListMessages(ctx, ch.ID, 10, 10)
		if err != nil {
			t.Fatalf("page2: %v", err)
		}
		assertContents(t, page2, 1, 5)

		beyond, err := st.ListMessages(ctx, ch.ID, 10, 50)
		if err != nil || len(beyond) != 0 {
			t.Fatalf("beyond: %d %v", len(beyond), err)
		}

		if _, err := st.ListMessages(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", 10, 0); !IsNotFound(err) {
			t.Fatalf("unknown channel history: %v", err)
		}
	})

	t.Run("AppendValidation", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		alice := mustUser(t, st, "alice@example.com", "Alice")
		ch, _ := st.CreateChannel(ctx, CreateChannelInput{Name: "general", CreatorID: alice.ID})

		cases := []struct {
			name string
			in   AppendMessageInput
			want error
		}{
			{name: "blank", in: AppendMessageInput{ChannelID: ch.ID, UserID: alice.ID, Content: "   "}, want: ErrInvalidInput},
			{name: "too long", in: AppendMessageInput{ChannelID: ch.ID, UserID: alice.ID, Content: strings.Repeat("a", MaxMessageChars+1)}, want: ErrInvalidInput},
			{name: "unknown channel", in: AppendMessageInput{ChannelID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", UserID: alice.ID, Content: "hi"}, want: ErrNotFound},
			{name: "unknown user", in: AppendMessageInput{ChannelID: ch.ID, UserID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Content: "hi"}, want: ErrNotFound},
		}
		for _, tc := range cases {
			if _, err := st.AppendMessage(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
			}
		}

		m, err := st.AppendMessage(ctx, AppendMessageInput{ChannelID: ch.ID, UserID: alice.ID, Content: "  hi  "})
		if err != nil || m.Content != "hi" || m.Seq != 1 {
			t.Fatalf("trimmed append: %+v %v", m, err)
		}
	})

	t.Run("ConcurrentAppendSeq", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		alice := mustUser(t, st, "alice@example.com", "Alice")
		ch, _ := st.CreateChannel(ctx, CreateChannelInput{Name: "general", CreatorID: alice.ID})

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.AppendMessage(ctx, AppendMessageInput{ChannelID: ch.ID, UserID: alice.ID, Content: fmt.Sprintf("c%d", i)})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		all, err := st.ListMessages(ctx, ch.ID, n, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for i, m := range all {
			if m.Seq != int64(i+1) {
				t.Fatalf("seq gap at %d: %d", i, m.Seq)
			}
		}
	})
}

func assertContents(t *testing.T, ms []Message, from, to int) {
	t.Helper()
	if len(ms) != to-from+1 {
		t.Fatalf("len=%d want %d", len(ms), to-from+1)
	}
	for i, m := range ms {
		want := fmt.Sprintf("m%02d", from+i)
		if m.Content != want {
			t.Fatalf("ms[%d]=%q want %q", i, m.Content, want)
		}
		if m.Author.DisplayName == "" {
			t.Fatalf("ms[%d] author not hydrated", i)
		}
	}
}

func mustUser(t *testing.T, st Store, email, name string) User {
	t.Helper()
	u, err := st.CreateUser(testCtx(t), CreateUserInput{Email: email, DisplayName: name, PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}
