package records

import (
	"errors"
	"testing"
	"time"

	"teamchat/cmd/security/password"
)

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	pw := testPasswordConfig()
	ctx := testCtx(t)

	u, err := Register(ctx, st, pw, "ada@example.com", "analytical-engine", "Ada", time.Now())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := Authenticate(ctx, st, pw, " ADA@example.com", "analytical-engine")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("got %q want %q", got.ID, u.ID)
	}

	cases := []struct {
		name, email, pass string
	}{
		{name: "wrong password", email: "ada@example.com", pass: "difference-engine"},
		{name: "unknown email", email: "nobody@example.com", pass: "analytical-engine"},
		{name: "blank email", email: " ", pass: "analytical-engine"},
		{name: "blank password", email: "ada@example.com", pass: ""},
	}
	for _, tc := range cases {
		if _, err := Authenticate(ctx, st, pw, tc.email, tc.pass); !IsInvalidCredentials(err) {
			t.Fatalf("%s: err=%v want invalid credentials", tc.name, err)
		}
	}
}

func TestRegister_PolicyAndConflict(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	pw := testPasswordConfig()
	ctx := testCtx(t)

	_, err := Register(ctx, st, pw, "bob@example.com", "short", "Bob", time.Time{})
	if !IsInvalidInput(err) {
		t.Fatalf("weak password: err=%v", err)
	}
	var oe OpError
	if !errors.As(err, &oe) || oe.Msg != password.ErrPasswordTooShort.Error() {
		t.Fatalf("policy reason lost: %v", err)
	}

	if _, err := Register(ctx, st, pw, "bob@example.com", "long-enough-secret", "Bob", time.Time{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := Register(ctx, st, pw, "BOB@example.com", "long-enough-secret", "Bobby", time.Time{}); !IsConflict(err) {
		t.Fatalf("duplicate email: err=%v", err)
	}
}

func TestErrorsUnwrapToKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		kind error
		text string
	}{
		{err: ConflictError{Op: "op", Field: "email"}, kind: ErrConflict, text: "op: conflict: email"},
		{err: NotFoundError{Op: "op", Resource: "channel"}, kind: ErrNotFound, text: "op: not_found: channel"},
		{err: OpError{Op: "op", Kind: ErrInvalidInput, Msg: "bad"}, kind: ErrInvalidInput, text: "op: invalid_input: bad"},
		{err: OpError{Op: "op", Kind: ErrInvalidCredentials}, kind: ErrInvalidCredentials, text: "op: invalid_credentials"},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.kind) {
			t.Fatalf("%v does not unwrap to %v", tc.err, tc.kind)
		}
		if tc.err.Error() != tc.text {
			t.Fatalf("Error()=%q want %q", tc.err.Error(), tc.text)
		}
	}
}

func TestConflictError_Reason(t *testing.T) {
	t.Parallel()

	cases := []struct {
		field string
		want  string
	}{
		{FieldEmail, "email is already registered"},
		{FieldChannelName, "channel name is already taken"},
		{FieldUnknown, "already exists"},
		{"", "already exists"},
	}
	for _, tc := range cases {
		if got := (ConflictError{Op: "op", Field: tc.field}).Reason(); got != tc.want {
			t.Fatalf("field %q: Reason()=%q want %q", tc.field, got, tc.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	t.Parallel()

	cases := []struct{ limit, offset, wantL, wantO int }{
		{0, 0, DefaultHistoryLimit, 0},
		{-5, -1, DefaultHistoryLimit, 0},
		{10, 10, 10, 10},
		{MaxHistoryLimit + 1, 3, MaxHistoryLimit, 3},
	}
	for _, tc := range cases {
		l, o := ClampPage(tc.limit, tc.offset)
		if l != tc.wantL || o != tc.wantO {
			t.Fatalf("ClampPage(%d,%d)=(%d,%d) want (%d,%d)", tc.limit, tc.offset, l, o, tc.wantL, tc.wantO)
		}
	}
}
