package relay

import (
	"context"
	"strings"
	"time"

	"teamchat/cmd/records"
	"teamchat/cmd/security/token"
	v1 "teamchat/shared/contracts/chat/v1"
)

// Identifier resolves an identify payload to a known user.
type Identifier interface {
	Identify(ctx context.Context, p v1.IdentifyPayload) (records.User, error)
}

// UserLookup is the slice of records.Store identification needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (records.User, error)
}

// TokenIdentifier accepts a signed access token whose subject is the user id.
// With RequireAuth off, a bare user_id naming a stored user is accepted too.
type TokenIdentifier struct {
	Users       UserLookup
	Tokens      *token.Manager
	RequireAuth bool
	Now         func() time.Time
}

func (ti TokenIdentifier) Identify(ctx context.Context, p v1.IdentifyPayload) (records.User, error) {
	userID := strings.TrimSpace(p.UserID)
	raw := strings.TrimSpace(p.Token)

	switch {
	case raw != "" && ti.Tokens != nil:
		now := time.Now().UTC()
		if ti.Now != nil {
			now = ti.Now()
		}
		claims, err := ti.Tokens.Verify(raw, now)
		if err != nil {
			return records.User{}, AuthError{Reason: "invalid token", Err: err}
		}
		if userID != "" && userID != claims.Subject {
			return records.User{}, AuthError{Reason: "user_id does not match token"}
		}
		userID = claims.Subject
	case ti.RequireAuth:
		return records.User{}, AuthError{Reason: "token required"}
	case userID == "":
		return records.User{}, AuthError{Reason: "missing user_id"}
	}

	u, err := ti.Users.GetUser(ctx, userID)
	if err != nil {
		if records.IsNotFound(err) {
			return records.User{}, AuthError{Reason: "unknown user", Err: err}
		}
		return records.User{}, StoreError{Op: "relay.Identify", Err: err}
	}
	return u, nil
}
