package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"teamchat/cmd/security/password"
)

// Register validates plain against pw, hashes it and creates the user.
// Policy failures are reported as ErrInvalidInput with the policy reason.
func Register(ctx context.Context, st Store, pw password.Config, email, plain, displayName string, now time.Time) (User, error) {
	const op = "records.Register"

	if err := pw.Validate(plain); err != nil {
		return User{}, invalid(op, err.Error())
	}
	hash, err := pw.Hash(plain)
	if err != nil {
		return User{}, err
	}
	return st.CreateUser(ctx, CreateUserInput{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Now:          now,
	})
}

// Authenticate resolves email + plain to a user. Unknown email and wrong
// password are indistinguishable: both burn one Argon2id verification and
// return ErrInvalidCredentials.
func Authenticate(ctx context.Context, st Store, pw password.Config, email, plain string) (User, error) {
	const op = "records.Authenticate"

	if strings.TrimSpace(email) == "" || plain == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	u, hash, err := st.GetCredentials(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			return User{}, err
		}
		_, _ = pw.Verify(pw.DummyHash(), plain)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok, err := pw.Verify(hash, plain)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return u, nil
}
