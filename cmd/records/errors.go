package records

import (
	"errors"
	"fmt"
)

// Logical names carried by ConflictError.Field and NotFoundError.Resource.
// They are part of the error contract; the HTTP layer renders them.
const (
	FieldEmail       = "email"
	FieldChannelName = "channel_name"
	FieldUnknown     = "unique"

	ResourceUser    = "user"
	ResourceChannel = "channel"
)

// OpError pairs a store operation ("records.CreateChannel") with one of the
// sentinel kinds. Msg is safe to show to the caller.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError is a uniqueness violation: a second account for an email or
// a second channel with the same normalized name.
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// Reason is the user-facing sentence for the conflict.
func (e ConflictError) Reason() string {
	switch e.Field {
	case FieldEmail:
		return "email is already registered"
	case FieldChannelName:
		return "channel name is already taken"
	default:
		return "already exists"
	}
}

// NotFoundError names the missing user or channel, whether the row itself
// was absent or a reference to it was dangling.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }
