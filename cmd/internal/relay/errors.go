package relay

import (
	"errors"
	"fmt"

	"teamchat/cmd/records"
)

// ValidationError rejects a request before or during persistence: bad
// content, unknown channel or unknown user. Nothing is broadcast.
type ValidationError struct {
	Reason string
	Err    error
}

func (e ValidationError) Error() string {
	if e.Err == nil {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %v", e.Reason, e.Err)
}

func (e ValidationError) Unwrap() error { return e.Err }

// StoreError is any other record store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string { return fmt.Sprintf("%s: store: %v", e.Op, e.Err) }

func (e StoreError) Unwrap() error { return e.Err }

// AuthError rejects an identify attempt.
type AuthError struct {
	Reason string
	Err    error
}

func (e AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Reason
	}
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e AuthError) Unwrap() error { return e.Err }

// classifyStoreErr maps a records error onto the relay taxonomy.
func classifyStoreErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case records.IsNotFound(err):
		var nf records.NotFoundError
		if errors.As(err, &nf) && nf.Resource != "" {
			return ValidationError{Reason: "unknown " + nf.Resource, Err: err}
		}
		return ValidationError{Reason: "not found", Err: err}
	case records.IsInvalidInput(err):
		return ValidationError{Reason: "invalid input", Err: err}
	default:
		return StoreError{Op: op, Err: err}
	}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
