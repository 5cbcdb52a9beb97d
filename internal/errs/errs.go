// Package errs carries the error taxonomy shared by every confidant component.
//
// Callers branch on Kind instead of matching message text: validation and
// authorization failures are denied and audited, authentication failures are
// reported generically, and transient storage failures are retried.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindAuthentication
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Msg is safe to log; it is not necessarily
// safe to show to an end user (see UserMessage).
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed or empty input.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Authorization reports a scope or capability the actor does not hold.
func Authorization(op, msg string) error {
	return &Error{Kind: KindAuthorization, Op: op, Msg: msg}
}

// Authentication reports a failed passphrase check. The message never says
// whether the principal is enrolled.
func Authentication(op string) error {
	return &Error{Kind: KindAuthentication, Op: op, Msg: "verification failed"}
}

// NotFound reports an unknown entry or principal.
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Transient wraps a persistence failure that the caller may retry.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err for an end user. Denials are deliberately generic:
// they never reveal which tiers exist, how many matches were suppressed, or
// whether a principal has enrolled a passphrase.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		var e *Error
		errors.As(err, &e)
		return "That request could not be understood: " + e.Msg + "."
	case KindAuthorization:
		return "You are not allowed to do that."
	case KindAuthentication:
		return "Verification failed."
	case KindNotFound:
		return "Nothing found."
	case KindTransient:
		return "Storage is temporarily unavailable, please try again."
	default:
		return "Something went wrong."
	}
}
