// Package apperror holds the error taxonomy shared by the sync core.
//
// Every failure that leaves a component is one of five kinds:
//   - ErrAuthExpired: the server rejected the access token; the auth gate
//     resolves it with a single refresh and one retry of the original call.
//   - ErrAuthInvalid: the refresh itself failed; the session is over.
//   - ErrTransport: the network failed; retrying is up to the caller.
//   - ErrServerRejected: the server answered with an explicit error.
//   - ErrTimeout: job polling ran out of attempts.
//
// Kinds are matched with errors.Is. The wrapped cause stays reachable too.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthExpired    = errors.New("auth expired")
	ErrAuthInvalid    = errors.New("auth invalid")
	ErrTransport      = errors.New("transport error")
	ErrServerRejected = errors.New("server rejected")
	ErrTimeout        = errors.New("timeout")
)

// Error carries a kind plus whatever the server or transport told us.
type Error struct {
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Transport(err error) error {
	return &Error{Kind: ErrTransport, Err: err}
}

func Rejected(statusCode int, message string) error {
	return &Error{Kind: ErrServerRejected, StatusCode: statusCode, Message: message}
}

func AuthExpired(statusCode int) error {
	return &Error{Kind: ErrAuthExpired, StatusCode: statusCode, Message: "access token expired"}
}

func AuthInvalid(err error) error {
	return &Error{Kind: ErrAuthInvalid, Message: "session terminated, sign in again", Err: err}
}

func Timeout(message string) error {
	return &Error{Kind: ErrTimeout, Message: message}
}

// IsRetryable reports whether repeating the same call could succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// StatusCode digs the HTTP status out of err, 0 when there is none.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
