package gateway

import (
	"errors"
	"fmt"
)

// ErrProvider marks a failed or unusable provider answer (timeout, 5xx,
// malformed body, rejected request).  It is retryable from the caller's
// point of view: the payment, if any, stays pending.
var ErrProvider = errors.New("payment provider error")

// ErrSecurityCodeRequired means a saved-card charge needs the card's
// security code, which is never stored.
var ErrSecurityCodeRequired = fmt.Errorf("%w: security code required", ErrProvider)

// Error carries provider details for logs.  It unwraps to ErrProvider or
// ErrSecurityCodeRequired.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.Err == nil {
		return ErrProvider
	}
	return e.Err
}

func providerErr(op string, status int, code, message string) *Error {
	return &Error{Op: op, StatusCode: status, Code: code, Message: message, Err: ErrProvider}
}
