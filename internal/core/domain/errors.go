package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure of an auth operation matches exactly one of these
// through errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrNetwork            = errors.New("identity provider unreachable")
	ErrProvider           = errors.New("identity provider rejected the request")
	ErrUnknown            = errors.New("unexpected identity provider failure")
)

// MsgCredentialsRequired is returned when an email or password is missing.
const MsgCredentialsRequired = "Email and password required"

// CredentialsMissing reports whether email or password is blank. A password
// of only whitespace counts as missing; a non-blank one is used verbatim.
func CredentialsMissing(email, password string) bool {
	return strings.TrimSpace(email) == "" || strings.TrimSpace(password) == ""
}

// AuthError carries a classified failure. Code and Status are what the
// provider reported, if anything; Message is safe to show to the caller.
type AuthError struct {
	Kind    error
	Code    string
	Status  int
	Message string
	Err     error
}

// NewValidationError builds a user-correctable input error.
func NewValidationError(msg string) *AuthError {
	return &AuthError{Kind: ErrValidation, Message: msg}
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the error kind of err, or ErrUnknown when err was not
// classified. Context cancellation is reported as is.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrInvalidCredentials, ErrDuplicateAccount, ErrNetwork, ErrProvider, ErrUnknown} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetwork
	}
	return ErrUnknown
}

// MessageOf returns the caller-safe message carried by err, falling back to
// the kind's own text.
func MessageOf(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return KindOf(err).Error()
}

// UserMessage is the single line a form shows for err. It never includes
// provider internals.
func UserMessage(err error) string {
	switch KindOf(err) {
	case nil:
		return ""
	case ErrValidation:
		return MessageOf(err)
	case ErrInvalidCredentials:
		return "Invalid email or password. Please check your credentials."
	case ErrDuplicateAccount:
		return "An account with this email already exists."
	case ErrNetwork:
		return "Connection error. Please try again."
	case ErrProvider:
		return MessageOf(err)
	case context.Canceled:
		return "Request cancelled."
	default:
		return "Unable to complete the request. Please try again."
	}
}
