// Package errs contains the error taxonomy shared by the repository, service and
// scheduler layers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccountNotFound indicates the handle is unknown.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive indicates the handle exists but was deactivated.
	ErrAccountInactive = errors.New("account inactive")

	// ErrAlreadyFinal indicates a publication already reached a terminal status.
	ErrAlreadyFinal = errors.New("publication already in a terminal state")

	// ErrPublicationBusy indicates the scheduler currently holds the publication.
	ErrPublicationBusy = errors.New("publication is being published")

	// ErrUnauthorized indicates failed operator authentication.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports malformed caller input. It is raised before any state
// mutation or remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CryptoError reports a stored secret that cannot be decrypted with the current key.
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string { return "crypto: " + e.Err.Error() }
func (e *CryptoError) Unwrap() error { return e.Err }

// LoginKind classifies a rejected login.
type LoginKind string

const (
	BadPassword     LoginKind = "bad_password"
	MfaRequired     LoginKind = "mfa_required"
	MfaRejected     LoginKind = "mfa_rejected"
	TooManyAttempts LoginKind = "too_many_attempts"
)

// LoginError is returned by the login client and the account registry.
// Methods is set for MfaRequired.
type LoginError struct {
	Kind    LoginKind
	Methods []string
	Err     error
}

func (e *LoginError) Error() string {
	msg := "login failed: " + string(e.Kind)
	if len(e.Methods) > 0 {
		msg += " (methods: " + strings.Join(e.Methods, ",") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoginError) Unwrap() error { return e.Err }

// Login builds a LoginError of the given kind.
func Login(kind LoginKind, err error) error {
	return &LoginError{Kind: kind, Err: err}
}

// PublishError wraps a failure reported by the publisher. Transient errors are
// retried by the scheduler, permanent ones fail the publication immediately.
type PublishError struct {
	Transient bool
	Err       error
}

func (e *PublishError) Error() string {
	if e.Transient {
		return "transient publish error: " + e.Err.Error()
	}
	return "permanent publish error: " + e.Err.Error()
}

func (e *PublishError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error { return &PublishError{Transient: true, Err: err} }

// Permanent marks err as not retryable.
func Permanent(err error) error { return &PublishError{Transient: false, Err: err} }

// IsTransient reports whether err should consume a retry attempt rather than fail
// the publication. Timeouts count as transient, as does any
// error that was not classified at all (network, rate limiting, remote hiccups).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var ve *ValidationError
	var ce *CryptoError
	var le *LoginError
	switch {
	case errors.As(err, &ve), errors.As(err, &ce), errors.As(err, &le):
		return false
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountInactive):
		return false
	}
	return true
}
