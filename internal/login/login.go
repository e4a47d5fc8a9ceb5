// Package login drives the multi-step authentication of a remote account:
// password first, then an optional second factor over one of the offered channels.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
)

// Session is an authenticated remote session.
type Session struct {
	ExternalID string
	State      []byte
}

// Challenge is a pending second-factor request returned by a password login.
type Challenge struct {
	Methods []models.VerificationMethod
	Token   string
}

// Offers reports whether m is one of the channels the remote offered.
func (c *Challenge) Offers(m models.VerificationMethod) bool {
	for _, o := range c.Methods {
		if o == m {
			return true
		}
	}
	return false
}

// Client is the remote session capability.
//
// Login returns either a session or, when a second factor is required, a
// challenge. A non-empty emailCode is sent along with the password, which is how
// the email channel submits its code. Failures are reported as *errs.LoginError
// where the remote gave a reason.
type Client interface {
	Login(ctx context.Context, handle, password, emailCode string) (*Session, *Challenge, error)
	ResolveChallenge(ctx context.Context, ch *Challenge, method models.VerificationMethod, code string) (*Session, error)
	Resume(ctx context.Context, handle string, state []byte) (*Session, error)
}

type State int

const (
	AwaitingCredentials State = iota
	ProbingMfa
	AwaitingMfaMethodChoice
	AwaitingMfaCode
	Authenticated
	Failed
)

var stateNames = [...]string{
	AwaitingCredentials:     "awaiting_credentials",
	ProbingMfa:              "probing_mfa",
	AwaitingMfaMethodChoice: "awaiting_mfa_method_choice",
	AwaitingMfaCode:         "awaiting_mfa_code",
	Authenticated:           "authenticated",
	Failed:                  "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ValidateCode checks that code is exactly six ASCII digits.
func ValidateCode(code string) error {
	if len(code) != 6 {
		return errs.Invalid("code", "must be 6 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return errs.Invalid("code", "must be 6 digits")
		}
	}
	return nil
}

// Flow is one login attempt for one handle. It is not safe for concurrent use;
// callers serialize access per handle.
type Flow struct {
	client   Client
	handle   string
	password string

	state     State
	challenge *Challenge
	method    models.VerificationMethod
	session   *Session
	err       error
}

func NewFlow(client Client, handle, password string) *Flow {
	return &Flow{client: client, handle: handle, password: password, method: models.VerificationNone}
}

func (f *Flow) Handle() string   { return f.handle }
func (f *Flow) Password() string { return f.password }
func (f *Flow) State() State     { return f.state }

// Err is the error that moved the flow to Failed.
func (f *Flow) Err() error { return f.err }

// Offered lists the second-factor channels, if a challenge is pending.
func (f *Flow) Offered() []models.VerificationMethod {
	if f.challenge == nil {
		return nil
	}
	return f.challenge.Methods
}

// Result returns the session and the verification method once Authenticated.
func (f *Flow) Result() (*Session, models.VerificationMethod, bool) {
	if f.state != Authenticated {
		return nil, "", false
	}
	return f.session, f.method, true
}

// Start performs the password-only login.
func (f *Flow) Start(ctx context.Context) error {
	if f.state != AwaitingCredentials {
		return fmt.Errorf("login %s: cannot start from %s", f.handle, f.state)
	}
	f.state = ProbingMfa

	session, ch, err := f.client.Login(ctx, f.handle, f.password, "")
	if err != nil {
		return f.fail(err)
	}
	if session != nil {
		f.session = session
		f.state = Authenticated
		return nil
	}
	if ch == nil || len(ch.Methods) == 0 {
		return f.fail(errs.Login(errs.MfaRequired, errors.New("no verification channel offered")))
	}

	f.challenge = ch
	f.state = AwaitingMfaMethodChoice
	slog.Info("second factor required", "handle", f.handle, "methods", ch.Methods)
	return nil
}

// ChooseMethod selects one of the offered channels.
func (f *Flow) ChooseMethod(m models.VerificationMethod) error {
	if f.state != AwaitingMfaMethodChoice {
		return fmt.Errorf("login %s: cannot choose a method in %s", f.handle, f.state)
	}
	if !f.challenge.Offers(m) {
		return errs.Invalid("method", "%q was not offered", m)
	}
	f.method = m
	f.state = AwaitingMfaCode
	return nil
}

// SubmitCode sends the second-factor code. A malformed code is rejected without
// any remote call and leaves the flow waiting for a code.
func (f *Flow) SubmitCode(ctx context.Context, code string) error {
	if f.state != AwaitingMfaCode {
		return fmt.Errorf("login %s: cannot submit a code in %s", f.handle, f.state)
	}
	if err := ValidateCode(code); err != nil {
		return err
	}

	var session *Session
	var err error
	if f.method == models.VerificationEmail {
		session, _, err = f.client.Login(ctx, f.handle, f.password, code)
		if err == nil && session == nil {
			err = errs.Login(errs.MfaRejected, errors.New("code not accepted"))
		}
	} else {
		session, err = f.client.ResolveChallenge(ctx, f.challenge, f.method, code)
	}
	if err != nil {
		return f.fail(asRejected(err))
	}

	f.session = session
	f.state = Authenticated
	return nil
}

// Reset returns a failed flow to AwaitingCredentials so it can be retried.
func (f *Flow) Reset() {
	f.state = AwaitingCredentials
	f.challenge = nil
	f.method = models.VerificationNone
	f.session = nil
	f.err = nil
}

func (f *Flow) fail(err error) error {
	f.state = Failed
	f.err = err
	slog.Info("login failed", "handle", f.handle, "error", err)
	return err
}

// asRejected maps a password rejection during code submission to MfaRejected.
func asRejected(err error) error {
	var le *errs.LoginError
	if errors.As(err, &le) && le.Kind == errs.BadPassword {
		return errs.Login(errs.MfaRejected, le.Err)
	}
	return err
}
