// Package logintest provides an in-memory login.Client for tests.
package logintest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/login"
	"github.com/maheshrc27/postqueue/internal/models"
)

// Account describes how the fake remote treats one handle.
type Account struct {
	Password string
	Methods  []models.VerificationMethod // non-empty means a second factor is required
	Code     string
	Throttle bool // every call fails with TooManyAttempts
}

// Client counts calls and optionally sleeps Delay in each of them.
type Client struct {
	Delay time.Duration

	mu       sync.Mutex
	accounts map[string]Account
	sessions map[string]bool

	LoginCalls   atomic.Int64
	ResolveCalls atomic.Int64
	ResumeCalls  atomic.Int64
}

var _ login.Client = (*Client)(nil)

func New() *Client {
	return &Client{accounts: map[string]Account{}, sessions: map[string]bool{}}
}

func (c *Client) Set(handle string, a Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[handle] = a
}

// Revoke invalidates every session previously issued for handle.
func (c *Client) Revoke(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[handle] = false
}

func (c *Client) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) account(handle string) (Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[handle]
	return a, ok
}

func (c *Client) issue(handle string) *login.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[handle] = true
	return &login.Session{ExternalID: "ext-" + handle, State: []byte("session:" + handle)}
}

func (c *Client) Login(ctx context.Context, handle, password, emailCode string) (*login.Session, *login.Challenge, error) {
	c.LoginCalls.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, nil, err
	}
	a, ok := c.account(handle)
	if !ok || a.Password != password {
		return nil, nil, errs.Login(errs.BadPassword, errors.New("wrong password"))
	}
	if a.Throttle {
		return nil, nil, errs.Login(errs.TooManyAttempts, errors.New("please wait a few minutes"))
	}
	if len(a.Methods) == 0 {
		return c.issue(handle), nil, nil
	}
	if emailCode != "" {
		if emailCode != a.Code {
			return nil, nil, errs.Login(errs.MfaRejected, errors.New("wrong code"))
		}
		return c.issue(handle), nil, nil
	}
	return nil, &login.Challenge{Methods: a.Methods, Token: "challenge-" + handle}, nil
}

func (c *Client) ResolveChallenge(ctx context.Context, ch *login.Challenge, method models.VerificationMethod, code string) (*login.Session, error) {
	c.ResolveCalls.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	handle := ch.Token[len("challenge-"):]
	a, _ := c.account(handle)
	if a.Throttle {
		return nil, errs.Login(errs.TooManyAttempts, errors.New("please wait a few minutes"))
	}
	if !ch.Offers(method) || code != a.Code {
		return nil, errs.Login(errs.MfaRejected, errors.New("wrong code"))
	}
	return c.issue(handle), nil
}

func (c *Client) Resume(ctx context.Context, handle string, state []byte) (*login.Session, error) {
	c.ResumeCalls.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	valid := c.sessions[handle] && string(state) == "session:"+handle
	c.mu.Unlock()
	if !valid {
		return nil, errs.Login(errs.BadPassword, errors.New("session expired"))
	}
	return &login.Session{ExternalID: "ext-" + handle, State: state}, nil
}
