package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/login"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/repository"
)

// PendingFlowTTL bounds how long an unanswered second-factor challenge is kept.
const PendingFlowTTL = 10 * time.Minute

// Cipher encrypts secrets before they reach the store.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type AddAccountRequest struct {
	Handle   string
	Password string
	Code     string
	Method   models.VerificationMethod
}

// AccountService is the account registry: it owns stored accounts and hands out
// remote sessions for them.
type AccountService interface {
	AddAccount(ctx context.Context, req AddAccountRequest) (*models.Account, error)
	GetSession(ctx context.Context, handle string) (*login.Session, error)
	Invalidate(handle string)
	Deactivate(ctx context.Context, handle string) error
	GetAccount(ctx context.Context, handle string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
}

type pendingFlow struct {
	flow    *login.Flow
	expires time.Time
}

type accountService struct {
	ar      repository.AccountRepository
	cipher  Cipher
	client  login.Client
	timeout time.Duration

	locks *keyedMutex

	mu       sync.Mutex
	sessions map[string]*login.Session
	pending  map[string]*pendingFlow

	now func() time.Time
}

func NewAccountService(ar repository.AccountRepository, cipher Cipher, client login.Client, timeout time.Duration) AccountService {
	return &accountService{
		ar:       ar,
		cipher:   cipher,
		client:   client,
		timeout:  timeout,
		locks:    newKeyedMutex(),
		sessions: make(map[string]*login.Session),
		pending:  make(map[string]*pendingFlow),
		now:      time.Now,
	}
}

func normalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

func (s *accountService) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// AddAccount logs in and stores the account. When the remote asks for a second
// factor and no code is given, the challenge is kept for PendingFlowTTL and an
// MfaRequired error listing the offered channels is returned; calling again with
// Code and Method completes it. Nothing is stored unless the login succeeds.
func (s *accountService) AddAccount(ctx context.Context, req AddAccountRequest) (*models.Account, error) {
	handle := normalizeHandle(req.Handle)
	if handle == "" {
		return nil, errs.Invalid("handle", "is required")
	}
	if req.Code != "" {
		if err := login.ValidateCode(req.Code); err != nil {
			return nil, err
		}
	}
	if req.Method != "" && !req.Method.Valid() {
		return nil, errs.Invalid("method", "unknown verification method %q", req.Method)
	}

	unlock := s.locks.Lock(handle)
	defer unlock()

	flow := s.takePending(handle, req.Password)
	if flow == nil {
		if req.Password == "" {
			return nil, errs.Invalid("password", "is required")
		}
		flow = login.NewFlow(s.client, handle, req.Password)
		rctx, cancel := s.remote(ctx)
		err := flow.Start(rctx)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	if flow.State() == login.AwaitingMfaMethodChoice {
		if req.Code == "" {
			s.putPending(handle, flow)
			return nil, &errs.LoginError{Kind: errs.MfaRequired, Methods: methodNames(flow.Offered())}
		}
		method := req.Method
		if method == "" && len(flow.Offered()) == 1 {
			method = flow.Offered()[0]
		}
		if method == "" {
			s.putPending(handle, flow)
			return nil, errs.Invalid("method", "choose one of %s", strings.Join(methodNames(flow.Offered()), ", "))
		}
		if err := flow.ChooseMethod(method); err != nil {
			s.putPending(handle, flow)
			return nil, err
		}
		rctx, cancel := s.remote(ctx)
		err := flow.SubmitCode(rctx, req.Code)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	session, method, ok := flow.Result()
	if !ok {
		return nil, fmt.Errorf("login %s ended in %s", handle, flow.State())
	}

	encPassword, err := s.cipher.Encrypt(flow.Password())
	if err != nil {
		return nil, err
	}
	encState, err := s.cipher.Encrypt(string(session.State))
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Handle:             handle,
		ExternalID:         session.ExternalID,
		EncryptedPassword:  encPassword,
		VerificationMethod: method,
		SessionState:       encState,
		LastUsed:           s.now(),
	}
	if err := s.ar.Upsert(ctx, nil, account); err != nil {
		return nil, fmt.Errorf("failed to store account %s: %w", handle, err)
	}

	s.mu.Lock()
	s.sessions[handle] = session
	s.mu.Unlock()

	slog.Info("account added", "handle", handle, "verification_method", method)
	return account, nil
}

// GetSession returns a usable session for an active account: the cached one,
// the stored one if the remote still accepts it, or a fresh password login.
func (s *accountService) GetSession(ctx context.Context, handle string) (*login.Session, error) {
	handle = normalizeHandle(handle)
	unlock := s.locks.Lock(handle)
	defer unlock()

	account, err := s.ar.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, fmt.Errorf("%s: %w", handle, errs.ErrAccountInactive)
	}

	s.mu.Lock()
	cached := s.sessions[handle]
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	if account.SessionState != "" {
		state, err := s.cipher.Decrypt(account.SessionState)
		if err != nil {
			return nil, fmt.Errorf("session of %s: %w", handle, err)
		}
		rctx, cancel := s.remote(ctx)
		session, err := s.client.Resume(rctx, handle, []byte(state))
		cancel()
		if err == nil {
			s.cache(handle, session)
			return session, nil
		}
		slog.Info("stored session rejected, logging in again", "handle", handle, "error", err)
	}

	password, err := s.cipher.Decrypt(account.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("password of %s: %w", handle, err)
	}

	flow := login.NewFlow(s.client, handle, password)
	rctx, cancel := s.remote(ctx)
	err = flow.Start(rctx)
	cancel()
	if err != nil {
		return nil, err
	}
	session, _, ok := flow.Result()
	if !ok {
		return nil, &errs.LoginError{Kind: errs.MfaRequired, Methods: methodNames(flow.Offered()),
			Err: errors.New("account must be re-added to complete verification")}
	}

	encState, err := s.cipher.Encrypt(string(session.State))
	if err != nil {
		return nil, err
	}
	if err := s.ar.SetSession(ctx, handle, encState); err != nil {
		return nil, err
	}
	s.cache(handle, session)
	return session, nil
}

func (s *accountService) cache(handle string, session *login.Session) {
	s.mu.Lock()
	s.sessions[handle] = session
	s.mu.Unlock()
}

// Invalidate drops the cached session so the next GetSession goes back to the remote.
func (s *accountService) Invalidate(handle string) {
	handle = normalizeHandle(handle)
	s.mu.Lock()
	delete(s.sessions, handle)
	s.mu.Unlock()
}

// Deactivate soft-deletes the account. Deactivating an inactive account is a no-op.
func (s *accountService) Deactivate(ctx context.Context, handle string) error {
	handle = normalizeHandle(handle)
	unlock := s.locks.Lock(handle)
	defer unlock()

	changed, err := s.ar.Deactivate(ctx, handle)
	if err != nil {
		return err
	}
	if !changed {
		if _, err := s.ar.GetByHandle(ctx, handle); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.sessions, handle)
	delete(s.pending, handle)
	s.mu.Unlock()

	slog.Info("account deactivated", "handle", handle)
	return nil
}

func (s *accountService) GetAccount(ctx context.Context, handle string) (*models.Account, error) {
	return s.ar.GetByHandle(ctx, normalizeHandle(handle))
}

func (s *accountService) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.ar.List(ctx, false)
}

// takePending removes and returns the live challenge for handle. A different
// password starts over.
func (s *accountService) takePending(handle, password string) *login.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for h, p := range s.pending {
		if now.After(p.expires) {
			delete(s.pending, h)
		}
	}
	p, ok := s.pending[handle]
	if !ok {
		return nil
	}
	delete(s.pending, handle)
	if password != "" && password != p.flow.Password() {
		return nil
	}
	return p.flow
}

func (s *accountService) putPending(handle string, flow *login.Flow) {
	s.mu.Lock()
	s.pending[handle] = &pendingFlow{flow: flow, expires: s.now().Add(PendingFlowTTL)}
	s.mu.Unlock()
}

func methodNames(ms []models.VerificationMethod) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
