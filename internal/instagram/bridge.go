package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/login"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/transfer"
)

// ErrSessionExpired is wrapped into upload errors when the bridge no longer
// accepts the session. The caller should drop it and log in again.
var ErrSessionExpired = errors.New("session expired")

// Bridge is an HTTP client for the bridge. It implements login.Client and Publisher.
type Bridge struct {
	baseURL string
	http    *http.Client
}

var (
	_ login.Client = (*Bridge)(nil)
	_ Publisher    = (*Bridge)(nil)
)

// NewBridge returns a client for the bridge at baseURL. Every call is bounded
// by timeout.
func NewBridge(baseURL string, timeout time.Duration) *Bridge {
	return &Bridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (b *Bridge) Login(ctx context.Context, handle, password, emailCode string) (*login.Session, *login.Challenge, error) {
	payload := transfer.InstagramLoginRequest{Username: handle, Password: password, VerificationCode: emailCode}
	var session transfer.InstagramSession
	err := b.postJSON(ctx, "/auth/login", payload, &session)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.body.Error.Type == transfer.InstagramErrTwoFactor && emailCode == "" {
			methods := make([]models.VerificationMethod, 0, len(apiErr.body.Error.TwoFactorMethods))
			for _, m := range apiErr.body.Error.TwoFactorMethods {
				if vm := models.VerificationMethod(m); vm.Valid() && vm != models.VerificationNone {
					methods = append(methods, vm)
				}
			}
			return nil, &login.Challenge{Methods: methods, Token: apiErr.body.Error.ChallengeToken}, nil
		}
		return nil, nil, loginError(err)
	}
	return &login.Session{ExternalID: session.UserID, State: session.Settings}, nil, nil
}

func (b *Bridge) ResolveChallenge(ctx context.Context, ch *login.Challenge, method models.VerificationMethod, code string) (*login.Session, error) {
	payload := transfer.InstagramChallengeRequest{ChallengeToken: ch.Token, Method: string(method), VerificationCode: code}
	var session transfer.InstagramSession
	if err := b.postJSON(ctx, "/auth/challenge", payload, &session); err != nil {
		return nil, loginError(err)
	}
	return &login.Session{ExternalID: session.UserID, State: session.Settings}, nil
}

func (b *Bridge) Resume(ctx context.Context, handle string, state []byte) (*login.Session, error) {
	payload := transfer.InstagramResumeRequest{Username: handle, Settings: state}
	var session transfer.InstagramSession
	if err := b.postJSON(ctx, "/auth/resume", payload, &session); err != nil {
		return nil, loginError(err)
	}
	return &login.Session{ExternalID: session.UserID, State: session.Settings}, nil
}

func (b *Bridge) UploadPhoto(ctx context.Context, s *login.Session, path, caption string) (string, error) {
	return b.upload(ctx, "/media/photo", s, []string{path}, caption)
}

func (b *Bridge) UploadAlbum(ctx context.Context, s *login.Session, paths []string, caption string) (string, error) {
	return b.upload(ctx, "/media/album", s, paths, caption)
}

func (b *Bridge) UploadVideo(ctx context.Context, s *login.Session, path, caption string) (string, error) {
	return b.upload(ctx, "/media/video", s, []string{path}, caption)
}

func (b *Bridge) UploadToStory(ctx context.Context, s *login.Session, path string) error {
	_, err := b.upload(ctx, "/media/story", s, []string{path}, "")
	return err
}

func (b *Bridge) UploadReel(ctx context.Context, s *login.Session, path, caption string) (string, error) {
	return b.upload(ctx, "/media/reel", s, []string{path}, caption)
}

func (b *Bridge) upload(ctx context.Context, endpoint string, s *login.Session, paths []string, caption string) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("settings", string(s.State)); err != nil {
		return "", err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return "", err
		}
	}
	for _, p := range paths {
		if err := attach(w, p); err != nil {
			return "", errs.Permanent(err)
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, body)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result transfer.InstagramMediaResponse
	if err := b.do(req, &result); err != nil {
		return "", publishError(err)
	}
	if result.MediaID == "" && endpoint != "/media/story" {
		return "", errs.Transient(errors.New("no media ID returned from Instagram"))
	}
	return result.MediaID, nil
}

func attach(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func (b *Bridge) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

// apiError is a non-2xx answer from the bridge.
type apiError struct {
	status int
	body   transfer.InstagramErrorResponse
}

func (e *apiError) Error() string {
	if e.body.Error.Message != "" {
		return fmt.Sprintf("instagram: %s (%s, status %d)", e.body.Error.Message, e.body.Error.Type, e.status)
	}
	return fmt.Sprintf("unexpected status code from Instagram: %d", e.status)
}

func (b *Bridge) do(req *http.Request, out any) error {
	resp, err := b.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{status: resp.StatusCode}
		_ = json.Unmarshal(respBody, &apiErr.body)
		return apiErr
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

func loginError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.body.Error.Type {
	case transfer.InstagramErrBadPassword, transfer.InstagramErrLoginRequired:
		return errs.Login(errs.BadPassword, err)
	case transfer.InstagramErrChallenge:
		return errs.Login(errs.MfaRejected, err)
	case transfer.InstagramErrTooManyAttempts, transfer.InstagramErrRateLimited:
		return errs.Login(errs.TooManyAttempts, err)
	case transfer.InstagramErrTwoFactor:
		return &errs.LoginError{Kind: errs.MfaRequired, Methods: apiErr.body.Error.TwoFactorMethods, Err: err}
	}
	if apiErr.status == http.StatusUnauthorized || apiErr.status == http.StatusForbidden {
		return errs.Login(errs.BadPassword, err)
	}
	return err
}

func publishError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		// transport failure or timeout
		return errs.Transient(err)
	}
	switch {
	case apiErr.body.Error.IsTransient,
		apiErr.body.Error.Type == transfer.InstagramErrRateLimited,
		apiErr.status == http.StatusTooManyRequests,
		apiErr.status >= 500:
		return errs.Transient(err)
	case apiErr.body.Error.Type == transfer.InstagramErrLoginRequired,
		apiErr.status == http.StatusUnauthorized:
		return errs.Transient(fmt.Errorf("%w: %v", ErrSessionExpired, err))
	}
	return errs.Permanent(err)
}
