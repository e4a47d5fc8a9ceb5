package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/internal/api/handlers"
	"github.com/maheshrc27/postqueue/internal/api/middleware"
	"github.com/maheshrc27/postqueue/internal/database/dbtest"
	"github.com/maheshrc27/postqueue/internal/login/logintest"
	"github.com/maheshrc27/postqueue/internal/media"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/repository"
	"github.com/maheshrc27/postqueue/internal/service"
	"github.com/maheshrc27/postqueue/pkg/utils"
	"github.com/maheshrc27/postqueue/pkg/vault"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}, make([]byte, 512)...)

type server struct {
	app    *fiber.App
	client *logintest.Client
	token  string
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := dbtest.New(t)
	ar := repository.NewAccountRepository(db)
	pr := repository.NewPublicationRepository(db)
	pa := repository.NewPublicationAttemptRepository(db)
	mr := repository.NewMetricsRepository(db)

	client := logintest.New()
	accounts := service.NewAccountService(ar, vault.New("api test"), client, time.Second)

	local, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	publications := service.NewPublicationService(pr, pa, ar,
		media.NewValidator(1<<20, nil, nil), media.NewStorage(local, nil))

	app := fiber.New()
	SetupRoutes(app, Handlers{
		Auth:         handlers.NewAuthHandler(secret),
		Accounts:     handlers.NewAccountHandler(accounts),
		Publications: handlers.NewPublicationHandler(publications),
		Stats:        handlers.NewStatsHandler(publications, mr),
	}, middleware.NewAuthMiddleware(secret, []int64{7}))

	token, err := utils.GenerateToken(secret, 7, time.Hour)
	require.NoError(t, err)
	return &server{app: app, client: client, token: token}
}

func (s *server) do(t *testing.T, method, path, contentType string, body io.Reader) (int, map[string]any, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+s.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	return resp.StatusCode, obj, raw
}

func (s *server) json(t *testing.T, method, path string, body any) (int, map[string]any, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	return s.do(t, method, path, fiber.MIMEApplicationJSON, r)
}

func TestAuth(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	stranger, err := utils.GenerateToken(secret, 8, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+stranger)
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	status, body, _ := s.json(t, http.MethodGet, "/api/user/info", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 7, body["user_id"])

	status, body, _ = s.json(t, http.MethodPost, "/api/token/refresh", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["token"])
}

func TestAccounts(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	s.client.Set("acct1", logintest.Account{Password: "pw"})
	s.client.Set("mfa", logintest.Account{Password: "pw", Methods: []models.VerificationMethod{models.VerificationApp}, Code: "123456"})

	status, body, _ := s.json(t, http.MethodPost, "/api/accounts", map[string]string{"handle": "acct1", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Contains(t, body["error"], "bad_password")

	status, body, _ = s.json(t, http.MethodPost, "/api/accounts", map[string]string{"handle": "acct1", "password": "pw"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "acct1", body["handle"])
	require.NotContains(t, body, "encrypted_password")

	// second factor in two requests
	status, body, _ = s.json(t, http.MethodPost, "/api/accounts", map[string]string{"handle": "mfa", "password": "pw"})
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, []any{"app"}, body["methods"])

	status, _, _ = s.json(t, http.MethodPost, "/api/accounts", map[string]string{"handle": "mfa", "code": "12345"})
	require.Equal(t, http.StatusBadRequest, status)

	status, body, _ = s.json(t, http.MethodPost, "/api/accounts", map[string]string{"handle": "mfa", "password": "pw", "code": "123456", "method": "app"})
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "app", body["verification_method"])

	status, _, raw := s.json(t, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, status)
	var list []models.Account
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 2)

	status, _, _ = s.json(t, http.MethodDelete, "/api/accounts/acct1", nil)
	require.Equal(t, http.StatusNoContent, status)
	status, body, _ = s.json(t, http.MethodGet, "/api/accounts/acct1", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["active"])

	status, _, _ = s.json(t, http.MethodDelete, "/api/accounts/ghost", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func multipartBody(t *testing.T, fields map[string]string, files ...[]byte) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for i, data := range files {
		part, err := w.CreateFormFile("files", "upload"+strings.Repeat("x", i)+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return w.FormDataContentType(), &buf
}

func TestPublications(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	s.client.Set("acct1", logintest.Account{Password: "pw"})
	status, _, _ := s.json(t, http.MethodPost, "/api/accounts", map[string]string{"handle": "acct1", "password": "pw"})
	require.Equal(t, http.StatusCreated, status)

	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	ct, body := multipartBody(t, map[string]string{
		"account":      "acct1",
		"content_type": "post",
		"caption":      "hello",
		"publish_time": at,
	}, pngBytes, pngBytes)
	status, created, _ := s.do(t, http.MethodPost, "/api/publications", ct, body)
	require.Equal(t, http.StatusCreated, status, created)
	require.Equal(t, "queued", created["status"])
	require.Equal(t, "photo", created["media_type"])
	require.Len(t, created["media_refs"], 2)
	id := created["id"].(string)

	// bad input is a 400, not a 500
	ct, body = multipartBody(t, map[string]string{"account": "acct1", "content_type": "reel"}, pngBytes)
	status, _, _ = s.do(t, http.MethodPost, "/api/publications", ct, body)
	require.Equal(t, http.StatusBadRequest, status)

	status, _, _ = s.json(t, http.MethodPost, "/api/publications", map[string]any{
		"account": "acct1", "content_type": "post", "media_type": "photo", "media_refs": []string{"/nope.png"},
	})
	require.Equal(t, http.StatusBadRequest, status)

	status, _, _ = s.json(t, http.MethodPost, "/api/publications", map[string]any{
		"account": "ghost", "content_type": "post", "media_type": "photo", "media_refs": created["media_refs"],
	})
	require.Equal(t, http.StatusNotFound, status)

	status, _, raw := s.json(t, http.MethodGet, "/api/publications?status=queued", nil)
	require.Equal(t, http.StatusOK, status)
	var list []models.Publication
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)

	status, got, _ := s.json(t, http.MethodGet, "/api/publications/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, got["attempts"])

	status, _, _ = s.json(t, http.MethodPost, "/api/publications/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	status, _, _ = s.json(t, http.MethodPost, "/api/publications/"+id+"/cancel", nil)
	require.Equal(t, http.StatusConflict, status)
	status, _, _ = s.json(t, http.MethodPost, "/api/publications/missing/cancel", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, stats, _ := s.json(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, stats["active_accounts"])
	require.EqualValues(t, 1, stats["by_status"].(map[string]any)["cancelled"])

	status, _, raw = s.json(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, "[]", string(raw))
}
