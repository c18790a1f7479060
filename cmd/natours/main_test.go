package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-natours/config"
	"github.com/goliatone/go-natours/mailer"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "integration-signing-key-with-32-chars"

var resetTokenPattern = regexp.MustCompile(`[0-9a-f]{64}`)

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (o *outbox) Send(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	token := resetTokenPattern.FindString(o.sent[len(o.sent)-1].Body)
	require.NotEmpty(t, token)
	return token
}

func newTestApp(t *testing.T, extra map[string]string) (*App, *outbox) {
	t.Helper()

	env := map[string]string{
		"APP_ENV":      "test",
		"JWT_SECRET":   testSecret,
		"DATABASE_URL": ":memory:",
		"BCRYPT_COST":  "4",
	}
	for k, v := range extra {
		env[k] = v
	}

	cfg, err := config.FromEnv(func(key string) string { return env[key] })
	require.NoError(t, err)

	app := NewApp(cfg)
	require.NoError(t, WithPersistence(context.Background(), app))
	t.Cleanup(func() {
		_ = app.db.Close()
	})

	box := &outbox{}
	app.mailer = box

	WithAuth(app)
	require.NoError(t, WithHTTPServer(app))

	return app, box
}

func call(t *testing.T, app *App, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := app.srv.WrappedRouter().Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}

	return res.StatusCode, out
}

func signupBody(email string) map[string]string {
	return map[string]string{
		"name":            "Integration User",
		"email":           email,
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
	}
}

func userID(t *testing.T, body map[string]any) string {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, body)
	user, ok := data["user"].(map[string]any)
	require.True(t, ok, body)
	id, ok := user["id"].(string)
	require.True(t, ok, body)
	return id
}

func TestHTTP_UserRoutes(t *testing.T) {
	app, box := newTestApp(t, nil)

	status, body := call(t, app, http.MethodPost, "/api/v1/users/signup", "", signupBody("ada@example.com"))
	require.Equal(t, http.StatusCreated, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	status, body = call(t, app, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "fail", body["status"])

	status, _ = call(t, app, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, http.MethodGet, "/api/v1/users", token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, app, http.MethodPost, "/api/v1/users/forgotPassword", "",
		map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, status)
	reset := box.lastToken(t)

	resetBody := map[string]string{"password": "new-pass-1", "passwordConfirm": "new-pass-1"}
	status, body = call(t, app, http.MethodPatch, "/api/v1/users/resetPassword/"+reset, "", resetBody)
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["token"])

	status, body = call(t, app, http.MethodPatch, "/api/v1/users/resetPassword/"+reset, "", resetBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, natours.ErrResetTokenInvalid.Message, body["message"])

	status, _ = call(t, app, http.MethodPost, "/api/v1/users/login", "",
		map[string]string{"email": "ada@example.com", "password": "new-pass-1"})
	assert.Equal(t, http.StatusOK, status)
}

func TestHTTP_AdminRoutes(t *testing.T) {
	app, _ := newTestApp(t, nil)

	_, err := app.repo.Users().Create(context.Background(), natours.CreateUserInput{
		Name:            "Admin",
		Email:           "admin@example.com",
		Password:        "pass1234",
		PasswordConfirm: "pass1234",
		Role:            natours.RoleAdmin,
	})
	require.NoError(t, err)

	status, body := call(t, app, http.MethodPost, "/api/v1/users/login", "",
		map[string]string{"email": "admin@example.com", "password": "pass1234"})
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	status, _ = call(t, app, http.MethodGet, "/api/v1/users", token, nil)
	assert.Equal(t, http.StatusOK, status)

	tour := map[string]any{
		"name":         "The Integration Walker",
		"duration":     5,
		"maxGroupSize": 10,
		"difficulty":   "easy",
		"price":        397,
		"summary":      "A tour created over HTTP",
		"imageCover":   "cover.jpg",
	}

	status, _ = call(t, app, http.MethodPost, "/api/v1/tours", "", tour)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = call(t, app, http.MethodPost, "/api/v1/tours", token, tour)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = call(t, app, http.MethodGet, "/api/v1/tours?price[lt]=1000", "", nil)
	assert.Equal(t, http.StatusOK, status, body)

	status, _ = call(t, app, http.MethodGet, "/api/v1/tours?price[lt]=cheap", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHTTP_UserIDStrategy(t *testing.T) {
	app, _ := newTestApp(t, map[string]string{"USER_ID_STRATEGY": config.UserIDHashid})

	status, body := call(t, app, http.MethodPost, "/api/v1/users/signup", "", signupBody("grace@example.com"))
	require.Equal(t, http.StatusCreated, status, body)

	want, err := hashid.NewUUID("grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, want.String(), userID(t, body))

	plain, _ := newTestApp(t, nil)
	status, body = call(t, plain, http.MethodPost, "/api/v1/users/signup", "", signupBody("grace@example.com"))
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEqual(t, want.String(), userID(t, body))
}
