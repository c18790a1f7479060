package natours_test

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-natours/mailer"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningKey = "test-signing-key-with-at-least-32-chars"
	testPassword   = "pass1234"
	resetBase      = "http://127.0.0.1:3000/api/v1/users/resetPassword"
)

var resetTokenPattern = regexp.MustCompile(`[0-9a-f]{64}`)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingSink struct {
	mu     sync.Mutex
	events []natours.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt natours.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) Types() []natours.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]natours.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

type mailSpy struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *mailSpy) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailSpy) LastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email was sent")
	token := resetTokenPattern.FindString(m.sent[len(m.sent)-1].Body)
	require.NotEmpty(t, token, "no reset token in email body")
	return token
}

type testEnv struct {
	db     *bun.DB
	clock  *testClock
	repo   natours.RepositoryManager
	tokens *natours.TokenServiceImpl
	auther *natours.Auther
	sink   *capturingSink
	mail   *mailSpy
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	require.NoError(t, natours.RunMigrations(context.Background(), sqldb, natours.DialectSQLite))

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		db:    setupTestDB(t),
		clock: newTestClock(),
		sink:  &capturingSink{},
		mail:  &mailSpy{},
	}

	hasher := natours.NewBcryptHasher(bcrypt.MinCost)

	env.repo = natours.NewRepositoryManager(env.db,
		natours.WithUsersHasher(hasher),
		natours.WithUsersClock(env.clock.Now),
	)

	env.tokens = natours.NewTokenService(
		[]byte(testSigningKey),
		time.Hour,
		"natours",
		jwt.ClaimStrings{"natours-api"},
		natours.WithTokenClock(env.clock.Now),
	)

	env.auther = natours.NewAuther(env.repo, env.tokens).
		WithHasher(hasher).
		WithClock(env.clock.Now).
		WithActivitySink(env.sink)

	return env
}

func (e *testEnv) createUser(t *testing.T, email string, role natours.UserRole) *natours.User {
	t.Helper()

	user, err := e.repo.Users().Create(context.Background(), natours.CreateUserInput{
		Name:            "Test User",
		Email:           email,
		Password:        testPassword,
		PasswordConfirm: testPassword,
		Role:            role,
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) signup(t *testing.T, email string) *natours.AuthResponse {
	t.Helper()

	var resp *natours.AuthResponse
	err := natours.NewSignupHandler(e.auther).Execute(context.Background(), natours.SignupMessage{
		Name:            "Test User",
		Email:           email,
		Password:        testPassword,
		PasswordConfirm: testPassword,
		OnResponse: func(r *natours.AuthResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func (e *testEnv) forgotPassword(t *testing.T, email string) error {
	t.Helper()
	return natours.NewForgotPasswordHandler(e.auther, e.mail).Execute(context.Background(), natours.ForgotPasswordMessage{
		Email:        email,
		ResetURLBase: resetBase,
	})
}

func (e *testEnv) resetPassword(token, password string) (*natours.AuthResponse, error) {
	var resp *natours.AuthResponse
	err := natours.NewResetPasswordHandler(e.auther).Execute(context.Background(), natours.ResetPasswordMessage{
		Token:           token,
		Password:        password,
		PasswordConfirm: password,
		OnResponse: func(r *natours.AuthResponse) {
			resp = r
		},
	})
	return resp, err
}
