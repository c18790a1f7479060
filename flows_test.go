package natours_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	natours "github.com/goliatone/go-natours"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

func TestSignup_AlwaysCreatesPlainUser(t *testing.T) {
	env := newTestEnv(t)

	resp := env.signup(t, "New@Example.com")

	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.Equal(t, natours.RoleUser, resp.User.Role)
	assert.Empty(t, resp.User.PasswordHash)
	assert.Contains(t, env.sink.Types(), natours.ActivityEventSignup)

	stored, err := env.repo.Users().GetByEmail(context.Background(), "new@example.com", natours.WithPassword())
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, stored.PasswordHash)
	assert.Nil(t, stored.PasswordChangedAt)
}

func TestSignup_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "taken@example.com")

	tests := []struct {
		name     string
		msg      natours.SignupMessage
		textCode string
	}{
		{
			name: "duplicate email",
			msg: natours.SignupMessage{
				Name: "Other", Email: "TAKEN@example.com",
				Password: testPassword, PasswordConfirm: testPassword,
			},
			textCode: natours.TextCodeDuplicateField,
		},
		{
			name: "confirmation mismatch",
			msg: natours.SignupMessage{
				Name: "Other", Email: "other@example.com",
				Password: testPassword, PasswordConfirm: "pass12345",
			},
			textCode: natours.TextCodePasswordMismatch,
		},
		{
			name: "short password",
			msg: natours.SignupMessage{
				Name: "Other", Email: "other@example.com",
				Password: "short", PasswordConfirm: "short",
			},
			textCode: natours.TextCodeValidationFailed,
		},
		{
			name: "invalid email",
			msg: natours.SignupMessage{
				Name: "Other", Email: "not-an-email",
				Password: testPassword, PasswordConfirm: testPassword,
			},
			textCode: natours.TextCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := natours.NewSignupHandler(env.auther).Execute(context.Background(), tt.msg)
			require.Error(t, err)

			rich, ok := natours.AsRichError(err)
			require.True(t, ok)
			assert.Equal(t, tt.textCode, rich.TextCode)
			assert.Equal(t, 400, rich.Code)
		})
	}
}

func TestSignup_CancelledContext(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := natours.NewSignupHandler(env.auther).Execute(ctx, natours.SignupMessage{
		Name: "x", Email: "x@example.com", Password: testPassword, PasswordConfirm: testPassword,
	})
	require.Error(t, err)

	rich, _ := natours.AsRichError(err)
	assert.Equal(t, natours.TextCodeContextCancelled, rich.TextCode)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "reset@example.com", natours.RoleUser)
	ctx := context.Background()

	require.NoError(t, env.forgotPassword(t, "reset@example.com"))

	require.Len(t, env.mail.sent, 1)
	sent := env.mail.sent[0]
	assert.Equal(t, "reset@example.com", sent.To)
	assert.Contains(t, sent.Subject, "valid for 10 min")
	assert.Contains(t, sent.Body, resetBase+"/")

	token := env.mail.LastToken(t)

	stored, err := env.repo.Users().GetByID(ctx, user.GetID())
	require.NoError(t, err)
	assert.Equal(t, natours.HashResetToken(token), stored.PasswordResetToken)
	assert.NotEqual(t, token, stored.PasswordResetToken)
	require.NotNil(t, stored.PasswordResetExpiresAt)
	assert.True(t, stored.PasswordResetExpiresAt.Equal(env.clock.Now().Add(10*time.Minute)))

	env.clock.Advance(2 * time.Second)

	resp, err := env.resetPassword(token, "brand-new-pass")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.Token)

	_, _, err = env.auther.Authenticate(ctx, resp.Token)
	require.NoError(t, err)

	_, err = env.auther.Login(ctx, "reset@example.com", testPassword)
	assert.ErrorIs(t, err, natours.ErrIncorrectCredentials)

	_, err = env.auther.Login(ctx, "reset@example.com", "brand-new-pass")
	assert.NoError(t, err)

	cleared, err := env.repo.Users().GetByID(ctx, user.GetID())
	require.NoError(t, err)
	assert.False(t, cleared.HasOpenReset())

	_, err = env.resetPassword(token, "another-pass-1")
	assert.ErrorIs(t, err, natours.ErrResetTokenInvalid)

	assert.Contains(t, env.sink.Types(), natours.ActivityEventPasswordResetRequest)
	assert.Contains(t, env.sink.Types(), natours.ActivityEventPasswordResetSuccess)
}

func TestResetPassword_Window(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr bool
	}{
		{name: "just inside", elapsed: 9*time.Minute + 59*time.Second},
		{name: "just outside", elapsed: 10*time.Minute + time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.createUser(t, "window@example.com", natours.RoleUser)

			require.NoError(t, env.forgotPassword(t, "window@example.com"))
			token := env.mail.LastToken(t)

			env.clock.Advance(tt.elapsed)

			_, err := env.resetPassword(token, "brand-new-pass")
			if tt.wantErr {
				assert.ErrorIs(t, err, natours.ErrResetTokenInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestResetPassword_InvalidInputs(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "bad@example.com", natours.RoleUser)

	require.NoError(t, env.forgotPassword(t, "bad@example.com"))
	token := env.mail.LastToken(t)

	_, err := env.resetPassword(strings.Repeat("0", 64), "brand-new-pass")
	assert.ErrorIs(t, err, natours.ErrResetTokenInvalid)

	_, err = env.resetPassword("", "brand-new-pass")
	assert.ErrorIs(t, err, natours.ErrResetTokenInvalid)

	err = natours.NewResetPasswordHandler(env.auther).Execute(context.Background(), natours.ResetPasswordMessage{
		Token:           token,
		Password:        "brand-new-pass",
		PasswordConfirm: "something-else",
	})
	assert.ErrorIs(t, err, natours.ErrPasswordConfirmMismatch)

	// a failed attempt leaves the window open
	_, err = env.resetPassword(token, "brand-new-pass")
	assert.NoError(t, err)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	err := env.forgotPassword(t, "ghost@example.com")
	assert.ErrorIs(t, err, natours.ErrUserNotFound)
	assert.Empty(t, env.mail.sent)
}

func TestForgotPassword_MailFailureClearsToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "nomail@example.com", natours.RoleUser)
	env.mail.err = errors.New("smtp unavailable")

	err := env.forgotPassword(t, "nomail@example.com")
	assert.ErrorIs(t, err, natours.ErrEmailDelivery)

	stored, err := env.repo.Users().GetByID(context.Background(), user.GetID())
	require.NoError(t, err)
	assert.Empty(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpiresAt)
}

func TestUpdatePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signup := env.signup(t, "update@example.com")
	env.clock.Advance(2 * time.Second)

	handler := natours.NewUpdatePasswordHandler(env.auther)

	err := handler.Execute(ctx, natours.UpdatePasswordMessage{
		UserID:          signup.User.ID,
		PasswordCurrent: "not-my-password",
		Password:        "brand-new-pass",
		PasswordConfirm: "brand-new-pass",
	})
	assert.ErrorIs(t, err, natours.ErrWrongCurrentPassword)

	var resp *natours.AuthResponse
	err = handler.Execute(ctx, natours.UpdatePasswordMessage{
		UserID:          signup.User.ID,
		PasswordCurrent: testPassword,
		Password:        "brand-new-pass",
		PasswordConfirm: "brand-new-pass",
		OnResponse: func(r *natours.AuthResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	_, _, err = env.auther.Authenticate(ctx, signup.Token)
	assert.ErrorIs(t, err, natours.ErrPasswordRecentlyChanged)

	_, _, err = env.auther.Authenticate(ctx, resp.Token)
	assert.NoError(t, err)

	err = handler.Execute(ctx, natours.UpdatePasswordMessage{
		UserID:          uuid.New(),
		PasswordCurrent: testPassword,
		Password:        "brand-new-pass",
		PasswordConfirm: "brand-new-pass",
	})
	assert.ErrorIs(t, err, natours.ErrUserNoLongerExists)
}

func TestUpdatePassword_WithinSameSecond(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.clock.Advance(900 * time.Millisecond)
	signup := env.signup(t, "quick@example.com")

	env.clock.Advance(400 * time.Millisecond)

	var resp *natours.AuthResponse
	err := natours.NewUpdatePasswordHandler(env.auther).Execute(ctx, natours.UpdatePasswordMessage{
		UserID:          signup.User.ID,
		PasswordCurrent: testPassword,
		Password:        "brand-new-pass",
		PasswordConfirm: "brand-new-pass",
		OnResponse: func(r *natours.AuthResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	_, _, err = env.auther.Authenticate(ctx, signup.Token)
	assert.ErrorIs(t, err, natours.ErrPasswordRecentlyChanged)

	_, _, err = env.auther.Authenticate(ctx, resp.Token)
	assert.NoError(t, err)
}

// connCheckHasher fails the test when it hashes while the single
// database connection is held by a transaction.
type connCheckHasher struct {
	natours.PasswordAuthenticator
	db *bun.DB

	mu      sync.Mutex
	calls   int
	blocked []error
}

func (h *connCheckHasher) HashPassword(password string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var one int
	err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)

	h.mu.Lock()
	h.calls++
	if err != nil {
		h.blocked = append(h.blocked, err)
	}
	h.mu.Unlock()

	return h.PasswordAuthenticator.HashPassword(password)
}

func TestFlows_HashOutsideTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hasher := &connCheckHasher{PasswordAuthenticator: natours.NewBcryptHasher(bcrypt.MinCost), db: env.db}
	env.repo = natours.NewRepositoryManager(env.db,
		natours.WithUsersHasher(hasher),
		natours.WithUsersClock(env.clock.Now),
	)
	env.auther = natours.NewAuther(env.repo, env.tokens).
		WithHasher(hasher).
		WithClock(env.clock.Now).
		WithActivitySink(env.sink)

	signup := env.signup(t, "outside@example.com")

	require.NoError(t, env.forgotPassword(t, "outside@example.com"))
	_, err := env.resetPassword(env.mail.LastToken(t), "reset-pass-1")
	require.NoError(t, err)

	err = natours.NewUpdatePasswordHandler(env.auther).Execute(ctx, natours.UpdatePasswordMessage{
		UserID:          signup.User.ID,
		PasswordCurrent: "reset-pass-1",
		Password:        "update-pass-1",
		PasswordConfirm: "update-pass-1",
	})
	require.NoError(t, err)

	hasher.mu.Lock()
	defer hasher.mu.Unlock()
	assert.GreaterOrEqual(t, hasher.calls, 3)
	assert.Empty(t, hasher.blocked)
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signup := env.signup(t, "me@example.com")
	env.signup(t, "other@example.com")

	handler := natours.NewUpdateMeHandler(env.auther)

	err := handler.Execute(ctx, natours.UpdateMeMessage{
		UserID:   signup.User.ID,
		Password: "brand-new-pass",
	})
	assert.ErrorIs(t, err, natours.ErrPasswordUpdateNotAllowed)

	err = handler.Execute(ctx, natours.UpdateMeMessage{
		UserID: signup.User.ID,
		Email:  "other@example.com",
	})
	rich, _ := natours.AsRichError(err)
	require.NotNil(t, rich)
	assert.Equal(t, natours.TextCodeDuplicateField, rich.TextCode)

	var updated *natours.User
	err = handler.Execute(ctx, natours.UpdateMeMessage{
		UserID: signup.User.ID,
		Name:   "  Renamed ",
		OnResponse: func(u *natours.User) {
			updated = u
		},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "me@example.com", updated.Email)
	assert.Equal(t, natours.RoleUser, updated.Role)
}

func TestDeleteMe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signup := env.signup(t, "leaving@example.com")

	err := natours.NewDeleteMeHandler(env.auther).Execute(ctx, natours.DeleteMeMessage{UserID: signup.User.ID})
	require.NoError(t, err)

	_, err = env.auther.Login(ctx, "leaving@example.com", testPassword)
	assert.ErrorIs(t, err, natours.ErrIncorrectCredentials)

	_, _, err = env.auther.Authenticate(ctx, signup.Token)
	assert.ErrorIs(t, err, natours.ErrUserNoLongerExists)

	stored, err := env.repo.Users().GetByID(ctx, signup.User.GetID(), natours.IncludeInactive())
	require.NoError(t, err)
	assert.False(t, stored.Active)

	assert.Contains(t, env.sink.Types(), natours.ActivityEventUserDeactivated)
}
