package natours

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ResetPasswordMessage struct {
	Token           string `json:"-"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
	OnResponse      func(resp *AuthResponse)
}

func (e ResetPasswordMessage) Type() string { return "user.password_reset" }

// ResetPasswordHandler consumes a reset token. A token works once and
// only before its expiry. The write is conditioned on the token so two
// concurrent requests cannot both consume it.
type ResetPasswordHandler struct {
	auther *Auther
}

func NewResetPasswordHandler(auther *Auther) *ResetPasswordHandler {
	return &ResetPasswordHandler{auther: auther}
}

func (h *ResetPasswordHandler) Execute(ctx context.Context, event ResetPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset",
		).WithTextCode(TextCodeContextCancelled)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResetPasswordHandler) execute(ctx context.Context, event ResetPasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	repo := h.auther.repo
	tokenHash := HashResetToken(event.Token)
	now := h.auther.clock()

	user, err := repo.Users().GetByResetToken(ctx, tokenHash, now)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrResetTokenInvalid
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
	}

	digest, err := repo.Users().HashPassword(event.Password, event.PasswordConfirm)
	if err != nil {
		return richOrInternal(err, "failed to hash password")
	}

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = repo.Users().SetPasswordHashTx(ctx, tx, user, digest, WhileResetTokenValid(tokenHash, now))
		if repository.IsRecordNotFound(err) {
			return ErrResetTokenInvalid
		}
		return err
	})

	if err != nil {
		return richOrInternal(err, "failed to reset password")
	}

	resp, err := h.auther.IssueToken(user)
	if err != nil {
		return err
	}

	recordActivity(ctx, h.auther.activity, h.auther.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    user.GetID(),
		Email:     user.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
