package natours

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type UpdatePasswordMessage struct {
	UserID          uuid.UUID `json:"-"`
	PasswordCurrent string    `json:"passwordCurrent"`
	Password        string    `json:"password"`
	PasswordConfirm string    `json:"passwordConfirm"`
	OnResponse      func(resp *AuthResponse)
}

func (e UpdatePasswordMessage) Type() string { return "user.password_update" }

type UpdatePasswordHandler struct {
	auther *Auther
}

func NewUpdatePasswordHandler(auther *Auther) *UpdatePasswordHandler {
	return &UpdatePasswordHandler{auther: auther}
}

func (h *UpdatePasswordHandler) Execute(ctx context.Context, event UpdatePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password update",
		).WithTextCode(TextCodeContextCancelled)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdatePasswordHandler) execute(ctx context.Context, event UpdatePasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	repo := h.auther.repo

	user, err := repo.Users().GetByID(ctx, event.UserID.String(), WithPassword())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNoLongerExists
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if err := h.auther.hasher.ComparePasswordAndHash(event.PasswordCurrent, user.PasswordHash); err != nil {
		return ErrWrongCurrentPassword
	}

	digest, err := repo.Users().HashPassword(event.Password, event.PasswordConfirm)
	if err != nil {
		return richOrInternal(err, "failed to hash password")
	}

	current := user.PasswordHash
	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = repo.Users().SetPasswordHashTx(ctx, tx, user, digest, WhilePasswordHash(current))
		if repository.IsRecordNotFound(err) {
			return ErrWrongCurrentPassword
		}
		return err
	})

	if err != nil {
		return richOrInternal(err, "failed to update password")
	}

	resp, err := h.auther.IssueToken(user)
	if err != nil {
		return err
	}

	recordActivity(ctx, h.auther.activity, h.auther.logger, ActivityEvent{
		EventType: ActivityEventPasswordUpdated,
		UserID:    user.GetID(),
		Email:     user.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
