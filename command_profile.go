package natours

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UpdateMeMessage carries profile changes. Password fields are only
// present so the handler can refuse them.
type UpdateMeMessage struct {
	UserID          uuid.UUID `json:"-"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Password        string    `json:"password"`
	PasswordConfirm string    `json:"passwordConfirm"`
	OnResponse      func(user *User)
}

func (e UpdateMeMessage) Type() string { return "user.update_me" }

type UpdateMeHandler struct {
	auther *Auther
}

func NewUpdateMeHandler(auther *Auther) *UpdateMeHandler {
	return &UpdateMeHandler{auther: auther}
}

func (h *UpdateMeHandler) Execute(ctx context.Context, event UpdateMeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during profile update",
		).WithTextCode(TextCodeContextCancelled)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateMeHandler) execute(ctx context.Context, event UpdateMeMessage) error {
	if event.Password != "" || event.PasswordConfirm != "" {
		return ErrPasswordUpdateNotAllowed
	}

	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	repo := h.auther.repo

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = repo.Users().UpdateProfileTx(ctx, tx, event.UserID, UpdateProfileInput{
			Name:  event.Name,
			Email: event.Email,
		})
		return err
	})

	if err != nil {
		return richOrInternal(err, "failed to update profile")
	}

	recordActivity(ctx, h.auther.activity, h.auther.logger, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		UserID:    user.GetID(),
		Email:     user.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

type DeleteMeMessage struct {
	UserID uuid.UUID
}

func (e DeleteMeMessage) Type() string { return "user.delete_me" }

// DeleteMeHandler deactivates the account, the row is kept
type DeleteMeHandler struct {
	auther *Auther
}

func NewDeleteMeHandler(auther *Auther) *DeleteMeHandler {
	return &DeleteMeHandler{auther: auther}
}

func (h *DeleteMeHandler) Execute(ctx context.Context, event DeleteMeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account deactivation",
		).WithTextCode(TextCodeContextCancelled)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeleteMeHandler) execute(ctx context.Context, event DeleteMeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	repo := h.auther.repo

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return repo.Users().DeactivateTx(ctx, tx, event.UserID)
	})
	if err != nil {
		return richOrInternal(err, "failed to deactivate user")
	}

	recordActivity(ctx, h.auther.activity, h.auther.logger, ActivityEvent{
		EventType: ActivityEventUserDeactivated,
		UserID:    event.UserID.String(),
	})

	return nil
}
