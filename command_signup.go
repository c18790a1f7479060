package natours

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// SignupMessage carries the only fields a new account may set. Role is
// not part of it, every signup creates a plain user.
type SignupMessage struct {
	Name            string `json:"name" example:"Jonas Schmedtmann"`
	Email           string `json:"email" example:"jonas@example.com"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
	OnResponse      func(resp *AuthResponse)
}

func (e SignupMessage) Type() string { return "user.signup" }

type SignupHandler struct {
	auther *Auther
}

// NewSignupHandler creates a signup handler
func NewSignupHandler(auther *Auther) *SignupHandler {
	return &SignupHandler{auther: auther}
}

func (h *SignupHandler) Execute(ctx context.Context, event SignupMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup",
		).WithTextCode(TextCodeContextCancelled)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignupHandler) execute(ctx context.Context, event SignupMessage) error {
	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	repo := h.auther.repo

	record, err := repo.Users().Prepare(CreateUserInput{
		Name:            event.Name,
		Email:           event.Email,
		Password:        event.Password,
		PasswordConfirm: event.PasswordConfirm,
		Role:            RoleUser,
	})
	if err != nil {
		return richOrInternal(err, "invalid signup request")
	}

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = repo.Users().InsertTx(ctx, tx, record)
		return err
	})

	if err != nil {
		return richOrInternal(err, "user signup transaction failed")
	}

	resp, err := h.auther.IssueToken(user)
	if err != nil {
		return err
	}

	recordActivity(ctx, h.auther.activity, h.auther.logger, ActivityEvent{
		EventType: ActivityEventSignup,
		UserID:    user.GetID(),
		Email:     user.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// richOrInternal returns err untouched when it already is a rich error
func richOrInternal(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
