package natours

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-natours/mailer"
	"github.com/goliatone/go-repository-bun"
)

const resetEmailSubject = "Your password reset token (valid for 10 min)"

type ForgotPasswordMessage struct {
	Email string `json:"email" example:"jonas@example.com"`
	// ResetURLBase is the absolute URL the plaintext token gets appended to
	ResetURLBase string `json:"-"`
	OnResponse   func(resp *ForgotPasswordResponse)
}

func (e ForgotPasswordMessage) Type() string { return "user.password_forgot" }

type ForgotPasswordResponse struct {
	Email   string
	Sent    bool
	Message string
}

// ForgotPasswordHandler opens a reset window and emails the plaintext
// token. Only the token hash is ever stored.
type ForgotPasswordHandler struct {
	auther *Auther
	sender mailer.Sender
}

func NewForgotPasswordHandler(auther *Auther, sender mailer.Sender) *ForgotPasswordHandler {
	return &ForgotPasswordHandler{auther: auther, sender: sender}
}

func (h *ForgotPasswordHandler) Execute(ctx context.Context, event ForgotPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		).WithTextCode(TextCodeContextCancelled)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ForgotPasswordHandler) execute(ctx context.Context, event ForgotPasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	users := h.auther.repo.Users()
	logger := h.auther.logger

	email := normalizeEmail(event.Email)
	if email == "" {
		return goerrors.New("Please provide your email", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeValidationFailed)
	}

	user, err := users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrUserNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	token, err := h.auther.resets.Generate()
	if err != nil {
		return err
	}

	if err := users.SaveResetToken(ctx, user.ID, token.Hash, token.ExpiresAt); err != nil {
		return richOrInternal(err, "failed to store password reset token")
	}

	msg := mailer.Message{
		To:      user.Email,
		Subject: resetEmailSubject,
		Body:    resetEmailBody(resetURL(event.ResetURLBase, token.Plaintext)),
	}

	if err := h.send(ctx, msg); err != nil {
		logger.Error("password reset email failed", "user_id", user.GetID(), "error", err)
		if clearErr := users.ClearResetToken(context.WithoutCancel(ctx), user.ID); clearErr != nil {
			logger.Error("failed to clear reset token after email failure", "user_id", user.GetID(), "error", clearErr)
		}
		return ErrEmailDelivery
	}

	recordActivity(ctx, h.auther.activity, logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		UserID:    user.GetID(),
		Email:     user.Email,
		Metadata:  map[string]any{"expires_at": token.ExpiresAt.Format(time.RFC3339)},
	})

	if event.OnResponse != nil {
		event.OnResponse(&ForgotPasswordResponse{
			Email:   user.Email,
			Sent:    true,
			Message: "Token sent to email!",
		})
	}

	return nil
}

func (h *ForgotPasswordHandler) send(ctx context.Context, msg mailer.Message) error {
	if h.sender == nil {
		return goerrors.New("no email sender configured", goerrors.CategoryInternal)
	}
	return h.sender.Send(ctx, msg)
}

func resetURL(base, token string) string {
	if base == "" {
		return token
	}
	return strings.TrimRight(base, "/") + "/" + token
}

func resetEmailBody(url string) string {
	return fmt.Sprintf(
		"Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: %s.\n"+
			"If you didn't forget your password, please ignore this email!",
		url,
	)
}
