// Package mailer delivers plain text email.
package mailer

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
)

// DefaultFrom is used when no sender address is configured
const DefaultFrom = "Natours <hello@natours.io>"

// Message is a plain text email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Validate checks the message has a recipient and a subject
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("email recipient is required", errors.CategoryValidation)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("email subject is required", errors.CategoryValidation)
	}
	return nil
}

// Sender sends a message, returning an error when delivery failed
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Logger is what LogSender writes to
type Logger interface {
	Info(msg string, args ...any)
}

// LogSender prints messages instead of delivering them
type LogSender struct {
	logger Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "email send cancelled")
	}
	if s.logger != nil {
		s.logger.Info("email", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	}
	return nil
}
