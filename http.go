package natours

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const genericErrorMessage = "Something went very wrong!"

// ErrorRenderer writes errors as JSON envelopes. In verbose mode the
// envelope carries the error details, otherwise only the message of
// known errors is exposed.
type ErrorRenderer struct {
	verbose bool
	logger  Logger
}

// NewErrorRenderer returns an ErrorRenderer
func NewErrorRenderer(verbose bool, logger Logger) *ErrorRenderer {
	if logger == nil {
		logger = defLogger{}
	}
	return &ErrorRenderer{verbose: verbose, logger: logger}
}

// Handle implements router.ErrorHandler
func (r *ErrorRenderer) Handle(ctx router.Context, err error) error {
	status, body := r.Render(err)
	return ctx.JSON(status, body)
}

// Render builds the status code and the response body for err
func (r *ErrorRenderer) Render(err error) (int, map[string]any) {
	richErr, known := AsRichError(err)

	status := richErr.Code
	if status == 0 {
		status = StatusFromCategory(richErr.Category)
	}

	if !known || status >= 500 {
		r.logger.Error("request error",
			"status", status,
			"category", richErr.Category,
			"error", err,
		)
	} else {
		r.logger.Debug("request rejected",
			"status", status,
			"text_code", richErr.TextCode,
			"message", richErr.Message,
		)
	}

	body := map[string]any{
		"status":  statusLabel(status),
		"message": richErr.Message,
	}

	if !r.verbose {
		if !known {
			body["message"] = genericErrorMessage
		}
		return status, body
	}

	details := map[string]any{
		"category":  richErr.Category,
		"code":      status,
		"text_code": richErr.TextCode,
	}
	if len(richErr.Metadata) > 0 {
		details["metadata"] = richErr.Metadata
		r.logger.Debug("error metadata", "details", print.MaybePrettyJSON(richErr.Metadata))
	}
	if !known && err != nil {
		details["cause"] = err.Error()
	}
	body["error"] = details

	return status, body
}

func statusLabel(status int) string {
	if status >= 400 && status < 500 {
		return "fail"
	}
	return "error"
}

// Success wraps data in the success envelope
func Success(data any) map[string]any {
	return map[string]any{
		"status": "success",
		"data":   data,
	}
}

// badRequest turns a payload validation failure into a rich error
func badRequest(err error) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return NewValidationError(err)
}
