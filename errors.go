package natours

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeInvalidCreds         = "INVALID_CREDENTIALS"
	TextCodeMissingCredentials   = "MISSING_CREDENTIALS"
	TextCodeEmptyPassword        = "EMPTY_PASSWORD"
	TextCodePasswordMismatch     = "PASSWORD_CONFIRM_MISMATCH"
	TextCodeNotLoggedIn          = "NOT_LOGGED_IN"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenMalformed       = "TOKEN_MALFORMED"
	TextCodeTokenSignature       = "TOKEN_SIGNATURE_INVALID"
	TextCodeTokenInvalid         = "TOKEN_INVALID"
	TextCodeUserGone             = "USER_NO_LONGER_EXISTS"
	TextCodePasswordChanged      = "PASSWORD_RECENTLY_CHANGED"
	TextCodeForbidden            = "FORBIDDEN"
	TextCodeUserNotFound         = "USER_NOT_FOUND"
	TextCodeResetTokenInvalid    = "RESET_TOKEN_INVALID"
	TextCodeEmailDelivery        = "EMAIL_DELIVERY_FAILED"
	TextCodeWrongCurrentPassword = "WRONG_CURRENT_PASSWORD"
	TextCodePasswordRouteMisuse  = "PASSWORD_UPDATE_NOT_ALLOWED"
	TextCodeDuplicateField       = "DUPLICATE_FIELD"
	TextCodeUnexpected           = "UNEXPECTED_ERROR"
	TextCodeValidationFailed     = "VALIDATION_FAILED"
	TextCodeContextCancelled     = "CONTEXT_CANCELLED"
)

// ErrMissingCredentials login payload without email or password
var ErrMissingCredentials = goerrors.New("Please provide email and password", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeMissingCredentials)

// ErrIncorrectCredentials is returned for unknown emails and wrong
// passwords alike
var ErrIncorrectCredentials = goerrors.New("Incorrect email or password", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCreds)

// ErrMismatchedHashAndPassword the password does not match the stored digest
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCreds)

// ErrNoEmptyString we refuse to hash empty passwords
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeEmptyPassword)

// ErrPasswordConfirmMismatch password and confirmation differ
var ErrPasswordConfirmMismatch = goerrors.New("Passwords are not the same!", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodePasswordMismatch)

// ErrNotLoggedIn no bearer token in the request
var ErrNotLoggedIn = goerrors.New("You are not logged in! Please log in to get access.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeNotLoggedIn)

// ErrTokenExpired the token expiry elapsed
var ErrTokenExpired = goerrors.New("Your token has expired! Please log in again.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenMalformed the token could not be decoded
var ErrTokenMalformed = goerrors.New("Invalid token. Please log in again.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenMalformed)

// ErrTokenSignatureInvalid the token was not signed with our key
var ErrTokenSignatureInvalid = goerrors.New("Invalid token signature. Please log in again.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenSignature)

// ErrTokenInvalid any other token verification failure
var ErrTokenInvalid = goerrors.New("Invalid token. Please log in again.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenInvalid)

// ErrUserNoLongerExists the token subject was deleted or deactivated
var ErrUserNoLongerExists = goerrors.New("The user belonging to this token does no longer exist.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeUserGone)

// ErrPasswordRecentlyChanged the token predates the last password change
var ErrPasswordRecentlyChanged = goerrors.New("User recently changed password! Please log in again.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodePasswordChanged)

// ErrForbidden the user role is not allowed
var ErrForbidden = goerrors.New("You do not have permission to perform this action", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeForbidden)

// ErrUserNotFound no user with the given email
var ErrUserNotFound = goerrors.New("There is no user with that email address.", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeUserNotFound)

// ErrResetTokenInvalid unknown, consumed or expired reset token
var ErrResetTokenInvalid = goerrors.New("Token is invalid or has expired", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeResetTokenInvalid)

// ErrEmailDelivery the reset email could not be sent
var ErrEmailDelivery = goerrors.New("There was an error sending the email. Try again later!", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeEmailDelivery)

// ErrWrongCurrentPassword update password with a bad current password
var ErrWrongCurrentPassword = goerrors.New("Your current password is wrong.", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeWrongCurrentPassword)

// ErrPasswordUpdateNotAllowed profile updates must not carry passwords
var ErrPasswordUpdateNotAllowed = goerrors.New(
	"This route is not for password updates. Please use /updateMyPassword.",
	goerrors.CategoryBadInput,
).WithCode(goerrors.CodeBadRequest).WithTextCode(TextCodePasswordRouteMisuse)

// ErrUnableToParseData parse error
var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode("DATA_PARSE_ERROR")

// NewDuplicateFieldError builds the validation error returned when a
// unique column rejects a write.
func NewDuplicateFieldError(field, value string) *goerrors.Error {
	return goerrors.New("Duplicate field value: "+field+". Please use another value!", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeDuplicateField).
		WithMetadata(map[string]any{
			"field": field,
			"value": value,
		})
}

// IsUniqueViolation reports whether err comes from a unique constraint
// in either sqlite or postgres.
func IsUniqueViolation(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unique constraint") ||
			strings.Contains(msg, "duplicate key value") ||
			strings.Contains(msg, "sqlstate 23505") {
			return true
		}
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// StatusFromCategory maps an error category to its HTTP status
func StatusFromCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return goerrors.CodeBadRequest
	case goerrors.CategoryAuth:
		return goerrors.CodeUnauthorized
	case goerrors.CategoryAuthz:
		return goerrors.CodeForbidden
	case goerrors.CategoryNotFound:
		return goerrors.CodeNotFound
	case goerrors.CategoryConflict:
		return goerrors.CodeConflict
	default:
		return goerrors.CodeInternal
	}
}

// AsRichError returns err as a *goerrors.Error. Storage not found errors
// are mapped to CategoryNotFound and anything else unknown is reported
// as internal. The second value is false when err was not a rich error.
func AsRichError(err error) (*goerrors.Error, bool) {
	if err == nil {
		return nil, true
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Code == 0 {
			richErr.Code = StatusFromCategory(richErr.Category)
		}
		return richErr, true
	}

	if repository.IsRecordNotFound(err) {
		return goerrors.New("No record found with that ID", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound), true
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "Something went very wrong!").
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeUnexpected), false
}

func badInput(msg string, err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, msg).
		WithCode(goerrors.CodeBadRequest)
}

// NewValidationError wraps ozzo validation errors into a 400 carrying
// the failing fields in its metadata
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryValidation, "Invalid input data. "+err.Error()).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeValidationFailed).
		WithMetadata(map[string]any{"fields": fields})
}
