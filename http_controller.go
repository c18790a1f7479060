package natours

import (
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-natours/mailer"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// DefaultUsersPath is where the user routes are mounted
const DefaultUsersPath = "/api/v1/users"

// RegisterUserRoutes mounts the auth and user routes on app
func RegisterUserRoutes[T any](app router.Router[T], controller *UserController) {
	protect := controller.Guard.Protect()

	app.Post("/signup", controller.Signup).SetName("users.signup")
	app.Post("/login", controller.Login).SetName("users.login")
	app.Post("/forgotPassword", controller.ForgotPassword).SetName("users.forgot-password")
	app.Patch("/resetPassword/:token", controller.ResetPassword).SetName("users.reset-password")

	app.Patch("/updateMyPassword", controller.UpdatePassword, protect).SetName("users.update-password")
	app.Get("/me", controller.GetMe, protect).SetName("users.me")
	app.Patch("/updateMe", controller.UpdateMe, protect).SetName("users.update-me")
	app.Delete("/deleteMe", controller.DeleteMe, protect).SetName("users.delete-me")

	app.Get("/", controller.ListUsers, protect, controller.Guard.RestrictTo(RoleAdmin)).SetName("users.list")
}

type UserController struct {
	Debug        bool
	Logger       Logger
	Auther       *Auther
	Guard        *RouteGuard
	Mailer       mailer.Sender
	ResetURLBase string
	ErrorHandler router.ErrorHandler
}

type UserControllerOption func(*UserController) *UserController

// WithControllerDebug logs payloads
func WithControllerDebug(debug bool) UserControllerOption {
	return func(c *UserController) *UserController {
		c.Debug = debug
		return c
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) UserControllerOption {
	return func(c *UserController) *UserController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithResetURLBase sets the absolute URL the reset token is appended to
func WithResetURLBase(base string) UserControllerOption {
	return func(c *UserController) *UserController {
		c.ResetURLBase = base
		return c
	}
}

func NewUserController(auther *Auther, guard *RouteGuard, sender mailer.Sender, opts ...UserControllerOption) *UserController {
	c := &UserController{
		Logger:       defLogger{},
		Auther:       auther,
		Guard:        guard,
		Mailer:       sender,
		ResetURLBase: DefaultUsersPath + "/resetPassword",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing Auther in user controller...")
	}

	if c.Guard == nil {
		c.Guard = NewRouteGuard(c.Auther, nil)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Guard.ErrorHandler
	}

	return c
}

// SignupPayload is the signup request body
type SignupPayload struct {
	Name            string `json:"name" form:"name"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"passwordConfirm" form:"passwordConfirm"`
}

func (c *UserController) Signup(ctx router.Context) error {
	payload := new(SignupPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, ErrUnableToParseData)
	}

	c.debug("signup", map[string]any{"email": payload.Email, "name": payload.Name})

	var resp *AuthResponse
	err := NewSignupHandler(c.Auther).Execute(ctx.Context(), SignupMessage{
		Name:            payload.Name,
		Email:           payload.Email,
		Password:        payload.Password,
		PasswordConfirm: payload.PasswordConfirm,
		OnResponse: func(r *AuthResponse) {
			resp = r
		},
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, tokenEnvelope(resp))
}

// LoginPayload is the login request body
type LoginPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (c *UserController) Login(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, ErrUnableToParseData)
	}

	c.debug("login", map[string]any{"email": payload.Email})

	resp, err := c.Auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, tokenEnvelope(resp))
}

// ForgotPasswordPayload holds the address a reset link is sent to
type ForgotPasswordPayload struct {
	Email string `json:"email" form:"email"`
}

// Validate will validate the payload
func (r ForgotPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error("Please provide your email"), is.Email),
	)
}

func (c *UserController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, badRequest(err))
	}

	var resp *ForgotPasswordResponse
	err := NewForgotPasswordHandler(c.Auther, c.Mailer).Execute(ctx.Context(), ForgotPasswordMessage{
		Email:        payload.Email,
		ResetURLBase: c.ResetURLBase,
		OnResponse: func(r *ForgotPasswordResponse) {
			resp = r
		},
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": resp.Message,
	})
}

// ResetPasswordPayload carries the new password
type ResetPasswordPayload struct {
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"passwordConfirm" form:"passwordConfirm"`
}

func (c *UserController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, ErrUnableToParseData)
	}

	var resp *AuthResponse
	err := NewResetPasswordHandler(c.Auther).Execute(ctx.Context(), ResetPasswordMessage{
		Token:           ctx.Param("token"),
		Password:        payload.Password,
		PasswordConfirm: payload.PasswordConfirm,
		OnResponse: func(r *AuthResponse) {
			resp = r
		},
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, tokenEnvelope(resp))
}

// UpdatePasswordPayload is the change password request body
type UpdatePasswordPayload struct {
	PasswordCurrent string `json:"passwordCurrent" form:"passwordCurrent"`
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"passwordConfirm" form:"passwordConfirm"`
}

// Validate will validate the payload
func (r UpdatePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PasswordCurrent, validation.Required.Error("Please provide your current password")),
		validation.Field(&r.Password, validation.Required.Error("Please provide a password")),
		validation.Field(&r.PasswordConfirm, validation.Required.Error("Please confirm your password")),
	)
}

func (c *UserController) UpdatePassword(ctx router.Context) error {
	user, ok := UserFromRouter(ctx, c.Guard.ContextKey())
	if !ok {
		return c.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	payload := new(UpdatePasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, badRequest(err))
	}

	var resp *AuthResponse
	err := NewUpdatePasswordHandler(c.Auther).Execute(ctx.Context(), UpdatePasswordMessage{
		UserID:          user.ID,
		PasswordCurrent: payload.PasswordCurrent,
		Password:        payload.Password,
		PasswordConfirm: payload.PasswordConfirm,
		OnResponse: func(r *AuthResponse) {
			resp = r
		},
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, tokenEnvelope(resp))
}

func (c *UserController) GetMe(ctx router.Context) error {
	user, ok := UserFromRouter(ctx, c.Guard.ContextKey())
	if !ok {
		return c.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	return ctx.JSON(http.StatusOK, Success(map[string]any{"user": user}))
}

// UpdateMePayload only binds the fields a user may change, plus the
// password fields so they can be refused
type UpdateMePayload struct {
	Name            string `json:"name" form:"name"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"passwordConfirm" form:"passwordConfirm"`
}

func (c *UserController) UpdateMe(ctx router.Context) error {
	user, ok := UserFromRouter(ctx, c.Guard.ContextKey())
	if !ok {
		return c.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	payload := new(UpdateMePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, ErrUnableToParseData)
	}

	c.debug("update me", map[string]any{"user_id": user.GetID(), "name": payload.Name, "email": payload.Email})

	var updated *User
	err := NewUpdateMeHandler(c.Auther).Execute(ctx.Context(), UpdateMeMessage{
		UserID:          user.ID,
		Name:            payload.Name,
		Email:           payload.Email,
		Password:        payload.Password,
		PasswordConfirm: payload.PasswordConfirm,
		OnResponse: func(u *User) {
			updated = u
		},
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, Success(map[string]any{"user": updated}))
}

func (c *UserController) DeleteMe(ctx router.Context) error {
	user, ok := UserFromRouter(ctx, c.Guard.ContextKey())
	if !ok {
		return c.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	if err := NewDeleteMeHandler(c.Auther).Execute(ctx.Context(), DeleteMeMessage{UserID: user.ID}); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.Status(http.StatusNoContent).SendString("")
}

func (c *UserController) ListUsers(ctx router.Context) error {
	query, err := RequestQuery(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	users, err := c.Auther.Repository().Users().List(ctx.Context(), query)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(users),
		"data":    map[string]any{"users": users},
	})
}

func (c *UserController) debug(msg string, fields map[string]any) {
	if !c.Debug {
		return
	}
	c.Logger.Debug(msg, "payload", print.MaybePrettyJSON(fields))
}

func tokenEnvelope(resp *AuthResponse) map[string]any {
	if resp == nil {
		return map[string]any{"status": "success"}
	}
	return map[string]any{
		"status": "success",
		"token":  resp.Token,
		"data":   map[string]any{"user": resp.User},
	}
}

// RequestQuery returns the raw query string of the request as url.Values
// so repeated keys and bracket operators survive.
func RequestQuery(ctx router.Context) (url.Values, error) {
	raw := ctx.OriginalURL()
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	} else {
		return url.Values{}, nil
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, badInput("Invalid query string", err)
	}
	return values, nil
}
