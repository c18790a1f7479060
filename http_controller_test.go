package natours_test

import (
	"context"
	"net/http"
	"testing"

	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserController(env *testEnv) *natours.UserController {
	guard := natours.NewRouteGuard(env.auther, nil)
	return natours.NewUserController(env.auther, guard, env.mail,
		natours.WithResetURLBase(resetBase),
	)
}

func TestUserController_GetMe(t *testing.T) {
	env := newTestEnv(t)
	controller := newUserController(env)
	user := env.createUser(t, "me-ctrl@example.com", natours.RoleUser)

	ctx := router.NewMockContext()
	ctx.LocalsMock[natours.DefaultContextKey] = user
	ctx.On("Context").Return(context.Background()).Maybe()

	var body map[string]any
	captureJSON(ctx, http.StatusOK, &body)

	require.NoError(t, controller.GetMe(ctx))

	assert.Equal(t, "success", body["status"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, user, data["user"])
}

func TestUserController_GetMeWithoutUser(t *testing.T) {
	env := newTestEnv(t)
	controller := newUserController(env)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	var body map[string]any
	captureJSON(ctx, http.StatusUnauthorized, &body)

	require.NoError(t, controller.GetMe(ctx))
	assert.Equal(t, natours.ErrNotLoggedIn.Message, body["message"])
}

func TestUserController_ListUsers(t *testing.T) {
	env := newTestEnv(t)
	controller := newUserController(env)

	env.createUser(t, "b@example.com", natours.RoleUser)
	env.createUser(t, "a@example.com", natours.RoleGuide)

	ctx := router.NewMockContext()
	ctx.On("OriginalURL").Return("/api/v1/users?sort=email&fields=email,role")
	ctx.On("Context").Return(context.Background())

	var body map[string]any
	captureJSON(ctx, http.StatusOK, &body)

	require.NoError(t, controller.ListUsers(ctx))

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 2, body["results"])

	data := body["data"].(map[string]any)
	users := data["users"].([]*natours.User)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email)
	assert.Empty(t, users[0].Name)
}

func TestUserController_ListUsersBadQuery(t *testing.T) {
	env := newTestEnv(t)
	controller := newUserController(env)

	ctx := router.NewMockContext()
	ctx.On("OriginalURL").Return("/api/v1/users?sort=password")
	ctx.On("Context").Return(context.Background())

	var body map[string]any
	captureJSON(ctx, http.StatusBadRequest, &body)

	require.NoError(t, controller.ListUsers(ctx))
	assert.Equal(t, "fail", body["status"])
}

func TestRequestQuery(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("OriginalURL").Return("/api/v1/tours?duration[gte]=5&difficulty=easy&difficulty=medium")

	values, err := natours.RequestQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", values.Get("duration[gte]"))
	assert.Equal(t, []string{"easy", "medium"}, values["difficulty"])

	plain := router.NewMockContext()
	plain.On("OriginalURL").Return("/api/v1/tours")
	values, err = natours.RequestQuery(plain)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestNewUserControllerPanicsWithoutAuther(t *testing.T) {
	assert.Panics(t, func() {
		natours.NewUserController(nil, nil, nil)
	})
}
