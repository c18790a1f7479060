package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-very-long-and-secure-secret-for-tests"

func envMap(values map[string]string) Getenv {
	return func(key string) string {
		return values[key]
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"JWT_SECRET": testSecret}))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, ":3000", cfg.Address())
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, DefaultDSN, cfg.DatabaseURL)
	assert.Equal(t, 90*24*time.Hour, cfg.GetTokenExpiration())
	assert.Equal(t, "natours", cfg.GetIssuer())
	assert.Equal(t, []string{"natours-api"}, cfg.GetAudience())
	assert.Equal(t, 12, cfg.GetPasswordCost())
	assert.Equal(t, "user", cfg.GetContextKey())
	assert.Equal(t, "Bearer", cfg.GetAuthScheme())
	assert.True(t, cfg.GetVerboseErrors())
	assert.False(t, cfg.SMTPEnabled())
	assert.Equal(t, 2525, cfg.SMTPConfig().Port)
	assert.Equal(t, UserIDUUID, cfg.UserIDs)
	assert.Empty(t, cfg.UsersOptions())
}

func TestFromEnv_HashidStrategy(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"JWT_SECRET":       testSecret,
		"USER_ID_STRATEGY": "HashID",
	}))
	require.NoError(t, err)
	assert.Equal(t, UserIDHashid, cfg.UserIDs)
	assert.Len(t, cfg.UsersOptions(), 1)
}

func TestFromEnv_Production(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"JWT_SECRET":     testSecret,
		"NODE_ENV":       "production",
		"PORT":           "8080",
		"DB_DRIVER":      "postgres",
		"DATABASE_URL":   "postgres://natours@localhost/natours",
		"JWT_EXPIRES_IN": "36h",
		"JWT_AUDIENCE":   "web, mobile",
		"EMAIL_HOST":     "smtp.mailtrap.io",
		"EMAIL_USERNAME": "mailer",
		"EMAIL_PASSWORD": "secret",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.GetVerboseErrors())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 36*time.Hour, cfg.GetTokenExpiration())
	assert.Equal(t, []string{"web", "mobile"}, cfg.GetAudience())
	assert.True(t, cfg.SMTPEnabled())
	assert.Equal(t, "smtp.mailtrap.io", cfg.SMTPConfig().Host)
}

func TestFromEnv_AppEnvWins(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"JWT_SECRET": testSecret,
		"NODE_ENV":   "production",
		"APP_ENV":    "test",
	}))
	require.NoError(t, err)
	assert.Equal(t, EnvTest, cfg.Env)
}

func TestFromEnv_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "short secret", env: map[string]string{"JWT_SECRET": "short"}},
		{name: "bad port", env: map[string]string{"JWT_SECRET": testSecret, "PORT": "http"}},
		{name: "bad expiry", env: map[string]string{"JWT_SECRET": testSecret, "JWT_EXPIRES_IN": "ninety"}},
		{name: "bad driver", env: map[string]string{"JWT_SECRET": testSecret, "DB_DRIVER": "mysql"}},
		{name: "bad cost", env: map[string]string{"JWT_SECRET": testSecret, "BCRYPT_COST": "64"}},
		{name: "user without password", env: map[string]string{"JWT_SECRET": testSecret, "EMAIL_USERNAME": "mailer"}},
		{name: "bad id strategy", env: map[string]string{"JWT_SECRET": testSecret, "USER_ID_STRATEGY": "serial"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromEnv(envMap(tc.env))
			require.Error(t, err)

			var rich *goerrors.Error
			require.True(t, goerrors.As(err, &rich))
		})
	}
}

func TestFromEnv_ErrorNeverLeaksSecret(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{"JWT_SECRET": "tiny-secret-value"}))
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "tiny-secret-value"))
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("90d")
	require.NoError(t, err)
	assert.Equal(t, 2160*time.Hour, d)

	d, err = ParseDuration("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = ParseDuration("-1d")
	assert.Error(t, err)

	_, err = ParseDuration("d")
	assert.Error(t, err)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("JWT_SECRET="+testSecret+"\nPORT=4100\n"), 0o600))

	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("PORT")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, testSecret, cfg.GetSigningKey())
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.GetSigningKey())
}
