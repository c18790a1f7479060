// Package config loads the runtime settings from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	natours "github.com/goliatone/go-natours"
	"github.com/goliatone/go-natours/mailer"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// User id strategies
const (
	UserIDUUID   = "uuid"
	UserIDHashid = "hashid"
)

const (
	DefaultPort          = 3000
	DefaultDriver        = natours.DialectSQLite
	DefaultDSN           = "file:natours.db?cache=shared"
	DefaultTokenLifetime = "90d"
	DefaultIssuer        = "natours"
	DefaultAudience      = "natours-api"
	DefaultPasswordCost  = 12
	DefaultEmailPort     = 2525

	// MinSigningKeyLength HS256 keys shorter than this are refused
	MinSigningKeyLength = 32
)

// Config holds every runtime setting. It satisfies natours.Config.
type Config struct {
	Env          string
	Port         int
	DBDriver     string
	DatabaseURL  string
	JWTSecret    string
	JWTExpiresIn time.Duration
	JWTIssuer    string
	JWTAudience  []string
	BcryptCost   int
	ContextKey   string
	TokenLookup  string
	AuthScheme   string
	ResetURLBase string
	// UserIDs selects how new user ids are generated, see UserIDUUID
	// and UserIDHashid
	UserIDs string
	Email   Email
}

// Email holds the SMTP settings
type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var _ natours.Config = (*Config)(nil)

// Getenv reads a variable by name
type Getenv func(key string) string

// Load reads the given .env files, or .env when none is given, and
// builds the configuration from the process environment. Missing files
// are ignored. Variables already set win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read env file").
				WithMetadata(map[string]any{"file": f})
		}
	}

	return FromEnv(os.Getenv)
}

// FromEnv builds and validates the configuration from getenv
func FromEnv(getenv Getenv) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Env:          strings.ToLower(env("APP_ENV", env("NODE_ENV", EnvDevelopment))),
		DBDriver:     strings.ToLower(env("DB_DRIVER", DefaultDriver)),
		DatabaseURL:  env("DATABASE_URL", DefaultDSN),
		JWTSecret:    getenv("JWT_SECRET"),
		JWTIssuer:    env("JWT_ISSUER", DefaultIssuer),
		JWTAudience:  splitList(env("JWT_AUDIENCE", DefaultAudience)),
		ContextKey:   env("AUTH_CONTEXT_KEY", natours.DefaultContextKey),
		TokenLookup:  env("AUTH_TOKEN_LOOKUP", "header:Authorization"),
		AuthScheme:   env("AUTH_SCHEME", "Bearer"),
		ResetURLBase: env("RESET_URL_BASE", ""),
		UserIDs:      strings.ToLower(env("USER_ID_STRATEGY", UserIDUUID)),
		Email: Email{
			Host:     env("EMAIL_HOST", ""),
			Username: env("EMAIL_USERNAME", ""),
			Password: getenv("EMAIL_PASSWORD"),
			From:     env("EMAIL_FROM", mailer.DefaultFrom),
		},
	}

	var err error
	if cfg.Port, err = intVar("PORT", env("PORT", strconv.Itoa(DefaultPort))); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = intVar("BCRYPT_COST", env("BCRYPT_COST", strconv.Itoa(DefaultPasswordCost))); err != nil {
		return nil, err
	}
	if cfg.Email.Port, err = intVar("EMAIL_PORT", env("EMAIL_PORT", strconv.Itoa(DefaultEmailPort))); err != nil {
		return nil, err
	}
	if cfg.JWTExpiresIn, err = ParseDuration(env("JWT_EXPIRES_IN", DefaultTokenLifetime)); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid JWT_EXPIRES_IN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Env, validation.Required, validation.In(EnvDevelopment, EnvProduction, EnvTest)),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DBDriver, validation.Required, validation.In(natours.DialectSQLite, natours.DialectPostgres)),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.JWTSecret,
			validation.Required.Error("JWT_SECRET is required"),
			validation.RuneLength(MinSigningKeyLength, 0).Error(fmt.Sprintf("JWT_SECRET must be at least %d characters", MinSigningKeyLength)),
		),
		validation.Field(&c.JWTExpiresIn, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(4), validation.Max(31)),
		validation.Field(&c.UserIDs, validation.Required, validation.In(UserIDUUID, UserIDHashid)),
		validation.Field(&c.Email),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}
	return nil
}

// Validate checks the SMTP settings when a host is configured
func (e Email) Validate() error {
	password := []validation.Rule{}
	if e.Username != "" {
		password = append(password, validation.Required.Error("EMAIL_PASSWORD is required with EMAIL_USERNAME"))
	}

	return validation.ValidateStruct(&e,
		validation.Field(&e.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&e.From, validation.Required),
		validation.Field(&e.Password, password...),
	)
}

// SMTPEnabled is true when mail should go through SMTP
func (c *Config) SMTPEnabled() bool {
	return c.Email.Host != ""
}

// SMTPConfig returns the mailer settings
func (c *Config) SMTPConfig() mailer.SMTPConfig {
	return mailer.SMTPConfig{
		Host:     c.Email.Host,
		Port:     c.Email.Port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.From,
	}
}

// UsersOptions returns the users repository options implied by the
// settings
func (c *Config) UsersOptions() []natours.UsersOption {
	opts := []natours.UsersOption{}
	if c.UserIDs == UserIDHashid {
		opts = append(opts, natours.WithHashidIDs())
	}
	return opts
}

// IsProduction reports whether the app runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Address is the listen address
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) GetSigningKey() string {
	return c.JWTSecret
}

func (c *Config) GetContextKey() string {
	return c.ContextKey
}

func (c *Config) GetTokenExpiration() time.Duration {
	return c.JWTExpiresIn
}

func (c *Config) GetTokenLookup() string {
	return c.TokenLookup
}

func (c *Config) GetAuthScheme() string {
	return c.AuthScheme
}

func (c *Config) GetIssuer() string {
	return c.JWTIssuer
}

func (c *Config) GetAudience() []string {
	return c.JWTAudience
}

func (c *Config) GetPasswordCost() int {
	return c.BcryptCost
}

// GetVerboseErrors exposes error details outside production
func (c *Config) GetVerboseErrors() bool {
	return !c.IsProduction()
}

// ParseDuration accepts Go durations plus a day suffix, e.g. "90d"
func ParseDuration(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if days, ok := strings.CutSuffix(expr, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day duration %q", expr)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(expr)
}

func intVar(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid "+name).
			WithMetadata(map[string]any{name: raw})
	}
	return n, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
