package natours

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// AuthResponse is returned by every flow that ends with a session
type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Auther owns credential checks and token issuance for the flows
type Auther struct {
	repo     RepositoryManager
	tokens   TokenService
	hasher   PasswordAuthenticator
	resets   *ResetTokenGenerator
	logger   Logger
	activity ActivitySink
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuther returns a new Auther
func NewAuther(repo RepositoryManager, tokens TokenService) *Auther {
	return &Auther{
		repo:     repo,
		tokens:   tokens,
		hasher:   defaultHasher,
		resets:   NewResetTokenGenerator(),
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithHasher sets the password hasher used to verify credentials
func (s *Auther) WithHasher(hasher PasswordAuthenticator) *Auther {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// WithClock sets the clock used for reset windows
func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
		s.resets.WithClock(now)
	}
	return s
}

// WithResetTokenGenerator replaces the reset token source
func (s *Auther) WithResetTokenGenerator(gen *ResetTokenGenerator) *Auther {
	if gen != nil {
		s.resets = gen
	}
	return s
}

// TokenService returns the TokenService instance used by this Auther
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// Repository returns the repository manager
func (s *Auther) Repository() RepositoryManager {
	return s.repo
}

// Login checks email and password and issues a token. Unknown emails and
// wrong passwords return the same error.
func (s *Auther) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.repo.Users().GetByEmail(ctx, email, WithPassword())
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			s.logger.Error("Login failed to load user", "error", err)
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
		}
		// keep the timing close to a real comparison
		_ = s.hasher.ComparePasswordAndHash(password, s.getDummyHash())
		s.loginFailed(ctx, "", email, "unknown_email")
		return nil, ErrIncorrectCredentials
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		s.loginFailed(ctx, user.GetID(), email, "wrong_password")
		return nil, ErrIncorrectCredentials
	}

	resp, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    user.GetID(),
		Email:     user.Email,
	})

	return resp, nil
}

// Authenticate resolves a bearer token to its active user. The token must
// verify, the user must still exist, and the password must not have
// changed after the token was issued.
func (s *Auther) Authenticate(ctx context.Context, raw string) (*User, *JWTClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, ErrNotLoggedIn
	}

	claims, err := s.tokens.Validate(raw)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.repo.Users().GetByID(ctx, claims.UserID())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil, ErrUserNoLongerExists
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load token user")
	}

	if user.ChangedPasswordAfter(claims.IssuedAt()) {
		return nil, nil, ErrPasswordRecentlyChanged
	}

	return user, claims, nil
}

// Authorize fails with ErrForbidden unless user holds one of roles
func (s *Auther) Authorize(ctx context.Context, user *User, roles ...UserRole) error {
	if user == nil {
		return ErrNotLoggedIn
	}

	if user.HasRole(roles...) {
		return nil
	}

	allowed := make([]string, 0, len(roles))
	for _, r := range roles {
		allowed = append(allowed, r.String())
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventAuthorizationRejected,
		UserID:    user.GetID(),
		Metadata: map[string]any{
			"role":    user.Role.String(),
			"allowed": strings.Join(allowed, ","),
		},
	})

	return ErrForbidden
}

// IssueToken mints a token for user. Every flow that signs a user in
// goes through here.
func (s *Auther) IssueToken(user *User) (*AuthResponse, error) {
	if user == nil {
		return nil, goerrors.New("user is required to issue a token", goerrors.CategoryInternal)
	}

	token, err := s.tokens.Generate(user.GetID())
	if err != nil {
		s.logger.Error("IssueToken failed to sign", "error", err)
		return nil, err
	}

	// never leak secrets to the response
	user.PasswordHash = ""
	user.PasswordResetToken = ""
	user.PasswordResetExpiresAt = nil

	return &AuthResponse{Token: token, User: user}, nil
}

func (s *Auther) loginFailed(ctx context.Context, userID, email, reason string) {
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Email:     email,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (s *Auther) getDummyHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.HashPassword("natours-dummy-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func (s *Auther) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
