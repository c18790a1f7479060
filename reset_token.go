package natours

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// ResetTokenLifetime is how long a password reset token stays valid
	ResetTokenLifetime = 10 * time.Minute
	// ResetTokenBytes is the amount of entropy in a reset token
	ResetTokenBytes = 32
)

// ResetToken is a freshly generated password reset secret. Plaintext is
// only ever handed to the user, Hash and ExpiresAt are what we store.
type ResetToken struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// ResetTokenGenerator produces single use password reset tokens
type ResetTokenGenerator struct {
	random io.Reader
	now    func() time.Time
}

// NewResetTokenGenerator creates a generator backed by crypto/rand
func NewResetTokenGenerator() *ResetTokenGenerator {
	return &ResetTokenGenerator{
		random: rand.Reader,
		now:    time.Now,
	}
}

// WithClock sets the clock used to compute expiry
func (g *ResetTokenGenerator) WithClock(now func() time.Time) *ResetTokenGenerator {
	if now != nil {
		g.now = now
	}
	return g
}

// WithRandom replaces the entropy source
func (g *ResetTokenGenerator) WithRandom(r io.Reader) *ResetTokenGenerator {
	if r != nil {
		g.random = r
	}
	return g
}

// Generate creates a new token
func (g *ResetTokenGenerator) Generate() (*ResetToken, error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate password reset token")
	}

	plaintext := hex.EncodeToString(buf)

	return &ResetToken{
		Plaintext: plaintext,
		Hash:      HashResetToken(plaintext),
		ExpiresAt: g.now().UTC().Add(ResetTokenLifetime),
	}, nil
}

// HashResetToken returns the stored form of a reset token
func HashResetToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
