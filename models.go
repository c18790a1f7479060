package natours

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultUserPhoto is assigned to accounts created without a photo
const DefaultUserPhoto = "default.jpg"

// User is the user model. Password and reset fields never leave the
// process through JSON.
type User struct {
	bun.BaseModel          `bun:"table:users,alias:usr"`
	ID                     uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Name                   string     `bun:"name,notnull" json:"name"`
	Email                  string     `bun:"email,notnull,unique" json:"email"`
	Photo                  string     `bun:"photo" json:"photo,omitempty"`
	Role                   UserRole   `bun:"role,notnull" json:"role"`
	PasswordHash           string     `bun:"password_hash,notnull" json:"-"`
	PasswordChangedAt      *time.Time `bun:"password_changed_at,nullzero" json:"-"`
	PasswordResetToken     string     `bun:"password_reset_token,nullzero" json:"-"`
	PasswordResetExpiresAt *time.Time `bun:"password_reset_expires_at,nullzero" json:"-"`
	Active                 bool       `bun:"active,notnull" json:"-"`
	CreatedAt              *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt              *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// GetID returns the user id as a string
func (u *User) GetID() string {
	if u == nil {
		return ""
	}
	return u.ID.String()
}

// HasRole reports whether the user holds one of roles
func (u *User) HasRole(roles ...UserRole) bool {
	if u == nil {
		return false
	}
	return u.Role.In(roles...)
}

// ChangedPasswordAfter reports whether the password was changed after
// a token issued at issuedAt. Token timestamps carry millisecond
// precision, the same as password_changed_at.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u == nil || u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Before(*u.PasswordChangedAt)
}

// HasOpenReset reports whether a reset window is currently recorded
func (u *User) HasOpenReset() bool {
	return u != nil && u.PasswordResetToken != "" && u.PasswordResetExpiresAt != nil
}
