package natours

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-natours/apifeatures"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordChangedBackdate moves password_changed_at one tick of the token
// clock into the past. Token iat values are decoded from float seconds
// and may come back up to a millisecond early.
const PasswordChangedBackdate = time.Millisecond

// MinPasswordLength is the shortest password we accept
const MinPasswordLength = 8

// UserListFields are the user fields exposed to listing queries
var UserListFields = map[string]string{
	"id":        "id",
	"name":      "name",
	"email":     "email",
	"photo":     "photo",
	"role":      "role",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

// CreateUserInput is the complete set of fields accepted when creating
// a user. Anything else a caller has cannot reach the record.
type CreateUserInput struct {
	Name              string
	Email             string
	Password          string
	PasswordConfirm   string
	PasswordChangedAt *time.Time
	Role              UserRole
}

// Validate will validate the input
func (in CreateUserInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required.Error("Please tell us your name!"), validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required.Error("Please provide your email"), is.Email),
		validation.Field(&in.Password, validation.Required.Error("Please provide a password"), validation.Length(MinPasswordLength, 128)),
		validation.Field(&in.PasswordConfirm, validation.Required.Error("Please confirm your password")),
		validation.Field(&in.Role, validation.In(roleValues()...)),
	)
}

// UpdateProfileInput holds the fields a user may change about themselves
type UpdateProfileInput struct {
	Name  string
	Email string
}

// Validate will validate the input
func (in UpdateProfileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Length(1, 200)),
		validation.Field(&in.Email, is.Email),
	)
}

// UserReadOption tweaks default user reads
type UserReadOption func(*userReadOptions)

type userReadOptions struct {
	withPassword    bool
	includeInactive bool
}

// WithPassword loads the password hash, which default reads omit
func WithPassword() UserReadOption {
	return func(o *userReadOptions) {
		o.withPassword = true
	}
}

// IncludeInactive also returns deactivated accounts
func IncludeInactive() UserReadOption {
	return func(o *userReadOptions) {
		o.includeInactive = true
	}
}

// PasswordCondition narrows a password write. When the condition no
// longer holds the write matches no row and fails as not found.
type PasswordCondition func(q *bun.UpdateQuery) *bun.UpdateQuery

// WhileResetTokenValid only writes while the stored reset token still
// matches tokenHash and has not expired at now
func WhileResetTokenValid(tokenHash string, now time.Time) PasswordCondition {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Where("password_reset_token = ?", tokenHash).
			Where("password_reset_expires_at > ?", now.UTC())
	}
}

// WhilePasswordHash only writes while the stored hash is still hash
func WhilePasswordHash(hash string) PasswordCondition {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("password_hash = ?", hash)
	}
}

// Users is the access layer for user records. Passwords are hashed on
// every write, and default reads skip the password hash and inactive
// accounts. Prepare and HashPassword run the slow hashing step so
// callers can keep it out of their transactions.
type Users interface {
	GetByID(ctx context.Context, id string, opts ...UserReadOption) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id string, opts ...UserReadOption) (*User, error)
	GetByEmail(ctx context.Context, email string, opts ...UserReadOption) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string, opts ...UserReadOption) (*User, error)
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error)
	GetByResetTokenTx(ctx context.Context, tx bun.IDB, tokenHash string, now time.Time) (*User, error)

	Prepare(input CreateUserInput) (*User, error)
	HashPassword(password, confirm string) (string, error)

	Create(ctx context.Context, input CreateUserInput) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, input CreateUserInput) (*User, error)
	InsertTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	SetPassword(ctx context.Context, user *User, password, confirm string) (*User, error)
	SetPasswordTx(ctx context.Context, tx bun.IDB, user *User, password, confirm string) (*User, error)
	SetPasswordHashTx(ctx context.Context, tx bun.IDB, user *User, hash string, conds ...PasswordCondition) (*User, error)
	SaveResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	SaveResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id uuid.UUID) error
	ClearResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	UpdateProfile(ctx context.Context, id uuid.UUID, input UpdateProfileInput) (*User, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, input UpdateProfileInput) (*User, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	List(ctx context.Context, query url.Values) ([]*User, error)
}

type users struct {
	repo      repository.Repository[*User]
	db        *bun.DB
	hasher    PasswordAuthenticator
	now       func() time.Time
	useHashid bool
}

var _ Users = (*users)(nil)

// UsersOption configures the users repository
type UsersOption func(*users)

// WithUsersHasher sets the password hasher used on writes
func WithUsersHasher(h PasswordAuthenticator) UsersOption {
	return func(u *users) {
		if h != nil {
			u.hasher = h
		}
	}
}

// WithUsersClock sets the clock used for timestamps
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

// WithHashidIDs derives user ids from the email address instead of
// random uuids
func WithHashidIDs() UsersOption {
	return func(u *users) {
		u.useHashid = true
	}
}

// NewUsersRepository creates the users access layer
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	u := &users{
		repo:   repo,
		db:     db,
		hasher: defaultHasher,
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}

	return u
}

func (a *users) GetByID(ctx context.Context, id string, opts ...UserReadOption) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id, opts...)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id string, opts ...UserReadOption) (*User, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id})
	}

	record := &User{}
	err = a.selectUser(tx, record, opts...).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)

	return a.found(record, err, "id", id)
}

func (a *users) GetByEmail(ctx context.Context, email string, opts ...UserReadOption) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email, opts...)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string, opts ...UserReadOption) (*User, error) {
	email = normalizeEmail(email)

	record := &User{}
	err := a.selectUser(tx, record, opts...).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)

	return a.found(record, err, "email", email)
}

func (a *users) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error) {
	return a.GetByResetTokenTx(ctx, a.db, tokenHash, now)
}

// GetByResetTokenTx matches the token hash and the expiry in a single
// query so callers cannot tell which condition failed.
func (a *users) GetByResetTokenTx(ctx context.Context, tx bun.IDB, tokenHash string, now time.Time) (*User, error) {
	if tokenHash == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &User{}
	err := a.selectUser(tx, record).
		Where("?TableAlias.password_reset_token = ?", tokenHash).
		Where("?TableAlias.password_reset_expires_at > ?", now.UTC()).
		Limit(1).
		Scan(ctx)

	return a.found(record, err, "password_reset_token", "[redacted]")
}

func (a *users) Create(ctx context.Context, input CreateUserInput) (*User, error) {
	return a.CreateTx(ctx, a.db, input)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, input CreateUserInput) (*User, error) {
	record, err := a.Prepare(input)
	if err != nil {
		return nil, err
	}
	return a.InsertTx(ctx, tx, record)
}

// Prepare runs the create pipeline without touching the database:
// normalize, validate, check the confirmation, hash, apply defaults.
func (a *users) Prepare(input CreateUserInput) (*User, error) {
	return a.prepareUserForCreate(input)
}

// InsertTx stores a record built by Prepare
func (a *users) InsertTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	if record == nil || record.PasswordHash == "" {
		return nil, goerrors.New("prepared user record is required", goerrors.CategoryInternal)
	}

	created, err := a.repo.CreateTx(ctx, tx, record)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, NewDuplicateFieldError("email", record.Email)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
	}

	return created, nil
}

func (a *users) HashPassword(password, confirm string) (string, error) {
	return a.hashPassword(password, confirm)
}

func (a *users) SetPassword(ctx context.Context, user *User, password, confirm string) (*User, error) {
	return a.SetPasswordTx(ctx, a.db, user, password, confirm)
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, user *User, password, confirm string) (*User, error) {
	hash, err := a.hashPassword(password, confirm)
	if err != nil {
		return nil, err
	}
	return a.SetPasswordHashTx(ctx, tx, user, hash)
}

// SetPasswordHashTx stores an already hashed password, stamps
// password_changed_at and closes any open reset window in one
// statement. The update only applies while every condition holds.
func (a *users) SetPasswordHashTx(ctx context.Context, tx bun.IDB, user *User, hash string, conds ...PasswordCondition) (*User, error) {
	if user == nil || user.ID == uuid.Nil {
		return nil, goerrors.New("user is required to set a password", goerrors.CategoryInternal)
	}
	if hash == "" {
		return nil, goerrors.New("password hash must not be empty", goerrors.CategoryInternal)
	}

	now := a.now().UTC()
	changedAt := now.Truncate(time.Millisecond).Add(-PasswordChangedBackdate)

	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", hash).
		Set("password_changed_at = ?", changedAt).
		Set("password_reset_token = NULL").
		Set("password_reset_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", user.ID)

	for _, cond := range conds {
		if cond != nil {
			q = cond(q)
		}
	}

	res, err := q.Exec(ctx)
	if err := affectedOne(res, err, user.ID); err != nil {
		return nil, err
	}

	user.PasswordHash = hash
	user.PasswordChangedAt = &changedAt
	user.PasswordResetToken = ""
	user.PasswordResetExpiresAt = nil
	user.UpdatedAt = &now

	return user, nil
}

func (a *users) SaveResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return a.SaveResetTokenTx(ctx, a.db, id, tokenHash, expiresAt)
}

// SaveResetTokenTx stores only the reset pair, no other validation runs
func (a *users) SaveResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	if tokenHash == "" {
		return goerrors.New("reset token hash must not be empty", goerrors.CategoryInternal)
	}

	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_reset_token = ?", tokenHash).
		Set("password_reset_expires_at = ?", expiresAt.UTC()).
		Where("id = ?", id).
		Exec(ctx)

	return affectedOne(res, err, id)
}

func (a *users) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	return a.ClearResetTokenTx(ctx, a.db, id)
}

func (a *users) ClearResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_reset_token = NULL").
		Set("password_reset_expires_at = NULL").
		Where("id = ?", id).
		Exec(ctx)

	return affectedOne(res, err, id)
}

func (a *users) UpdateProfile(ctx context.Context, id uuid.UUID, input UpdateProfileInput) (*User, error) {
	return a.UpdateProfileTx(ctx, a.db, id, input)
}

func (a *users) UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, input UpdateProfileInput) (*User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)

	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Where("active = ?", true)

	if input.Name != "" {
		q = q.Set("name = ?", input.Name)
	}
	if input.Email != "" {
		q = q.Set("email = ?", input.Email)
	}

	res, err := q.Exec(ctx)
	if err != nil && IsUniqueViolation(err) {
		return nil, NewDuplicateFieldError("email", input.Email)
	}
	if err := affectedOne(res, err, id); err != nil {
		return nil, err
	}

	return a.GetByIDTx(ctx, tx, id.String())
}

func (a *users) Deactivate(ctx context.Context, id uuid.UUID) error {
	return a.DeactivateTx(ctx, a.db, id)
}

func (a *users) DeactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)

	return affectedOne(res, err, id)
}

// List returns active users matching the listing query string
func (a *users) List(ctx context.Context, query url.Values) ([]*User, error) {
	features, err := apifeatures.Parse(query, apifeatures.WithFields(UserListFields))
	if err != nil {
		return nil, err
	}

	records := []*User{}
	_, err = features.Find(ctx, func() *bun.SelectQuery {
		return a.db.NewSelect().
			Model(&records).
			Where("?TableAlias.active = ?", true)
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (a *users) selectUser(tx bun.IDB, record *User, opts ...UserReadOption) *bun.SelectQuery {
	o := &userReadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	q := tx.NewSelect().Model(record)

	if !o.withPassword {
		q = q.ExcludeColumn("password_hash")
	}

	if !o.includeInactive {
		q = q.Where("?TableAlias.active = ?", true)
	}

	return q
}

func (a *users) found(record *User, err error, column, value string) (*User, error) {
	if err == nil {
		return record, nil
	}

	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{column: value})
	}

	return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
}

// prepareUserForCreate runs the create pipeline: normalize, validate,
// check the confirmation, hash, apply defaults. The confirmation value
// is not carried into the record.
func (a *users) prepareUserForCreate(input CreateUserInput) (*User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)

	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	hash, err := a.hashPassword(input.Password, input.PasswordConfirm)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	record := &User{
		Name:              input.Name,
		Email:             input.Email,
		Role:              input.Role,
		PasswordHash:      hash,
		PasswordChangedAt: input.PasswordChangedAt,
		Photo:             DefaultUserPhoto,
		Active:            true,
		CreatedAt:         &now,
		UpdatedAt:         &now,
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	if a.useHashid {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
		}
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	return record, nil
}

func (a *users) hashPassword(password, confirm string) (string, error) {
	if err := validatePasswordConfirm(password, confirm); err != nil {
		return "", err
	}

	hash, err := a.hasher.HashPassword(password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return "", richErr
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	return hash, nil
}

// validatePasswordConfirm checks a password against its confirmation
func validatePasswordConfirm(password, confirm string) error {
	if password == "" {
		return ErrNoEmptyString
	}
	if len([]rune(password)) < MinPasswordLength {
		return goerrors.New("Invalid input data. password: the length must be no less than 8.", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeValidationFailed)
	}
	if password != confirm {
		return ErrPasswordConfirmMismatch
	}
	return nil
}

func affectedOne(res interface{ RowsAffected() (int64, error) }, err error, id uuid.UUID) error {
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	if n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
