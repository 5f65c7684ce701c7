package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kontoapp/konto/rest"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const LocalsKey = "user"

// Activation link and reset link lifetime.
const (
	ConfirmationTTL  = 7 * 24 * time.Hour
	PasswordResetTTL = 24 * time.Hour
)

var (
	ErrNotFound      = rest.NewError(fiber.StatusNotFound, "UserNotFoundError", "User not found")
	ErrAlreadyExists = rest.NewError(fiber.StatusConflict, "UserAlreadyExistsError", "User already exists")
	ErrInactive      = rest.NewError(fiber.StatusForbidden, "InactiveUserError", "User is inactive")

	ErrEmailAlreadyConfirmed = rest.NewError(fiber.StatusUnprocessableEntity,
		"EmailAlreadyConfirmedError", "Email already confirmed")
	ErrConfirmationExpired = rest.NewError(fiber.StatusUnprocessableEntity,
		"EmailConfirmationTokenExpiredError", "Email confirmation token expired")
	ErrCannotConfirmEmail = rest.NewError(fiber.StatusUnprocessableEntity,
		"ConfirmationEmailError", "Cannot confirm user email")

	ErrResetKeyNotFound = rest.NewError(fiber.StatusNotFound,
		"ResetPasswordTokenNotFoundError", "Reset password token not found")
	ErrResetKeyExpired = rest.NewError(fiber.StatusUnprocessableEntity,
		"ResetPasswordTokenExpiredError", "Reset password token expired")
)

// Model model representing database entity and rest json DTO.
type Model struct {
	bun.BaseModel `bun:"table:account"`

	Id           int64     `bun:",pk,autoincrement"                           json:"id"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"-"`
	Name         string    `bun:",notnull"                                    json:"name"`
	Email        string    `bun:",notnull,unique"                             json:"email"`
	PasswordHash string    `bun:",notnull"                                    json:"-"`
	AvatarUrl    string    `bun:""                                            json:"avatar_url"`

	// Active is flipped when the confirmation link is visited. Inactive
	// accounts cannot obtain tokens.
	Active         bool `bun:",notnull,default:false" json:"-"`
	ConfirmedEmail bool `bun:",notnull,default:false" json:"-"`

	ConfirmationKey  string       `bun:",notnull,unique" json:"-"`
	ResetKey         string       `bun:""                json:"-"`
	ResetRequestedAt sql.NullTime `bun:",nullzero"       json:"-"`
	LastLoginAt      sql.NullTime `bun:",nullzero"       json:"-"`
}

type Store struct {
	DB *bun.DB
}

func (s *Store) Register(ctx context.Context, name, email, passwordHash string) (*Model, error) {
	user := &Model{
		Name:            name,
		Email:           email,
		PasswordHash:    passwordHash,
		ConfirmationKey: uuid.New().String(),
	}
	_, err := s.DB.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		// 23505 unique_violation
		if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return user, nil
}

func (s *Store) ById(ctx context.Context, userId int64) (*Model, error) {
	return s.one(ctx, "id=?", userId)
}

func (s *Store) ByEmail(ctx context.Context, email string) (*Model, error) {
	return s.one(ctx, "email=?", email)
}

func (s *Store) ByConfirmationKey(ctx context.Context, key string) (*Model, error) {
	return s.one(ctx, "confirmation_key=?", key)
}

func (s *Store) ByResetKey(ctx context.Context, key string) (*Model, error) {
	return s.one(ctx, "reset_key=?", key)
}

func (s *Store) one(ctx context.Context, where string, arg interface{}) (*Model, error) {
	user := new(Model)
	err := s.DB.NewSelect().
		Model(user).
		Where(where, arg).
		Scan(ctx)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("select account: %w", err)
	}
}

func (s *Store) ConfirmEmail(ctx context.Context, user *Model) error {
	user.Active = true
	user.ConfirmedEmail = true
	_, err := s.DB.NewUpdate().
		Model(user).
		Column("active", "confirmed_email").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update account confirmation: %w", err)
	}
	return nil
}

func (s *Store) UpdateDetails(ctx context.Context, user *Model) error {
	_, err := s.DB.NewUpdate().
		Model(user).
		Column("name", "email", "avatar_url").
		WherePK().
		Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("update account details: %w", err)
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, userId int64, passwordHash string) error {
	_, err := s.DB.NewUpdate().
		Model((*Model)(nil)).
		Set("password_hash=?", passwordHash).
		Where("id=?", userId).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update account password: %w", err)
	}
	return nil
}

// BeginPasswordReset issues a fresh reset key, invalidating any previous one.
func (s *Store) BeginPasswordReset(ctx context.Context, user *Model) (string, error) {
	key := uuid.New().String()
	_, err := s.DB.NewUpdate().
		Model((*Model)(nil)).
		Set("reset_key=?", key).
		Set("reset_requested_at=?", time.Now().UTC()).
		Where("id=?", user.Id).
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("set reset key: %w", err)
	}
	return key, nil
}

// CompletePasswordReset stores the new hash and rotates the reset key so the
// same link cannot be used twice.
func (s *Store) CompletePasswordReset(ctx context.Context, user *Model, passwordHash string) error {
	_, err := s.DB.NewUpdate().
		Model((*Model)(nil)).
		Set("password_hash=?", passwordHash).
		Set("reset_key=?", uuid.New().String()).
		Set("reset_requested_at=NULL").
		Where("id=?", user.Id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete password reset: %w", err)
	}
	return nil
}

func (s *Store) RecordLogin(ctx context.Context, userId int64) error {
	_, err := s.DB.NewUpdate().
		Model((*Model)(nil)).
		Set("last_login_at=?", time.Now().UTC()).
		Where("id=?", userId).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userId int64) error {
	_, err := s.DB.NewDelete().
		Model((*Model)(nil)).
		Where("id=?", userId).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
