package credstore

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/outpost-games/authd/internal/srp"
)

// NormalizeUsername lowercases a username and validates the protocol
// constraints: 1-32 printable ASCII bytes, no NUL. Usernames are
// matched case-insensitively on input but stored lowercase.
func NormalizeUsername(name string) (string, error) {
	if len(name) == 0 || len(name) > 32 {
		return "", ErrInvalidUsername
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return "", ErrInvalidUsername
		}
	}
	return strings.ToLower(name), nil
}

// FindUserByName returns the row for a username, matched
// case-insensitively. This is the daemon's hot read path.
func (s *GORMStore) FindUserByName(ctx context.Context, name string) (*User, error) {
	lower, err := NormalizeUsername(name)
	if err != nil {
		// Anything unrepresentable cannot be a stored user.
		return nil, ErrUserNotFound
	}

	var user User
	if err := s.db.WithContext(ctx).Where("username = ?", lower).First(&user).Error; err != nil {
		return nil, convertNotFoundError(err)
	}
	return &user, nil
}

// CreateUser inserts a new user with credentials derived from the
// password. New users start at the given access level; pass
// AccessUnverified and Active=false for web-app style enrollment.
func (s *GORMStore) CreateUser(ctx context.Context, name, password string, access Access, active bool) (*User, error) {
	lower, err := NormalizeUsername(name)
	if err != nil {
		return nil, err
	}
	if !access.Valid() {
		return nil, fmt.Errorf("credstore: unknown access level %q", access)
	}

	salt, err := srp.NewSalt()
	if err != nil {
		return nil, err
	}

	user := &User{
		Username: lower,
		Salt:     salt,
		Verifier: srp.ComputeVerifier(salt, []byte(lower), []byte(password)),
		Access:   access,
		Active:   active,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("credstore: create user: %w", err)
	}
	return user, nil
}

// SetPassword rederives the user's credentials from a new password.
// Salt and verifier are replaced together; a verifier against a stale
// salt would lock the user out.
func (s *GORMStore) SetPassword(ctx context.Context, name, password string) error {
	lower, err := NormalizeUsername(name)
	if err != nil {
		return err
	}

	salt, err := srp.NewSalt()
	if err != nil {
		return err
	}
	verifier := srp.ComputeVerifier(salt, []byte(lower), []byte(password))

	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", lower).
		Updates(map[string]any{
			"salt":     salt,
			"verifier": verifier,
		})
	if result.Error != nil {
		return fmt.Errorf("credstore: set password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetAccess changes a user's access level.
func (s *GORMStore) SetAccess(ctx context.Context, name string, access Access) error {
	if !access.Valid() {
		return fmt.Errorf("credstore: unknown access level %q", access)
	}
	return s.updateField(ctx, name, "access", access)
}

// SetActive flips the active flag.
func (s *GORMStore) SetActive(ctx context.Context, name string, active bool) error {
	return s.updateField(ctx, name, "active", active)
}

// ListUsers returns all users ordered by name. Admin tooling only.
func (s *GORMStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("credstore: list users: %w", err)
	}
	return users, nil
}

// DeleteUser removes a user and their recorded auth actions.
func (s *GORMStore) DeleteUser(ctx context.Context, name string) error {
	lower, err := NormalizeUsername(name)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.Where("username = ?", lower).First(&user).Error; err != nil {
			return convertNotFoundError(err)
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&AuthAction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
}

func (s *GORMStore) updateField(ctx context.Context, name, column string, value any) error {
	lower, err := NormalizeUsername(name)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", lower).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("credstore: update %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
