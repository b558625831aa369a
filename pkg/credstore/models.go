// Package credstore is the durable credential store shared between the
// authentication daemon and its external collaborators (registration
// web app, admin tooling). The daemon itself only reads user rows and
// appends auth actions; everything else is the collaborators' writer
// surface.
package credstore

import (
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when no row matches the username.
	ErrUserNotFound = errors.New("credstore: user not found")

	// ErrDuplicateUser is returned when creating a username that
	// already exists.
	ErrDuplicateUser = errors.New("credstore: user already exists")

	// ErrInvalidUsername is returned for usernames that violate the
	// protocol constraints (1-32 ASCII bytes).
	ErrInvalidUsername = errors.New("credstore: invalid username")
)

// Access is the role tag on a user row. The daemon only cares whether
// it equals AccessUnverified; the distinction between the other levels
// belongs to the web app and admin tooling.
type Access string

const (
	AccessOwner      Access = "owner"
	AccessMaster     Access = "master"
	AccessOp         Access = "op"
	AccessUser       Access = "user"
	AccessUnverified Access = "unverified"
)

// Valid reports whether a is one of the five known levels.
func (a Access) Valid() bool {
	switch a {
	case AccessOwner, AccessMaster, AccessOp, AccessUser, AccessUnverified:
		return true
	}
	return false
}

// User is one credential row. Salt and Verifier are always written
// together: a verifier is only meaningful against the salt it was
// derived with.
type User struct {
	ID        uint32 `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;size:32;not null"`
	Salt      []byte `gorm:"not null"`
	Verifier  []byte `gorm:"not null"`
	Access    Access `gorm:"size:16;not null;default:unverified"`
	Active    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanAuthenticate reports whether the daemon may start a handshake for
// this user. Callers collapse a false result into the same wire error
// as an unknown user so usernames cannot be enumerated.
func (u *User) CanAuthenticate() bool {
	return u.Active && u.Access != AccessUnverified
}

// AuthAction records one successful authentication, appended by the
// daemon after a verified proof.
type AuthAction struct {
	ID        uint32 `gorm:"primaryKey"`
	UserID    uint32 `gorm:"index;not null"`
	IP        string `gorm:"size:45"` // textual form, fits IPv6
	CreatedAt time.Time
}

// allModels feeds GORM's AutoMigrate.
func allModels() []any {
	return []any{&User{}, &AuthAction{}}
}
