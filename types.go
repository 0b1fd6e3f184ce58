package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds identity options supplied by the host application
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	// GetTokenExpiration is the session token TTL in minutes.
	GetTokenExpiration() int
	// GetRefreshExpiration is the refresh secret TTL in days.
	GetRefreshExpiration() int
	// GetConfirmationURL is the base address confirmation callbacks point at.
	GetConfirmationURL() string
	GetMaxLoginAttempts() int
	GetLockoutWindow() time.Duration
}

// CredentialStore is durable storage of user records, keyed by id and
// unique email. Implementations must treat email lookups as
// case-insensitive and report missing records with a NotFound error.
type CredentialStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, user *User) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RoleStore is durable storage of roles, role claims, and the user/role
// assignment join. Invariants (allowed names, claim uniqueness, delete
// guards) are enforced by Registry, not here.
type RoleStore interface {
	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	CreateRole(ctx context.Context, role *Role) (*Role, error)
	UpdateRole(ctx context.Context, role *Role) (*Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error

	AddClaim(ctx context.Context, roleID uuid.UUID, claim Claim) error
	RemoveClaim(ctx context.Context, roleID uuid.UUID, claim Claim) error
	ListClaims(ctx context.Context, roleID uuid.UUID) ([]Claim, error)
	RolesHavingClaim(ctx context.Context, claim Claim) ([]*Role, error)

	AssignUser(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveUser(ctx context.Context, userID, roleID uuid.UUID) error
	UserRoles(ctx context.Context, userID uuid.UUID) ([]*Role, error)
	UsersInRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)
}

// Notification is an outbound message handed to the Notifier.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier dispatches account notifications (e.g. confirmation mail).
// Delivery transport and templating live with the host.
type Notifier interface {
	Send(ctx context.Context, msg Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Notification) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, msg Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
