package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// bannedLockoutEnd is the LockoutEnd sentinel applied while an account is
// banned. Unban clears it back to nil.
var bannedLockoutEnd = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email             string     `bun:"email,notnull,unique" json:"email,omitempty"`
	FirstName         string     `bun:"first_name" json:"first_name,omitempty"`
	LastName          string     `bun:"last_name" json:"last_name,omitempty"`
	Phone             string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash      string     `bun:"password_hash" json:"-"`
	EmailConfirmed    bool       `bun:"is_email_confirmed" json:"is_email_confirmed,omitempty"`
	Banned            bool       `bun:"is_banned" json:"is_banned,omitempty"`
	FailedLogins      int        `bun:"failed_logins" json:"failed_logins,omitempty"`
	LockoutEnd        *time.Time `bun:"lockout_end,nullzero" json:"lockout_end,omitempty"`
	LockoutMultiplier int        `bun:"lockout_multiplier" json:"lockout_multiplier,omitempty"`
	SecurityStamp     string     `bun:"security_stamp" json:"-"`
	RefreshSecret     string     `bun:"refresh_secret" json:"-"`
	RefreshExpiresAt  *time.Time `bun:"refresh_expires_at,nullzero" json:"-"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureDefaults normalizes zero values loaded from stores that predate the
// lockout columns. The multiplier invariant is >= 1.
func (u *User) EnsureDefaults() {
	if u == nil {
		return
	}
	if u.LockoutMultiplier < 1 {
		u.LockoutMultiplier = 1
	}
	u.Email = NormalizeEmail(u.Email)
}

// FullName joins first and last name for display purposes.
func (u *User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// NormalizeEmail lowercases and trims an email address. Email uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Role is a named permission container. Name must belong to the allowed set
// enforced by Registry.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`

	ID          uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name        string     `bun:"name,notnull,unique" json:"name,omitempty"`
	Description string     `bun:"description" json:"description,omitempty"`
	Claims      []Claim    `bun:"-" json:"claims,omitempty"`
	CreatedAt   *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt   *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Claim is a (type, value) capability pair attached to a role or aggregated
// into a session token.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Key returns the dedup key for claim merging.
func (c Claim) Key() string {
	return c.Type + ":" + c.Value
}

func (c Claim) String() string {
	return c.Key()
}

// AuthToken is the successful outcome of login or email confirmation.
type AuthToken struct {
	AccessToken   string     `json:"access_token"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RefreshSecret string     `json:"refresh_secret,omitempty"`
	RefreshExpiry *time.Time `json:"refresh_expiry,omitempty"`
}
