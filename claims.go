package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the decoded body of a session token: subject id,
// issued-at, a unique token id, email, the user's role names, and the
// deduplicated union of all claims carried by those roles.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []Claim  `json:"permissions,omitempty"`
}

// UserID returns the token subject.
func (c *SessionClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the unique token id (jti).
func (c *SessionClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// HasRole checks if the principal holds a specific role.
func (c *SessionClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasClaim checks for an exact (type, value) claim.
func (c *SessionClaims) HasClaim(claim Claim) bool {
	for _, p := range c.Permissions {
		if p == claim {
			return true
		}
	}
	return false
}

// Can checks for a permission claim value, e.g. Can("user.ban").
func (c *SessionClaims) Can(permission string) bool {
	return c.HasClaim(PermissionClaim(permission))
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// MergeClaims flattens the claims of the given roles into one collection
// deduplicated by (type, value). The first occurrence wins, so the result is
// stable for a fixed role order; callers pass roles in store iteration order
// to keep minted tokens deterministic.
func MergeClaims(roles ...*Role) []Claim {
	seen := make(map[string]struct{})
	merged := make([]Claim, 0)

	for _, role := range roles {
		if role == nil {
			continue
		}
		for _, claim := range role.Claims {
			key := claim.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, claim)
		}
	}

	return merged
}

// RoleNames projects role records onto their names, preserving order.
func RoleNames(roles []*Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		names = append(names, role.Name)
	}
	return names
}
