package identity

import "github.com/google/uuid"

// RequirePermission rejects principals that lack the given permission claim.
func RequirePermission(claims *SessionClaims, permission string) error {
	if claims == nil || !claims.Can(permission) {
		return withMetadata(ErrUnauthorized, map[string]any{
			"permission": permission,
		})
	}
	return nil
}

// SelfOrPermission allows a principal to act on its own account, or on any
// account when it holds the given permission claim.
func SelfOrPermission(claims *SessionClaims, targetID uuid.UUID, permission string) error {
	if claims != nil && claims.UserID() == targetID.String() {
		return nil
	}
	return RequirePermission(claims, permission)
}
