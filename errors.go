package identity

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced alongside errors so API consumers can branch without
// string matching messages.
const (
	TextCodeInvalidCreds      = "INVALID_CREDENTIALS"
	TextCodeAccountBanned     = "ACCOUNT_BANNED"
	TextCodeAccountLocked     = "ACCOUNT_LOCKED"
	TextCodeEmailNotConfirmed = "EMAIL_NOT_CONFIRMED"
	TextCodeUserNotFound      = "USER_NOT_FOUND"
	TextCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	TextCodeRoleNotFound      = "ROLE_NOT_FOUND"
	TextCodeInvalidRoleName   = "INVALID_ROLE_NAME"
	TextCodeDuplicateRole     = "DUPLICATE_ROLE"
	TextCodeRoleHasUsers      = "ROLE_HAS_ASSIGNED_USERS"
	TextCodeRoleHasClaims     = "ROLE_HAS_CLAIMS"
	TextCodeDuplicateClaim    = "DUPLICATE_CLAIM"
	TextCodeClaimNotFound     = "CLAIM_NOT_FOUND"
	TextCodeAlreadyBanned     = "ALREADY_BANNED"
	TextCodeNotBanned         = "NOT_BANNED"
	TextCodeUnauthorized      = "UNAUTHORIZED"
	TextCodeInvalidToken      = "INVALID_TOKEN"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
)

// ErrInvalidCredentials covers both unknown email and wrong password so the
// failing factor is never revealed.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountBanned is returned for administratively banned accounts.
var ErrAccountBanned = goerrors.New("account is banned, contact support for details", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountBanned).
	WithCode(goerrors.CodeForbidden)

// ErrAccountLocked is returned during a temporary lockout window. Use
// LockedError to attach the remaining duration.
var ErrAccountLocked = goerrors.New("account is temporarily locked", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked)

// ErrEmailNotConfirmed is returned when the account has not completed email
// confirmation yet.
var ErrEmailNotConfirmed = goerrors.New("account email has not been confirmed", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotConfirmed).
	WithCode(goerrors.CodeForbidden)

var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrDuplicateEmail = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRoleNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrInvalidRoleName = goerrors.New("role name is not in the allowed set", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRoleName).
	WithCode(goerrors.CodeBadRequest)

var ErrDuplicateRole = goerrors.New("a role with that name already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateRole).
	WithCode(goerrors.CodeConflict)

// ErrRoleHasAssignedUsers rejects deletion of a role that users still hold.
// Deletes are rejected, never cascaded.
var ErrRoleHasAssignedUsers = goerrors.New("role has assigned users and cannot be deleted", goerrors.CategoryConflict).
	WithTextCode(TextCodeRoleHasUsers).
	WithCode(goerrors.CodeConflict)

// ErrRoleHasClaims rejects deletion of a role that still carries claims.
var ErrRoleHasClaims = goerrors.New("role has active claims and cannot be deleted", goerrors.CategoryConflict).
	WithTextCode(TextCodeRoleHasClaims).
	WithCode(goerrors.CodeConflict)

var ErrDuplicateClaim = goerrors.New("claim is already attached to the role", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateClaim).
	WithCode(goerrors.CodeConflict)

var ErrClaimNotFound = goerrors.New("claim is not attached to the role", goerrors.CategoryNotFound).
	WithTextCode(TextCodeClaimNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrAlreadyBanned = goerrors.New("account is already banned", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyBanned).
	WithCode(goerrors.CodeConflict)

var ErrNotBanned = goerrors.New("account is not banned", goerrors.CategoryConflict).
	WithTextCode(TextCodeNotBanned).
	WithCode(goerrors.CodeConflict)

// ErrUnauthorized is returned when the acting principal is missing or lacks
// the permission claim a privileged operation requires.
var ErrUnauthorized = goerrors.New("you are not allowed to perform this operation", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken covers bad signature, wrong algorithm, issuer or audience
// mismatch, and spent confirmation secrets.
var ErrInvalidToken = goerrors.New("token is invalid, expired, or already used", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

const lockoutRemainingKey = "retry_after_seconds"

// withMetadata attaches metadata to a clone of base. The package-level error
// values are shared; decorating them in place would leak metadata across
// unrelated requests.
func withMetadata(base *goerrors.Error, metadata map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	return clone.WithMetadata(metadata)
}

// LockedError returns ErrAccountLocked carrying the remaining lockout window.
// Each call produces an independent error value.
func LockedError(remaining time.Duration) *goerrors.Error {
	if remaining < 0 {
		remaining = 0
	}
	return withMetadata(ErrAccountLocked, map[string]any{
		lockoutRemainingKey: int64(remaining.Seconds()),
	})
}

// RemainingLockout extracts the lockout duration attached by LockedError.
func RemainingLockout(err error) (time.Duration, bool) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return 0, false
	}
	raw, ok := rich.Metadata[lockoutRemainingKey]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return time.Duration(v) * time.Second, true
	case int:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v) * time.Second, true
	default:
		return 0, false
	}
}

// IsNotFound reports whether err carries the NotFound category.
func IsNotFound(err error) bool {
	return goerrors.IsNotFound(err)
}

// IsConflict reports whether err carries the Conflict category.
func IsConflict(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryConflict
}

// IsLocked reports whether err is an account lockout.
func IsLocked(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == TextCodeAccountLocked
}
