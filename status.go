package identity

import "time"

// AccountStatus is the derived lifecycle state of an account. It is computed
// from persisted fields rather than stored, so a lockout reverts to active on
// its own once the window passes.
type AccountStatus string

const (
	StatusUnconfirmed AccountStatus = "unconfirmed"
	StatusActive      AccountStatus = "active"
	StatusLocked      AccountStatus = "locked"
	StatusBanned      AccountStatus = "banned"
)

// AccountStatusAt derives the account status at the given instant. The
// precedence (banned, then locked, then unconfirmed) matches the login gate
// order: a banned account reports banned even while a lockout window or an
// unconfirmed email would also apply.
func (u *User) AccountStatusAt(now time.Time) AccountStatus {
	if u.Banned {
		return StatusBanned
	}
	if u.LockoutEnd != nil && u.LockoutEnd.After(now) {
		return StatusLocked
	}
	if !u.EmailConfirmed {
		return StatusUnconfirmed
	}
	return StatusActive
}

// statusAuthError maps a derived status onto the error a login attempt gets.
// Active accounts return nil.
func statusAuthError(u *User, now time.Time) error {
	switch u.AccountStatusAt(now) {
	case StatusBanned:
		return ErrAccountBanned
	case StatusLocked:
		return LockedError(u.LockoutEnd.Sub(now))
	case StatusUnconfirmed:
		return ErrEmailNotConfirmed
	default:
		return nil
	}
}
