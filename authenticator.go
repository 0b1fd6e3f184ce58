package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Default lockout policy, used when Config returns zero values.
const (
	defaultMaxLoginAttempts = 3
	defaultLockoutWindow    = 5 * time.Minute
)

// Authenticator runs the login state machine against the credential store:
// credential check, ban/lockout/confirmation gating, and progressive lockout
// backoff. It holds no state of its own; every check re-reads the store.
type Authenticator struct {
	users        CredentialStore
	tokens       TokenService
	maxAttempts  int
	lockoutBase  time.Duration
	refreshTTL   time.Duration
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// AuthenticatorOption customizes Authenticator construction.
type AuthenticatorOption func(*Authenticator)

// WithAuthClock injects a custom clock (useful for tests).
func WithAuthClock(clock func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithAuthLogger overrides the logger.
func WithAuthLogger(logger Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuthActivitySink configures an ActivitySink for emitting auth events.
func WithAuthActivitySink(sink ActivitySink) AuthenticatorOption {
	return func(a *Authenticator) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users CredentialStore, tokens TokenService, cfg Config, opts ...AuthenticatorOption) *Authenticator {
	maxAttempts := cfg.GetMaxLoginAttempts()
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxLoginAttempts
	}

	lockoutBase := cfg.GetLockoutWindow()
	if lockoutBase <= 0 {
		lockoutBase = defaultLockoutWindow
	}

	a := &Authenticator{
		users:        users,
		tokens:       tokens,
		maxAttempts:  maxAttempts,
		lockoutBase:  lockoutBase,
		refreshTTL:   time.Duration(cfg.GetRefreshExpiration()) * 24 * time.Hour,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Login authenticates an email/password pair. Gating order: unknown email
// reports invalid credentials (never revealing which factor failed), then
// ban, then an open lockout window, then missing email confirmation, and
// only then the password itself.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*AuthToken, error) {
	email = NormalizeEmail(email)

	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			a.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
				"email":  email,
				"reason": "unknown email",
			})
			return nil, ErrInvalidCredentials
		}
		a.logger.Error("login failed to retrieve user: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during login")
	}

	user.EnsureDefaults()
	now := a.now()

	if err := statusAuthError(user, now); err != nil {
		a.logger.Warn("login blocked for user %s, account status %s", user.ID, user.AccountStatusAt(now))
		a.emitAuthEvent(ctx, ActivityEventLoginFailure, actorForUser(user), user.ID.String(), map[string]any{
			"email":  email,
			"status": string(user.AccountStatusAt(now)),
		})
		return nil, err
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			a.logger.Error("login password comparison failed: %v", err)
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify password")
		}
		return nil, a.trackFailedLogin(ctx, user, now)
	}

	return a.establishSession(ctx, user, now)
}

// Refresh exchanges a stored refresh secret for a fresh session token. The
// secret is single-use: a successful exchange rotates it.
func (a *Authenticator) Refresh(ctx context.Context, userID uuid.UUID, secret string) (*AuthToken, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during refresh")
	}

	user.EnsureDefaults()
	now := a.now()

	if err := statusAuthError(user, now); err != nil {
		return nil, err
	}

	if user.RefreshSecret == "" || user.RefreshExpiresAt == nil || !user.RefreshExpiresAt.After(now) {
		return nil, ErrInvalidToken
	}

	if subtle.ConstantTimeCompare([]byte(user.RefreshSecret), []byte(secret)) != 1 {
		return nil, ErrInvalidToken
	}

	return a.establishSession(ctx, user, now)
}

// SessionFromToken validates a raw session token and returns its claims.
func (a *Authenticator) SessionFromToken(raw string) (*SessionClaims, error) {
	claims, err := a.tokens.Validate(raw)
	if err != nil {
		a.logger.Error("session token validation failed: %v", err)
		return nil, err
	}
	return claims, nil
}

// establishSession resets lockout state, rotates the refresh secret, and
// mints the session token for a successfully verified user.
func (a *Authenticator) establishSession(ctx context.Context, user *User, now time.Time) (*AuthToken, error) {
	if user.LockoutMultiplier > 1 {
		user.LockoutMultiplier = 1
	}
	user.FailedLogins = 0
	user.LockoutEnd = nil

	secret, err := a.tokens.GenerateRefreshSecret()
	if err != nil {
		return nil, err
	}
	refreshExpiry := now.Add(a.refreshTTL)
	user.RefreshSecret = secret
	user.RefreshExpiresAt = &refreshExpiry

	if _, err := a.users.Update(ctx, user); err != nil {
		a.logger.Error("failed to persist session state for user %s: %v", user.ID, err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist login state")
	}

	token, err := a.tokens.Generate(ctx, user)
	if err != nil {
		return nil, err
	}

	token.RefreshSecret = secret
	token.RefreshExpiry = &refreshExpiry

	a.emitAuthEvent(ctx, ActivityEventLoginSuccess, actorForUser(user), user.ID.String(), map[string]any{
		"email": user.Email,
	})

	return token, nil
}

// trackFailedLogin advances the per-account failure counter and, once the
// threshold is hit, opens a lockout window of base x multiplier and doubles
// the multiplier for the next round. Backoff growth is unbounded.
func (a *Authenticator) trackFailedLogin(ctx context.Context, user *User, now time.Time) error {
	user.FailedLogins++

	locked := user.FailedLogins >= a.maxAttempts
	var window time.Duration
	if locked {
		window = a.lockoutBase * time.Duration(user.LockoutMultiplier)
		lockoutEnd := now.Add(window)
		user.LockoutEnd = &lockoutEnd
		user.LockoutMultiplier *= 2
		user.FailedLogins = 0
	}

	if _, err := a.users.Update(ctx, user); err != nil {
		a.logger.Error("failed to persist login attempt for user %s: %v", user.ID, err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login attempt")
	}

	if locked {
		a.emitAuthEvent(ctx, ActivityEventAccountLocked, actorForUser(user), user.ID.String(), map[string]any{
			"email":           user.Email,
			"lockout_seconds": int64(window.Seconds()),
		})
		return LockedError(window)
	}

	a.emitAuthEvent(ctx, ActivityEventLoginFailure, actorForUser(user), user.ID.String(), map[string]any{
		"email":  user.Email,
		"reason": "wrong password",
	})
	return ErrInvalidCredentials
}

func (a *Authenticator) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(a.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error: %v", err)
	}
}

func actorForUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: user.ID.String(), Type: "user"}
}
