package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// RoleAssigner is the slice of the Registry that account lifecycle needs:
// granting the default role at registration and answering permission checks
// for administrative actions.
type RoleAssigner interface {
	AssignUserToRole(ctx context.Context, userID uuid.UUID, roleName string) error
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
}

// Accounts manages the account lifecycle: registration, email confirmation,
// profile updates, password changes, logout, deletion, and ban/unban. All
// administrative mutations authorize the acting user before touching the
// target record.
type Accounts struct {
	users        CredentialStore
	tokens       TokenService
	roles        RoleAssigner
	notifier     Notifier
	confirm      *confirmationCodec
	confirmURL   string
	confirmTTL   time.Duration
	defaultRole  string
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// AccountsOption customizes Accounts construction.
type AccountsOption func(*Accounts)

// WithNotifier configures the outbound channel for confirmation messages.
func WithNotifier(n Notifier) AccountsOption {
	return func(a *Accounts) {
		if n != nil {
			a.notifier = n
		}
	}
}

// WithAccountsClock injects a custom clock (useful for tests).
func WithAccountsClock(clock func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if clock != nil {
			a.now = clock
			a.confirm.now = clock
		}
	}
}

// WithAccountsLogger overrides the logger.
func WithAccountsLogger(logger Logger) AccountsOption {
	return func(a *Accounts) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAccountsActivitySink configures an ActivitySink for lifecycle events.
func WithAccountsActivitySink(sink ActivitySink) AccountsOption {
	return func(a *Accounts) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// WithDefaultRole overrides the role granted at registration.
func WithDefaultRole(name string) AccountsOption {
	return func(a *Accounts) {
		if name != "" {
			a.defaultRole = normalizeRoleName(name)
		}
	}
}

// WithConfirmationTTL overrides how long confirmation secrets stay valid.
func WithConfirmationTTL(ttl time.Duration) AccountsOption {
	return func(a *Accounts) {
		if ttl > 0 {
			a.confirmTTL = ttl
		}
	}
}

// NewAccounts returns an Accounts manager over the given collaborators.
func NewAccounts(users CredentialStore, tokens TokenService, roles RoleAssigner, cfg Config, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		users:        users,
		tokens:       tokens,
		roles:        roles,
		confirm:      newConfirmationCodec(cfg.GetSigningKey()),
		confirmURL:   cfg.GetConfirmationURL(),
		confirmTTL:   DefaultConfirmationTTL,
		defaultRole:  DefaultRole,
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

// Register creates an account, grants the default role, and dispatches
// exactly one confirmation message. A duplicate email fails before any store
// mutation or dispatch. The new account starts unconfirmed.
func (a *Accounts) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration request").
			WithCode(goerrors.CodeBadRequest)
	}

	email := NormalizeEmail(req.Email)

	existing, err := a.users.GetByEmail(ctx, email)
	if err != nil && !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing account")
	}
	if existing != nil {
		return nil, withMetadata(ErrDuplicateEmail, map[string]any{"email": email})
	}

	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		ID:            uuid.New(),
		Email:         email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Phone:         phone,
		PasswordHash:  hash,
		SecurityStamp: uuid.NewString(),
	}
	user.EnsureDefaults()

	if req.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		} else {
			a.logger.Warn("hashid derivation failed for %s, keeping random id: %v", email, err)
		}
	}

	created, err := a.users.Create(ctx, user)
	if err != nil {
		if IsConflict(err) {
			return nil, withMetadata(ErrDuplicateEmail, map[string]any{"email": email})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create account")
	}

	if err := a.roles.AssignUserToRole(ctx, created.ID, a.defaultRole); err != nil {
		a.logger.Error("failed to assign default role to user %s: %v", created.ID, err)
		return nil, err
	}

	if err := a.sendConfirmation(ctx, created); err != nil {
		return nil, err
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     actorForUser(created),
		UserID:    created.ID.String(),
		Metadata:  map[string]any{"email": created.Email},
	})

	return created, nil
}

// ResendConfirmation dispatches a fresh confirmation message for an account
// that has not confirmed its email yet.
func (a *Accounts) ResendConfirmation(ctx context.Context, userID uuid.UUID) error {
	user, err := a.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.EmailConfirmed {
		return withMetadata(ErrInvalidToken, map[string]any{"reason": "already confirmed"})
	}

	return a.sendConfirmation(ctx, user)
}

// ConfirmEmail redeems a confirmation secret. On success the account becomes
// confirmed, the security stamp rotates so the secret cannot be replayed, and
// a session token is minted so the user lands signed in.
func (a *Accounts) ConfirmEmail(ctx context.Context, userID uuid.UUID, secret string) (*AuthToken, error) {
	user, err := a.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Banned {
		return nil, ErrAccountBanned
	}

	if err := a.confirm.Verify(user, secret); err != nil {
		return nil, err
	}

	user.EmailConfirmed = true
	user.SecurityStamp = uuid.NewString()

	if _, err := a.users.Update(ctx, user); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist email confirmation")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailConfirmed,
		Actor:     actorForUser(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"email": user.Email},
	})

	token, err := a.tokens.Generate(ctx, user)
	if err != nil {
		return nil, err
	}

	return token, nil
}

// Logout revokes the account's outstanding sessions by rotating the security
// stamp and dropping the refresh secret.
func (a *Accounts) Logout(ctx context.Context, userID uuid.UUID) error {
	user, err := a.getUser(ctx, userID)
	if err != nil {
		return err
	}

	a.revokeSessions(user)

	if _, err := a.users.Update(ctx, user); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist logout")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSessionRevoked,
		Actor:     actorForUser(user),
		UserID:    user.ID.String(),
	})

	return nil
}

// ChangePassword verifies the current password before applying the new one.
// All outstanding sessions are revoked on success.
func (a *Accounts) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password change request").
			WithCode(goerrors.CodeBadRequest)
	}

	user, err := a.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := ComparePasswordAndHash(req.CurrentPassword, user.PasswordHash); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return ErrInvalidCredentials
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify current password")
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash new password")
	}

	user.PasswordHash = hash
	a.revokeSessions(user)

	if _, err := a.users.Update(ctx, user); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist password change")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     actorForUser(user),
		UserID:    user.ID.String(),
	})

	return nil
}

// UpdateAccount applies profile changes. Users may update themselves;
// updating anyone else requires the user.update permission. The phone
// number, when present, is normalized to E.164.
func (a *Accounts) UpdateAccount(ctx context.Context, targetID, actorID uuid.UUID, req UpdateAccountRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid account update request").
			WithCode(goerrors.CodeBadRequest)
	}

	if targetID != actorID {
		if err := a.requirePermission(ctx, actorID, PermissionUserUpdate); err != nil {
			return nil, err
		}
	}

	user, err := a.getUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	user.FirstName = req.FirstName
	user.LastName = req.LastName
	user.Phone = phone

	updated, err := a.users.Update(ctx, user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist account update")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     actorForUser(updated),
		UserID:    updated.ID.String(),
	})

	return updated, nil
}

// DeleteAccount removes an account. Users may delete themselves; deleting
// anyone else requires the user.delete permission.
func (a *Accounts) DeleteAccount(ctx context.Context, targetID, actorID uuid.UUID) error {
	if targetID != actorID {
		if err := a.requirePermission(ctx, actorID, PermissionUserDelete); err != nil {
			return err
		}
	}

	user, err := a.getUser(ctx, targetID)
	if err != nil {
		return err
	}

	if err := a.users.Delete(ctx, user.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete account")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     ActorRef{ID: actorID.String(), Type: "user"},
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"email": user.Email},
	})

	return nil
}

// BanAccount bans a user. The acting user must hold the user.ban permission;
// authorization failures happen before the target record is touched. Banning
// pins the lockout horizon far in the future and revokes all sessions.
func (a *Accounts) BanAccount(ctx context.Context, targetID, actorID uuid.UUID) error {
	if err := a.requirePermission(ctx, actorID, PermissionUserBan); err != nil {
		return err
	}

	user, err := a.getUser(ctx, targetID)
	if err != nil {
		return err
	}

	if user.Banned {
		return withMetadata(ErrAlreadyBanned, map[string]any{"user_id": user.ID.String()})
	}

	lockoutEnd := bannedLockoutEnd
	user.Banned = true
	user.LockoutEnd = &lockoutEnd
	a.revokeSessions(user)

	if _, err := a.users.Update(ctx, user); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist ban")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountBanned,
		Actor:     ActorRef{ID: actorID.String(), Type: "user"},
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"email": user.Email},
	})

	return nil
}

// UnbanAccount lifts a ban. The acting user must hold the user.unban
// permission. The security stamp rotates so any token minted before the ban
// stays dead.
func (a *Accounts) UnbanAccount(ctx context.Context, targetID, actorID uuid.UUID) error {
	if err := a.requirePermission(ctx, actorID, PermissionUserUnban); err != nil {
		return err
	}

	user, err := a.getUser(ctx, targetID)
	if err != nil {
		return err
	}

	if !user.Banned {
		return withMetadata(ErrNotBanned, map[string]any{"user_id": user.ID.String()})
	}

	user.Banned = false
	user.LockoutEnd = nil
	user.FailedLogins = 0
	user.LockoutMultiplier = 1
	user.SecurityStamp = uuid.NewString()

	if _, err := a.users.Update(ctx, user); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist unban")
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountUnbanned,
		Actor:     ActorRef{ID: actorID.String(), Type: "user"},
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"email": user.Email},
	})

	return nil
}

// GetAccount returns an account by id.
func (a *Accounts) GetAccount(ctx context.Context, userID uuid.UUID) (*User, error) {
	return a.getUser(ctx, userID)
}

// GetAccountByEmail returns an account by normalized email.
func (a *Accounts) GetAccountByEmail(ctx context.Context, email string) (*User, error) {
	user, err := a.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if IsNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{"email": email})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}
	return user, nil
}

func (a *Accounts) sendConfirmation(ctx context.Context, user *User) error {
	if a.notifier == nil {
		a.logger.Warn("no notifier configured, skipping confirmation dispatch for user %s", user.ID)
		return nil
	}

	secret := a.confirm.Mint(user, a.confirmTTL)
	link := fmt.Sprintf("%s?uid=%s&token=%s", a.confirmURL, user.ID, secret)

	msg := Notification{
		Recipient: user.Email,
		Subject:   "Confirm your email address",
		Body:      fmt.Sprintf("Hi %s, confirm your email address by visiting: %s", user.FirstName, link),
	}

	if err := a.notifier.Send(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to dispatch confirmation message")
	}

	return nil
}

// revokeSessions rotates the security stamp and drops the refresh secret,
// invalidating confirmation secrets and refresh exchanges minted before now.
func (a *Accounts) revokeSessions(user *User) {
	user.SecurityStamp = uuid.NewString()
	user.RefreshSecret = ""
	user.RefreshExpiresAt = nil
}

func (a *Accounts) requirePermission(ctx context.Context, actorID uuid.UUID, permission string) error {
	if _, err := a.users.GetByID(ctx, actorID); err != nil {
		if IsNotFound(err) {
			return withMetadata(ErrUnauthorized, map[string]any{"actor_id": actorID.String()})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve acting user")
	}

	ok, err := a.roles.HasPermission(ctx, actorID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return withMetadata(ErrUnauthorized, map[string]any{
			"actor_id":   actorID.String(),
			"permission": permission,
		})
	}

	return nil
}

func (a *Accounts) getUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{"user_id": userID.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}
	user.EnsureDefaults()
	return user, nil
}

func (a *Accounts) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	sink := normalizeActivitySink(a.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		a.logger.Warn("accounts activity sink error: %v", err)
	}
}
