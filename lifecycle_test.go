package identity_test

import (
	"context"
	"strings"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountsFixture struct {
	accounts *identity.Accounts
	registry *identity.Registry
	auth     *identity.Authenticator
	users    *memUserStore
	notifier *captureNotifier
	sink     *captureSink
}

func newAccountsFixture(t *testing.T) *accountsFixture {
	t.Helper()

	cfg := newMockConfig()
	users := newMemUserStore()
	roleStore := newMemRoleStore()
	registry := identity.NewRegistry(roleStore, users)
	tokens := identity.NewTokenService(cfg, registry)
	notifier := &captureNotifier{}
	sink := &captureSink{}

	accounts := identity.NewAccounts(users, tokens, registry, cfg,
		identity.WithNotifier(notifier),
		identity.WithAccountsActivitySink(sink),
	)

	auth := identity.NewAuthenticator(users, tokens, cfg)

	ctx := context.Background()
	for _, name := range identity.DefaultAllowedRoles() {
		_, err := registry.AddRole(ctx, name, "")
		require.NoError(t, err)
	}

	return &accountsFixture{
		accounts: accounts,
		registry: registry,
		auth:     auth,
		users:    users,
		notifier: notifier,
		sink:     sink,
	}
}

func registerRequest() identity.RegisterRequest {
	return identity.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  testPassword,
	}
}

func confirmTokenFrom(t *testing.T, body string) string {
	t.Helper()
	_, after, ok := strings.Cut(body, "token=")
	require.True(t, ok, "confirmation link missing token: %s", body)
	return strings.TrimSpace(after)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an unconfirmed account with the default role", func(t *testing.T) {
		fx := newAccountsFixture(t)

		user, err := fx.accounts.Register(ctx, registerRequest())
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.False(t, user.EmailConfirmed)
		assert.NotEmpty(t, user.SecurityStamp)
		assert.NotEqual(t, testPassword, user.PasswordHash)

		roles, err := fx.registry.RolesForUser(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, identity.DefaultRole, roles[0].Name)

		require.Equal(t, 1, fx.notifier.count())
		msg := fx.notifier.last(t)
		assert.Equal(t, user.Email, msg.Recipient)
		assert.Contains(t, msg.Body, "https://app.example.com/confirm")
		assert.Contains(t, msg.Body, user.ID.String())

		assert.True(t, fx.sink.has(identity.ActivityEventUserRegistered))
	})

	t.Run("normalizes the email address", func(t *testing.T) {
		fx := newAccountsFixture(t)

		req := registerRequest()
		req.Email = "  Ada@Example.COM "

		user, err := fx.accounts.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
	})

	t.Run("duplicate email leaves the store untouched and dispatches nothing", func(t *testing.T) {
		fx := newAccountsFixture(t)

		_, err := fx.accounts.Register(ctx, registerRequest())
		require.NoError(t, err)

		before := fx.users.count()
		dispatched := fx.notifier.count()

		req := registerRequest()
		req.Email = "ADA@example.com"

		_, err = fx.accounts.Register(ctx, req)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeDuplicateEmail)

		assert.Equal(t, before, fx.users.count())
		assert.Equal(t, dispatched, fx.notifier.count())
	})

	t.Run("derives a deterministic id from the email when requested", func(t *testing.T) {
		fx := newAccountsFixture(t)

		req := registerRequest()
		req.UseHashid = true

		user, err := fx.accounts.Register(ctx, req)
		require.NoError(t, err)

		want, err := hashid.NewUUID(user.Email)
		require.NoError(t, err)
		assert.Equal(t, want, user.ID)
	})

	t.Run("rejects an invalid request before touching the store", func(t *testing.T) {
		fx := newAccountsFixture(t)

		req := registerRequest()
		req.Password = "short"

		_, err := fx.accounts.Register(ctx, req)
		require.Error(t, err)
		assert.Equal(t, 0, fx.users.count())
		assert.Equal(t, 0, fx.notifier.count())
	})
}

func TestConfirmEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms the account and signs the user in", func(t *testing.T) {
		fx := newAccountsFixture(t)

		user, err := fx.accounts.Register(ctx, registerRequest())
		require.NoError(t, err)

		secret := confirmTokenFrom(t, fx.notifier.last(t).Body)

		token, err := fx.accounts.ConfirmEmail(ctx, user.ID, secret)
		require.NoError(t, err)
		assert.NotEmpty(t, token.AccessToken)

		stored := fx.users.snapshot(t, user.ID)
		assert.True(t, stored.EmailConfirmed)
		assert.NotEqual(t, user.SecurityStamp, stored.SecurityStamp)

		assert.True(t, fx.sink.has(identity.ActivityEventEmailConfirmed))

		// confirmed account may now log in
		_, err = fx.auth.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)
	})

	t.Run("a spent secret cannot be replayed", func(t *testing.T) {
		fx := newAccountsFixture(t)

		user, err := fx.accounts.Register(ctx, registerRequest())
		require.NoError(t, err)

		secret := confirmTokenFrom(t, fx.notifier.last(t).Body)

		_, err = fx.accounts.ConfirmEmail(ctx, user.ID, secret)
		require.NoError(t, err)

		_, err = fx.accounts.ConfirmEmail(ctx, user.ID, secret)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeInvalidToken)
	})

	t.Run("rejects a tampered secret", func(t *testing.T) {
		fx := newAccountsFixture(t)

		user, err := fx.accounts.Register(ctx, registerRequest())
		require.NoError(t, err)

		_, err = fx.accounts.ConfirmEmail(ctx, user.ID, "bm90LXZhbGlk.bm90LXZhbGlk")
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeInvalidToken)
	})

	t.Run("rejects an unknown user", func(t *testing.T) {
		fx := newAccountsFixture(t)

		_, err := fx.accounts.ConfirmEmail(ctx, uuid.New(), "whatever")
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeUserNotFound)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	fx := newAccountsFixture(t)

	user := seedUser(t, fx.users)

	token, err := fx.auth.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, token.RefreshSecret)

	before := fx.users.snapshot(t, user.ID)

	require.NoError(t, fx.accounts.Logout(ctx, user.ID))

	stored := fx.users.snapshot(t, user.ID)
	assert.Empty(t, stored.RefreshSecret)
	assert.Nil(t, stored.RefreshExpiresAt)
	assert.NotEqual(t, before.SecurityStamp, stored.SecurityStamp)

	// the refresh secret handed out before logout is dead
	_, err = fx.auth.Refresh(ctx, user.ID, token.RefreshSecret)
	require.Error(t, err)
	assertTextCode(t, err, identity.TextCodeInvalidToken)

	assert.True(t, fx.sink.has(identity.ActivityEventSessionRevoked))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects a wrong current password", func(t *testing.T) {
		fx := newAccountsFixture(t)
		user := seedUser(t, fx.users)

		err := fx.accounts.ChangePassword(ctx, user.ID, identity.ChangePasswordRequest{
			CurrentPassword: "not-the-password",
			NewPassword:     "an-even-better-password",
		})
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeInvalidCreds)
	})

	t.Run("applies the new password and revokes sessions", func(t *testing.T) {
		fx := newAccountsFixture(t)
		user := seedUser(t, fx.users)

		token, err := fx.auth.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		err = fx.accounts.ChangePassword(ctx, user.ID, identity.ChangePasswordRequest{
			CurrentPassword: testPassword,
			NewPassword:     "an-even-better-password",
		})
		require.NoError(t, err)

		stored := fx.users.snapshot(t, user.ID)
		assert.Empty(t, stored.RefreshSecret)
		assert.NotEqual(t, testPasswordHash(t), stored.PasswordHash)

		_, err = fx.auth.Refresh(ctx, user.ID, token.RefreshSecret)
		require.Error(t, err)

		_, err = fx.auth.Login(ctx, user.Email, "an-even-better-password")
		require.NoError(t, err)

		assert.True(t, fx.sink.has(identity.ActivityEventPasswordChanged))
	})
}

func TestUpdateAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("updates profile fields and normalizes the phone", func(t *testing.T) {
		fx := newAccountsFixture(t)
		user := seedUser(t, fx.users)

		updated, err := fx.accounts.UpdateAccount(ctx, user.ID, user.ID, identity.UpdateAccountRequest{
			FirstName: "Grace",
			LastName:  "Hopper",
			Phone:     "(415) 555-2671",
		})
		require.NoError(t, err)
		assert.Equal(t, "Grace", updated.FirstName)
		assert.Equal(t, "Hopper", updated.LastName)
		assert.Equal(t, "+14155552671", updated.Phone)

		assert.True(t, fx.sink.has(identity.ActivityEventAccountUpdated))
	})

	t.Run("rejects an unparseable phone", func(t *testing.T) {
		fx := newAccountsFixture(t)
		user := seedUser(t, fx.users)

		_, err := fx.accounts.UpdateAccount(ctx, user.ID, user.ID, identity.UpdateAccountRequest{
			FirstName: "Grace",
			LastName:  "Hopper",
			Phone:     "12",
		})
		require.Error(t, err)
	})

	t.Run("updating another account needs the permission", func(t *testing.T) {
		fx := newAccountsFixture(t)
		target := seedUser(t, fx.users)
		actor := seedUser(t, fx.users, func(u *identity.User) {
			u.Email = "actor@example.com"
		})

		req := identity.UpdateAccountRequest{FirstName: "Grace", LastName: "Hopper"}

		_, err := fx.accounts.UpdateAccount(ctx, target.ID, actor.ID, req)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeUnauthorized)

		grantPermissions(t, fx, actor.ID, identity.PermissionUserUpdate)

		updated, err := fx.accounts.UpdateAccount(ctx, target.ID, actor.ID, req)
		require.NoError(t, err)
		assert.Equal(t, "Grace", updated.FirstName)
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("users may delete themselves", func(t *testing.T) {
		fx := newAccountsFixture(t)
		user := seedUser(t, fx.users)

		require.NoError(t, fx.accounts.DeleteAccount(ctx, user.ID, user.ID))
		assert.Equal(t, 0, fx.users.count())
	})

	t.Run("deleting another account needs the permission", func(t *testing.T) {
		fx := newAccountsFixture(t)
		target := seedUser(t, fx.users)
		actor := seedUser(t, fx.users, func(u *identity.User) {
			u.Email = "actor@example.com"
		})

		err := fx.accounts.DeleteAccount(ctx, target.ID, actor.ID)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeUnauthorized)

		grantPermissions(t, fx, actor.ID, identity.PermissionUserDelete)

		require.NoError(t, fx.accounts.DeleteAccount(ctx, target.ID, actor.ID))
	})
}

func TestBanAndUnban(t *testing.T) {
	ctx := context.Background()

	t.Run("requires the ban permission before touching the target", func(t *testing.T) {
		fx := newAccountsFixture(t)
		target := seedUser(t, fx.users)
		actor := seedUser(t, fx.users, func(u *identity.User) {
			u.Email = "actor@example.com"
		})

		err := fx.accounts.BanAccount(ctx, target.ID, actor.ID)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeUnauthorized)

		stored := fx.users.snapshot(t, target.ID)
		assert.False(t, stored.Banned)
	})

	t.Run("unknown actor is unauthorized, not not-found", func(t *testing.T) {
		fx := newAccountsFixture(t)
		target := seedUser(t, fx.users)

		err := fx.accounts.BanAccount(ctx, target.ID, uuid.New())
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeUnauthorized)
	})

	t.Run("ban then unban round trip", func(t *testing.T) {
		fx := newAccountsFixture(t)
		target := seedUser(t, fx.users)
		actor := seedUser(t, fx.users, func(u *identity.User) {
			u.Email = "actor@example.com"
		})
		grantPermissions(t, fx, actor.ID, identity.PermissionUserBan, identity.PermissionUserUnban)

		require.NoError(t, fx.accounts.BanAccount(ctx, target.ID, actor.ID))

		stored := fx.users.snapshot(t, target.ID)
		assert.True(t, stored.Banned)
		require.NotNil(t, stored.LockoutEnd)
		assert.Empty(t, stored.RefreshSecret)
		assert.NotEqual(t, target.SecurityStamp, stored.SecurityStamp)
		assert.True(t, fx.sink.has(identity.ActivityEventAccountBanned))

		// banned accounts cannot log in
		_, err := fx.auth.Login(ctx, target.Email, testPassword)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeAccountBanned)

		// double ban conflicts
		err = fx.accounts.BanAccount(ctx, target.ID, actor.ID)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeAlreadyBanned)

		require.NoError(t, fx.accounts.UnbanAccount(ctx, target.ID, actor.ID))

		stored = fx.users.snapshot(t, target.ID)
		assert.False(t, stored.Banned)
		assert.Nil(t, stored.LockoutEnd)
		assert.Equal(t, 1, stored.LockoutMultiplier)
		assert.True(t, fx.sink.has(identity.ActivityEventAccountUnbanned))

		_, err = fx.auth.Login(ctx, target.Email, testPassword)
		require.NoError(t, err)

		// unbanning an active account conflicts
		err = fx.accounts.UnbanAccount(ctx, target.ID, actor.ID)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeNotBanned)
	})

	t.Run("unban needs its own permission", func(t *testing.T) {
		fx := newAccountsFixture(t)
		target := seedUser(t, fx.users)
		actor := seedUser(t, fx.users, func(u *identity.User) {
			u.Email = "actor@example.com"
		})
		grantPermissions(t, fx, actor.ID, identity.PermissionUserBan)

		require.NoError(t, fx.accounts.BanAccount(ctx, target.ID, actor.ID))

		err := fx.accounts.UnbanAccount(ctx, target.ID, actor.ID)
		require.Error(t, err)
		assertTextCode(t, err, identity.TextCodeUnauthorized)
	})
}

// grantPermissions puts the user in the admin role and attaches the listed
// permission claims to it.
func grantPermissions(t *testing.T, fx *accountsFixture, userID uuid.UUID, permissions ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, fx.registry.AssignUserToRole(ctx, userID, identity.RoleAdmin))

	roles, err := fx.registry.RolesForUser(ctx, userID)
	require.NoError(t, err)

	var adminID uuid.UUID
	for _, role := range roles {
		if role.Name == identity.RoleAdmin {
			adminID = role.ID
		}
	}
	require.NotEqual(t, uuid.Nil, adminID)

	for _, permission := range permissions {
		err := fx.registry.AddClaimToRole(ctx, adminID, identity.ClaimTypePermission, permission)
		if err != nil && !strings.Contains(err.Error(), "already") {
			t.Fatalf("grant %s: %v", permission, err)
		}
	}
}
