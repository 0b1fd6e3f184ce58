package identity

import (
	"context"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Registry enforces the role-name whitelist and claim uniqueness invariants
// over role/claim CRUD, and resolves role/claim data for token minting.
// Role deletion is rejected, never cascaded, while users hold the role or
// the role carries claims.
type Registry struct {
	roles        RoleStore
	users        CredentialStore
	allowed      roleSet
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// RegistryOption customizes Registry construction.
type RegistryOption func(*Registry)

// WithAllowedRoles overrides the role-name whitelist.
func WithAllowedRoles(names ...string) RegistryOption {
	return func(r *Registry) {
		if len(names) > 0 {
			r.allowed = newRoleSet(names...)
		}
	}
}

// WithRegistryLogger overrides the logger.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryClock injects a custom clock (useful for tests).
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRegistryActivitySink configures an ActivitySink for role events.
func WithRegistryActivitySink(sink ActivitySink) RegistryOption {
	return func(r *Registry) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// NewRegistry returns a Registry over the given stores. The credential store
// is needed to verify users exist before role assignment.
func NewRegistry(roles RoleStore, users CredentialStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		roles:        roles,
		users:        users,
		allowed:      newRoleSet(DefaultAllowedRoles()...),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// AddRole creates a role. The name must belong to the allowed set and must
// not collide with an existing role.
func (r *Registry) AddRole(ctx context.Context, name, description string) (*Role, error) {
	name = normalizeRoleName(name)

	if !r.allowed.contains(name) {
		return nil, withMetadata(ErrInvalidRoleName, map[string]any{"name": name})
	}

	existing, err := r.roles.GetRoleByName(ctx, name)
	if err != nil && !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for duplicate role")
	}
	if existing != nil {
		return nil, withMetadata(ErrDuplicateRole, map[string]any{"role_id": existing.ID.String()})
	}

	role := &Role{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
	}

	created, err := r.roles.CreateRole(ctx, role)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create role")
	}

	return created, nil
}

// EditRole renames and/or re-describes a role. Renaming to a name held by a
// different role is rejected.
func (r *Registry) EditRole(ctx context.Context, id uuid.UUID, name, description string) (*Role, error) {
	role, err := r.getRole(ctx, id)
	if err != nil {
		return nil, err
	}

	name = normalizeRoleName(name)
	if !r.allowed.contains(name) {
		return nil, withMetadata(ErrInvalidRoleName, map[string]any{"name": name})
	}

	duplicate, err := r.roles.GetRoleByName(ctx, name)
	if err != nil && !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for duplicate role")
	}
	if duplicate != nil && duplicate.ID != role.ID {
		return nil, withMetadata(ErrDuplicateRole, map[string]any{"role_id": duplicate.ID.String()})
	}

	role.Name = name
	role.Description = description

	updated, err := r.roles.UpdateRole(ctx, role)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update role")
	}

	return updated, nil
}

// DeleteRole removes a role that has no assigned users and carries no
// claims.
func (r *Registry) DeleteRole(ctx context.Context, id uuid.UUID) error {
	role, err := r.getRole(ctx, id)
	if err != nil {
		return err
	}

	assigned, err := r.roles.UsersInRole(ctx, role.ID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role assignments")
	}
	if len(assigned) > 0 {
		return withMetadata(ErrRoleHasAssignedUsers, map[string]any{"role_id": role.ID.String()})
	}

	claims, err := r.roles.ListClaims(ctx, role.ID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role claims")
	}
	if len(claims) > 0 {
		return withMetadata(ErrRoleHasClaims, map[string]any{"role_id": role.ID.String()})
	}

	if err := r.roles.DeleteRole(ctx, role.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete role")
	}

	return nil
}

// AddClaimToRole attaches a (type, value) claim. No role may hold the same
// pair twice.
func (r *Registry) AddClaimToRole(ctx context.Context, roleID uuid.UUID, claimType, claimValue string) error {
	role, err := r.getRole(ctx, roleID)
	if err != nil {
		return err
	}

	claim := Claim{Type: claimType, Value: claimValue}

	existing, err := r.roles.ListClaims(ctx, role.ID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role claims")
	}
	for _, c := range existing {
		if c == claim {
			return withMetadata(ErrDuplicateClaim, map[string]any{
				"role_id": role.ID.String(),
				"claim":   claim.Key(),
			})
		}
	}

	if err := r.roles.AddClaim(ctx, role.ID, claim); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to add claim to role")
	}

	return nil
}

// RemoveClaimFromRole detaches a (type, value) claim from a role.
func (r *Registry) RemoveClaimFromRole(ctx context.Context, roleID uuid.UUID, claimType, claimValue string) error {
	role, err := r.getRole(ctx, roleID)
	if err != nil {
		return err
	}

	claim := Claim{Type: claimType, Value: claimValue}

	existing, err := r.roles.ListClaims(ctx, role.ID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role claims")
	}

	found := false
	for _, c := range existing {
		if c == claim {
			found = true
			break
		}
	}
	if !found {
		return withMetadata(ErrClaimNotFound, map[string]any{
			"role_id": role.ID.String(),
			"claim":   claim.Key(),
		})
	}

	if err := r.roles.RemoveClaim(ctx, role.ID, claim); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove claim from role")
	}

	return nil
}

// AssignUserToRole grants a role, by name, to an existing user.
func (r *Registry) AssignUserToRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if _, err := r.getUser(ctx, userID); err != nil {
		return err
	}

	role, err := r.roles.GetRoleByName(ctx, normalizeRoleName(roleName))
	if err != nil {
		if IsNotFound(err) {
			return withMetadata(ErrRoleNotFound, map[string]any{"name": roleName})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve role")
	}

	if err := r.roles.AssignUser(ctx, userID, role.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to assign role")
	}

	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRoleAssigned,
		UserID:    userID.String(),
		Metadata:  map[string]any{"role": role.Name},
	})

	return nil
}

// RemoveUserFromRole revokes a role, by name, from an existing user.
func (r *Registry) RemoveUserFromRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if _, err := r.getUser(ctx, userID); err != nil {
		return err
	}

	role, err := r.roles.GetRoleByName(ctx, normalizeRoleName(roleName))
	if err != nil {
		if IsNotFound(err) {
			return withMetadata(ErrRoleNotFound, map[string]any{"name": roleName})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve role")
	}

	if err := r.roles.RemoveUser(ctx, userID, role.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove role")
	}

	r.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRoleUnassigned,
		UserID:    userID.String(),
		Metadata:  map[string]any{"role": role.Name},
	})

	return nil
}

// GetRole returns a role by id with its claims loaded.
func (r *Registry) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	role, err := r.getRole(ctx, id)
	if err != nil {
		return nil, err
	}

	claims, err := r.roles.ListClaims(ctx, role.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role claims")
	}
	role.Claims = claims

	return role, nil
}

// ListRoles returns all roles sorted by name.
func (r *Registry) ListRoles(ctx context.Context) ([]*Role, error) {
	roles, err := r.roles.ListRoles(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list roles")
	}
	sortRolesByName(roles)
	return roles, nil
}

// RolesHavingClaim returns the roles carrying an exact (type, value) claim.
func (r *Registry) RolesHavingClaim(ctx context.Context, claimType, claimValue string) ([]*Role, error) {
	roles, err := r.roles.RolesHavingClaim(ctx, Claim{Type: claimType, Value: claimValue})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query roles by claim")
	}
	sortRolesByName(roles)
	return roles, nil
}

// UsersInRole returns the ids of users holding the role.
func (r *Registry) UsersInRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	role, err := r.getRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	users, err := r.roles.UsersInRole(ctx, role.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role assignments")
	}

	return users, nil
}

// RolesForUser resolves a user's roles with claims loaded, sorted by role
// name so downstream claim merging stays deterministic.
func (r *Registry) RolesForUser(ctx context.Context, userID uuid.UUID) ([]*Role, error) {
	roles, err := r.roles.UserRoles(ctx, userID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve user roles")
	}

	sortRolesByName(roles)

	for _, role := range roles {
		claims, err := r.roles.ListClaims(ctx, role.ID)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role claims")
		}
		role.Claims = claims
	}

	return roles, nil
}

// HasPermission reports whether the user holds a role carrying the given
// permission claim. Authorization checks run, and must succeed, before any
// mutation is attempted.
func (r *Registry) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	roles, err := r.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}

	want := PermissionClaim(permission)
	for _, role := range roles {
		for _, claim := range role.Claims {
			if claim == want {
				return true, nil
			}
		}
	}

	return false, nil
}

func (r *Registry) getRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	role, err := r.roles.GetRole(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, withMetadata(ErrRoleNotFound, map[string]any{"role_id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve role")
	}
	return role, nil
}

func (r *Registry) getUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := r.users.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{"user_id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}
	return user, nil
}

func (r *Registry) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}
	sink := normalizeActivitySink(r.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		r.logger.Warn("registry activity sink error: %v", err)
	}
}

func normalizeRoleName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sortRolesByName(roles []*Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].Name < roles[j].Name
	})
}
