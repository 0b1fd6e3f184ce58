package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	identity "github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RoleClaimModel is the bun model backing role claims.
type RoleClaimModel struct {
	bun.BaseModel `bun:"table:role_claims,alias:rcl"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	RoleID     uuid.UUID `bun:"role_id,notnull,type:uuid"`
	ClaimType  string    `bun:"claim_type,notnull"`
	ClaimValue string    `bun:"claim_value,notnull"`
	CreatedAt  time.Time `bun:"created_at,default:current_timestamp"`
}

// UserRoleModel is the bun model backing user to role assignments.
type UserRoleModel struct {
	bun.BaseModel `bun:"table:user_roles,alias:url"`

	UserID    uuid.UUID `bun:"user_id,pk,type:uuid"`
	RoleID    uuid.UUID `bun:"role_id,pk,type:uuid"`
	CreatedAt time.Time `bun:"created_at,default:current_timestamp"`
}

// RoleStore is a bun backed identity.RoleStore.
type RoleStore struct {
	db *bun.DB
}

var _ identity.RoleStore = (*RoleStore)(nil)

// NewRoleStore returns a RoleStore over the roles, role_claims, and
// user_roles tables.
func NewRoleStore(db *bun.DB) *RoleStore {
	return &RoleStore{db: db}
}

func (s *RoleStore) GetRole(ctx context.Context, id uuid.UUID) (*identity.Role, error) {
	record := &identity.Role{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(map[string]any{"role_id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (s *RoleStore) GetRoleByName(ctx context.Context, name string) (*identity.Role, error) {
	record := &identity.Role{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(map[string]any{"name": name})
		}
		return nil, err
	}
	return record, nil
}

func (s *RoleStore) ListRoles(ctx context.Context) ([]*identity.Role, error) {
	var records []*identity.Role
	err := s.db.NewSelect().
		Model(&records).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return []*identity.Role{}, nil
		}
		return nil, err
	}
	return records, nil
}

func (s *RoleStore) CreateRole(ctx context.Context, role *identity.Role) (*identity.Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}

	if _, err := s.db.NewInsert().Model(role).Exec(ctx); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RoleStore) UpdateRole(ctx context.Context, role *identity.Role) (*identity.Role, error) {
	res, err := s.db.NewUpdate().
		Model(role).
		Column("name", "description", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, notFound(map[string]any{"role_id": role.ID.String()})
	}

	return role, nil
}

func (s *RoleStore) DeleteRole(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*identity.Role)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound(map[string]any{"role_id": id.String()})
	}

	return nil
}

func (s *RoleStore) AddClaim(ctx context.Context, roleID uuid.UUID, claim identity.Claim) error {
	record := &RoleClaimModel{
		ID:         uuid.New(),
		RoleID:     roleID,
		ClaimType:  claim.Type,
		ClaimValue: claim.Value,
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (role_id, claim_type, claim_value) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *RoleStore) RemoveClaim(ctx context.Context, roleID uuid.UUID, claim identity.Claim) error {
	_, err := s.db.NewDelete().
		Model((*RoleClaimModel)(nil)).
		Where("role_id = ? AND claim_type = ? AND claim_value = ?", roleID, claim.Type, claim.Value).
		Exec(ctx)
	return err
}

func (s *RoleStore) ListClaims(ctx context.Context, roleID uuid.UUID) ([]identity.Claim, error) {
	var records []RoleClaimModel
	err := s.db.NewSelect().
		Model(&records).
		Where("role_id = ?", roleID).
		Order("claim_type ASC", "claim_value ASC").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return []identity.Claim{}, nil
		}
		return nil, err
	}

	claims := make([]identity.Claim, len(records))
	for i, r := range records {
		claims[i] = identity.Claim{Type: r.ClaimType, Value: r.ClaimValue}
	}
	return claims, nil
}

func (s *RoleStore) RolesHavingClaim(ctx context.Context, claim identity.Claim) ([]*identity.Role, error) {
	var records []*identity.Role
	err := s.db.NewSelect().
		Model(&records).
		Join("JOIN role_claims AS rcl ON rcl.role_id = ?TableAlias.id").
		Where("rcl.claim_type = ? AND rcl.claim_value = ?", claim.Type, claim.Value).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return []*identity.Role{}, nil
		}
		return nil, err
	}
	return records, nil
}

func (s *RoleStore) AssignUser(ctx context.Context, userID, roleID uuid.UUID) error {
	record := &UserRoleModel{
		UserID: userID,
		RoleID: roleID,
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, role_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *RoleStore) RemoveUser(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.db.NewDelete().
		Model((*UserRoleModel)(nil)).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Exec(ctx)
	return err
}

func (s *RoleStore) UserRoles(ctx context.Context, userID uuid.UUID) ([]*identity.Role, error) {
	var records []*identity.Role
	err := s.db.NewSelect().
		Model(&records).
		Join("JOIN user_roles AS url ON url.role_id = ?TableAlias.id").
		Where("url.user_id = ?", userID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return []*identity.Role{}, nil
		}
		return nil, err
	}
	return records, nil
}

func (s *RoleStore) UsersInRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	var records []UserRoleModel
	err := s.db.NewSelect().
		Model(&records).
		Where("role_id = ?", roleID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return []uuid.UUID{}, nil
		}
		return nil, err
	}

	users := make([]uuid.UUID, len(records))
	for i, r := range records {
		users[i] = r.UserID
	}
	return users, nil
}

func notFound(meta map[string]any) error {
	return repository.NewRecordNotFound().WithMetadata(meta)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
