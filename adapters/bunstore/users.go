package bunstore

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStore is a bun backed identity.CredentialStore.
type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*identity.User]
}

var _ identity.CredentialStore = (*UserStore)(nil)

// NewUserStore returns a CredentialStore over the users table.
func NewUserStore(db *bun.DB) *UserStore {
	repo := repository.NewRepository[*identity.User](db, repository.ModelHandlers[*identity.User]{
		NewRecord: func() *identity.User { return &identity.User{} },
		GetID: func(u *identity.User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *identity.User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &UserStore{db: db, repo: repo}
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	user, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, notFound(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	record := &identity.User{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", identity.NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(map[string]any{"email": email})
		}
		return nil, err
	}
	return record, nil
}

func (s *UserStore) Create(ctx context.Context, user *identity.User) (*identity.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.EnsureDefaults()

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user").
			WithCode(goerrors.CodeConflict)
	}
	return created, nil
}

func (s *UserStore) Update(ctx context.Context, user *identity.User) (*identity.User, error) {
	updated, err := s.repo.Update(ctx, user, repository.UpdateByID(user.ID.String()))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, notFound(map[string]any{"id": user.ID.String()})
		}
		return nil, err
	}
	return updated, nil
}

func (s *UserStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*identity.User)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound(map[string]any{"id": id.String()})
	}

	return nil
}
