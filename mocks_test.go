package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "super-secret-password"

var (
	testHashOnce sync.Once
	testHash     string
)

// testPasswordHash hashes the shared test password exactly once; bcrypt at
// production cost is too slow to run per test.
func testPasswordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		hash, err := identity.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("hash test password: %v", err)
		}
		testHash = hash
	})
	return testHash
}

func assertTextCode(t *testing.T, err error, code string) {
	t.Helper()
	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich), "expected rich error, got %v", err)
	assert.Equal(t, code, rich.TextCode)
}

func storeNotFound() error {
	return goerrors.New("record not found", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound)
}

func storeConflict() error {
	return goerrors.New("duplicate record", goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict)
}

// MockConfig implements identity.Config
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) GetSigningKey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetIssuer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetAudience() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockConfig) GetTokenExpiration() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockConfig) GetRefreshExpiration() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockConfig) GetConfirmationURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetMaxLoginAttempts() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockConfig) GetLockoutWindow() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func newMockConfig() *MockConfig {
	cfg := new(MockConfig)
	cfg.On("GetSigningKey").Return("test-signing-key")
	cfg.On("GetIssuer").Return("test-issuer")
	cfg.On("GetAudience").Return([]string{"test:audience"})
	cfg.On("GetTokenExpiration").Return(30)
	cfg.On("GetRefreshExpiration").Return(7)
	cfg.On("GetConfirmationURL").Return("https://app.example.com/confirm")
	cfg.On("GetMaxLoginAttempts").Return(3)
	cfg.On("GetLockoutWindow").Return(5 * time.Minute)
	return cfg
}

// memUserStore is an in-memory identity.CredentialStore.
type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[uuid.UUID]*identity.User{}}
}

func (s *memUserStore) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, storeNotFound()
	}
	return copyUser(user), nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = identity.NormalizeEmail(email)
	for _, user := range s.users {
		if user.Email == email {
			return copyUser(user), nil
		}
	}
	return nil, storeNotFound()
}

func (s *memUserStore) Create(_ context.Context, user *identity.User) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return nil, storeConflict()
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = copyUser(user)
	return copyUser(user), nil
}

func (s *memUserStore) Update(_ context.Context, user *identity.User) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return nil, storeNotFound()
	}
	s.users[user.ID] = copyUser(user)
	return copyUser(user), nil
}

func (s *memUserStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return storeNotFound()
	}
	delete(s.users, id)
	return nil
}

// snapshot returns the stored record, bypassing the interface, so tests can
// assert on persisted state.
func (s *memUserStore) snapshot(t *testing.T, id uuid.UUID) *identity.User {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	require.True(t, ok, "user %s not in store", id)
	return copyUser(user)
}

func (s *memUserStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func copyUser(u *identity.User) *identity.User {
	c := *u
	if u.LockoutEnd != nil {
		end := *u.LockoutEnd
		c.LockoutEnd = &end
	}
	if u.RefreshExpiresAt != nil {
		at := *u.RefreshExpiresAt
		c.RefreshExpiresAt = &at
	}
	return &c
}

// memRoleStore is an in-memory identity.RoleStore.
type memRoleStore struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]*identity.Role
	claims      map[uuid.UUID][]identity.Claim
	assignments map[uuid.UUID]map[uuid.UUID]bool
}

func newMemRoleStore() *memRoleStore {
	return &memRoleStore{
		roles:       map[uuid.UUID]*identity.Role{},
		claims:      map[uuid.UUID][]identity.Claim{},
		assignments: map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func (s *memRoleStore) GetRole(_ context.Context, id uuid.UUID) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, storeNotFound()
	}
	return copyRole(role), nil
}

func (s *memRoleStore) GetRoleByName(_ context.Context, name string) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name {
			return copyRole(role), nil
		}
	}
	return nil, storeNotFound()
}

func (s *memRoleStore) ListRoles(_ context.Context) ([]*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*identity.Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, copyRole(role))
	}
	return out, nil
}

func (s *memRoleStore) CreateRole(_ context.Context, role *identity.Role) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	s.roles[role.ID] = copyRole(role)
	return copyRole(role), nil
}

func (s *memRoleStore) UpdateRole(_ context.Context, role *identity.Role) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; !ok {
		return nil, storeNotFound()
	}
	s.roles[role.ID] = copyRole(role)
	return copyRole(role), nil
}

func (s *memRoleStore) DeleteRole(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return storeNotFound()
	}
	delete(s.roles, id)
	delete(s.claims, id)
	return nil
}

func (s *memRoleStore) AddClaim(_ context.Context, roleID uuid.UUID, claim identity.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[roleID] = append(s.claims[roleID], claim)
	return nil
}

func (s *memRoleStore) RemoveClaim(_ context.Context, roleID uuid.UUID, claim identity.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.claims[roleID][:0]
	for _, c := range s.claims[roleID] {
		if c != claim {
			kept = append(kept, c)
		}
	}
	s.claims[roleID] = kept
	return nil
}

func (s *memRoleStore) ListClaims(_ context.Context, roleID uuid.UUID) ([]identity.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.Claim, len(s.claims[roleID]))
	copy(out, s.claims[roleID])
	return out, nil
}

func (s *memRoleStore) RolesHavingClaim(_ context.Context, claim identity.Claim) ([]*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.Role
	for roleID, claims := range s.claims {
		for _, c := range claims {
			if c == claim {
				out = append(out, copyRole(s.roles[roleID]))
				break
			}
		}
	}
	return out, nil
}

func (s *memRoleStore) AssignUser(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments[userID] == nil {
		s.assignments[userID] = map[uuid.UUID]bool{}
	}
	s.assignments[userID][roleID] = true
	return nil
}

func (s *memRoleStore) RemoveUser(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments[userID], roleID)
	return nil
}

func (s *memRoleStore) UserRoles(_ context.Context, userID uuid.UUID) ([]*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.Role
	for roleID := range s.assignments[userID] {
		if role, ok := s.roles[roleID]; ok {
			out = append(out, copyRole(role))
		}
	}
	return out, nil
}

func (s *memRoleStore) UsersInRole(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for userID, roles := range s.assignments {
		if roles[roleID] {
			out = append(out, userID)
		}
	}
	return out, nil
}

func copyRole(r *identity.Role) *identity.Role {
	c := *r
	if r.Claims != nil {
		c.Claims = make([]identity.Claim, len(r.Claims))
		copy(c.Claims, r.Claims)
	}
	return &c
}

// captureNotifier records dispatched notifications.
type captureNotifier struct {
	mu   sync.Mutex
	sent []identity.Notification
	fail error
}

func (n *captureNotifier) Send(_ context.Context, msg identity.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *captureNotifier) last(t *testing.T) identity.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no notifications dispatched")
	return n.sent[len(n.sent)-1]
}

// captureSink records activity events.
type captureSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (s *captureSink) Record(_ context.Context, event identity.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) has(eventType identity.ActivityEventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// staticRoles implements identity.RoleResolver with a fixed answer.
type staticRoles struct {
	roles []*identity.Role
	err   error
}

func (s *staticRoles) RolesForUser(context.Context, uuid.UUID) ([]*identity.Role, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.roles, nil
}
