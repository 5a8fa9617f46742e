package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"materialpos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Name:      "Store Owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store, nil)

	stored := store.users["owner"].Password
	assert.True(t, isPasswordHash(stored), "expected plaintext password to be replaced by a hash")
	assert.Equal(t, 1, store.updates)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Owner", Password: "owner123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, resp.Role)
	assert.Equal(t, 3, resp.Level, "level defaults from role")
	assert.NotEmpty(t, resp.AccessToken)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "owner", actor.Username)
	assert.Equal(t, "Store Owner", actor.Name)
	assert.Equal(t, 3, actor.Level)
}

func TestAuthManagerRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)
	ctx := context.Background()

	_, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "kham", Password: "longenough1", Role: domain.RoleCashier})
	require.NoError(t, err)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "kham", Password: "wrong-pass"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "nobody", Password: "longenough1"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	store.mu.Lock()
	user := store.users["kham"]
	user.Active = false
	store.users["kham"] = user
	store.mu.Unlock()

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "kham", Password: "longenough1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inactive")
}

func TestAuthManagerCreateStaffStoresHash(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)
	ctx := context.Background()

	user, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{
		Username: "  Noy ",
		Name:     "Noy Phommachanh",
		Password: "counter-pass",
		Role:     domain.RoleSupervisor,
	})
	require.NoError(t, err)
	assert.Equal(t, "noy", user.Username)
	assert.Equal(t, 2, user.Level)
	assert.True(t, user.Active)

	stored := store.users["noy"]
	assert.True(t, isPasswordHash(stored.Password))
	assert.NotContains(t, stored.Password, "counter-pass")

	_, err = manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "noy", Password: "counter-pass", Role: domain.RoleCashier})
	assert.ErrorContains(t, err, "already exists")

	_, err = manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "ab", Password: "counter-pass"})
	assert.ErrorContains(t, err, "at least 3")

	_, err = manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "short", Password: "1234567"})
	assert.ErrorContains(t, err, "at least 8")

	_, err = manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "boss", Password: "counter-pass", Level: 4})
	assert.ErrorContains(t, err, "between 1 and 3")
}

func TestAuthManagerVerifyCredentials(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)
	ctx := context.Background()

	_, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "sup", Name: "Sup", Password: "approve-it", Role: domain.RoleSupervisor})
	require.NoError(t, err)

	actor, err := manager.VerifyCredentials(ctx, "SUP", "approve-it")
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "sup", Name: "Sup", Role: domain.RoleSupervisor, Level: 2}, actor)

	_, err = manager.VerifyCredentials(ctx, "sup", "")
	assert.ErrorIs(t, err, errInvalidCredentials)
}

func TestListStaffOrdersByLevelThenUsername(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{}, nil)
	ctx := context.Background()
	for _, req := range []domain.StaffCreateRequest{
		{Username: "zed", Password: "password1", Role: domain.RoleCashier},
		{Username: "amy", Password: "password1", Role: domain.RoleCashier},
		{Username: "own", Password: "password1", Role: domain.RoleOwner},
	} {
		_, err := manager.CreateStaff(ctx, req)
		require.NoError(t, err)
	}

	staff := manager.ListStaff(ctx)
	names := make([]string, 0, len(staff))
	for _, s := range staff {
		names = append(names, s.Username)
	}
	assert.Equal(t, "own,amy,zed", strings.Join(names, ","))
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, &userStoreStub{}, nil)
	verifier := NewAuthManager("secret-b", time.Hour, &userStoreStub{}, nil)
	ctx := context.Background()

	_, err := issuer.CreateStaff(ctx, domain.StaffCreateRequest{Username: "kham", Password: "longenough1"})
	require.NoError(t, err)
	resp, err := issuer.Login(ctx, domain.LoginRequest{Username: "kham", Password: "longenough1"})
	require.NoError(t, err)

	_, err = verifier.ParseToken(resp.AccessToken)
	assert.Error(t, err)

	_, err = issuer.ParseToken(resp.AccessToken + "x")
	assert.Error(t, err)
}
