package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/clock"
)

type memRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
	caps  map[uuid.UUID]Capabilities
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[uuid.UUID]*User{}, caps: map[uuid.UUID]Capabilities{}}
}

func (r *memRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) ListCapabilities(_ context.Context, roleID uuid.UUID) (Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caps[roleID], nil
}

func (r *memRepo) RegisterFailedLogin(_ context.Context, id uuid.UUID, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	if u.LockedUntil != nil && !u.LockedUntil.After(now) {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (r *memRepo) LockUser(_ context.Context, id uuid.UUID, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].LockedUntil = &until
	return nil
}

func (r *memRepo) RegisterLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &at
	return nil
}

func (r *memRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].PasswordHash = hash
	return nil
}

type memSessions struct {
	mu     sync.Mutex
	active map[string]time.Duration
}

func (m *memSessions) Save(_ context.Context, tokenID string, _ uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[tokenID] = ttl
	return nil
}

func (m *memSessions) Active(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[tokenID]
	return ok, nil
}

func (m *memSessions) Revoke(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, tokenID)
	return nil
}

type fixture struct {
	repo     *memRepo
	sessions *memSessions
	clock    *clock.Fixed
	svc      *Service
	user     *User
}

const password = "Secreto123!"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		repo:     newMemRepo(),
		sessions: &memSessions{active: map[string]time.Duration{}},
		clock:    clock.NewFixed(time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)),
	}
	f.user = &User{
		ID:           uuid.New(),
		Username:     "recepcion",
		Email:        "recepcion@example.com",
		PasswordHash: string(hash),
		FirstName:    "Laura",
		LastName:     "García",
		RoleID:       uuid.New(),
		Role:         "Recepción",
		IsActive:     true,
	}
	f.repo.users[f.user.ID] = f.user
	f.repo.caps[f.user.RoleID] = Capabilities{
		{Module: ModuleAppointments, Action: ActionAll},
		{Module: ModuleBilling, Action: ActionRead},
	}

	tokens := NewTokens("test-secret", 8*time.Hour, f.clock)
	f.svc = NewService(f.repo, tokens, f.sessions, Policy{MaxAttempts: 5, Lockout: 15 * time.Minute}, nil, f.clock, nil)
	return f
}

func TestLoginIssuesTokenAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "recepcion", password)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, f.clock.Now().Add(8*time.Hour), res.ExpiresAt)
	assert.Equal(t, 8*time.Hour, f.sessions.active[res.User.TokenID])
	assert.Equal(t, "Recepción", res.User.Role)

	p, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, p.UserID)
	assert.True(t, p.Allows(ModuleAppointments, ActionDelete))
	assert.True(t, p.Allows(ModuleBilling, ActionRead))
	assert.False(t, p.Allows(ModuleBilling, ActionCreate))
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "recepcion", "nope")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Equal(t, 1, f.user.FailedAttempts)

	_, err = f.svc.Login(context.Background(), "ghost", password)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 5 {
		_, err := f.svc.Login(ctx, "recepcion", "wrong")
		require.True(t, errors.Is(err, ErrInvalidCredentials))
	}
	require.NotNil(t, f.user.LockedUntil)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *f.user.LockedUntil)

	// the right password is refused while locked
	_, err := f.svc.Login(ctx, "recepcion", password)
	assert.Equal(t, apperr.KindLocked, apperr.KindOf(err))

	f.clock.Advance(15 * time.Minute)
	res, err := f.svc.Login(ctx, "recepcion", password)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Zero(t, f.user.FailedAttempts)
	assert.Nil(t, f.user.LockedUntil)
}

func TestFailureAfterExpiredLockStartsOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 5 {
		_, _ = f.svc.Login(ctx, "recepcion", "wrong")
	}
	f.clock.Advance(16 * time.Minute)

	_, err := f.svc.Login(ctx, "recepcion", "wrong")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Equal(t, 1, f.user.FailedAttempts)
	assert.Nil(t, f.user.LockedUntil)
}

func TestLoginDisabledUser(t *testing.T) {
	f := newFixture(t)
	f.user.IsActive = false

	_, err := f.svc.Login(context.Background(), "recepcion", password)
	assert.True(t, errors.Is(err, ErrUserDisabled))
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "recepcion", password)
	require.NoError(t, err)
	p, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, p))

	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.True(t, errors.Is(err, ErrSessionRevoked))
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "")
	assert.True(t, errors.Is(err, ErrTokenMissing))

	_, err = f.svc.Authenticate(ctx, "not-a-jwt")
	assert.True(t, errors.Is(err, ErrTokenInvalid))

	other := NewTokens("another-secret", time.Hour, f.clock)
	forged, err := other.Issue(f.user.ID, "Administrador")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, forged.Token)
	assert.True(t, errors.Is(err, ErrTokenInvalid))

	res, err := f.svc.Login(ctx, "recepcion", password)
	require.NoError(t, err)
	f.clock.Advance(9 * time.Hour)
	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.True(t, errors.Is(err, ErrTokenExpired))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestChangePassword(t *testing.T) {
	BcryptCost = bcrypt.MinCost
	t.Cleanup(func() { BcryptCost = 12 })

	f := newFixture(t)
	ctx := context.Background()
	p := principalOf(f.user, nil)

	assert.True(t, errors.Is(f.svc.ChangePassword(ctx, p, password, "short"), ErrWeakPassword))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(f.svc.ChangePassword(ctx, p, "wrong", "NuevaClave1")))

	require.NoError(t, f.svc.ChangePassword(ctx, p, password, "NuevaClave1"))
	_, err := f.svc.Login(ctx, "recepcion", "NuevaClave1")
	require.NoError(t, err)
}

func TestAuthorize(t *testing.T) {
	p := &Principal{Capabilities: Capabilities{{Module: ModulePatients, Action: ActionRead}}}

	assert.NoError(t, Authorize(p, ModulePatients, ActionRead))

	err := Authorize(p, ModuleBilling, ActionCreate)
	require.True(t, errors.Is(err, ErrForbidden))
	e, _ := apperr.As(err)
	assert.Equal(t, map[string]any{"module": "billing", "action": "create"}, e.Details)

	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(Authorize(nil, ModulePatients, ActionRead)))
}

func TestDefaultRoles(t *testing.T) {
	roles := DefaultRoles()
	byName := map[string]Capabilities{}
	for _, r := range roles {
		byName[r.Name] = r.Capabilities
	}

	admin := byName[RoleAdministrator]
	assert.Len(t, admin, len(Modules)*len(Actions))
	for _, m := range Modules {
		for _, a := range Actions {
			assert.True(t, admin.Allows(m, a), "%s:%s", m, a)
		}
	}

	billing := byName["Facturación"]
	assert.True(t, billing.Allows(ModuleBilling, ActionCreate))
	assert.True(t, billing.Allows(ModuleAppointments, ActionRead))
	assert.False(t, billing.Allows(ModuleAppointments, ActionCreate))

	doctor := byName["Médico"]
	assert.True(t, doctor.Allows(ModuleAppointments, ActionUpdate))
	assert.False(t, doctor.Allows(ModuleAppointments, ActionCreate))
	assert.False(t, doctor.Allows(ModuleAudit, ActionRead))

	assert.True(t, byName["Gerencia"].Allows(ModuleAudit, ActionRead))
}
