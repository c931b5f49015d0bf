package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
}

func (n *captureNotifier) NotifyPasswordReset(ctx context.Context, user *User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.tokens == nil {
		n.tokens = make(map[string]string)
	}
	n.tokens[user.Email] = token
	return nil
}

func (n *captureNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

func newTestService(t *testing.T, mutate func(*Config)) (*Service, *MemoryUserStore, *captureNotifier) {
	t.Helper()
	cfg := Config{JWTSecret: testSecret, BcryptCost: bcrypt.MinCost}
	if mutate != nil {
		mutate(&cfg)
	}
	users := NewMemoryUserStore()
	notifier := &captureNotifier{}
	svc, err := NewService(users, cfg, notifier, nil)
	require.NoError(t, err)
	return svc, users, notifier
}

type brokenUserStore struct {
	*MemoryUserStore
}

func (brokenUserStore) GetByEmail(context.Context, string) (*User, error) {
	return nil, errors.New("connection refused")
}

func (brokenUserStore) Create(context.Context, *User) error {
	return errors.New("connection refused")
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil, Config{JWTSecret: testSecret}, nil, nil)
	assert.Error(t, err)

	_, err = NewService(NewMemoryUserStore(), Config{}, nil, nil)
	assert.Error(t, err)

	svc, err := NewService(NewMemoryUserStore(), Config{JWTSecret: testSecret}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().AccessTokenTTL, svc.cfg.AccessTokenTTL)
	assert.Equal(t, DefaultConfig().Issuer, svc.cfg.Issuer)
}

func TestService_RegisterAndAuthenticate(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	principal, err := svc.Register(ctx, "  Ana@TCAngola.ao ", "tribunal2024", " Ana Silva ")
	require.NoError(t, err)
	assert.NotEmpty(t, principal.ID)
	assert.Equal(t, "ana@tcangola.ao", principal.Email)
	assert.Equal(t, "Ana Silva", principal.DisplayName)

	session, err := svc.Authenticate(ctx, "ana@tcangola.ao", "tribunal2024")
	require.NoError(t, err)
	assert.Equal(t, principal.ID, session.Principal.ID)
	assert.NoError(t, ValidateSessionTokenFormat(session.SessionToken))

	claims, err := svc.Verify(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, principal.ID, claims.Subject)
	assert.Equal(t, session.SessionToken, claims.SessionToken)

	rebuilt := svc.SessionFromClaims(session.AccessToken, claims)
	assert.Equal(t, session.SessionToken, rebuilt.SessionToken)
	assert.Equal(t, session.Principal, rebuilt.Principal)
}

func TestService_Register_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "ana@tcangola.ao", "tribunal2024", "")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "ANA@tcangola.ao", "tribunal2025", "")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Register(ctx, "rui@tcangola.ao", "curta", "")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, "not-an-email", "tribunal2024", "")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	broken, err := NewService(brokenUserStore{NewMemoryUserStore()}, Config{JWTSecret: testSecret, BcryptCost: bcrypt.MinCost}, nil, nil)
	require.NoError(t, err)
	_, err = broken.Register(ctx, "rui@tcangola.ao", "tribunal2024", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestService_Authenticate_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana@tcangola.ao", "tribunal2024", "")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "ana@tcangola.ao", "errada123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "ninguem@tcangola.ao", "tribunal2024")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "", "tribunal2024")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	broken, err := NewService(brokenUserStore{NewMemoryUserStore()}, Config{JWTSecret: testSecret}, nil, nil)
	require.NoError(t, err)
	_, err = broken.Authenticate(ctx, "ana@tcangola.ao", "tribunal2024")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestService_EmailConfirmation(t *testing.T) {
	svc, _, _ := newTestService(t, func(cfg *Config) { cfg.RequireEmailConfirmation = true })
	ctx := context.Background()

	principal, err := svc.Register(ctx, "ana@tcangola.ao", "tribunal2024", "")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "ana@tcangola.ao", "tribunal2024")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	require.NoError(t, svc.ConfirmEmail(ctx, principal.ID))
	_, err = svc.Authenticate(ctx, "ana@tcangola.ao", "tribunal2024")
	assert.NoError(t, err)
}

func TestService_Reissue(t *testing.T) {
	svc, _, _ := newTestService(t, func(cfg *Config) {
		cfg.AccessTokenTTL = time.Minute
		cfg.RefreshWindow = time.Hour
	})
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana@tcangola.ao", "tribunal2024", "")
	require.NoError(t, err)

	base := time.Now()
	svc.now = func() time.Time { return base }
	session, err := svc.Authenticate(ctx, "ana@tcangola.ao", "tribunal2024")
	require.NoError(t, err)

	t.Run("within the window keeps the session token", func(t *testing.T) {
		svc.now = func() time.Time { return base.Add(30 * time.Minute) }
		rotated, err := svc.Reissue(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, session.SessionToken, rotated.SessionToken)
		assert.NotEqual(t, session.AccessToken, rotated.AccessToken)
		assert.True(t, rotated.ExpiresAt.After(session.ExpiresAt))

		_, err = svc.VerifyForRefresh(session.AccessToken)
		assert.NoError(t, err)
		_, err = svc.Verify(session.AccessToken)
		assert.Error(t, err)
	})

	t.Run("past the window expires", func(t *testing.T) {
		svc.now = func() time.Time { return base.Add(2 * time.Hour) }
		_, err := svc.Reissue(ctx, session)
		assert.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("nil session", func(t *testing.T) {
		_, err := svc.Reissue(ctx, nil)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestService_PasswordReset(t *testing.T) {
	svc, _, notifier := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana@tcangola.ao", "tribunal2024", "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RequestPasswordReset(ctx, "ninguem@tcangola.ao"), ErrUserNotFound)

	require.NoError(t, svc.RequestPasswordReset(ctx, "ana@tcangola.ao"))
	token := notifier.token("ana@tcangola.ao")
	require.NotEmpty(t, token)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "tcr_bogus", "novasenha99"), ErrInvalidResetToken)
	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "fraca"), ErrWeakPassword)

	require.NoError(t, svc.ResetPassword(ctx, token, "novasenha99"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "outrasenha99"), ErrInvalidResetToken)

	_, err = svc.Authenticate(ctx, "ana@tcangola.ao", "tribunal2024")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ana@tcangola.ao", "novasenha99")
	assert.NoError(t, err)
}

func TestService_PasswordReset_NotifierFailure(t *testing.T) {
	svc, _, notifier := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana@tcangola.ao", "tribunal2024", "")
	require.NoError(t, err)

	notifier.err = errors.New("smtp down")
	err = svc.RequestPasswordReset(ctx, "ana@tcangola.ao")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, svc.resets.Len())
}
