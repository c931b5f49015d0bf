package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/lifecycle"
	"golang.org/x/crypto/bcrypt"
)

const (
	resetTokenPrefix = "tcr_"
	maxPendingResets = 4096
)

// Config tunes credential issuance
type Config struct {
	JWTSecret      []byte
	Issuer         string
	AccessTokenTTL time.Duration
	// RefreshWindow is how long after expiry an access token may still be
	// exchanged for a new one
	RefreshWindow            time.Duration
	BcryptCost               int
	RequireEmailConfirmation bool
	ResetTokenTTL            time.Duration
}

// DefaultConfig returns the settings used when a field is left zero
func DefaultConfig() Config {
	return Config{
		Issuer:         "tcangola-portal",
		AccessTokenTTL: 15 * time.Minute,
		RefreshWindow:  24 * time.Hour,
		BcryptCost:     bcrypt.DefaultCost,
		ResetTokenTTL:  30 * time.Minute,
	}
}

// Service authenticates users and issues their credentials
type Service struct {
	users    UserStore
	cfg      Config
	notifier ResetNotifier
	logger   logrus.FieldLogger
	resets   *expirable.LRU[string, string]
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service. A nil notifier logs reset requests.
func NewService(users UserStore, cfg Config, notifier ResetNotifier, logger logrus.FieldLogger) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	defaults := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = defaults.Issuer
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = defaults.RefreshWindow
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaults.BcryptCost
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = defaults.ResetTokenTTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	return &Service{
		users:    users,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		resets:   expirable.NewLRU[string, string](maxPendingResets, nil, cfg.ResetTokenTTL),
		now:      time.Now,
	}, nil
}

// Authenticate checks the password and opens a new session
func (s *Service) Authenticate(ctx context.Context, email, password string) (*lifecycle.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		// Spend the same bcrypt time as a real comparison
		VerifyPassword(s.dummy(), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if s.cfg.RequireEmailConfirmation && !user.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}

	sessionToken, err := NewSessionToken()
	if err != nil {
		return nil, err
	}
	return s.issue(user.Principal(), sessionToken)
}

// Register creates an account. It does not sign the user in.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*lifecycle.Principal, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	principal := user.Principal()
	return &principal, nil
}

// Reissue rotates the access token of session, keeping its session token.
// Sessions past their refresh window, or whose user is gone, are expired.
func (s *Service) Reissue(ctx context.Context, session *lifecycle.Session) (*lifecycle.Session, error) {
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if s.now().After(session.ExpiresAt.Add(s.cfg.RefreshWindow)) {
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, session.Principal.ID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.issue(user.Principal(), session.SessionToken)
}

// Verify checks an access token for an ordinary request
func (s *Service) Verify(accessToken string) (*Claims, error) {
	return ParseToken(s.cfg.JWTSecret, s.cfg.Issuer, accessToken, 0, s.now())
}

// VerifyForRefresh accepts tokens that expired within the refresh window
func (s *Service) VerifyForRefresh(accessToken string) (*Claims, error) {
	return ParseToken(s.cfg.JWTSecret, s.cfg.Issuer, accessToken, s.cfg.RefreshWindow, s.now())
}

// SessionFromClaims rebuilds the session an access token was issued for
func (s *Service) SessionFromClaims(accessToken string, claims *Claims) *lifecycle.Session {
	session := &lifecycle.Session{
		AccessToken:  accessToken,
		SessionToken: claims.SessionToken,
		Principal: lifecycle.Principal{
			ID:          claims.Subject,
			Email:       claims.Email,
			DisplayName: claims.DisplayName,
		},
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}

// RequestPasswordReset issues a one-time reset token and hands it to the
// notifier. Unknown addresses return ErrUserNotFound; callers facing the
// public should not reveal that.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, err := newOpaqueToken(resetTokenPrefix)
	if err != nil {
		return err
	}
	s.resets.Add(HashToken(token), user.ID)

	if err := s.notifier.NotifyPasswordReset(ctx, user, token); err != nil {
		s.resets.Remove(HashToken(token))
		return fmt.Errorf("%w: failed to deliver reset: %v", ErrUnavailable, err)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	key := HashToken(token)
	userID, ok := s.resets.Get(key)
	if !ok {
		return ErrInvalidResetToken
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	s.resets.Remove(key)
	return nil
}

// ConfirmEmail marks a user's address as confirmed
func (s *Service) ConfirmEmail(ctx context.Context, userID string) error {
	return s.users.ConfirmEmail(ctx, userID)
}

// NewClient returns a provider client holding current, which may be nil
func (s *Service) NewClient(current *lifecycle.Session) *Client {
	return newClient(s, current)
}

func (s *Service) issue(principal lifecycle.Principal, sessionToken string) (*lifecycle.Session, error) {
	claims := Claims{
		Email:        principal.Email,
		DisplayName:  principal.DisplayName,
		SessionToken: sessionToken,
	}
	claims.Subject = principal.ID
	claims.ID = uuid.New().String()

	accessToken, expiresAt, err := NewAccessToken(s.cfg.JWTSecret, s.cfg.Issuer, s.cfg.AccessTokenTTL, s.now(), claims)
	if err != nil {
		return nil, err
	}
	return &lifecycle.Session{
		AccessToken:  accessToken,
		SessionToken: sessionToken,
		ExpiresAt:    expiresAt,
		Principal:    principal,
	}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword("portal-dummy-password-0", s.cfg.BcryptCost)
		if err != nil {
			s.logger.WithError(err).Warn("failed to prepare dummy password hash")
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
