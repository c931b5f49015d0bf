package identity

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/tcangola/portal/pkg/lifecycle"
)

// User is a stored account
type User struct {
	ID             string
	Email          string
	DisplayName    string
	PasswordHash   string
	EmailConfirmed bool
	CreatedAt      time.Time
}

// Principal returns the public view of u
func (u *User) Principal() lifecycle.Principal {
	return lifecycle.Principal{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

// UserStore persists users. Emails are stored normalized.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ConfirmEmail(ctx context.Context, id string) error
}

// NormalizeEmail trims and lower-cases an address and checks its syntax
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// MemoryUserStore keeps users in process memory
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryUserStore creates an empty store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return ErrEmailTaken
	}
	stored := *user
	s.byID[user.ID] = &stored
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	user := *s.byID[id]
	return &user, nil
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	user := *stored
	return &user, nil
}

func (s *MemoryUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	stored.PasswordHash = passwordHash
	return nil
}

func (s *MemoryUserStore) ConfirmEmail(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	stored.EmailConfirmed = true
	return nil
}
