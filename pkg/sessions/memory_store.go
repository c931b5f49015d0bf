package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*ActiveSession
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*ActiveSession),
		now:      time.Now,
	}
}

// Register implements Store
func (s *MemoryStore) Register(ctx context.Context, principalID, token, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for t, session := range s.sessions {
		if t != token && session.PrincipalID == principalID && session.IsActive {
			session.IsActive = false
		}
	}

	if session, ok := s.sessions[token]; ok {
		session.PrincipalID = principalID
		session.UserAgent = userAgent
		session.LastActivityAt = now
		session.IsActive = true
		return nil
	}

	s.sessions[token] = &ActiveSession{
		SessionToken:   token,
		PrincipalID:    principalID,
		UserAgent:      userAgent,
		StartedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}
	return nil
}

// Touch implements Store
func (s *MemoryStore) Touch(ctx context.Context, token, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || !session.IsActive {
		return nil
	}
	session.LastActivityAt = s.now().UTC()
	if userAgent != "" {
		session.UserAgent = userAgent
	}
	return nil
}

// End implements Store
func (s *MemoryStore) End(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || !session.IsActive {
		return false, nil
	}
	session.IsActive = false
	return true, nil
}

// Cleanup implements Store
func (s *MemoryStore) Cleanup(ctx context.Context, threshold time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var affected int64
	for _, session := range s.sessions {
		if session.IsActive && session.Stale(now, threshold) {
			session.IsActive = false
			affected++
		}
	}
	return affected, nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, token string) (*ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// ListActive implements Store. An empty principalID lists every active session.
func (s *MemoryStore) ListActive(ctx context.Context, principalID string) ([]*ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []*ActiveSession
	for _, session := range s.sessions {
		if !session.IsActive {
			continue
		}
		if principalID != "" && session.PrincipalID != principalID {
			continue
		}
		copied := *session
		sessions = append(sessions, &copied)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
	})
	return sessions, nil
}

// IsActive implements Store
func (s *MemoryStore) IsActive(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	return ok && session.IsActive, nil
}
