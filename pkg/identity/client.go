package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/tcangola/portal/pkg/lifecycle"
)

type subscriber struct {
	id int
	fn func(lifecycle.Transition)
}

// Client is the provider view of one auth context: a browser tab, or one
// HTTP request acting on behalf of a bearer token.
type Client struct {
	svc *Service

	mu          sync.Mutex
	session     *lifecycle.Session
	subscribers []subscriber
	nextID      int
}

func newClient(svc *Service, current *lifecycle.Session) *Client {
	return &Client{svc: svc, session: copySession(current)}
}

// SignInWithPassword authenticates and emits SIGNED_IN
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*lifecycle.Session, error) {
	session, err := c.svc.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	previous := c.session
	c.session = session
	c.mu.Unlock()

	c.emit(lifecycle.Transition{Event: lifecycle.EventSignedIn, Session: copySession(session), Previous: previous})
	return copySession(session), nil
}

// SignUp registers an account without changing the client state
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*lifecycle.Principal, error) {
	return c.svc.Register(ctx, email, password, displayName)
}

// SignOut drops the current session and emits SIGNED_OUT
func (c *Client) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.session
	c.session = nil
	c.mu.Unlock()

	if previous == nil {
		return ErrSessionNotFound
	}
	c.emit(lifecycle.Transition{Event: lifecycle.EventSignedOut, Previous: previous})
	return nil
}

// CurrentSession returns the held session, or nil
func (c *Client) CurrentSession(ctx context.Context) (*lifecycle.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySession(c.session), nil
}

// RefreshSession rotates the access token and emits TOKEN_REFRESHED. A
// session past its refresh window is signed out by the provider.
func (c *Client) RefreshSession(ctx context.Context) (*lifecycle.Session, error) {
	c.mu.Lock()
	current := copySession(c.session)
	c.mu.Unlock()

	if current == nil {
		return nil, ErrSessionNotFound
	}

	session, err := c.svc.Reissue(ctx, current)
	if errors.Is(err, ErrSessionExpired) {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		c.emit(lifecycle.Transition{Event: lifecycle.EventSignedOut, Previous: current})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.emit(lifecycle.Transition{Event: lifecycle.EventTokenRefreshed, Session: copySession(session), Previous: current})
	return copySession(session), nil
}

// RequestPasswordReset forwards to the service
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.svc.RequestPasswordReset(ctx, email)
}

// Subscribe registers handler for transitions. Handlers run in subscription
// order on the goroutine that caused the transition.
func (c *Client) Subscribe(handler func(lifecycle.Transition)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, sub := range c.subscribers {
				if sub.id == id {
					c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Client) emit(t lifecycle.Transition) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fn(t)
	}
}

func copySession(s *lifecycle.Session) *lifecycle.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

var _ lifecycle.Provider = (*Client)(nil)
