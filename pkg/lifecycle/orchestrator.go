package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/async"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/observability"
)

// SessionRegistry is the session bookkeeping the orchestrator drives
type SessionRegistry interface {
	RegisterActiveSession(ctx context.Context, principalID, token string)
	UpdateActivity(ctx context.Context, token string)
	EndSession(ctx context.Context, token string)
}

// CacheInvalidator drops cached capabilities of a principal
type CacheInvalidator interface {
	Invalidate(ctx context.Context, principalID string)
}

// Deps are the collaborators of an Orchestrator. Provider is required.
// Nil Sessions or Permissions skip that bookkeeping; nil Events discards
// events; nil Dispatcher runs side effects inline.
type Deps struct {
	Provider    Provider
	Events      audit.Recorder
	Sessions    SessionRegistry
	Permissions CacheInvalidator
	Dispatcher  async.Dispatcher
	Logger      logrus.FieldLogger
}

type observer struct {
	id int
	fn func(State)
}

// Orchestrator turns provider transitions into audit events, session
// bookkeeping and cache invalidation. It is the only subscriber to its
// provider; everything else observes it through State and OnChange.
type Orchestrator struct {
	provider    Provider
	events      audit.Recorder
	sessions    SessionRegistry
	permissions CacheInvalidator
	dispatcher  async.Dispatcher
	logger      logrus.FieldLogger
	unsubscribe func()

	// op serializes operations so transitions see the context of the
	// operation that caused them
	op sync.Mutex

	mu         sync.Mutex
	state      State
	opCtx      context.Context
	signingOut bool
	observers  []observer
	nextID     int
}

// New subscribes to deps.Provider and seeds the state from its current session
func New(ctx context.Context, deps Deps) (*Orchestrator, error) {
	if deps.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Events == nil {
		deps.Events = audit.Nop()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = async.Inline{Logger: deps.Logger}
	}

	o := &Orchestrator{
		provider:    deps.Provider,
		events:      deps.Events,
		sessions:    deps.Sessions,
		permissions: deps.Permissions,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		state:       State{Status: StatusSignedOut},
	}

	current, err := deps.Provider.CurrentSession(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("failed to read current session; starting signed out")
	} else if current != nil {
		o.state = State{Status: StatusSignedIn, Session: current}
	}

	o.unsubscribe = deps.Provider.Subscribe(o.handle)
	return o, nil
}

// Close detaches from the provider
func (o *Orchestrator) Close() {
	o.unsubscribe()
}

// State returns the current auth state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnChange registers fn to be called after every transition
func (o *Orchestrator) OnChange(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	o.observers = append(o.observers, observer{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, obs := range o.observers {
				if obs.id == id {
					o.observers = append(o.observers[:i:i], o.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// SignIn authenticates with email and password. Success is recorded by the
// SIGNED_IN transition; failure is recorded here.
func (o *Orchestrator) SignIn(ctx context.Context, email, password string) error {
	o.begin(ctx)
	defer o.end()

	if _, err := o.provider.SignInWithPassword(ctx, email, password); err != nil {
		authErr := newAuthError("sign_in", err)
		o.record(ctx, audit.Entry{
			Kind:    audit.KindLogin,
			Success: false,
			Email:   normalizeEmail(email),
			Details: failureDetails(authErr),
		})
		return authErr
	}
	return nil
}

// SignUp registers an account and records the outcome
func (o *Orchestrator) SignUp(ctx context.Context, email, password, displayName string) (*Principal, error) {
	o.begin(ctx)
	defer o.end()

	principal, err := o.provider.SignUp(ctx, email, password, displayName)
	if err != nil {
		authErr := newAuthError("sign_up", err)
		o.record(ctx, audit.Entry{
			Kind:    audit.KindSignup,
			Success: false,
			Email:   normalizeEmail(email),
			Details: failureDetails(authErr),
		})
		return nil, authErr
	}

	o.record(ctx, audit.Entry{
		Kind:        audit.KindSignup,
		Success:     true,
		PrincipalID: principal.ID,
		Email:       principal.Email,
	})
	return principal, nil
}

// SignOut ends the current session. The session is captured before the
// provider call, so it is ended even when the provider fails.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	o.begin(ctx)
	defer o.end()

	var principalID, email, token string
	if current := o.State().Session; current != nil {
		principalID = current.Principal.ID
		email = current.Principal.Email
		token = current.SessionToken
	}

	o.mu.Lock()
	o.signingOut = true
	o.mu.Unlock()

	err := o.provider.SignOut(ctx)

	o.mu.Lock()
	o.signingOut = false
	o.mu.Unlock()

	entry := audit.Entry{
		Kind:        audit.KindLogout,
		Success:     err == nil,
		PrincipalID: principalID,
		Email:       email,
	}
	var authErr *AuthError
	if err != nil {
		authErr = newAuthError("sign_out", err)
		entry.Details = failureDetails(authErr)
	}

	o.dispatch(ctx, "sign_out_bookkeeping", principalID, func(ctx context.Context) error {
		o.events.Record(ctx, entry)
		if token != "" && o.sessions != nil {
			o.sessions.EndSession(ctx, token)
		}
		return nil
	})

	if authErr != nil {
		return authErr
	}
	return nil
}

// RefreshSession rotates the access token of the current session
func (o *Orchestrator) RefreshSession(ctx context.Context) error {
	o.begin(ctx)
	defer o.end()

	// Captured first: an expired session is signed out during the call
	previous := o.lastPrincipal()

	if _, err := o.provider.RefreshSession(ctx); err != nil {
		authErr := newAuthError("refresh_session", err)
		entry := audit.Entry{
			Kind:    audit.KindSessionRefresh,
			Success: false,
			Details: failureDetails(authErr),
		}
		if previous != nil {
			entry.PrincipalID = previous.ID
			entry.Email = previous.Email
		}
		o.record(ctx, entry)
		return authErr
	}
	return nil
}

// RequestPasswordReset asks the provider to start a reset and records the outcome
func (o *Orchestrator) RequestPasswordReset(ctx context.Context, email string) error {
	o.begin(ctx)
	defer o.end()

	err := o.provider.RequestPasswordReset(ctx, email)
	entry := audit.Entry{
		Kind:    audit.KindPasswordReset,
		Success: err == nil,
		Email:   normalizeEmail(email),
	}
	if err != nil {
		authErr := newAuthError("password_reset", err)
		entry.Details = failureDetails(authErr)
		o.record(ctx, entry)
		return authErr
	}
	o.record(ctx, entry)
	return nil
}

func (o *Orchestrator) handle(t Transition) {
	ctx := o.transitionContext()

	o.mu.Lock()
	suppressed := o.signingOut && t.Event == EventSignedOut
	previous := o.state.Session
	o.mu.Unlock()

	switch t.Event {
	case EventSignedIn:
		if t.Session == nil {
			o.logger.Warn("SIGNED_IN transition without a session")
			return
		}
		session := *t.Session
		o.dispatch(ctx, "sign_in_bookkeeping", session.Principal.ID, func(ctx context.Context) error {
			o.events.Record(ctx, audit.Entry{
				Kind:        audit.KindLogin,
				Success:     true,
				PrincipalID: session.Principal.ID,
				Email:       session.Principal.Email,
			})
			if o.sessions != nil {
				o.sessions.RegisterActiveSession(ctx, session.Principal.ID, session.SessionToken)
			}
			return nil
		})
		o.transition(ctx, State{Status: StatusSignedIn, Session: t.Session}, previous)

	case EventTokenRefreshed:
		if t.Session == nil {
			return
		}
		token := t.Session.SessionToken
		if o.sessions != nil {
			o.dispatch(ctx, "update_session_activity", t.Session.Principal.ID, func(ctx context.Context) error {
				o.sessions.UpdateActivity(ctx, token)
				return nil
			})
		}
		o.transition(ctx, State{Status: StatusSignedIn, Session: t.Session}, previous)

	case EventSignedOut:
		ended := t.Previous
		if ended == nil {
			ended = previous
		}
		if !suppressed && ended != nil {
			session := *ended
			o.dispatch(ctx, "provider_sign_out_bookkeeping", session.Principal.ID, func(ctx context.Context) error {
				if o.sessions != nil {
					o.sessions.EndSession(ctx, session.SessionToken)
				}
				o.events.Record(ctx, audit.Entry{
					Kind:        audit.KindLogout,
					Success:     true,
					PrincipalID: session.Principal.ID,
					Email:       session.Principal.Email,
					Details:     map[string]interface{}{"initiated_by": "provider"},
				})
				return nil
			})
		}
		if ended != nil && previous == nil {
			previous = ended
		}
		o.transition(ctx, State{Status: StatusSignedOut}, previous)

	default:
		o.logger.WithField("event", t.Event).Warn("ignoring unknown auth transition")
	}
}

// transition invalidates cached capabilities, swaps the state and notifies observers
func (o *Orchestrator) transition(ctx context.Context, next State, previous *Session) {
	if o.permissions != nil {
		seen := map[string]bool{}
		for _, s := range []*Session{previous, next.Session} {
			if s == nil || s.Principal.ID == "" || seen[s.Principal.ID] {
				continue
			}
			seen[s.Principal.ID] = true
			o.permissions.Invalidate(ctx, s.Principal.ID)
		}
	}

	logged := next.Session
	if logged == nil {
		logged = previous
	}
	o.logger.WithFields(logFields(logged)).WithField("status", next.Status).Debug("auth state changed")

	o.mu.Lock()
	o.state = next
	observers := make([]observer, len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()

	for _, obs := range observers {
		obs.fn(next)
	}
}

func (o *Orchestrator) record(ctx context.Context, entry audit.Entry) {
	o.dispatch(ctx, "record_"+string(entry.Kind), entry.PrincipalID, func(ctx context.Context) error {
		o.events.Record(ctx, entry)
		return nil
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, task, principalID string, fn func(context.Context) error) {
	logger := o.logger
	if principalID != "" {
		logger = logger.WithField("principal_id", principalID)
	}
	o.dispatcher.Dispatch(context.WithoutCancel(ctx), task, func(ctx context.Context) error {
		logger.WithField("task", task).Debug("running auth bookkeeping")
		return fn(ctx)
	})
}

func (o *Orchestrator) begin(ctx context.Context) {
	o.op.Lock()
	o.mu.Lock()
	o.opCtx = ctx
	o.mu.Unlock()
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.opCtx = nil
	o.mu.Unlock()
	o.op.Unlock()
}

func (o *Orchestrator) transitionContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opCtx != nil {
		return o.opCtx
	}
	return context.Background()
}

func (o *Orchestrator) lastPrincipal() *Principal {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Session != nil {
		p := o.state.Session.Principal
		return &p
	}
	return nil
}

func failureDetails(err *AuthError) map[string]interface{} {
	return map[string]interface{}{
		"error":  err.Err.Error(),
		"reason": string(err.Reason),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func logFields(s *Session) logrus.Fields {
	if s == nil {
		return logrus.Fields{}
	}
	return logrus.Fields{
		"principal_id": s.Principal.ID,
		"session":      observability.TokenPrefix(s.SessionToken),
	}
}
