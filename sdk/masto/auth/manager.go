package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Manager owns the finite-state model of authentication. It wraps a Flow and
// a Store, mediates initialize/login/logout, and publishes every state
// transition to registered observers in order, including transitions that
// re-enter the current state.
//
// Manager is the single writer of the in-memory credentials and state.
// Auth-mutating calls (StartAuthentication, HandleAuthorizationCode, Logout)
// are not serialized against each other internally; callers must not overlap
// them. Read-only calls are safe at any time.
type Manager struct {
	flow          *Flow
	store         Store
	baseTransport http.RoundTripper
	refreshBuffer time.Duration

	mu         sync.Mutex
	state      State
	lastErr    *Error
	creds      *Credentials
	authClient *http.Client

	obsMu     sync.Mutex
	observers map[int]chan State
	nextObsID int

	refreshGroup singleflight.Group
}

// ManagerOption customises Manager construction.
type ManagerOption func(*Manager)

// WithRefreshBuffer overrides how far ahead of expiration a proactive
// refresh is attempted. The default is DefaultRefreshBuffer.
func WithRefreshBuffer(buffer time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshBuffer = buffer
	}
}

// WithBaseTransport sets the RoundTripper underneath the authenticated
// client, e.g. a proxied or pinned transport.
func WithBaseTransport(rt http.RoundTripper) ManagerOption {
	return func(m *Manager) {
		m.baseTransport = rt
	}
}

// NewManager creates an authentication manager over the given flow and store.
func NewManager(flow *Flow, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		flow:          flow,
		store:         store,
		refreshBuffer: DefaultRefreshBuffer,
		state:         StateUnauthenticated,
		observers:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers an observer for state transitions. Every transition is
// delivered in order, repeats included; buffer sizes the channel, and a full
// channel drops the oldest guarantee for that observer only (a warning is
// logged). The returned cancel function unregisters the observer and closes
// the channel.
func (m *Manager) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan State, buffer)

	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = ch
	m.obsMu.Unlock()

	cancel := func() {
		m.obsMu.Lock()
		if existing, ok := m.observers[id]; ok {
			delete(m.observers, id)
			close(existing)
		}
		m.obsMu.Unlock()
	}
	return ch, cancel
}

// CurrentState returns the current authentication state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent authentication error, or nil. It is
// replaced wholesale on each failure and cleared on entering the
// authenticated or unauthenticated state.
func (m *Manager) LastError() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// CurrentCredentials returns a copy of the held credentials, or nil.
func (m *Manager) CurrentCredentials() *Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.Clone()
}

// IsAuthenticated reports whether valid credentials are currently held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated && m.creds != nil
}

// AuthenticatedClient returns the HTTP client carrying the bearer token, or
// nil when unauthenticated. The client is replaced wholesale when
// credentials change; it is never patched in place.
func (m *Manager) AuthenticatedClient() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authClient
}

// Initialize loads persisted credentials and settles into authenticated or
// unauthenticated. Credentials within the refresh buffer of expiry are
// refreshed first; a failed or impossible refresh clears the store. Whatever
// goes wrong, the manager never remains in the initializing state.
//
// The returned error is diagnostic only: the state machine has already
// settled by the time it is returned.
func (m *Manager) Initialize(ctx context.Context) error {
	m.transition(StateInitializing)

	creds, err := m.store.Load(ctx)
	if err != nil {
		log.Warnf("loading stored credentials failed: %v", err)
		m.transition(StateUnauthenticated)
		return err
	}
	if creds == nil {
		m.transition(StateUnauthenticated)
		return nil
	}

	if !creds.ShouldRefresh(m.refreshBuffer, time.Now()) {
		m.adopt(creds)
		m.transition(StateAuthenticated)
		return nil
	}

	log.WithField("state", "initializing").Debug("stored credentials near expiry, refreshing")
	refreshed, errRefresh := m.refresh(ctx, creds)
	if errRefresh != nil {
		log.Warnf("token refresh during initialize failed: %v", errRefresh)
		if errClear := m.store.Clear(ctx); errClear != nil {
			log.Warnf("clearing stale credentials failed: %v", errClear)
		}
		m.transition(StateUnauthenticated)
		return nil
	}

	if errSave := m.store.Save(ctx, refreshed); errSave != nil {
		log.Errorf("persisting refreshed credentials failed: %v", errSave)
	}
	m.adopt(refreshed)
	m.transition(StateAuthenticated)
	return nil
}

// StartAuthentication begins a new authorization attempt and returns the URL
// the user must visit. A fresh PKCE pair is generated per call.
func (m *Manager) StartAuthentication() (string, error) {
	m.transition(StateAuthenticating)
	authURL, err := m.flow.BuildAuthorizationURL()
	if err != nil {
		m.recordError(&Error{Kind: ErrorKindUnknown, Message: "building authorization URL failed", Cause: err})
		m.transition(StateUnauthenticated)
		return "", err
	}
	return authURL, nil
}

// HandleAuthorizationCode completes the authorization attempt by exchanging
// the code for credentials. On success the credentials are persisted and the
// manager becomes authenticated. On failure the error is recorded, the
// transient error state is emitted, and the manager settles into
// unauthenticated.
func (m *Manager) HandleAuthorizationCode(ctx context.Context, code string) error {
	creds, err := m.flow.ExchangeCode(ctx, code)
	if err != nil {
		m.recordError(&Error{
			Kind:    ErrorKindInvalidCredentials,
			Message: "authorization code exchange failed",
			Cause:   err,
		})
		m.transition(StateUnauthenticated)
		return err
	}

	if errSave := m.store.Save(ctx, creds); errSave != nil {
		// The session is still usable in memory; persistence catches up on
		// the next save.
		log.Errorf("persisting credentials failed: %v", errSave)
	}
	m.adopt(creds)
	m.transition(StateAuthenticated)
	return nil
}

// HandleCallbackError records an authorization attempt the user aborted or
// the server rejected at the consent screen, then settles into
// unauthenticated.
func (m *Manager) HandleCallbackError(errCode, description string) {
	kind := ErrorKindUnknown
	if errCode == "access_denied" {
		kind = ErrorKindUserCancelled
	}
	message := errCode
	if description != "" {
		message = errCode + ": " + description
	}
	m.recordError(&Error{Kind: kind, Message: message})
	m.transition(StateUnauthenticated)
}

// Logout clears persisted and in-memory credentials. Failures during
// teardown are logged, never returned: the end state is always
// unauthenticated.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		log.Warnf("clearing credential store during logout failed: %v", err)
	}

	m.mu.Lock()
	m.creds = nil
	if m.authClient != nil {
		m.authClient.CloseIdleConnections()
		m.authClient = nil
	}
	m.mu.Unlock()

	m.transition(StateUnauthenticated)
}

// refresh performs a refresh-token exchange, collapsing concurrent attempts
// into a single network call.
func (m *Manager) refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	result, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return m.flow.Refresh(ctx, creds)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Credentials), nil
}

// adopt installs credentials and rebuilds the authenticated client around a
// static bearer token source.
func (m *Manager) adopt(creds *Credentials) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	client := &http.Client{
		Transport: &oauth2.Transport{Source: source, Base: m.baseTransport},
	}

	m.mu.Lock()
	m.creds = creds.Clone()
	if m.authClient != nil {
		m.authClient.CloseIdleConnections()
	}
	m.authClient = client
	m.mu.Unlock()
}

// transition moves to the given state and notifies observers. Entering
// authenticated or unauthenticated clears the recorded error; the transient
// error state set by recordError remains readable until then.
func (m *Manager) transition(state State) {
	m.mu.Lock()
	m.state = state
	if state == StateAuthenticated || state == StateUnauthenticated {
		m.lastErr = nil
	}
	m.mu.Unlock()

	log.WithField("state", string(state)).Debug("auth state transition")
	m.emit(state)
}

// recordError stores the error and emits the transient error state.
func (m *Manager) recordError(authErr *Error) {
	m.mu.Lock()
	m.lastErr = authErr
	m.state = StateError
	m.mu.Unlock()

	log.WithField("state", string(StateError)).Debugf("auth error recorded: %v", authErr)
	m.emit(StateError)
}

// emit delivers a state value to every observer without blocking the
// state machine.
func (m *Manager) emit(state State) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for _, ch := range m.observers {
		select {
		case ch <- state:
		default:
			log.Warn("state observer channel full, dropping transition")
		}
	}
}
