package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumenlock/lumenlock/internal/events"
	"github.com/lumenlock/lumenlock/internal/ledger"
)

// State is the connection state of the wallet session. A failed connect
// passes through a transient error that is surfaced to the caller and
// published as an error:<kind> event; the machine itself settles straight
// back in Disconnected rather than parking in a distinct error state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Session is the live binding to a wallet provider. PublicKey is immutable
// once the session reaches Connected.
type Session struct {
	Kind        Kind      `json:"kind"`
	PublicKey   string    `json:"public_key"`
	Network     string    `json:"network"`
	ConnectedAt time.Time `json:"connected_at"`
}

// connectAttempt is a single in-flight connect. Concurrent Connect calls
// wait on done and share the same result.
type connectAttempt struct {
	done    chan struct{}
	cancel  context.CancelFunc
	session *Session
	err     error
}

// Manager owns the wallet session state machine. It is the single writer
// of session state: connect, disconnect, and sign all mutate it under one
// mutex, and connect attempts are serialized, never concurrent.
type Manager struct {
	adapters    map[Kind]Adapter
	network     string
	signTimeout time.Duration
	bus         *events.Bus
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	session    *Session
	inflight   *connectAttempt
	sessCtx    context.Context
	sessCancel context.CancelFunc

	onDisconnect []func(publicKey string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSignTimeout overrides the bound on user-interactive signature waits.
func WithSignTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.signTimeout = d }
}

// OnDisconnect registers a hook invoked with the session's public key
// whenever the session ends. Used to invalidate auth sessions.
func OnDisconnect(fn func(publicKey string)) ManagerOption {
	return func(m *Manager) { m.onDisconnect = append(m.onDisconnect, fn) }
}

// NewManager creates a connection manager for the expected network.
func NewManager(adapters []Adapter, network string, bus *events.Bus, logger *slog.Logger, opts ...ManagerOption) *Manager {
	byKind := make(map[Kind]Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}

	m := &Manager{
		adapters:    byKind,
		network:     network,
		signTimeout: 60 * time.Second,
		bus:         bus,
		logger:      logger,
		state:       StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the live session, or nil when disconnected.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

// SessionContext returns a context that is cancelled when the current
// session ends. Confirmation polls tied to the session derive from it.
// When no session is live, the returned context is already cancelled.
func (m *Manager) SessionContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessCtx != nil {
		return m.sessCtx
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Connect establishes a session with the given provider. A Connect call
// while another is in flight joins the in-flight attempt and receives the
// same result. Connecting while already connected fails with
// ErrAlreadyConnected; callers disconnect first.
func (m *Manager) Connect(ctx context.Context, kind Kind) (*Session, error) {
	m.mu.Lock()

	if m.state == StateConnected {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}

	if att := m.inflight; att != nil {
		m.mu.Unlock()
		return waitAttempt(ctx, att)
	}

	adapter, ok := m.adapters[kind]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, kind)
	}

	attCtx, cancel := context.WithCancel(context.Background())
	att := &connectAttempt{done: make(chan struct{}), cancel: cancel}
	m.inflight = att
	m.state = StateConnecting
	m.mu.Unlock()

	go m.runConnect(attCtx, adapter, att)

	return waitAttempt(ctx, att)
}

// runConnect performs the provider round trips and settles the attempt.
func (m *Manager) runConnect(ctx context.Context, adapter Adapter, att *connectAttempt) {
	session, err := m.dialProvider(ctx, adapter)

	m.mu.Lock()
	m.inflight = nil
	if err != nil {
		// Error state is transient: the session is cleared and the
		// machine settles in Disconnected with the error surfaced.
		m.state = StateDisconnected
		m.session = nil
		att.err = err
	} else {
		m.state = StateConnected
		m.session = session
		m.sessCtx, m.sessCancel = context.WithCancel(context.Background())
		att.session = session
	}
	m.mu.Unlock()
	close(att.done)

	if err != nil {
		m.logger.Warn("wallet connect failed", "provider", adapter.Kind(), "error", err)
		m.bus.Publish(events.Event{
			Type: events.ErrorType(errKind(err)),
			Data: map[string]string{"provider": string(adapter.Kind())},
		})
		return
	}

	m.logger.Info("wallet connected", "provider", session.Kind, "public_key", session.PublicKey)
	m.bus.Publish(events.Event{
		Type: events.TypeConnected,
		Data: map[string]string{"provider": string(session.Kind), "public_key": session.PublicKey},
	})
}

// dialProvider asks the provider for access and verifies its network.
func (m *Manager) dialProvider(ctx context.Context, adapter Adapter) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.signTimeout)
	defer cancel()

	publicKey, err := adapter.RequestAccess(ctx)
	if err != nil {
		return nil, mapCtxErr(err)
	}
	if publicKey == "" {
		return nil, fmt.Errorf("%w: empty public key from provider", ErrUserRejected)
	}

	network, err := adapter.Network(ctx)
	if err != nil {
		return nil, mapCtxErr(err)
	}
	if network != m.network {
		return nil, fmt.Errorf("%w: provider on %q, expected %q", ErrNetworkMismatch, network, m.network)
	}

	return &Session{
		Kind:        adapter.Kind(),
		PublicKey:   publicKey,
		Network:     network,
		ConnectedAt: time.Now(),
	}, nil
}

// Disconnect clears the session from any state. It is idempotent, cancels
// in-flight sign requests and session-scoped polls, and fires the
// registered disconnect hooks.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	var publicKey string
	if m.session != nil {
		publicKey = m.session.PublicKey
	}
	if m.inflight != nil {
		m.inflight.cancel()
	}
	if m.sessCancel != nil {
		m.sessCancel()
		m.sessCtx, m.sessCancel = nil, nil
	}
	wasConnected := m.state != StateDisconnected
	m.state = StateDisconnected
	m.session = nil
	m.mu.Unlock()

	if !wasConnected {
		return
	}

	for _, fn := range m.onDisconnect {
		fn(publicKey)
	}

	m.logger.Info("wallet disconnected", "public_key", publicKey)
	m.bus.Publish(events.Event{
		Type: events.TypeDisconnected,
		Data: map[string]string{"public_key": publicKey},
	})
}

// SignPayload asks the connected wallet to sign challenge bytes. The wait
// is bounded by the sign timeout; a timeout fails this request only and
// leaves the connection state untouched.
func (m *Manager) SignPayload(ctx context.Context, payload []byte) ([]byte, error) {
	adapter, sessCtx, err := m.signer()
	if err != nil {
		return nil, err
	}

	ctx, cancel := m.signContext(ctx, sessCtx)
	defer cancel()

	sig, err := adapter.SignPayload(ctx, payload)
	if err != nil {
		return nil, m.mapSignErr(err, sessCtx)
	}
	return sig, nil
}

// SignTransaction asks the connected wallet to sign an envelope, with the
// same timeout discipline as SignPayload.
func (m *Manager) SignTransaction(ctx context.Context, env *ledger.Envelope) (*ledger.Envelope, error) {
	adapter, sessCtx, err := m.signer()
	if err != nil {
		return nil, err
	}

	ctx, cancel := m.signContext(ctx, sessCtx)
	defer cancel()

	signed, err := adapter.SignTransaction(ctx, env)
	if err != nil {
		return nil, m.mapSignErr(err, sessCtx)
	}
	return signed, nil
}

func (m *Manager) signer() (Adapter, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.session == nil {
		return nil, nil, ErrNotConnected
	}
	adapter, ok := m.adapters[m.session.Kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotInstalled, m.session.Kind)
	}
	return adapter, m.sessCtx, nil
}

// signContext bounds a sign request by the sign timeout and ties it to the
// session so a disconnect cancels the wait.
func (m *Manager) signContext(ctx, sessCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, m.signTimeout)
	stop := context.AfterFunc(sessCtx, cancel)
	return ctx, func() { stop(); cancel() }
}

func (m *Manager) mapSignErr(err error, sessCtx context.Context) error {
	if sessCtx.Err() != nil {
		return ErrNotConnected
	}
	return mapCtxErr(err)
}

// mapCtxErr folds context deadline errors into the wallet taxonomy.
func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// errKind names a wallet error for error:<kind> events.
func errKind(err error) string {
	switch {
	case errors.Is(err, ErrNotInstalled):
		return "not_installed"
	case errors.Is(err, ErrUserRejected):
		return "user_rejected"
	case errors.Is(err, ErrNetworkMismatch):
		return "network_mismatch"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "unknown"
	}
}

// waitAttempt blocks until the attempt settles or ctx is cancelled. The
// attempt itself keeps running when an individual waiter gives up.
func waitAttempt(ctx context.Context, att *connectAttempt) (*Session, error) {
	select {
	case <-att.done:
		return att.session, att.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
