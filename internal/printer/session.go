// Package printer owns the BLE session with a single receipt printer and
// dispatches formatted receipts to it.
package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/gopos-printer/internal/ble"
)

// State is the session manager's connection state.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the persistable identity of a printer.
type Identity struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Session is the live association with one printer. Its connection handle
// belongs to the Manager.
type Session struct {
	Identity Identity
	conn     ble.Connection
}

// Connected reports whether the session's transport is up. A nil session is
// never connected.
func (s *Session) Connected() bool {
	return s != nil && s.conn != nil && s.conn.Connected()
}

// Status is a read-only snapshot of the manager.
type Status struct {
	State      State     `json:"state"`
	Connected  bool      `json:"connected"`
	Device     *Identity `json:"device,omitempty"`
	LastDevice *Identity `json:"last_device,omitempty"`
}

// IdentityStore persists the last connected printer.
type IdentityStore interface {
	LoadIdentity() (*Identity, error)
	SaveIdentity(id Identity) error
}

// Options configures the Manager.
type Options struct {
	ScanTimeout    time.Duration // how long a scan listens for advertisements
	ConnectTimeout time.Duration // bound on a single transport connect
	Store          IdentityStore // optional
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Manager discovers, connects and tracks a single BLE printer session. All
// state transitions happen under mu; at most one scan, reconnect or print
// runs at a time.
type Manager struct {
	adapter ble.Adapter
	opts    Options

	mu      sync.Mutex
	state   State
	session *Session
	last    *Identity
	op      string // operation in flight, "" when idle

	subs    map[int]chan Status
	nextSub int
}

// NewManager creates a Manager. The last known identity is loaded from
// opts.Store when one is set.
func NewManager(adapter ble.Adapter, opts Options) *Manager {
	def := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}

	m := &Manager{
		adapter: adapter,
		opts:    opts,
		subs:    make(map[int]chan Status),
	}

	if opts.Store != nil {
		id, err := opts.Store.LoadIdentity()
		if err != nil {
			slog.Warn("[printer] could not load last device", "error", err)
		} else {
			m.last = id
		}
	}
	return m
}

// Scan lets chooser pick one of the printers advertising the printer
// service and connects to it, replacing any current session. Cancellation
// by the chooser returns ble.ErrUserCancelled; other failures are
// *PlatformError. No retry is attempted.
func (m *Manager) Scan(ctx context.Context, chooser ble.Chooser) (*Session, error) {
	done, err := m.begin("scan")
	if err != nil {
		return nil, err
	}
	defer done()

	if err := m.adapter.Enable(); err != nil {
		return nil, &PlatformError{Op: "enable adapter", Err: err}
	}

	m.setState(StateScanning)
	sess, err := m.scan(ctx, chooser)
	if err != nil {
		m.settle()
		if errors.Is(err, ble.ErrUserCancelled) {
			slog.Info("[printer] scan cancelled")
		} else {
			slog.Warn("[printer] scan failed", "error", err)
		}
		return nil, err
	}
	return sess, nil
}

func (m *Manager) scan(ctx context.Context, chooser ble.Chooser) (*Session, error) {
	scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	devices, err := m.adapter.Scan(scanCtx, ble.ServiceUUID)
	cancel()
	if err != nil {
		return nil, &PlatformError{Op: "scan", Err: err}
	}
	if len(devices) == 0 {
		return nil, &PlatformError{Op: "scan", Err: ble.ErrNoDevices}
	}
	slog.Debug("[printer] scan complete", "found", len(devices))

	dev, err := chooser.Choose(ctx, devices)
	if err != nil {
		if errors.Is(err, ble.ErrUserCancelled) {
			return nil, err
		}
		return nil, &PlatformError{Op: "choose device", Err: err}
	}

	// Picking the printer that is already connected keeps the live link;
	// a second connect would share the same peripheral.
	if cur := m.Current(); cur.Connected() && strings.EqualFold(cur.Identity.ID, dev.ID) {
		m.settle()
		slog.Info("[printer] already connected", "id", cur.Identity.ID)
		return cur, nil
	}

	conn, err := m.connect(ctx, dev.ID)
	if err != nil {
		return nil, &PlatformError{Op: "connect", Err: err}
	}
	sess, err := m.install(Identity{ID: dev.ID, Name: dev.Name}, conn)
	if err != nil {
		return nil, &PlatformError{Op: "connect", Err: err}
	}
	return sess, nil
}

// ReconnectLastKnown quietly reconnects to id at startup. It does nothing
// when a session already exists or id is nil, and returns nil on any
// failure after logging it.
func (m *Manager) ReconnectLastKnown(ctx context.Context, id *Identity) *Session {
	if id == nil || id.ID == "" {
		slog.Debug("[printer] no last device to reconnect")
		return nil
	}

	done, err := m.begin("reconnect")
	if err != nil {
		slog.Info("[printer] reconnect skipped", "reason", err)
		return nil
	}
	defer done()

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return nil
	}
	m.state = StateReconnecting
	m.changedLocked()
	m.mu.Unlock()

	sess, err := m.reconnect(ctx, *id)
	if err != nil {
		slog.Warn("[printer] reconnection failed", "id", id.ID, "error", err)
		m.settle()
		return nil
	}
	return sess
}

func (m *Manager) reconnect(ctx context.Context, id Identity) (*Session, error) {
	if err := m.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	knownCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	known, err := m.adapter.KnownDevices(knownCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list known devices: %w", err)
	}

	var match *ble.Device
	for i := range known {
		if strings.EqualFold(known[i].ID, id.ID) {
			match = &known[i]
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("printer %s is not a known device", id.ID)
	}

	conn, err := m.connect(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	if match.Name != "" {
		id.Name = match.Name
	}
	id.ID = match.ID
	return m.install(id, conn)
}

// Disconnect tears down the current session. State is cleared before the
// transport is closed.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	if m.state == StateConnected {
		m.state = StateDisconnected
	}
	if sess != nil {
		m.changedLocked()
	}
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	slog.Info("[printer] disconnected", "id", sess.Identity.ID)
	if err := sess.conn.Disconnect(); err != nil {
		return &PlatformError{Op: "disconnect", Err: err}
	}
	return nil
}

// Current returns the current session or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// HasSession reports whether a session exists.
func (m *Manager) HasSession() bool {
	return m.Current() != nil
}

// LastKnown returns the last connected printer, if any.
func (m *Manager) LastKnown() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	id := *m.last
	return &id
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Subscribe returns a channel that receives the current status and every
// later change. Slow readers only see the latest status. Call cancel to
// stop receiving; it closes the channel.
func (m *Manager) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.statusLocked()
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// begin claims the single operation slot.
func (m *Manager) begin(op string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op != "" {
		return nil, fmt.Errorf("%w: %s in progress", ErrBusy, m.op)
	}
	m.op = op
	return func() {
		m.mu.Lock()
		m.op = ""
		m.mu.Unlock()
	}, nil
}

func (m *Manager) connect(ctx context.Context, id string) (ble.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	return m.adapter.Connect(ctx, id)
}

// install makes conn the current session. A link that dropped before its
// disconnect callback was registered is closed and reported instead.
// A superseded connection to a different printer is closed; its late
// disconnect event no longer matches and is ignored. A superseded handle
// to the same printer is left alone, since closing it would tear down the
// shared peripheral link the new connection uses.
func (m *Manager) install(id Identity, conn ble.Connection) (*Session, error) {
	sess := &Session{Identity: id, conn: conn}
	conn.OnDisconnect(func() { m.dropped(sess) })

	m.mu.Lock()
	if !conn.Connected() {
		m.mu.Unlock()
		if err := conn.Disconnect(); err != nil {
			slog.Debug("[printer] closing dropped connection", "id", id.ID, "error", err)
		}
		return nil, ErrLinkLost
	}
	old := m.session
	m.session = sess
	last := id
	m.last = &last
	m.state = StateConnected
	m.changedLocked()
	m.mu.Unlock()

	if old != nil && old.conn != conn && !strings.EqualFold(old.Identity.ID, id.ID) {
		if err := old.conn.Disconnect(); err != nil {
			slog.Warn("[printer] closing previous connection", "id", old.Identity.ID, "error", err)
		}
	}

	if m.opts.Store != nil {
		if err := m.opts.Store.SaveIdentity(id); err != nil {
			slog.Warn("[printer] could not save last device", "error", err)
		}
	}

	slog.Info("[printer] connected", "id", id.ID, "name", id.Name)
	return sess, nil
}

// dropped handles a platform disconnect event for sess.
func (m *Manager) dropped(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != sess {
		slog.Debug("[printer] ignoring disconnect of superseded session", "id", sess.Identity.ID)
		return
	}
	m.session = nil
	if m.state == StateConnected {
		m.state = StateDisconnected
	}
	m.changedLocked()
	slog.Warn("[printer] connection lost", "id", sess.Identity.ID)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.changedLocked()
}

// settle returns to the resting state after a failed scan or reconnect.
func (m *Manager) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.state = StateConnected
	} else {
		m.state = StateDisconnected
	}
	m.changedLocked()
}

func (m *Manager) statusLocked() Status {
	st := Status{State: m.state}
	if m.session != nil {
		id := m.session.Identity
		st.Device = &id
		st.Connected = m.session.Connected()
	}
	if m.last != nil {
		id := *m.last
		st.LastDevice = &id
	}
	return st
}

// changedLocked pushes the current status to subscribers without blocking.
// Caller must hold mu.
func (m *Manager) changedLocked() {
	st := m.statusLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
