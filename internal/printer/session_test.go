package printer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/gopos-printer/internal/ble"
	"github.com/chaz8081/gopos-printer/internal/ble/bletest"
)

var (
	printerA = ble.Device{ID: "AA:BB:CC:DD:EE:01", Name: "RPP02N", RSSI: -40}
	printerB = ble.Device{ID: "AA:BB:CC:DD:EE:02", Name: "MTP-II", RSSI: -60}
)

// memStore records saved identities.
type memStore struct {
	mu    sync.Mutex
	id    *Identity
	saves int
}

func (s *memStore) LoadIdentity() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *memStore) SaveIdentity(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = &id
	s.saves++
	return nil
}

func fastOpts() Options {
	return Options{ScanTimeout: time.Second, ConnectTimeout: time.Second}
}

func cancelChooser() ble.Chooser {
	return ble.ChooserFunc(func(context.Context, []ble.Device) (ble.Device, error) {
		return ble.Device{}, ble.ErrUserCancelled
	})
}

func TestScanConnects(t *testing.T) {
	adapter := bletest.NewAdapter(printerA, printerB)
	store := &memStore{}
	opts := fastOpts()
	opts.Store = store
	m := NewManager(adapter, opts)

	sess, err := m.Scan(context.Background(), ble.SelectChooser{Name: "MTP-II"})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if sess.Identity != (Identity{ID: printerB.ID, Name: printerB.Name}) {
		t.Errorf("session identity = %+v", sess.Identity)
	}
	if !sess.Connected() {
		t.Error("session should be connected")
	}

	st := m.Status()
	if st.State != StateConnected || !st.Connected {
		t.Errorf("Status() = %+v, want connected", st)
	}
	if st.LastDevice == nil || st.LastDevice.ID != printerB.ID {
		t.Errorf("LastDevice = %+v, want %s", st.LastDevice, printerB.ID)
	}
	if store.id == nil || store.id.ID != printerB.ID {
		t.Errorf("stored identity = %+v, want %s", store.id, printerB.ID)
	}
}

func TestScanUserCancelled(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	sess, err := m.Scan(context.Background(), cancelChooser())
	if !errors.Is(err, ble.ErrUserCancelled) {
		t.Fatalf("Scan() error = %v, want ErrUserCancelled", err)
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		t.Error("cancellation should not be reported as a platform error")
	}
	if sess != nil {
		t.Error("Scan() should not return a session when cancelled")
	}
	if adapter.Connects() != 0 {
		t.Errorf("Connect called %d times, want 0", adapter.Connects())
	}
	if st := m.Status(); st.State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", st.State)
	}
}

func TestScanFailures(t *testing.T) {
	tests := []struct {
		name    string
		adapter func() *bletest.Adapter
		wantErr error
	}{
		{
			name:    "no devices",
			adapter: func() *bletest.Adapter { return bletest.NewAdapter() },
			wantErr: ble.ErrNoDevices,
		},
		{
			name: "adapter off",
			adapter: func() *bletest.Adapter {
				a := bletest.NewAdapter(printerA)
				a.EnableErr = errors.New("adapter powered off")
				return a
			},
		},
		{
			name: "scan error",
			adapter: func() *bletest.Adapter {
				a := bletest.NewAdapter(printerA)
				a.ScanErr = errors.New("scan refused")
				return a
			},
		},
		{
			name: "connect error",
			adapter: func() *bletest.Adapter {
				a := bletest.NewAdapter(printerA)
				a.ConnectErr = errors.New("gatt connect timeout")
				return a
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.adapter(), fastOpts())
			_, err := m.Scan(context.Background(), ble.SelectChooser{})

			var pe *PlatformError
			if !errors.As(err, &pe) {
				t.Fatalf("Scan() error = %v, want *PlatformError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Scan() error = %v, want %v", err, tt.wantErr)
			}
			if m.HasSession() {
				t.Error("no session should exist after failed scan")
			}
			if st := m.Status(); st.State != StateDisconnected {
				t.Errorf("state = %v, want disconnected", st.State)
			}
		})
	}
}

func TestDisconnectEventAfterScan(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	if _, err := m.Scan(context.Background(), ble.SelectChooser{}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	adapter.LatestConnection().SimulateDisconnect()

	if m.HasSession() {
		t.Error("session should be cleared after disconnect event")
	}
	st := m.Status()
	if st.State != StateDisconnected || st.Connected {
		t.Errorf("Status() = %+v, want disconnected", st)
	}
	if st.LastDevice == nil || st.LastDevice.ID != printerA.ID {
		t.Errorf("LastDevice should survive a disconnect, got %+v", st.LastDevice)
	}
}

func TestDisconnectEventAfterReconnect(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	sess := m.ReconnectLastKnown(context.Background(), &Identity{ID: printerA.ID, Name: "old name"})
	if sess == nil {
		t.Fatal("ReconnectLastKnown() = nil, want session")
	}
	if sess.Identity.Name != printerA.Name {
		t.Errorf("session name = %q, want refreshed name %q", sess.Identity.Name, printerA.Name)
	}
	if st := m.Status(); st.State != StateConnected {
		t.Fatalf("state = %v, want connected", st.State)
	}

	adapter.LatestConnection().SimulateDisconnect()

	if st := m.Status(); st.State != StateDisconnected || m.HasSession() {
		t.Errorf("Status() = %+v, want disconnected without session", st)
	}
}

func TestReconnectWithoutIdentity(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	if sess := m.ReconnectLastKnown(context.Background(), nil); sess != nil {
		t.Error("ReconnectLastKnown(nil) should return nil")
	}
	if adapter.Connects() != 0 {
		t.Errorf("Connect called %d times, want 0", adapter.Connects())
	}
	if st := m.Status(); st != (Status{State: StateDisconnected}) {
		t.Errorf("Status() = %+v, want untouched", st)
	}
}

func TestReconnectNoMatch(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	adapter.SetKnown(printerB)
	m := NewManager(adapter, fastOpts())

	if sess := m.ReconnectLastKnown(context.Background(), &Identity{ID: printerA.ID}); sess != nil {
		t.Error("ReconnectLastKnown() should return nil when the device is not known")
	}
	if adapter.Connects() != 0 {
		t.Errorf("Connect called %d times, want 0", adapter.Connects())
	}
	if st := m.Status(); st != (Status{State: StateDisconnected}) {
		t.Errorf("Status() = %+v, want untouched", st)
	}
}

func TestReconnectFailureIsSwallowed(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	adapter.ConnectErr = errors.New("link lost")
	m := NewManager(adapter, fastOpts())

	if sess := m.ReconnectLastKnown(context.Background(), &Identity{ID: printerA.ID}); sess != nil {
		t.Error("ReconnectLastKnown() should return nil on connect failure")
	}
	if st := m.Status(); st.State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", st.State)
	}
}

func TestReconnectSkippedWithSession(t *testing.T) {
	adapter := bletest.NewAdapter(printerA, printerB)
	m := NewManager(adapter, fastOpts())

	if _, err := m.Scan(context.Background(), ble.SelectChooser{ID: printerA.ID}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if sess := m.ReconnectLastKnown(context.Background(), &Identity{ID: printerB.ID}); sess != nil {
		t.Error("ReconnectLastKnown() should not replace an existing session")
	}
	if got := m.Current().Identity.ID; got != printerA.ID {
		t.Errorf("current session = %s, want %s", got, printerA.ID)
	}
	if adapter.Connects() != 1 {
		t.Errorf("Connect called %d times, want 1", adapter.Connects())
	}
}

func TestScanReplacesSessionAndClosesOld(t *testing.T) {
	adapter := bletest.NewAdapter(printerA, printerB)
	m := NewManager(adapter, fastOpts())

	if _, err := m.Scan(context.Background(), ble.SelectChooser{ID: printerA.ID}); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	first := adapter.LatestConnection()

	if _, err := m.Scan(context.Background(), ble.SelectChooser{ID: printerB.ID}); err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}

	if !first.Closed() {
		t.Error("superseded connection should be closed")
	}

	// A late event from the old link must not clear the new session.
	first.SimulateDisconnect()

	cur := m.Current()
	if cur == nil || cur.Identity.ID != printerB.ID {
		t.Fatalf("current session = %+v, want %s", cur, printerB.ID)
	}
	if st := m.Status(); st.State != StateConnected {
		t.Errorf("state = %v, want connected", st.State)
	}
}

func TestScanSamePrinterKeepsLiveSession(t *testing.T) {
	adapter := bletest.NewAdapter(printerA, printerB)
	adapter.SharedPeripheral = true
	m := NewManager(adapter, fastOpts())

	first, err := m.Scan(context.Background(), ble.SelectChooser{ID: printerA.ID})
	if err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	second, err := m.Scan(context.Background(), ble.SelectChooser{ID: printerA.ID})
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}

	if second != first {
		t.Error("choosing the connected printer should keep its session")
	}
	if adapter.Connects() != 1 {
		t.Errorf("Connect called %d times, want 1", adapter.Connects())
	}
	if adapter.LatestConnection().Closed() {
		t.Error("live connection should not be closed")
	}
	if !m.Current().Connected() {
		t.Error("session should still be connected")
	}
	if st := m.Status(); st.State != StateConnected || !st.Connected {
		t.Errorf("Status() = %+v, want connected", st)
	}
}

func TestScanSamePrinterAfterSilentDrop(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	adapter.SharedPeripheral = true
	m := NewManager(adapter, fastOpts())

	if _, err := m.Scan(context.Background(), ble.SelectChooser{}); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	first := adapter.LatestConnection()
	first.DropSilently()

	sess, err := m.Scan(context.Background(), ble.SelectChooser{})
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	second := adapter.LatestConnection()
	if second == first {
		t.Fatal("a dead link should be replaced by a new connection")
	}

	// Closing the old handle would tear down the shared peripheral link.
	if first.Closed() {
		t.Error("old handle to the same printer should be left alone")
	}
	if second.Closed() || !sess.Connected() {
		t.Error("new connection should stay up")
	}
	if m.Current() != sess {
		t.Error("new session should be current")
	}
	if st := m.Status(); st.State != StateConnected || !st.Connected {
		t.Errorf("Status() = %+v, want connected", st)
	}
}

func TestScanLinkLostBeforeInstall(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	adapter.ConnectHook = func(c *bletest.Connection) { c.SimulateDisconnect() }
	store := &memStore{}
	opts := fastOpts()
	opts.Store = store
	m := NewManager(adapter, opts)

	sess, err := m.Scan(context.Background(), ble.SelectChooser{})
	var pe *PlatformError
	if !errors.As(err, &pe) || !errors.Is(err, ErrLinkLost) {
		t.Fatalf("Scan() error = %v, want *PlatformError wrapping ErrLinkLost", err)
	}
	if sess != nil {
		t.Error("Scan() should not return a session")
	}
	if m.HasSession() {
		t.Error("a dead link must not become the current session")
	}
	if st := m.Status(); st.State != StateDisconnected || st.Connected {
		t.Errorf("Status() = %+v, want disconnected", st)
	}
	if !adapter.LatestConnection().Closed() {
		t.Error("dead connection should be closed")
	}
	if store.saves != 0 {
		t.Errorf("identity saved %d times, want 0", store.saves)
	}
}

func TestReconnectLinkLostBeforeInstall(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	adapter.ConnectHook = func(c *bletest.Connection) { c.SimulateDisconnect() }
	m := NewManager(adapter, fastOpts())

	if sess := m.ReconnectLastKnown(context.Background(), &Identity{ID: printerA.ID}); sess != nil {
		t.Errorf("ReconnectLastKnown() = %+v, want nil", sess)
	}
	if m.HasSession() {
		t.Error("a dead link must not become the current session")
	}
	if st := m.Status(); st.State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", st.State)
	}
}

func TestFailedScanKeepsPreviousSession(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	if _, err := m.Scan(context.Background(), ble.SelectChooser{}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if _, err := m.Scan(context.Background(), cancelChooser()); !errors.Is(err, ble.ErrUserCancelled) {
		t.Fatalf("Scan() error = %v, want ErrUserCancelled", err)
	}

	if !m.Current().Connected() {
		t.Error("previous session should survive a cancelled scan")
	}
	if st := m.Status(); st.State != StateConnected {
		t.Errorf("state = %v, want connected", st.State)
	}
}

func TestExplicitDisconnect(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	if _, err := m.Scan(context.Background(), ble.SelectChooser{}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	conn := adapter.LatestConnection()

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if m.HasSession() {
		t.Error("session should be cleared")
	}
	if !conn.Closed() {
		t.Error("transport should be closed")
	}
	if st := m.Status(); st.State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", st.State)
	}

	// Idempotent.
	if err := m.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestScanRejectedWhileScanning(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	started := make(chan struct{})
	release := make(chan struct{})
	adapter.ScanHook = func(context.Context) {
		close(started)
		<-release
	}
	m := NewManager(adapter, fastOpts())

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Scan(context.Background(), ble.SelectChooser{})
		errCh <- err
	}()
	<-started

	if st := m.Status(); st.State != StateScanning {
		t.Errorf("state during scan = %v, want scanning", st.State)
	}

	if _, err := m.Scan(context.Background(), ble.SelectChooser{}); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Scan() error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	adapter := bletest.NewAdapter(printerA)
	m := NewManager(adapter, fastOpts())

	updates, cancel := m.Subscribe()
	defer cancel()

	if st := <-updates; st.State != StateDisconnected {
		t.Fatalf("initial status = %v, want disconnected", st.State)
	}

	if _, err := m.Scan(context.Background(), ble.SelectChooser{}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if st := <-updates; st.State != StateConnected || st.Device == nil || st.Device.ID != printerA.ID {
		t.Errorf("status after scan = %+v, want connected to %s", st, printerA.ID)
	}

	adapter.LatestConnection().SimulateDisconnect()
	if st := <-updates; st.State != StateDisconnected {
		t.Errorf("status after drop = %+v, want disconnected", st)
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Error("channel should be closed after cancel")
	}
	cancel() // safe to call twice
}

func TestNewManagerLoadsLastKnown(t *testing.T) {
	store := &memStore{id: &Identity{ID: printerA.ID, Name: printerA.Name}}
	opts := fastOpts()
	opts.Store = store
	m := NewManager(bletest.NewAdapter(printerA), opts)

	last := m.LastKnown()
	if last == nil || last.ID != printerA.ID {
		t.Fatalf("LastKnown() = %+v, want %s", last, printerA.ID)
	}
	if sess := m.ReconnectLastKnown(context.Background(), last); sess == nil {
		t.Fatal("ReconnectLastKnown() = nil, want session")
	}
	if store.saves != 1 {
		t.Errorf("identity saved %d times, want 1", store.saves)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateScanning:     "scanning",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		State(42):         "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
