// Package bletest provides an in-memory BLE adapter for tests that drive a
// printer session without hardware.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chaz8081/gopos-printer/internal/ble"
)

// Characteristic records writes.
type Characteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	WriteErr error
}

func (c *Characteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

// Writes returns a copy of every successful write.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Connection simulates a BLE connection to a printer.
type Connection struct {
	DeviceID string
	Char     *Characteristic

	// DiscoverErr, when set, fails characteristic discovery.
	DiscoverErr error

	mu           sync.Mutex
	disconnectCb func()
	connected    bool
	closed       bool
	checksLeft   int    // live checks before a silent drop, <0 means never
	onClose      func() // set when the adapter shares one link per device
}

// NewConnection returns a live connection for id.
func NewConnection(id string) *Connection {
	return &Connection{
		DeviceID:   id,
		Char:       &Characteristic{},
		connected:  true,
		checksLeft: -1,
	}
}

func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected && c.checksLeft == 0 {
		c.connected = false
	}
	if c.checksLeft > 0 {
		c.checksLeft--
	}
	return c.connected
}

// DropAfterChecks lets Connected report true n more times, then drops the
// link without firing the disconnect callback, as when the platform event
// has not been delivered yet.
func (c *Connection) DropAfterChecks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checksLeft = n
}

// DropSilently drops the link without firing the disconnect callback.
func (c *Connection) DropSilently() {
	c.DropAfterChecks(0)
}

func (c *Connection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	if c.DiscoverErr != nil {
		return nil, c.DiscoverErr
	}
	if serviceUUID != ble.ServiceUUID {
		return nil, fmt.Errorf("bletest: unknown service UUID %q", serviceUUID)
	}
	if charUUID != ble.WriteCharUUID {
		return nil, fmt.Errorf("bletest: unknown characteristic UUID %q", charUUID)
	}
	return c.Char, nil
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

// Closed reports whether Disconnect was called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect drops the link and fires the disconnect callback.
func (c *Connection) SimulateDisconnect() {
	c.mu.Lock()
	c.connected = false
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Adapter simulates the BLE adapter.
type Adapter struct {
	mu          sync.Mutex
	devices     []ble.Device
	known       []ble.Device
	connections []*Connection

	EnableErr  error
	ScanErr    error
	ConnectErr error
	KnownErr   error

	// ScanHook, if set, runs at the start of Scan; tests use it to hold a
	// scan in flight.
	ScanHook func(ctx context.Context)
	// ConnectHook, if set, runs before every new connection is returned.
	ConnectHook func(conn *Connection)

	// SharedPeripheral models platforms where every connection to a device
	// rides on one peripheral link: closing any handle for the device drops
	// the newest connection to it, firing its disconnect callback.
	SharedPeripheral bool

	scans    int
	connects int
}

// NewAdapter returns an adapter whose scans report devices and whose known
// devices are the same list.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{devices: devices, known: devices}
}

// SetKnown replaces the devices reported by KnownDevices.
func (a *Adapter) SetKnown(devices ...ble.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.known = devices
}

func (a *Adapter) Enable() error { return a.EnableErr }

func (a *Adapter) Scan(ctx context.Context, _ string) ([]ble.Device, error) {
	if a.ScanHook != nil {
		a.ScanHook(ctx)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans++
	if a.ScanErr != nil {
		return nil, a.ScanErr
	}
	return append([]ble.Device(nil), a.devices...), nil
}

func (a *Adapter) KnownDevices(_ context.Context) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.KnownErr != nil {
		return nil, a.KnownErr
	}
	return append([]ble.Device(nil), a.known...), nil
}

func (a *Adapter) Connect(ctx context.Context, id string) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.connects++
	if a.ConnectErr != nil {
		err := a.ConnectErr
		a.mu.Unlock()
		return nil, err
	}
	found := false
	for _, d := range append(append([]ble.Device(nil), a.devices...), a.known...) {
		if d.ID == id {
			found = true
			break
		}
	}
	if !found {
		a.mu.Unlock()
		return nil, errors.New("bletest: device not in range")
	}
	conn := NewConnection(id)
	if a.SharedPeripheral {
		conn.onClose = func() { a.dropPeripheral(id) }
	}
	a.connections = append(a.connections, conn)
	hook := a.ConnectHook
	a.mu.Unlock()

	if hook != nil {
		hook(conn)
	}
	return conn, nil
}

// dropPeripheral tears down the shared link for id.
func (a *Adapter) dropPeripheral(id string) {
	a.mu.Lock()
	var latest *Connection
	for i := len(a.connections) - 1; i >= 0; i-- {
		if a.connections[i].DeviceID == id {
			latest = a.connections[i]
			break
		}
	}
	a.mu.Unlock()

	if latest == nil {
		return
	}
	latest.mu.Lock()
	live := latest.connected
	latest.mu.Unlock()
	if live {
		latest.SimulateDisconnect()
	}
}

// LatestConnection returns the most recently created connection, or nil.
func (a *Adapter) LatestConnection() *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

// Connections returns every connection created so far.
func (a *Adapter) Connections() []*Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Connection(nil), a.connections...)
}

// Scans returns the number of Scan calls.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Connects returns the number of Connect calls.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)
