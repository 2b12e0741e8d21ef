// Package ble provides the Bluetooth Low Energy capability a receipt printer
// session needs: discovery of printers advertising the printer service,
// transport connections, GATT characteristic writes and disconnect events.
package ble

import (
	"context"
	"errors"
)

// Thermal printer GATT UUIDs.
const (
	ServiceUUID   = "000018f0-0000-1000-8000-00805f9b34fb"
	WriteCharUUID = "00002af1-0000-1000-8000-00805f9b34fb"
)

var (
	// ErrUserCancelled is returned when the device chooser is dismissed
	// without a selection.
	ErrUserCancelled = errors.New("ble: device selection cancelled")
	// ErrNoDevices is returned when a scan finds no printer.
	ErrNoDevices = errors.New("ble: no printers found")
)

// Characteristic represents a writable BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic in a single write.
	Write(data []byte) error
}

// Device represents a discovered BLE peripheral. ID is the platform address
// (MAC on Linux and Windows, CoreBluetooth UUID on macOS).
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Connected reports whether the transport link is still up.
	Connected() bool
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals advertising the given service UUID until
	// ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// KnownDevices returns peripherals the platform can reconnect to
	// without a new user selection.
	KnownDevices(ctx context.Context) ([]Device, error)
	// Connect establishes a connection to the device with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}
