package printer

import "errors"

var (
	// ErrNotConnected is returned when printing without a live session.
	ErrNotConnected = errors.New("printer not connected")
	// ErrBusy is returned when another scan, reconnect or print is running.
	ErrBusy = errors.New("printer busy")
	// ErrLinkLost is returned when a connection drops before it is in use.
	ErrLinkLost = errors.New("connection lost while connecting")
)

// PlatformError reports a failure in the BLE platform while discovering or
// connecting to a printer.
type PlatformError struct {
	Op  string
	Err error
}

func (e *PlatformError) Error() string {
	return "printer: " + e.Op + ": " + e.Err.Error()
}

func (e *PlatformError) Unwrap() error { return e.Err }

// WriteFailure reports that a receipt could not be delivered to the
// printer's write characteristic.
type WriteFailure struct {
	Err error
}

func (e *WriteFailure) Error() string {
	return "failed to print: " + e.Err.Error()
}

func (e *WriteFailure) Unwrap() error { return e.Err }
