package printer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaz8081/gopos-printer/internal/ble"
	"github.com/chaz8081/gopos-printer/internal/receipt"
)

// Encoder renders an order into the printer's byte stream.
type Encoder interface {
	Format(o receipt.Order) []byte
}

// Dispatcher prints receipts over the Manager's current session.
type Dispatcher struct {
	manager *Manager
	encoder Encoder
}

// NewDispatcher creates a Dispatcher. Panics if manager or encoder is nil
// (programmer error).
func NewDispatcher(manager *Manager, encoder Encoder) *Dispatcher {
	if manager == nil || encoder == nil {
		panic("printer: NewDispatcher called with nil manager or encoder")
	}
	return &Dispatcher{manager: manager, encoder: encoder}
}

// PrintReceipt encodes order and writes it to the printer in a single
// characteristic write. It returns ErrNotConnected without encoding when no
// connected session exists, and *WriteFailure when the transport, service,
// characteristic or write fails. Nothing is retried or chunked.
func (d *Dispatcher) PrintReceipt(ctx context.Context, order receipt.Order) error {
	if !d.manager.Current().Connected() {
		return ErrNotConnected
	}

	done, err := d.manager.begin("print")
	if err != nil {
		return err
	}
	defer done()

	sess := d.manager.Current()
	if !sess.Connected() {
		return ErrNotConnected
	}

	conn, err := d.manager.transport(ctx, sess)
	if err != nil {
		return &WriteFailure{Err: fmt.Errorf("connect: %w", err)}
	}

	char, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.WriteCharUUID)
	if err != nil {
		return &WriteFailure{Err: err}
	}

	payload := d.encoder.Format(order)
	if err := char.Write(payload); err != nil {
		slog.Error("[printer] write failed", "order", order.OrderID, "error", err)
		return &WriteFailure{Err: err}
	}

	slog.Info("[printer] receipt sent", "order", order.OrderID, "bytes", len(payload))
	return nil
}

// transport confirms the session's connection, reconnecting to the same
// printer if the link went down after the precondition check.
func (m *Manager) transport(ctx context.Context, sess *Session) (ble.Connection, error) {
	if sess.conn.Connected() {
		return sess.conn, nil
	}
	conn, err := m.connect(ctx, sess.Identity.ID)
	if err != nil {
		return nil, err
	}
	next, err := m.install(sess.Identity, conn)
	if err != nil {
		return nil, err
	}
	return next.conn, nil
}
