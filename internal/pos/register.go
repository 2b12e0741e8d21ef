// Package pos holds the cashier's register: the product catalog, the cart,
// the customer form and checkout.
package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gopos-printer/internal/receipt"
)

var (
	// ErrEmptyCart is returned by Checkout when there is nothing to print.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNoPrinter is returned by Checkout when no printer session exists.
	ErrNoPrinter = errors.New("no printer connected")
	// ErrUnknownItem is returned when adding a product not in the catalog.
	ErrUnknownItem = errors.New("item not in catalog")
	// ErrCheckoutInProgress is returned when the cart is changed while a
	// receipt is printing.
	ErrCheckoutInProgress = errors.New("checkout in progress")
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// Customer is the customer form.
type Customer struct {
	Name          string        `json:"name"`
	Phone         string        `json:"phone"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// DefaultCustomer returns the form's initial values.
func DefaultCustomer() Customer {
	return Customer{Name: "John Doe", Phone: "082230558365", PaymentMethod: PaymentCash}
}

// Validate checks the payment method.
func (c Customer) Validate() error {
	switch c.PaymentMethod {
	case PaymentCash, PaymentCard:
		return nil
	default:
		return fmt.Errorf("payment method must be %q or %q, got %q", PaymentCash, PaymentCard, c.PaymentMethod)
	}
}

// ReceiptPrinter sends an order to the printer.
type ReceiptPrinter interface {
	PrintReceipt(ctx context.Context, order receipt.Order) error
}

// SessionView reports whether a printer session exists.
type SessionView interface {
	HasSession() bool
}

// Options configures a Register.
type Options struct {
	Cashier    string
	DateLayout string
	Now        func() time.Time
	NewOrderID func() string
}

// NewOrderID returns a random 9 character order id.
func NewOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Register is the cashier's working state. It is safe for concurrent use.
type Register struct {
	catalog   []receipt.LineItem
	printer   ReceiptPrinter
	session   SessionView
	formatter *receipt.Formatter
	opts      Options

	mu          sync.Mutex
	cart        []receipt.LineItem
	customer    Customer
	checkingOut bool
}

// NewRegister creates a Register over catalog. Panics if printer, session or
// formatter is nil.
func NewRegister(catalog []receipt.LineItem, printer ReceiptPrinter, session SessionView, formatter *receipt.Formatter, opts Options) *Register {
	if printer == nil || session == nil || formatter == nil {
		panic("pos: NewRegister called with nil printer, session or formatter")
	}
	if opts.Cashier == "" {
		opts.Cashier = "Admin"
	}
	if opts.DateLayout == "" {
		opts.DateLayout = "1/2/2006"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewOrderID == nil {
		opts.NewOrderID = NewOrderID
	}
	return &Register{
		catalog:   append([]receipt.LineItem(nil), catalog...),
		printer:   printer,
		session:   session,
		formatter: formatter,
		opts:      opts,
		customer:  DefaultCustomer(),
	}
}

// Catalog returns the products for sale.
func (r *Register) Catalog() []receipt.LineItem {
	return append([]receipt.LineItem(nil), r.catalog...)
}

// Cart returns the items in the cart.
func (r *Register) Cart() []receipt.LineItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receipt.LineItem(nil), r.cart...)
}

// AddItem appends the catalog product called name to the cart.
func (r *Register) AddItem(name string) (receipt.LineItem, error) {
	var item receipt.LineItem
	found := false
	for _, it := range r.catalog {
		if strings.EqualFold(it.Name, strings.TrimSpace(name)) {
			item, found = it, true
			break
		}
	}
	if !found {
		return receipt.LineItem{}, fmt.Errorf("%w: %q", ErrUnknownItem, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checkingOut {
		return receipt.LineItem{}, ErrCheckoutInProgress
	}
	r.cart = append(r.cart, item)
	return item, nil
}

// RemoveItem removes the cart entry at index.
func (r *Register) RemoveItem(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checkingOut {
		return ErrCheckoutInProgress
	}
	if index < 0 || index >= len(r.cart) {
		return fmt.Errorf("cart index %d out of range", index)
	}
	r.cart = append(r.cart[:index], r.cart[index+1:]...)
	return nil
}

// ClearCart empties the cart.
func (r *Register) ClearCart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checkingOut {
		return ErrCheckoutInProgress
	}
	r.cart = nil
	return nil
}

// Customer returns the customer form.
func (r *Register) Customer() Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.customer
}

// SetCustomer replaces the customer form.
func (r *Register) SetCustomer(c Customer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customer = c
	return nil
}

// Order assembles the receipt for the current cart with a fresh order id.
func (r *Register) Order() receipt.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderLocked()
}

func (r *Register) orderLocked() receipt.Order {
	items := append([]receipt.LineItem(nil), r.cart...)
	return receipt.Order{
		Date:         r.opts.Now().Format(r.opts.DateLayout),
		OrderID:      r.opts.NewOrderID(),
		CustomerName: r.customer.Name,
		Cashier:      r.opts.Cashier,
		Items:        items,
		Total:        receipt.Sum(items),
	}
}

// Preview returns the receipt for the current cart as readable text.
func (r *Register) Preview() string {
	return r.formatter.Preview(r.Order())
}

// Checkout prints the current cart and clears it once the printer accepts
// the receipt. An empty cart or a missing session is rejected before the
// printer is touched. On print failure the cart is left as it was.
func (r *Register) Checkout(ctx context.Context) (receipt.Order, error) {
	r.mu.Lock()
	if r.checkingOut {
		r.mu.Unlock()
		return receipt.Order{}, ErrCheckoutInProgress
	}
	if len(r.cart) == 0 {
		r.mu.Unlock()
		return receipt.Order{}, ErrEmptyCart
	}
	if !r.session.HasSession() {
		r.mu.Unlock()
		return receipt.Order{}, ErrNoPrinter
	}
	order := r.orderLocked()
	r.checkingOut = true
	r.mu.Unlock()

	err := r.printer.PrintReceipt(ctx, order)

	r.mu.Lock()
	r.checkingOut = false
	if err == nil {
		r.cart = nil
	}
	r.mu.Unlock()

	if err != nil {
		slog.Warn("[pos] checkout failed", "order", order.OrderID, "error", err)
		return order, err
	}
	slog.Info("[pos] checkout complete", "order", order.OrderID, "items", len(order.Items), "total", receipt.Money(order.Total))
	return order, nil
}
