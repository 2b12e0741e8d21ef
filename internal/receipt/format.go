// Package receipt renders point-of-sale orders into ESC/POS byte streams for
// 58mm thermal printers and strips them back into a readable preview.
package receipt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// LineWidth is the printable character width of a 58mm receipt.
	LineWidth = 32
	// PriceWidth is the left-padded width of the price column.
	PriceWidth = 8
	// totalIndent is the number of spaces before the total line.
	totalIndent = 10
	// feedLines is the paper advanced before the cut.
	feedLines = 3
)

// Merchant is the shop identity printed in the receipt header.
type Merchant struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Phone   string `yaml:"phone"`
	Thanks  string `yaml:"thanks"`
}

// DefaultMerchant returns the stock header.
func DefaultMerchant() Merchant {
	return Merchant{
		Name:    "Warung DeCozzy",
		Address: "Jl. Watu Gong No.18 Malang",
		Phone:   "082230558365",
		Thanks:  "Thank you for your purchase!",
	}
}

// Formatter renders orders for a merchant. The zero value prints the
// default merchant header.
type Formatter struct {
	Merchant Merchant
}

// NewFormatter returns a Formatter for m.
func NewFormatter(m Merchant) *Formatter {
	return &Formatter{Merchant: m}
}

// Format renders o as an ESC/POS payload. It never fails; odd input such as
// negative prices or no items yields an odd but well-shaped receipt.
func (f *Formatter) Format(o Order) []byte {
	m := f.Merchant
	if m == (Merchant{}) {
		m = DefaultMerchant()
	}

	b := NewBuilder()
	b.Init().
		Align(AlignCenter).
		Bold(true).
		Line(m.Name).
		Bold(false).
		Line(m.Address).
		Line(m.Phone).
		Rule('=', LineWidth).
		Line(label("Tanggal", o.Date)).
		Line(label("Order", o.OrderID)).
		Line(label("Nama", o.CustomerName)).
		Line(label("Kasir", o.Cashier)).
		Rule('=', LineWidth).
		Align(AlignLeft)

	for _, it := range o.Items {
		b.Text(ItemLine(it))
	}

	b.Rule('-', LineWidth).
		Line(strings.Repeat(" ", totalIndent) + "Total: $" + Money(o.Total)).
		Feed(1).
		Align(AlignCenter).
		Line(m.Thanks).
		Feed(feedLines).
		Cut()

	return b.Bytes()
}

// ItemLine renders one item as name and right-justified price across
// LineWidth characters, newline included. Names too long to fit push the
// line past LineWidth; nothing is truncated.
func ItemLine(it LineItem) string {
	price := fmt.Sprintf("%*s", PriceWidth, Money(it.Price))
	pad := LineWidth - utf8.RuneCountInString(it.Name) - utf8.RuneCountInString(price)
	if pad < 0 {
		pad = 0
	}
	return it.Name + strings.Repeat(" ", pad) + price + "\n"
}

func label(name, value string) string {
	return name + "\t: " + value
}
