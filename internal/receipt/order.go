package receipt

import "github.com/shopspring/decimal"

// LineItem is a single priced entry on a receipt.
type LineItem struct {
	Name  string  `json:"name" yaml:"name"`
	Price float64 `json:"price" yaml:"price"`
}

// Order is the data printed on one receipt. Total is expected to equal the
// sum of item prices; the formatter prints it as given.
type Order struct {
	Date         string     `json:"date"`
	OrderID      string     `json:"order_id"`
	CustomerName string     `json:"customer_name"`
	Cashier      string     `json:"cashier"`
	Items        []LineItem `json:"items"`
	Total        float64    `json:"total"`
}

// Sum adds item prices in decimal arithmetic so totals like 0.1+0.2 print
// as 0.30.
func Sum(items []LineItem) float64 {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(decimal.NewFromFloat(it.Price))
	}
	return total.InexactFloat64()
}

// Money formats an amount with exactly two decimals.
func Money(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}
