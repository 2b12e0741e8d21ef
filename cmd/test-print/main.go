// Command test-print is a manual test for BLE receipt printing.
// It scans for printers advertising the receipt printer service, lets you
// pick one, and prints a sample receipt.
//
// Usage:
//
//	go run ./cmd/test-print [--preview] [--timeout 10s]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/gopos-printer/internal/ble"
	"github.com/chaz8081/gopos-printer/internal/pos"
	"github.com/chaz8081/gopos-printer/internal/printer"
	"github.com/chaz8081/gopos-printer/internal/receipt"
)

func main() {
	preview := flag.Bool("preview", false, "print the receipt preview to stdout and exit")
	timeout := flag.Duration("timeout", 10*time.Second, "scan timeout")
	flag.Parse()

	items := []receipt.LineItem{
		{Name: "Item 1", Price: 10},
		{Name: "Item 2", Price: 15},
		{Name: "Item 3", Price: 20},
	}
	order := receipt.Order{
		Date:         time.Now().Format("1/2/2006"),
		OrderID:      pos.NewOrderID(),
		CustomerName: "John Doe",
		Cashier:      "Admin",
		Items:        items,
		Total:        receipt.Sum(items),
	}
	formatter := receipt.NewFormatter(receipt.DefaultMerchant())

	if *preview {
		fmt.Print(formatter.Preview(order))
		return
	}

	manager := printer.NewManager(ble.NewSystemAdapter(), printer.Options{ScanTimeout: *timeout})

	fmt.Printf("Scanning for printers (%s)...\n", *timeout)
	ctx := context.Background()
	sess, err := manager.Scan(ctx, ble.PromptChooser{In: os.Stdin, Out: os.Stdout})
	if errors.Is(err, ble.ErrUserCancelled) {
		fmt.Println("Cancelled.")
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	fmt.Printf("Connected to %s (%s), printing order %s...\n", sess.Identity.Name, sess.Identity.ID, order.OrderID)
	if err := printer.NewDispatcher(manager, formatter).PrintReceipt(ctx, order); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}
