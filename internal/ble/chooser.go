package ble

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Chooser picks one device out of a scan result, standing in for the
// platform's device chooser dialog. Implementations return ErrUserCancelled
// when no selection is made.
type Chooser interface {
	Choose(ctx context.Context, devices []Device) (Device, error)
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, devices []Device) (Device, error)

func (f ChooserFunc) Choose(ctx context.Context, devices []Device) (Device, error) {
	return f(ctx, devices)
}

// SelectChooser picks a device by ID, then by name. With neither set it
// takes the strongest signal.
type SelectChooser struct {
	ID   string
	Name string
}

func (s SelectChooser) Choose(_ context.Context, devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrUserCancelled
	}
	if s.ID != "" {
		for _, d := range devices {
			if strings.EqualFold(d.ID, s.ID) {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("no device with id %q: %w", s.ID, ErrUserCancelled)
	}
	if s.Name != "" {
		for _, d := range devices {
			if d.Name == s.Name {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("no device named %q: %w", s.Name, ErrUserCancelled)
	}
	return Strongest(devices), nil
}

// Strongest returns the device with the highest RSSI. devices must not be empty.
func Strongest(devices []Device) Device {
	best := devices[0]
	for _, d := range devices[1:] {
		if d.RSSI > best.RSSI {
			best = d
		}
	}
	return best
}

// PromptChooser lists devices on Out and reads a 1-based selection from In.
// An empty answer cancels.
type PromptChooser struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptChooser) Choose(_ context.Context, devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrUserCancelled
	}

	sorted := make([]Device, len(devices))
	copy(sorted, devices)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RSSI > sorted[j].RSSI })

	fmt.Fprintln(p.Out, "Printers found:")
	for i, d := range sorted {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(p.Out, "  %d) %s  %s  %d dBm\n", i+1, name, d.ID, d.RSSI)
	}
	fmt.Fprint(p.Out, "Select printer (empty to cancel): ")

	reader := bufio.NewReader(p.In)
	ans, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return Device{}, fmt.Errorf("ble: read selection: %w", err)
	}
	ans = strings.TrimSpace(ans)
	if ans == "" {
		return Device{}, ErrUserCancelled
	}

	n, err := strconv.Atoi(ans)
	if err != nil || n < 1 || n > len(sorted) {
		return Device{}, fmt.Errorf("invalid selection %q: %w", ans, ErrUserCancelled)
	}
	return sorted[n-1], nil
}
