package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gopos-printer/internal/receipt"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string             `yaml:"log_level"`
	Cashier    string             `yaml:"cashier"`
	DateLayout string             `yaml:"date_layout"` // Go reference layout for receipt dates
	Merchant   receipt.Merchant   `yaml:"merchant"`
	Catalog    []receipt.LineItem `yaml:"catalog"`
	Printer    PrinterConfig      `yaml:"printer"`
	Server     ServerConfig       `yaml:"server"`
	Snapshot   SnapshotConfig     `yaml:"snapshot"`
}

// PrinterConfig holds BLE printer session settings.
type PrinterConfig struct {
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	StatePath        string        `yaml:"state_path"` // where the last connected printer is remembered
	ReconnectOnStart bool          `yaml:"reconnect_on_start"`
}

// ServerConfig holds HTTP shell settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// SnapshotConfig holds PNG preview settings.
type SnapshotConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ChromePath string `yaml:"chrome_path"` // empty means auto-detect
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gopos-printer")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		Cashier:    "Admin",
		DateLayout: "1/2/2006",
		Merchant:   receipt.DefaultMerchant(),
		Catalog: []receipt.LineItem{
			{Name: "Item 1", Price: 10},
			{Name: "Item 2", Price: 15},
			{Name: "Item 3", Price: 20},
		},
		Printer: PrinterConfig{
			ScanTimeout:      10 * time.Second,
			ConnectTimeout:   10 * time.Second,
			StatePath:        filepath.Join(DefaultConfigDir(), "printer.yaml"),
			ReconnectOnStart: true,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Printer.StatePath = expandTilde(cfg.Printer.StatePath)
	cfg.Snapshot.ChromePath = expandTilde(cfg.Snapshot.ChromePath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.DateLayout == "" {
		return errors.New("date_layout must not be empty")
	}

	if c.Merchant.Name == "" {
		return errors.New("merchant.name must not be empty")
	}

	for i, item := range c.Catalog {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("catalog[%d].name must not be empty", i)
		}
		if item.Price < 0 {
			return fmt.Errorf("catalog[%d].price must be >= 0, got %v", i, item.Price)
		}
	}

	if c.Printer.ScanTimeout <= 0 {
		return errors.New("printer.scan_timeout must be > 0")
	}
	if c.Printer.ConnectTimeout <= 0 {
		return errors.New("printer.connect_timeout must be > 0")
	}

	if c.Server.Listen == "" {
		return errors.New("server.listen must not be empty")
	}

	return nil
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# gopos-printer configuration
#
# Durations use Go syntax (10s, 1m). date_layout is a Go reference layout.
# Delete this file to regenerate the defaults.

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" without touching anything when the file exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
