package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/gopos-printer/internal/ble"
	"github.com/chaz8081/gopos-printer/internal/config"
	"github.com/chaz8081/gopos-printer/internal/pos"
	"github.com/chaz8081/gopos-printer/internal/printer"
	"github.com/chaz8081/gopos-printer/internal/receipt"
	"github.com/chaz8081/gopos-printer/internal/server"
	"github.com/chaz8081/gopos-printer/internal/snapshot"
	"github.com/chaz8081/gopos-printer/internal/state"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gopos-printer/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	// Printer session
	manager := printer.NewManager(ble.NewSystemAdapter(), printer.Options{
		ScanTimeout:    cfg.Printer.ScanTimeout,
		ConnectTimeout: cfg.Printer.ConnectTimeout,
		Store:          state.NewFileStore(cfg.Printer.StatePath),
	})

	formatter := receipt.NewFormatter(cfg.Merchant)
	dispatcher := printer.NewDispatcher(manager, formatter)
	register := pos.NewRegister(cfg.Catalog, dispatcher, manager, formatter, pos.Options{
		Cashier:    cfg.Cashier,
		DateLayout: cfg.DateLayout,
	})

	var snap server.Snapshotter
	if cfg.Snapshot.Enabled {
		snap = newRenderer(cfg.Snapshot.ChromePath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Printer.ReconnectOnStart {
		go func() {
			if sess := manager.ReconnectLastKnown(ctx, manager.LastKnown()); sess != nil {
				slog.Info("Reconnected to last printer", "id", sess.Identity.ID, "name", sess.Identity.Name)
			}
		}()
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.New(manager, register, snap).Router(),
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := manager.Disconnect(); err != nil {
		slog.Warn("Printer disconnect", "error", err)
	}
	slog.Info("Goodbye!")
}

// newRenderer returns a PNG renderer, or nil when no browser is available.
func newRenderer(chromePath string) server.Snapshotter {
	if chromePath == "" {
		path, err := snapshot.FindChrome()
		if err != nil {
			slog.Warn("PNG preview disabled", "error", err)
			return nil
		}
		chromePath = path
	}
	slog.Info("PNG preview enabled", "chrome", chromePath)
	return snapshot.NewRenderer(chromePath)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== gopos-printer ===")
	fmt.Printf("  Merchant: %s\n", cfg.Merchant.Name)
	fmt.Printf("  Cashier:  %s\n", cfg.Cashier)
	fmt.Printf("  Catalog:  %d items\n", len(cfg.Catalog))
	fmt.Printf("  Listen:   %s\n", cfg.Server.Listen)
	fmt.Printf("  State:    %s\n", cfg.Printer.StatePath)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}
