// Package server exposes the register and the printer session over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/gopos-printer/internal/ble"
	"github.com/chaz8081/gopos-printer/internal/pos"
	"github.com/chaz8081/gopos-printer/internal/printer"
)

// PrinterControl is the part of the session manager the shell drives.
type PrinterControl interface {
	Status() printer.Status
	Subscribe() (<-chan printer.Status, func())
	Scan(ctx context.Context, chooser ble.Chooser) (*printer.Session, error)
	Disconnect() error
}

// Snapshotter renders preview text as a PNG.
type Snapshotter interface {
	Render(ctx context.Context, preview string) ([]byte, error)
}

// Server holds the HTTP handlers.
type Server struct {
	printer  PrinterControl
	register *pos.Register
	snap     Snapshotter
}

// New creates a Server. snap may be nil to disable PNG previews.
func New(p PrinterControl, r *pos.Register, snap Snapshotter) *Server {
	if p == nil || r == nil {
		panic("server: New called with nil printer or register")
	}
	return &Server{printer: p, register: r, snap: snap}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/api/v1")
	{
		// Printer session
		api.GET("/printer", s.getPrinter)
		api.POST("/printer/scan", s.scanPrinter)
		api.POST("/printer/disconnect", s.disconnectPrinter)
		api.GET("/printer/events", s.printerEvents)

		// Register
		api.GET("/catalog", s.getCatalog)
		api.GET("/cart", s.getCart)
		api.DELETE("/cart", s.clearCart)
		api.POST("/cart/items", s.addCartItem)
		api.DELETE("/cart/items/:index", s.removeCartItem)
		api.GET("/customer", s.getCustomer)
		api.PUT("/customer", s.putCustomer)

		// Receipt
		api.GET("/receipt/preview", s.previewText)
		api.GET("/receipt/preview.png", s.previewPNG)
		api.POST("/checkout", s.checkout)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("[http] request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var pe *printer.PlatformError
	var wf *printer.WriteFailure
	switch {
	case errors.Is(err, pos.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, pos.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, ble.ErrUserCancelled),
		errors.Is(err, printer.ErrBusy),
		errors.Is(err, printer.ErrNotConnected),
		errors.Is(err, pos.ErrNoPrinter),
		errors.Is(err, pos.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.As(err, &pe), errors.As(err, &wf):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("[http] request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
