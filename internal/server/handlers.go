package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/gopos-printer/internal/ble"
	"github.com/chaz8081/gopos-printer/internal/pos"
	"github.com/chaz8081/gopos-printer/internal/receipt"
)

type scanRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type addItemRequest struct {
	Name string `json:"name" binding:"required"`
}

type cartResponse struct {
	Items []receipt.LineItem `json:"items"`
	Total string             `json:"total"`
}

func (s *Server) getPrinter(c *gin.Context) {
	c.JSON(http.StatusOK, s.printer.Status())
}

// scanPrinter connects to the advertising printer matching the request, or
// the strongest one when the body is empty.
func (s *Server) scanPrinter(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.printer.Scan(c.Request.Context(), ble.SelectChooser{ID: req.ID, Name: req.Name}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.printer.Status())
}

func (s *Server) disconnectPrinter(c *gin.Context) {
	if err := s.printer.Disconnect(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.printer.Status())
}

func (s *Server) getCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, s.register.Catalog())
}

func (s *Server) getCart(c *gin.Context) {
	items := s.register.Cart()
	if items == nil {
		items = []receipt.LineItem{}
	}
	c.JSON(http.StatusOK, cartResponse{Items: items, Total: receipt.Money(receipt.Sum(items))})
}

func (s *Server) clearCart(c *gin.Context) {
	if err := s.register.ClearCart(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := s.register.AddItem(req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) removeCartItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid index %q", c.Param("index"))})
		return
	}
	if err := s.register.RemoveItem(index); err != nil {
		if errors.Is(err, pos.ErrCheckoutInProgress) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getCustomer(c *gin.Context) {
	c.JSON(http.StatusOK, s.register.Customer())
}

func (s *Server) putCustomer(c *gin.Context) {
	var cust pos.Customer
	if err := c.ShouldBindJSON(&cust); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.register.SetCustomer(cust); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.register.Customer())
}

func (s *Server) previewText(c *gin.Context) {
	c.String(http.StatusOK, "%s", s.register.Preview())
}

func (s *Server) previewPNG(c *gin.Context) {
	if s.snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "png preview disabled"})
		return
	}
	png, err := s.snap.Render(c.Request.Context(), s.register.Preview())
	if err != nil {
		writeError(c, fmt.Errorf("rendering preview: %w", err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) checkout(c *gin.Context) {
	order, err := s.register.Checkout(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
