package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/gridleaf/cellgauge/internal/order/domain"
)

type createOrderRequest struct {
	PackID string `json:"pack_id"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PackID) == "" {
		AbortWithError(c, newValidationError("pack_id", "required", "pack_id is required"))
		return
	}

	order, err := s.orderSvc.CreatePurchase(c.Request.Context(), id, req.PackID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orderID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || orderID == 0 {
		AbortWithError(c, orderdomain.ErrNotFound)
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) ListOrders(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, offset, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orders, err := s.orderSvc.List(c.Request.Context(), id, limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) ListPacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packs": s.pricing.Packs()})
}
