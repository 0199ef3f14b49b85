package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"khata-system/internal/database/models"
	"khata-system/internal/gateway/middleware"
	"khata-system/internal/ledger"
	"khata-system/internal/store"
)

type ShopHTTPHandler struct {
	store   store.Store
	balance *ledger.Balance
	timeout time.Duration
}

func NewShopHTTPHandler(st store.Store, balance *ledger.Balance, timeout time.Duration) *ShopHTTPHandler {
	return &ShopHTTPHandler{store: st, balance: balance, timeout: timeout}
}

type CreateShopRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *ShopHTTPHandler) CreateShop(c *gin.Context) {
	var req CreateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	shop := models.Shop{
		Name:          req.Name,
		TotalEarnings: decimal.Zero,
		UserID:        middleware.UserID(c),
		CreatedAt:     time.Now().UTC(),
	}
	id, err := h.store.CreateShop(ctx, shop.Document())
	if err != nil {
		respondError(c, err)
		return
	}
	shop.ID = id

	c.JSON(http.StatusCreated, successResponse("Shop created successfully", shop))
}

func (h *ShopHTTPHandler) ListShops(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	docs, err := h.store.ListShops(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	shops := make([]models.Shop, len(docs))
	for i, doc := range docs {
		shops[i] = models.ShopFromDocument(doc)
	}
	c.JSON(http.StatusOK, successResponse("Shops retrieved successfully", shops))
}

func (h *ShopHTTPHandler) GetShop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	doc, err := h.store.GetShop(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Shop retrieved successfully", models.ShopFromDocument(doc)))
}

func (h *ShopHTTPHandler) DeleteShop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.store.DeleteShop(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Shop deleted successfully", nil))
}

// RecomputeEarnings rebuilds totalEarnings from the full payment
// history, the repair action for a balance that drifted.
func (h *ShopHTTPHandler) RecomputeEarnings(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	total, err := h.balance.Recompute(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Earnings recomputed successfully", gin.H{
		"totalEarnings": total,
	}))
}
