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

type SalesHTTPHandler struct {
	store   store.Store
	sales   *ledger.SalesService
	timeout time.Duration
}

func NewSalesHTTPHandler(st store.Store, sales *ledger.SalesService, timeout time.Duration) *SalesHTTPHandler {
	return &SalesHTTPHandler{store: st, sales: sales, timeout: timeout}
}

type SalesEntryRequest struct {
	Date string `json:"date" binding:"required"`
	// Quantities maps productId to quantity; string values to keep
	// client-side decimal formatting intact.
	Quantities map[string]string `json:"quantities" binding:"required"`
}

func parseQuantities(raw map[string]string) (models.QuantityMap, bool) {
	quantities := models.QuantityMap{}
	for productID, qtyStr := range raw {
		if qtyStr == "" {
			continue
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, false
		}
		quantities[productID] = qty
	}
	return quantities, true
}

// loadProducts fetches the shop's product list so entry totals are
// computed from the rates in force right now.
func (h *SalesHTTPHandler) loadProducts(ctx context.Context, shopID string) ([]models.Product, error) {
	page, err := h.store.Query(ctx, store.Query{
		ShopID:     shopID,
		Collection: store.CollectionProducts,
		OrderBy:    store.OrderByCreatedAt,
		Descending: false,
	})
	if err != nil {
		return nil, err
	}
	products := make([]models.Product, len(page.Docs))
	for i, doc := range page.Docs {
		products[i] = models.ProductFromDocument(shopID, doc)
	}
	return products, nil
}

func (h *SalesHTTPHandler) CreateSalesEntry(c *gin.Context) {
	var req SalesEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	quantities, ok := parseQuantities(req.Quantities)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("Quantities must be numbers"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	shopID := c.Param("id")
	products, err := h.loadProducts(ctx, shopID)
	if err != nil {
		respondError(c, err)
		return
	}

	id, err := h.sales.Create(ctx, shopID, middleware.UserID(c), req.Date, quantities, products)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Sales entry created successfully", gin.H{"id": id}))
}

func (h *SalesHTTPHandler) UpdateSalesEntry(c *gin.Context) {
	var req SalesEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	quantities, ok := parseQuantities(req.Quantities)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("Quantities must be numbers"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	shopID := c.Param("id")
	products, err := h.loadProducts(ctx, shopID)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.sales.Update(ctx, shopID, c.Param("saleId"), req.Date, quantities, products); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Sales entry updated successfully", nil))
}

func (h *SalesHTTPHandler) DeleteSalesEntry(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.sales.Delete(ctx, c.Param("id"), c.Param("saleId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Sales entry deleted successfully", nil))
}
