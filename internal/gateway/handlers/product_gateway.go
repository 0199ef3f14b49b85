package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"khata-system/internal/database/models"
	"khata-system/internal/store"
)

type ProductHTTPHandler struct {
	store   store.Store
	timeout time.Duration
}

func NewProductHTTPHandler(st store.Store, timeout time.Duration) *ProductHTTPHandler {
	return &ProductHTTPHandler{store: st, timeout: timeout}
}

type ProductRequest struct {
	Name string `json:"name" binding:"required"`
	Rate string `json:"rate" binding:"required"`
}

func parseRate(raw string) (decimal.Decimal, bool) {
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.Sign() <= 0 {
		return decimal.Zero, false
	}
	return rate, true
}

func (h *ProductHTTPHandler) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	rate, ok := parseRate(req.Rate)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("Rate must be a positive number"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	shopID := c.Param("id")
	product := models.Product{
		ShopID:    shopID,
		Name:      req.Name,
		Rate:      rate,
		CreatedAt: time.Now().UTC(),
	}
	id, err := h.store.Create(ctx, shopID, store.CollectionProducts, product.Document())
	if err != nil {
		respondError(c, err)
		return
	}
	product.ID = id

	c.JSON(http.StatusCreated, successResponse("Product created successfully", product))
}

func (h *ProductHTTPHandler) ListProducts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	shopID := c.Param("id")
	page, err := h.store.Query(ctx, store.Query{
		ShopID:     shopID,
		Collection: store.CollectionProducts,
		OrderBy:    store.OrderByCreatedAt,
		Descending: false,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	products := make([]models.Product, len(page.Docs))
	for i, doc := range page.Docs {
		products[i] = models.ProductFromDocument(shopID, doc)
	}
	c.JSON(http.StatusOK, successResponse("Products retrieved successfully", products))
}

func (h *ProductHTTPHandler) UpdateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	rate, ok := parseRate(req.Rate)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("Rate must be a positive number"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// Rate changes apply to future sales only; historical entries keep
	// the total stored at their write time.
	patch := store.Document{"name": req.Name, "rate": rate}
	if err := h.store.Update(ctx, c.Param("id"), store.CollectionProducts, c.Param("productId"), patch); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Product updated successfully", nil))
}

func (h *ProductHTTPHandler) DeleteProduct(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.store.Delete(ctx, c.Param("id"), store.CollectionProducts, c.Param("productId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Product deleted successfully", nil))
}
