package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"khata-system/internal/gateway/middleware"
	"khata-system/internal/ledger"
)

type PaymentHTTPHandler struct {
	payments *ledger.PaymentService
	timeout  time.Duration
}

func NewPaymentHTTPHandler(payments *ledger.PaymentService, timeout time.Duration) *PaymentHTTPHandler {
	return &PaymentHTTPHandler{payments: payments, timeout: timeout}
}

type ReceivePaymentRequest struct {
	SaleID         string `json:"sale_id" binding:"required"`
	AmountReceived string `json:"amount_received" binding:"required"`
	Expenses       string `json:"expenses" binding:"required"`
	PaymentDate    string `json:"payment_date" binding:"required"`
}

type EditPaymentRequest struct {
	AmountReceived string `json:"amount_received" binding:"required"`
	Expenses       string `json:"expenses" binding:"required"`
	PaymentDate    string `json:"payment_date" binding:"required"`
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Reason: "must be a number"}
	}
	return amount, nil
}

func (h *PaymentHTTPHandler) ReceivePayment(c *gin.Context) {
	var req ReceivePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	received, err := parseAmount(req.AmountReceived, "amountReceived")
	if err != nil {
		respondError(c, err)
		return
	}
	expenses, err := parseAmount(req.Expenses, "expensesNum")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id, err := h.payments.Receive(ctx, c.Param("id"), middleware.UserID(c), ledger.ReceivePaymentInput{
		SaleID:         req.SaleID,
		AmountReceived: received,
		ExpensesNum:    expenses,
		PaymentDate:    req.PaymentDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Payment recorded successfully", gin.H{"id": id}))
}

func (h *PaymentHTTPHandler) EditPayment(c *gin.Context) {
	var req EditPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	received, err := parseAmount(req.AmountReceived, "amountReceived")
	if err != nil {
		respondError(c, err)
		return
	}
	expenses, err := parseAmount(req.Expenses, "expensesNum")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	err = h.payments.Edit(ctx, c.Param("id"), c.Param("paymentId"), ledger.EditPaymentInput{
		AmountReceived: received,
		ExpensesNum:    expenses,
		PaymentDate:    req.PaymentDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Payment updated successfully", nil))
}

// DeletePayment removes only the payment record. The balance is never
// adjusted by deletion.
func (h *PaymentHTTPHandler) DeletePayment(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.payments.Delete(ctx, c.Param("id"), c.Param("paymentId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Payment deleted successfully", nil))
}

// DeleteReconciledEntry removes a sales entry together with its linked
// payment record, the reconciliation screen's delete flow.
func (h *PaymentHTTPHandler) DeleteReconciledEntry(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.payments.DeleteReconciledEntry(ctx, c.Param("id"), c.Param("saleId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Entry deleted completely", nil))
}

// ResyncPayment recomputes a payment's due amount from the sale's
// current stored total, for payments left stale by a sales edit.
func (h *PaymentHTTPHandler) ResyncPayment(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.payments.Resync(ctx, c.Param("id"), c.Param("paymentId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Payment resynced successfully", nil))
}
