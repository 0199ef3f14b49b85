package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"khata-system/internal/reconcile"
)

type ReconcileHTTPHandler struct {
	manager *reconcile.Manager
	timeout time.Duration
}

func NewReconcileHTTPHandler(manager *reconcile.Manager, timeout time.Duration) *ReconcileHTTPHandler {
	return &ReconcileHTTPHandler{manager: manager, timeout: timeout}
}

// GetView returns the current reconciled combined view for the shop,
// starting a live session on first access.
func (h *ReconcileHTTPHandler) GetView(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	session, err := h.manager.Session(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Reconciliation view retrieved", session.Snapshot()))
}

// LoadMore advances both stream paginations where pages remain. A
// failed fetch keeps the loaded pages intact; the client may retry.
func (h *ReconcileHTTPHandler) LoadMore(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	session, err := h.manager.Session(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := session.LoadMore(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Loaded more entries", session.Snapshot()))
}

// Release closes the shop's live session, the equivalent of navigating
// away from the screen.
func (h *ReconcileHTTPHandler) Release(c *gin.Context) {
	h.manager.Release(c.Param("id"))
	c.JSON(http.StatusOK, successResponse("Reconciliation session released", nil))
}
