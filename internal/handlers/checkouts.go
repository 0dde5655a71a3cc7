package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ticketing/internal/models"
)

// RequestCheckout - POST /api/checkouts
// Зарезервировать билеты и открыть платежную сессию
func (h *Handlers) RequestCheckout(c *gin.Context) {
	var req models.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.checkouts.RequestCheckout(c.Request.Context(), principal(c).UserID, &req)
	if err != nil {
		handleServiceError(c, err, "Failed to request checkout")
		return
	}

	c.Header("Location", session.PaymentURL)
	c.JSON(http.StatusCreated, session)
}

// ConfirmCheckout - POST /api/checkouts/confirm
// Подтвердить оплату по идентификатору сессии
func (h *Handlers) ConfirmCheckout(c *gin.Context) {
	var req models.ConfirmCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.checkouts.ConfirmCheckout(c.Request.Context(), req.SessionID)
	if err != nil {
		handleServiceError(c, err, "Failed to confirm checkout")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetCheckout - GET /api/checkouts/:id
func (h *Handlers) GetCheckout(c *gin.Context) {
	checkout, err := h.checkouts.GetCheckout(c.Request.Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to get checkout")
		return
	}

	c.JSON(http.StatusOK, checkout)
}

// CancelCheckout - PATCH /api/checkouts/:id/cancel
// Отказаться от оформления и вернуть билеты в продажу
func (h *Handlers) CancelCheckout(c *gin.Context) {
	checkout, err := h.checkouts.CancelCheckout(c.Request.Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to cancel checkout")
		return
	}

	c.JSON(http.StatusOK, checkout)
}

// ExpireCheckout - POST /api/admin/checkouts/:id/expire
// Принудительно завершить просроченное оформление
func (h *Handlers) ExpireCheckout(c *gin.Context) {
	checkout, err := h.checkouts.ExpireCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err, "Failed to expire checkout")
		return
	}

	c.JSON(http.StatusOK, checkout)
}
