package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/logger"
	"ticketing/internal/models"
)

// OnPaymentUpdates - POST /api/payments/notifications
// Принимать уведомления от платежного шлюза
func (h *Handlers) OnPaymentUpdates(c *gin.Context) {
	var notification models.PaymentNotificationPayload
	if err := c.ShouldBindJSON(&notification); err != nil {
		badRequest(c, err)
		return
	}

	log := logger.WithContext(c.Request.Context()).With(
		"payment_id", notification.PaymentID,
		"order_id", notification.OrderID,
		"status", notification.Status,
	)

	if h.verifier == nil || !h.verifier.VerifyNotification(notification) {
		log.Warn("Rejected payment notification with invalid token")
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "invalid notification token", Code: apperrors.ErrForbidden.Code})
		return
	}

	if notification.PaymentID == "" {
		badRequest(c, apperrors.ErrInvalidRequest)
		return
	}

	_, err := h.checkouts.ConfirmCheckout(c.Request.Context(), notification.PaymentID)
	switch {
	case err == nil:
		log.Info("Payment notification processed")
	case apperrors.Is(err, apperrors.ErrPaymentNotCompleted), apperrors.Is(err, apperrors.ErrSessionNotFound):
		// Шлюз повторяет уведомление, пока не получит 200
		log.Info("Payment notification acknowledged without booking", "error", err)
	default:
		handleServiceError(c, err, "Failed to handle payment notification")
		return
	}

	// Шлюз ждет 200 без тела ответа
	c.Status(http.StatusOK)
}
