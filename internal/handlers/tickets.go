package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ticketing/internal/models"
)

// ListTickets - GET /api/tickets
func (h *Handlers) ListTickets(c *gin.Context) {
	tickets, err := h.tickets.ListTickets(c.Request.Context(), principal(c).UserID)
	if err != nil {
		handleServiceError(c, err, "Failed to list tickets")
		return
	}

	c.JSON(http.StatusOK, tickets)
}

// TicketHistory - GET /api/tickets/:id/history
// История владельцев билета
func (h *Handlers) TicketHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	history, err := h.tickets.TicketHistory(c.Request.Context(), principal(c).UserID, id)
	if err != nil {
		handleServiceError(c, err, "Failed to get ticket history")
		return
	}

	c.JSON(http.StatusOK, history)
}

// CancelTicket - PATCH /api/tickets/:id/cancel
// Отменить оплаченный билет
func (h *Handlers) CancelTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ticket, err := h.tickets.CancelTicket(c.Request.Context(), principal(c).UserID, id)
	if err != nil {
		handleServiceError(c, err, "Failed to cancel ticket")
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// TransferTicket - PATCH /api/tickets/:id/transfer
// Передать билет другому пользователю
func (h *Handlers) TransferTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req models.TransferTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ticket, err := h.tickets.TransferTicket(c.Request.Context(), principal(c).UserID, id, req.RecipientEmail)
	if err != nil {
		handleServiceError(c, err, "Failed to transfer ticket")
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// GetRegistration - GET /api/registrations/:id
func (h *Handlers) GetRegistration(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p := principal(c)
	reg, err := h.registrations.Get(c.Request.Context(), p.UserID, p.Role, id)
	if err != nil {
		handleServiceError(c, err, "Failed to get registration")
		return
	}

	c.JSON(http.StatusOK, reg)
}

// ListRegistrations - GET /api/registrations
func (h *Handlers) ListRegistrations(c *gin.Context) {
	regs, err := h.registrations.ListMine(c.Request.Context(), principal(c).UserID)
	if err != nil {
		handleServiceError(c, err, "Failed to list registrations")
		return
	}

	c.JSON(http.StatusOK, regs)
}
