package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ticketing/internal/models"
)

// CreateEvent - POST /api/events
// Создать событие (организатор или администратор)
func (h *Handlers) CreateEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p := principal(c)
	response, err := h.events.Create(c.Request.Context(), p.UserID, p.Role, &req)
	if err != nil {
		handleServiceError(c, err, "Failed to create event")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// ListEvents - GET /api/events
// Получить список одобренных событий
func (h *Handlers) ListEvents(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		badRequest(c, fmt.Errorf("page must be >= 1"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		badRequest(c, fmt.Errorf("limit must be between 1 and 100"))
		return
	}

	from, err := parseTime(c.Query("from"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid from date"))
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid to date"))
		return
	}

	keyword := c.Query("keyword")
	if keyword == "" {
		keyword = c.Query("query")
	}

	response, err := h.events.List(c.Request.Context(), models.EventFilter{
		Keyword:  keyword,
		Category: c.Query("category"),
		Location: c.Query("location"),
		From:     from,
		To:       to,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		handleServiceError(c, err, "Failed to list events")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetEvent - GET /api/events/:id
func (h *Handlers) GetEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p := principal(c)
	event, err := h.events.Get(c.Request.Context(), id, p.UserID, p.Role)
	if err != nil {
		handleServiceError(c, err, "Failed to get event")
		return
	}

	c.JSON(http.StatusOK, event)
}

// ListMyEvents - GET /api/events/mine
func (h *Handlers) ListMyEvents(c *gin.Context) {
	events, err := h.events.ListMine(c.Request.Context(), principal(c).UserID)
	if err != nil {
		handleServiceError(c, err, "Failed to list own events")
		return
	}

	c.JSON(http.StatusOK, events)
}

// ListPendingEvents - GET /api/admin/events/pending
func (h *Handlers) ListPendingEvents(c *gin.Context) {
	events, err := h.events.ListPending(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, "Failed to list pending events")
		return
	}

	c.JSON(http.StatusOK, events)
}

// ModerateEvent - PATCH /api/admin/events/:id/status
// Одобрить или отклонить событие
func (h *Handlers) ModerateEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req models.ModerateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, err := h.events.Moderate(c.Request.Context(), principal(c).UserID, id, &req)
	if err != nil {
		handleServiceError(c, err, "Failed to moderate event")
		return
	}

	c.JSON(http.StatusOK, event)
}

// ListEventRegistrations - GET /api/events/:id/registrations
// Список участников события
func (h *Handlers) ListEventRegistrations(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p := principal(c)
	regs, err := h.registrations.ListForEvent(c.Request.Context(), p.UserID, p.Role, id)
	if err != nil {
		handleServiceError(c, err, "Failed to list event registrations")
		return
	}

	c.JSON(http.StatusOK, regs)
}
