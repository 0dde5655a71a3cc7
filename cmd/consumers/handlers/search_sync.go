package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/stan.go"

	"ticketing/internal/logger"
	"ticketing/internal/models"
)

type EventReader interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

type EventIndex interface {
	IndexEvent(ctx context.Context, event *models.Event) error
	DeleteEvent(ctx context.Context, id int64) error
}

// SearchSyncHandler keeps the search index in step with moderation
// decisions.
type SearchSyncHandler struct {
	events EventReader
	index  EventIndex
}

func NewSearchSyncHandler(events EventReader, index EventIndex) *SearchSyncHandler {
	return &SearchSyncHandler{events: events, index: index}
}

// HandleEventModerated handles event.approved and event.rejected
func (h *SearchSyncHandler) HandleEventModerated(msg *stan.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.sync(ctx, msg.Data); err != nil {
		logger.Get().Error("Failed to sync event to search index", "error", err, "subject", msg.Subject)
		// Не подтверждаем, NATS повторит доставку после AckWait
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Get().Warn("Failed to ack message", "subject", msg.Subject, "error", err)
	}
}

func (h *SearchSyncHandler) sync(ctx context.Context, data []byte) error {
	var event models.EventModeratedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// Битое сообщение повторять бессмысленно
		logger.Get().Error("Failed to unmarshal moderation event", "error", err)
		return nil
	}

	if event.Status != models.EventApproved {
		if err := h.index.DeleteEvent(ctx, event.EventID); err != nil {
			return fmt.Errorf("remove event %d from index: %w", event.EventID, err)
		}
		logger.Get().Info("Removed event from search index", "event_id", event.EventID)
		return nil
	}

	current, err := h.events.GetByID(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("load event %d: %w", event.EventID, err)
	}
	if current == nil || current.Status != models.EventApproved {
		logger.Get().Warn("Skipping index of event that is no longer approved", "event_id", event.EventID)
		return nil
	}

	if err := h.index.IndexEvent(ctx, current); err != nil {
		return fmt.Errorf("index event %d: %w", event.EventID, err)
	}
	logger.Get().Info("Indexed approved event", "event_id", event.EventID, "title", current.Title)
	return nil
}
