package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/messaging"
	"github.com/satguru/tiffin/pkg/calendar"
)

// Order event types, carried in the messaging.HeaderEventType header.
const (
	EventOrderCreated   = "order.created"
	EventOrderPaused    = "order.paused"
	EventOrderResumed   = "order.resumed"
	EventPauseScheduled = "order.pause_scheduled"
	EventPauseCancelled = "order.pause_cancelled"
	EventOrderCompleted = "order.completed"
)

// OrderEvent is published after an order changes state.
type OrderEvent struct {
	Type         string    `json:"type"`
	ID           int64     `json:"id"`
	Number       string    `json:"number"`
	Status       string    `json:"status"`
	CustomerName string    `json:"customer_name"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Dates        []string  `json:"dates,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (s *Service) publish(ctx context.Context, eventType string, order *entity.Order, dates *calendar.DateSet) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:         eventType,
		ID:           order.ID,
		Number:       order.Number,
		Status:       order.Status,
		CustomerName: order.CustomerName,
		Phone:        order.Phone,
		Email:        order.Email,
		OccurredAt:   s.now().UTC(),
	}
	if dates != nil {
		event.Dates = dates.Strings()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.String("event", eventType), zap.Error(err))
		return
	}
	key := []byte(fmt.Sprintf("order-%d", order.ID))
	headers := map[string]string{messaging.HeaderEventType: eventType}
	if err := s.publisher.Publish(ctx, key, payload, headers); err != nil {
		s.logger.Error("publish order event", zap.String("event", eventType), zap.Int64("order_id", order.ID), zap.Error(err))
	}
}
