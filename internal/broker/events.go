package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the transport the event publisher writes to
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func productKey(productID int64) string {
	return fmt.Sprintf("product-%d", productID)
}

// PublishProductChanged publishes PRODUCT_CREATED or PRODUCT_UPDATED
func (ep *EventPublisher) PublishProductChanged(ctx context.Context, eventType string, p *models.Product) error {
	a := p.Availability()
	event := &models.ProductChangedEvent{
		BaseEvent: newBaseEvent(eventType),
		ProductID: p.ID,
		OwnerID:   p.OwnerID,
		Quantity:  a.Quantity,
		IsSold:    a.IsSold,
		Version:   a.Version,
	}
	return ep.producer.PublishEvent(ctx, productKey(p.ID), event)
}

// PublishProductDeleted publishes PRODUCT_DELETED. p.UpdatedAt must hold the deletion time.
func (ep *EventPublisher) PublishProductDeleted(ctx context.Context, p *models.Product) error {
	event := &models.ProductDeletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeProductDeleted),
		ProductID: p.ID,
		OwnerID:   p.OwnerID,
		Version:   p.UpdatedAt.UnixMicro(),
	}
	return ep.producer.PublishEvent(ctx, productKey(p.ID), event)
}

// PublishProductSoldOut publishes PRODUCT_SOLD_OUT
func (ep *EventPublisher) PublishProductSoldOut(ctx context.Context, checkoutID string, item models.CheckoutItem) error {
	event := &models.ProductSoldOutEvent{
		BaseEvent:  newBaseEvent(models.EventTypeProductSoldOut),
		ProductID:  item.ProductID,
		OwnerID:    item.OwnerID,
		CheckoutID: checkoutID,
		Version:    item.Version,
	}
	return ep.producer.PublishEvent(ctx, productKey(item.ProductID), event)
}

// PublishCheckoutCompleted publishes CHECKOUT_COMPLETED
func (ep *EventPublisher) PublishCheckoutCompleted(ctx context.Context, result *models.CheckoutResult) error {
	event := &models.CheckoutCompletedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeCheckoutCompleted),
		CheckoutID: result.CheckoutID,
		UserID:     result.UserID,
		Units:      result.Units,
		TotalCents: result.TotalCents,
		Items:      result.Items,
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("checkout-%s", result.CheckoutID), event)
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	onProductChanged    func(context.Context, *models.ProductChangedEvent) error
	onProductDeleted    func(context.Context, *models.ProductDeletedEvent) error
	onCheckoutCompleted func(context.Context, *models.CheckoutCompletedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnProductChanged registers a handler for PRODUCT_CREATED and PRODUCT_UPDATED
func (eh *EventHandler) OnProductChanged(handler func(context.Context, *models.ProductChangedEvent) error) {
	eh.onProductChanged = handler
}

// OnProductDeleted registers a handler for PRODUCT_DELETED
func (eh *EventHandler) OnProductDeleted(handler func(context.Context, *models.ProductDeletedEvent) error) {
	eh.onProductDeleted = handler
}

// OnCheckoutCompleted registers a handler for CHECKOUT_COMPLETED
func (eh *EventHandler) OnCheckoutCompleted(handler func(context.Context, *models.CheckoutCompletedEvent) error) {
	eh.onCheckoutCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeProductCreated, models.EventTypeProductUpdated:
		if eh.onProductChanged != nil {
			var event models.ProductChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onProductChanged(ctx, &event)
		}

	case models.EventTypeProductDeleted:
		if eh.onProductDeleted != nil {
			var event models.ProductDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductDeleted event: %w", err)
			}
			return eh.onProductDeleted(ctx, &event)
		}

	case models.EventTypeCheckoutCompleted:
		if eh.onCheckoutCompleted != nil {
			var event models.CheckoutCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CheckoutCompleted event: %w", err)
			}
			return eh.onCheckoutCompleted(ctx, &event)
		}

	case models.EventTypeProductSoldOut:
		// covered by CHECKOUT_COMPLETED of the same checkout

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
