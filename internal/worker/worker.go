package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers topic messages to a handler until ctx is cancelled
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// EventLog records which events were already applied
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// AvailabilityWriter is the write side of the availability cache
type AvailabilityWriter interface {
	SetAvailability(ctx context.Context, a models.Availability) (bool, error)
	EvictAvailability(ctx context.Context, productID int64, version int64) error
}

// CatalogCacheWorker projects catalog and checkout events into the
// availability cache, so instances that did not perform a write still
// serve fresh snapshots
type CatalogCacheWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	events       EventLog
	cache        AvailabilityWriter
	logger       *zap.Logger
}

// NewCatalogCacheWorker creates a new cache worker
func NewCatalogCacheWorker(consumer MessageSource, events EventLog, cache AvailabilityWriter) *CatalogCacheWorker {
	w := &CatalogCacheWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		cache:        cache,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnProductChanged(w.handleProductChanged)
	w.eventHandler.OnProductDeleted(w.handleProductDeleted)
	w.eventHandler.OnCheckoutCompleted(w.handleCheckoutCompleted)

	return w
}

// Start consumes events until ctx is cancelled
func (w *CatalogCacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CatalogCacheWorker) Stop() error {
	w.logger.Info("Stopping catalog cache worker")
	return w.consumer.Close()
}

func (w *CatalogCacheWorker) handleProductChanged(ctx context.Context, event *models.ProductChangedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		_, err := w.cache.SetAvailability(ctx, models.Availability{
			ProductID: event.ProductID,
			Quantity:  event.Quantity,
			IsSold:    event.IsSold,
			Version:   event.Version,
		})
		return err
	})
}

func (w *CatalogCacheWorker) handleProductDeleted(ctx context.Context, event *models.ProductDeletedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		return w.cache.EvictAvailability(ctx, event.ProductID, event.Version)
	})
}

func (w *CatalogCacheWorker) handleCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		for _, item := range event.Items {
			if _, err := w.cache.SetAvailability(ctx, models.Availability{
				ProductID: item.ProductID,
				Quantity:  item.Remaining,
				IsSold:    item.IsSold,
				Version:   item.Version,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// once applies an event at most once. A failed apply is not recorded, so the
// message is redelivered.
func (w *CatalogCacheWorker) once(ctx context.Context, event models.BaseEvent, apply func() error) error {
	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "error").Inc()
		return err
	}
	if processed {
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "duplicate").Inc()
		w.logger.Debug("Skipping processed event", zap.String("event_id", event.EventID))
		return nil
	}

	if err := apply(); err != nil {
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "error").Inc()
		w.logger.Warn("Failed to apply event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return err
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "error").Inc()
		return err
	}
	util.EventsConsumedTotal.WithLabelValues(event.EventType, "applied").Inc()
	return nil
}
