// Package worker provides async event processing: notification dispatch
// for booking outcomes and rule-set cache invalidation on config changes.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opencourt/courtyard/internal/domain"
)

// Worker consumes booking and config events from the EventBus. Each running
// instance subscribes to config updates so every node's local rule-set
// cache is dropped when any node writes config.
type Worker struct {
	bus    domain.EventBus
	cache  domain.Cache
	logger *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// FacilityIDs is the list of facilities to process.
	FacilityIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, cache domain.Cache, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		cache:  cache,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing events for the given facilities.
func (w *Worker) Start(cfg Config) error {
	for _, facilityID := range cfg.FacilityIDs {
		if err := w.startFacilityWorker(facilityID); err != nil {
			w.logger.Error("failed to start worker for facility",
				"facility_id", facilityID,
				"error", err,
			)
			continue
		}
	}

	w.logger.Info("workers started", "facility_count", len(cfg.FacilityIDs))
	return nil
}

func (w *Worker) startFacilityWorker(facilityID string) error {
	topics := map[string]domain.MessageHandler{
		domain.TopicConfigUpdated:    w.handleConfigUpdated,
		domain.TopicBookingCommitted: w.handleBookingEvent,
		domain.TopicBookingDenied:    w.handleBookingEvent,
		domain.TopicBookingCancelled: w.handleBookingEvent,
		domain.TopicStrikeIssued:     w.handleStrikeIssued,
	}
	for topic, handler := range topics {
		sub, err := w.bus.Subscribe(w.ctx, facilityID, topic, handler)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}
	return nil
}

// handleConfigUpdated drops the cached rule set for the facility.
func (w *Worker) handleConfigUpdated(ctx context.Context, msg *domain.Message) error {
	if err := w.cache.Delete(ctx, msg.FacilityID, domain.CacheKeyRuleSet); err != nil {
		w.logger.Warn("drop rule set cache",
			"facility_id", msg.FacilityID, "error", err)
		return err
	}
	w.logger.Debug("rule set cache dropped", "facility_id", msg.FacilityID)
	return nil
}

// handleBookingEvent dispatches booking notifications. The notification
// channel itself (email, push) sits outside this service; the worker logs a
// structured record that downstream consumers tail.
func (w *Worker) handleBookingEvent(ctx context.Context, msg *domain.Message) error {
	w.logger.Info("booking event",
		"facility_id", msg.FacilityID,
		"topic", msg.Topic,
		"message_id", msg.ID,
	)
	return nil
}

// handleStrikeIssued notifies about new strikes.
func (w *Worker) handleStrikeIssued(ctx context.Context, msg *domain.Message) error {
	var strike domain.Strike
	if err := json.Unmarshal(msg.Payload, &strike); err != nil {
		w.logger.Error("unmarshal strike event", "error", err)
		return err
	}
	w.logger.Info("strike notification",
		"facility_id", strike.FacilityID,
		"user_id", strike.UserID,
		"type", strike.Type,
	)
	return nil
}

// Stop cancels all subscriptions.
func (w *Worker) Stop() {
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.cancel()
	w.logger.Info("workers stopped")
}
