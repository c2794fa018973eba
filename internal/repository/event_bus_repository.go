package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/models"
)

// EventBusRepository publishes outbound IEP events on a Redis channel.
type EventBusRepository struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewEventBusRepository constructs the bus publisher.
func NewEventBusRepository(client *redis.Client, channel string, logger *zap.Logger) *EventBusRepository {
	if channel == "" {
		channel = "iep.events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBusRepository{client: client, channel: channel, logger: logger}
}

// Publish serialises the event and sends it to subscribers. A nil client drops the event.
func (r *EventBusRepository) Publish(ctx context.Context, event models.Event) error {
	if r.client == nil {
		r.logger.Debug("event bus disabled, dropping event", zap.String("type", string(event.Type)), zap.String("resource_id", event.ResourceID))
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Channel returns the channel events are published to.
func (r *EventBusRepository) Channel() string {
	return r.channel
}
