// Package notifications delivers user-facing notifications. Delivery is
// fire-and-forget: callers log failures and never roll back on them.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

// Notifier sends a typed notification to one user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, typ enums.NotificationType, payload map[string]any) error
}

// PublishResult is the pending outcome of an asynchronous publish.
type PublishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher hands a message to the transport without waiting for the ack.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) PublishResult
}

// Envelope is the message body consumed by the delivery workers.
type Envelope struct {
	ID         uuid.UUID              `json:"id"`
	UserID     uuid.UUID              `json:"user_id"`
	Type       enums.NotificationType `json:"type"`
	Payload    map[string]any         `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// PubSubNotifier publishes notification envelopes to a topic.
type PubSubNotifier struct {
	publisher Publisher
	timeout   time.Duration
	logg      *logger.Logger
	clock     func() time.Time
}

// NewPubSubNotifier wires a notifier over the provided publisher.
func NewPubSubNotifier(publisher Publisher, timeout time.Duration, logg *logger.Logger) (*PubSubNotifier, error) {
	if publisher == nil {
		return nil, fmt.Errorf("notification publisher required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &PubSubNotifier{publisher: publisher, timeout: timeout, logg: logg, clock: time.Now}, nil
}

// Notify enqueues the notification and returns immediately. The publish ack is
// awaited in the background and only logged.
func (n *PubSubNotifier) Notify(ctx context.Context, userID uuid.UUID, typ enums.NotificationType, payload map[string]any) error {
	if userID == uuid.Nil {
		return fmt.Errorf("notification user id is required")
	}
	if !typ.IsValid() {
		return fmt.Errorf("invalid notification type %q", typ)
	}

	envelope := Envelope{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       typ,
		Payload:    payload,
		OccurredAt: n.clock().UTC(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	result := n.publisher.Publish(bg, data, map[string]string{
		"type":    string(typ),
		"user_id": userID.String(),
	})

	go func() {
		waitCtx, cancel := context.WithTimeout(bg, n.timeout)
		defer cancel()
		if _, err := result.Get(waitCtx); err != nil {
			logCtx := n.logg.WithFields(bg, map[string]any{
				"notification_id":   envelope.ID.String(),
				"notification_type": string(typ),
			})
			n.logg.Error(logCtx, "notification publish failed", err)
		}
	}()
	return nil
}

// Noop drops every notification.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, uuid.UUID, enums.NotificationType, map[string]any) error {
	return nil
}

type topicPublisher struct {
	topic *pubsub.Publisher
}

// NewTopicPublisher adapts a Pub/Sub topic publisher to Publisher.
func NewTopicPublisher(topic *pubsub.Publisher) (Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic publisher required")
	}
	return &topicPublisher{topic: topic}, nil
}

func (p *topicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) PublishResult {
	return p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
}
