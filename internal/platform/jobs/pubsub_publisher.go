package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/commerce/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	// events for one order are delivered in publish order to subscriptions that enable ordering.
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent sends the event as a JSON message keyed by order id.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	orderID := strconv.FormatInt(event.OrderID, 10)
	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", orderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", event.Status)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: "order-" + orderID,
	})

	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish("order-" + orderID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	if p == nil || p.topic == nil {
		return
	}
	p.topic.Stop()
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
