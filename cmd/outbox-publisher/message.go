package main

import (
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopbot-backend/pkg/db/models"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox/registry"
)

const (
	severityWarning  = "warning"
	severityCritical = "critical"
)

// buildMessage turns a resolved purchase event into a Pub/Sub message. The
// ordering key is the purchase id, so a purchase's completion always precedes
// its delivery outcome for subscribers.
func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) (*gcppubsub.Message, error) {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"purchase_id":    event.AggregateID.String(),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}

	var purchaseID uuid.UUID
	switch p := resolved.Payload.(type) {
	case *payloads.PurchaseCompletedEvent:
		purchaseID = p.PurchaseID
		attrs["user_id"] = p.UserID.String()
		attrs["position_id"] = p.PositionID.String()
		attrs["quantity"] = strconv.Itoa(p.Quantity)
		attrs["total_price_cents"] = strconv.FormatInt(p.TotalPriceCents, 10)
	case *payloads.PurchaseDeliveredEvent:
		purchaseID = p.PurchaseID
		attrs["user_id"] = p.UserID.String()
		attrs["delivery_attempts"] = strconv.Itoa(p.Attempts)
	case *payloads.PurchaseDeliveryFailedEvent:
		purchaseID = p.PurchaseID
		attrs["user_id"] = p.UserID.String()
		attrs["delivery_attempts"] = strconv.Itoa(p.Attempts)
		attrs["retryable"] = strconv.FormatBool(p.Retryable)
		attrs["severity"] = deliveryFailureSeverity(p)
	default:
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T for %s", resolved.Payload, event.EventType))
	}

	if purchaseID != uuid.Nil && purchaseID != event.AggregateID {
		return nil, registry.NewNonRetryableError(fmt.Errorf("payload purchase %s does not match aggregate %s", purchaseID, event.AggregateID))
	}

	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: event.AggregateID.String(),
	}, nil
}

// A failure nobody will retry needs an operator.
func deliveryFailureSeverity(p *payloads.PurchaseDeliveryFailedEvent) string {
	if p.Retryable {
		return severityWarning
	}
	return severityCritical
}
