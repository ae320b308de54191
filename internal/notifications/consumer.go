package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/covercheck/covercheck-backend/pkg/db/models"
	"github.com/covercheck/covercheck-backend/pkg/enums"
	"github.com/covercheck/covercheck-backend/pkg/logger"
	"github.com/covercheck/covercheck-backend/pkg/money"
	"github.com/covercheck/covercheck-backend/pkg/outbox"
	"github.com/covercheck/covercheck-backend/pkg/outbox/idempotency"
	"github.com/covercheck/covercheck-backend/pkg/outbox/payloads"
	"github.com/covercheck/covercheck-backend/pkg/outbox/registry"
	"github.com/google/uuid"
)

const billingNotificationConsumer = "billing-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches billing domain events and turns the ones a subscriber
// cares about into in-app notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

func newBillingDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventInvoiceIssued, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.InvoiceIssuedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	})
	decoders.Register(enums.EventPaymentFailed, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.PaymentFailedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	})
	decoders.Register(enums.EventSubscriptionPastDue, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.SubscriptionPastDueEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	})
	return decoders
}

// NewConsumer builds a billing notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		decoders:     newBillingDecoders(),
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !c.handles(eventType) {
		c.logg.Info(logCtx, "skipping event without notification mapping")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, billingNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	version := envelope.Version
	if version == 0 {
		version = 1
	}

	if err := c.handleEvent(ctx, eventType, version, envelope.Data, logCtx); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, billingNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handles(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventInvoiceIssued, enums.EventPaymentFailed, enums.EventSubscriptionPastDue:
		return true
	default:
		return false
	}
}

func (c *Consumer) handleEvent(ctx context.Context, eventType enums.OutboxEventType, version int, data json.RawMessage, logCtx context.Context) error {
	decoded, err := c.decoders.Decode(eventType, version, data)
	if err != nil {
		return fmt.Errorf("decoding %s payload: %w", eventType, err)
	}
	switch payload := decoded.(type) {
	case *payloads.InvoiceIssuedEvent:
		return c.notifyInvoiceIssued(ctx, payload, logCtx)
	case *payloads.PaymentFailedEvent:
		return c.notifyPaymentFailed(ctx, payload, logCtx)
	case *payloads.SubscriptionPastDueEvent:
		return c.notifyPastDue(ctx, payload, logCtx)
	default:
		return nil
	}
}

func (c *Consumer) notifyInvoiceIssued(ctx context.Context, payload *payloads.InvoiceIssuedEvent, logCtx context.Context) error {
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}
	link := fmt.Sprintf("/billing/invoices/%s", payload.InvoiceID)
	notification := &models.Notification{
		UserID:  payload.UserID,
		Type:    enums.NotificationTypeInvoiceIssued,
		Title:   "New invoice",
		Message: fmt.Sprintf("Invoice %s for %s is due %s.", payload.Number, money.FormatCents(payload.TotalCents), payload.DueAt.Format("Jan 2, 2006")),
		Link:    stringPtr(link),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "subscriber notified of new invoice")
	return nil
}

func (c *Consumer) notifyPaymentFailed(ctx context.Context, payload *payloads.PaymentFailedEvent, logCtx context.Context) error {
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}
	message := fmt.Sprintf("We could not collect %s for your latest invoice.", money.FormatCents(payload.AmountCents))
	if payload.ErrorMessage != "" {
		message = fmt.Sprintf("%s Reason: %s", message, payload.ErrorMessage)
	}
	link := fmt.Sprintf("/billing/invoices/%s", payload.InvoiceID)
	notification := &models.Notification{
		UserID:  payload.UserID,
		Type:    enums.NotificationTypePaymentFailed,
		Title:   "Payment failed",
		Message: message,
		Link:    stringPtr(link),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "subscriber notified of failed payment")
	return nil
}

func (c *Consumer) notifyPastDue(ctx context.Context, payload *payloads.SubscriptionPastDueEvent, logCtx context.Context) error {
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}
	notification := &models.Notification{
		UserID:  payload.UserID,
		Type:    enums.NotificationTypeSubscriptionChange,
		Title:   "Subscription past due",
		Message: "Your subscription is past due. Update your payment method to keep verifications running.",
		Link:    stringPtr("/billing"),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "subscriber notified of past due subscription")
	return nil
}

func stringPtr(value string) *string {
	return &value
}
