package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	subdomain "github.com/yungbote/questline-backend/internal/domain/subscription"
)

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionPaused  = "customer.subscription.paused"
	EventSubscriptionResumed = "customer.subscription.resumed"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// IsSubscriptionEvent reports whether the type carries a subscription object.
func IsSubscriptionEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventSubscriptionPaused, EventSubscriptionResumed:
		return true
	}
	return false
}

// CheckoutCompleted is the part of a completed checkout session that links a
// user to a Stripe customer.
type CheckoutCompleted struct {
	SessionID      string
	UserID         string
	CustomerID     string
	SubscriptionID string
}

// WebhookEvent is a verified Stripe event. Exactly one of Subscription and
// Checkout is set for the types we act on; both are nil otherwise.
type WebhookEvent struct {
	ID           string
	Type         string
	Created      int64
	Subscription *subdomain.Event
	Checkout     *CheckoutCompleted
}

func (b *billing) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return ParseWebhook(payload, signature, b.webhookSecret)
}

// ParseWebhook verifies the signature header and decodes the event payload.
func ParseWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	out := &WebhookEvent{ID: event.ID, Type: string(event.Type), Created: event.Created}
	if event.Data == nil {
		return out, nil
	}
	switch {
	case IsSubscriptionEvent(out.Type):
		var sub stripego.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = SubscriptionEvent(out.ID, out.Type, out.Created, &sub)
	case out.Type == EventCheckoutCompleted:
		var cs stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Checkout = checkoutCompleted(&cs)
	}
	return out, nil
}

// SubscriptionEvent normalises a Stripe subscription object.
func SubscriptionEvent(id, eventType string, created int64, sub *stripego.Subscription) *subdomain.Event {
	ev := &subdomain.Event{
		ID:                  id,
		Type:                eventType,
		Created:             created,
		SubscriptionID:      sub.ID,
		SubscriptionCreated: sub.Created,
		Status:              subdomain.Status(sub.Status),
		CancelAtPeriodEnd:   sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:    unixTime(sub.CurrentPeriodEnd),
		TrialEnd:            unixTime(sub.TrialEnd),
		CanceledAt:          unixTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	if sub.Metadata != nil {
		ev.UserID = sub.Metadata[MetadataUserID]
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				ev.PriceID = item.Price.ID
				break
			}
		}
	}
	return ev
}

func checkoutCompleted(cs *stripego.CheckoutSession) *CheckoutCompleted {
	out := &CheckoutCompleted{SessionID: cs.ID, UserID: cs.ClientReferenceID}
	if out.UserID == "" && cs.Metadata != nil {
		out.UserID = cs.Metadata[MetadataUserID]
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
