// Package stripe adapts stripe-go to the billing operations the subscription
// service needs, behind a circuit breaker.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/yungbote/questline-backend/internal/observability"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

// MetadataUserID is the metadata key carrying our user id on Stripe objects.
const MetadataUserID = "user_id"

var ErrBreakerOpen = errors.New("billing provider unavailable")

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Breaker trips after this many consecutive provider failures.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type CheckoutRequest struct {
	UserID     string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	TrialDays  int64
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Billing interface {
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type billing struct {
	log           *logger.Logger
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
}

func NewBilling(log *logger.Logger, cfg Config) (Billing, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("missing stripe secret key")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("missing stripe webhook secret")
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	b := &billing{
		log:           log.With("client", "StripeBilling"),
		api:           api,
		webhookSecret: cfg.WebhookSecret,
	}
	b.breaker = newBreaker(b.log, cfg)
	return b, nil
}

func newBreaker(log *logger.Logger, cfg Config) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Client errors (bad params, card declines) say nothing about provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *stripego.Error
			if errors.As(err, &se) {
				return se.HTTPStatusCode > 0 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (b *billing) call(op string, fn func() (any, error)) (any, error) {
	out, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	observability.RecordStripeCall(op, err)
	if err != nil {
		b.log.Warn("stripe call failed", "operation", op, "error", err)
	}
	return out, err
}

func (b *billing) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripego.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripego.String(email)
	}
	if name != "" {
		params.Name = stripego.String(name)
	}
	params.AddMetadata(MetadataUserID, userID)
	params.SetIdempotencyKey("customer-" + userID)

	out, err := b.call("create_customer", func() (any, error) {
		return b.api.Customers.New(params)
	})
	if err != nil {
		return "", err
	}
	return out.(*stripego.Customer).ID, nil
}

func (b *billing) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		Customer:          stripego.String(req.CustomerID),
		ClientReferenceID: stripego.String(req.UserID),
		SuccessURL:        stripego.String(req.SuccessURL),
		CancelURL:         stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			Price:    stripego.String(req.PriceID),
			Quantity: stripego.Int64(1),
		}},
		SubscriptionData: &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: req.UserID},
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripego.Int64(req.TrialDays)
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)

	out, err := b.call("create_checkout", func() (any, error) {
		return b.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}
	s := out.(*stripego.CheckoutSession)
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (b *billing) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx
	out, err := b.call("create_portal", func() (any, error) {
		return b.api.BillingPortalSessions.New(params)
	})
	if err != nil {
		return "", err
	}
	return out.(*stripego.BillingPortalSession).URL, nil
}

func (b *billing) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	params := &stripego.SubscriptionParams{CancelAtPeriodEnd: stripego.Bool(cancel)}
	params.Context = ctx
	op := "cancel_at_period_end"
	if !cancel {
		op = "resume"
	}
	_, err := b.call(op, func() (any, error) {
		return b.api.Subscriptions.Update(subscriptionID, params)
	})
	return err
}
