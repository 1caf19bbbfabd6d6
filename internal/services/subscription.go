package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripeclient "github.com/yungbote/questline-backend/internal/clients/stripe"
	"github.com/yungbote/questline-backend/internal/data/repos"
	userrepo "github.com/yungbote/questline-backend/internal/data/repos/user"
	types "github.com/yungbote/questline-backend/internal/domain"
	subdomain "github.com/yungbote/questline-backend/internal/domain/subscription"
	apperrors "github.com/yungbote/questline-backend/internal/pkg/errors"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/ctxutil"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type SubscriptionConfig struct {
	Plans []types.Plan
	// PriceTiers maps Stripe price ids to tiers; unknown prices get DefaultPaidTier.
	PriceTiers      map[string]types.Tier
	DefaultPaidTier types.Tier

	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	TrialDays       int64

	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// MySubscription is the caller's billing view.
type MySubscription struct {
	Tier         types.Tier          `json:"tier"`
	Subscription *types.Subscription `json:"subscription,omitempty"`
	Plan         *types.Plan         `json:"plan,omitempty"`
}

type WebhookResult struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
}

type SubscriptionService interface {
	SyncSubscription(ctx context.Context, ev types.SubscriptionEvent) (subdomain.SyncResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)

	GetMySubscription(ctx context.Context) (*MySubscription, error)
	ListPlans() []types.Plan
	CreateCheckout(ctx context.Context, planID string) (*stripeclient.CheckoutSession, error)
	CreatePortal(ctx context.Context) (string, error)
	CancelAtPeriodEnd(ctx context.Context) (*types.Subscription, error)
	Resume(ctx context.Context) (*types.Subscription, error)

	TierFor(status types.SubscriptionStatus, priceID string) types.Tier
}

type subscriptionService struct {
	log      *logger.Logger
	subs     repos.SubscriptionRepo
	profiles repos.ProfileRepo
	billing  stripeclient.Billing
	retrier  *dynamo.Retrier
	cfg      SubscriptionConfig
	now      func() time.Time
}

func NewSubscriptionService(
	log *logger.Logger,
	subs repos.SubscriptionRepo,
	profiles repos.ProfileRepo,
	billing stripeclient.Billing,
	cfg SubscriptionConfig,
) SubscriptionService {
	if cfg.DefaultPaidTier == "" {
		cfg.DefaultPaidTier = subdomain.TierPremium
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 50 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = time.Second
	}
	return &subscriptionService{
		log:      log.With("service", "SubscriptionService"),
		subs:     subs,
		profiles: profiles,
		billing:  billing,
		retrier:  dynamo.NewRetrier(cfg.MaxAttempts, cfg.RetryInitial, cfg.RetryMax),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *subscriptionService) TierFor(status types.SubscriptionStatus, priceID string) types.Tier {
	if !status.Entitled() {
		return subdomain.TierFree
	}
	if t, ok := s.cfg.PriceTiers[priceID]; ok {
		return t
	}
	return s.cfg.DefaultPaidTier
}

func (s *subscriptionService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := s.billing.ParseWebhook(payload, signature)
	if err != nil {
		s.log.Warn("rejected webhook", "error", err)
		return nil, apierr.New(http.StatusBadRequest, "invalid_webhook", err)
	}
	out := &WebhookResult{EventID: ev.ID, Type: ev.Type, Outcome: string(subdomain.SyncIgnored)}
	switch {
	case ev.Subscription != nil:
		res, err := s.SyncSubscription(ctx, *ev.Subscription)
		if err != nil {
			return nil, err
		}
		out.Outcome = string(res.Outcome)
	case ev.Checkout != nil:
		outcome, err := s.linkCheckout(ctx, ev.Checkout)
		if err != nil {
			return nil, err
		}
		out.Outcome = outcome
	default:
		s.log.Debug("ignoring webhook event", "event_id", ev.ID, "event_type", ev.Type)
	}
	return out, nil
}

// linkCheckout binds the Stripe customer created at checkout to the profile
// so later subscription events without metadata still resolve.
func (s *subscriptionService) linkCheckout(ctx context.Context, cc *stripeclient.CheckoutCompleted) (string, error) {
	if cc.UserID == "" || cc.CustomerID == "" {
		return string(subdomain.SyncIgnored), nil
	}
	if _, _, err := s.profiles.EnsureProfile(ctx, &types.Profile{UserID: cc.UserID}); err != nil {
		return "", err
	}
	err := s.profiles.LinkStripeCustomer(ctx, cc.UserID, cc.CustomerID)
	switch {
	case err == nil:
		return "linked", nil
	case errors.Is(err, userrepo.ErrCustomerConflict):
		s.log.Warn("checkout customer differs from linked customer", "user_id", cc.UserID, "customer_id", cc.CustomerID)
		return string(subdomain.SyncIgnored), nil
	default:
		return "", err
	}
}

func (s *subscriptionService) GetMySubscription(ctx context.Context) (*MySubscription, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.profiles.Get(ctx, rd.UserID, false)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.GetByUser(ctx, rd.UserID, false)
	if err != nil {
		return nil, err
	}
	out := &MySubscription{Tier: p.EffectiveTier(), Subscription: sub}
	if sub != nil {
		out.Plan = s.planByPrice(sub.PriceID)
	}
	return out, nil
}

func (s *subscriptionService) ListPlans() []types.Plan {
	out := make([]types.Plan, len(s.cfg.Plans))
	copy(out, s.cfg.Plans)
	return out
}

func (s *subscriptionService) CreateCheckout(ctx context.Context, planID string) (*stripeclient.CheckoutSession, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	plan := s.planByID(planID)
	if plan == nil {
		return nil, apierr.NotFound("plan_not_found", "plan %q", planID)
	}
	current, err := s.subs.GetByUser(ctx, rd.UserID, true)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status.Entitled() && !current.CancelAtPeriodEnd {
		return nil, apierr.Conflict("already_subscribed", "user already has an active subscription")
	}

	customerID, err := s.ensureCustomer(ctx, rd)
	if err != nil {
		return nil, err
	}
	sess, err := s.billing.CreateCheckoutSession(ctx, stripeclient.CheckoutRequest{
		UserID:     rd.UserID,
		CustomerID: customerID,
		PriceID:    plan.PriceID,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		TrialDays:  s.cfg.TrialDays,
	})
	if err != nil {
		return nil, billingErr(err)
	}
	s.log.Info("checkout session created", "user_id", rd.UserID, "plan", plan.ID, "session", sess.ID)
	return sess, nil
}

// ensureCustomer returns the profile's Stripe customer, creating and linking
// one on first checkout. A concurrent link wins over the customer created here.
func (s *subscriptionService) ensureCustomer(ctx context.Context, rd *ctxutil.RequestData) (string, error) {
	p, _, err := s.profiles.EnsureProfile(ctx, &types.Profile{
		UserID:      rd.UserID,
		Email:       rd.Email,
		Username:    rd.Username,
		DisplayName: rd.DisplayName,
	})
	if err != nil {
		return "", err
	}
	if p.StripeCustomerID != "" {
		return p.StripeCustomerID, nil
	}
	cus, err := s.billing.CreateCustomer(ctx, rd.UserID, rd.Email, rd.DisplayName)
	if err != nil {
		return "", billingErr(err)
	}
	err = s.profiles.LinkStripeCustomer(ctx, rd.UserID, cus)
	if errors.Is(err, userrepo.ErrCustomerConflict) {
		p, err = s.profiles.Get(ctx, rd.UserID, true)
		if err != nil {
			return "", err
		}
		return p.StripeCustomerID, nil
	}
	if err != nil {
		return "", err
	}
	return cus, nil
}

func (s *subscriptionService) CreatePortal(ctx context.Context) (string, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return "", err
	}
	p, err := s.profiles.Get(ctx, rd.UserID, false)
	if err != nil {
		return "", err
	}
	if p == nil || p.StripeCustomerID == "" {
		return "", apierr.Conflict("no_billing_account", "no billing account for user")
	}
	url, err := s.billing.CreatePortalSession(ctx, p.StripeCustomerID, s.cfg.PortalReturnURL)
	if err != nil {
		return "", billingErr(err)
	}
	return url, nil
}

// CancelAtPeriodEnd asks Stripe to stop renewal. The stored record changes only
// when the resulting webhook is synced.
func (s *subscriptionService) CancelAtPeriodEnd(ctx context.Context) (*types.Subscription, error) {
	return s.setCancel(ctx, true)
}

func (s *subscriptionService) Resume(ctx context.Context) (*types.Subscription, error) {
	return s.setCancel(ctx, false)
}

func (s *subscriptionService) setCancel(ctx context.Context, cancel bool) (*types.Subscription, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.GetByUser(ctx, rd.UserID, true)
	if err != nil {
		return nil, err
	}
	if sub == nil || !sub.Status.Entitled() {
		return nil, apierr.NotFound("no_active_subscription", "no active subscription")
	}
	if sub.CancelAtPeriodEnd == cancel {
		return sub, nil
	}
	if !cancel && sub.Status.Terminal() {
		return nil, apierr.Conflict("not_resumable", "subscription already ended")
	}
	if err := s.billing.SetCancelAtPeriodEnd(ctx, sub.SubscriptionID, cancel); err != nil {
		return nil, billingErr(err)
	}
	s.log.Info("subscription renewal changed", "user_id", rd.UserID, "cancel_at_period_end", cancel)
	out := *sub
	out.CancelAtPeriodEnd = cancel
	return &out, nil
}

func (s *subscriptionService) planByID(id string) *types.Plan {
	id = strings.TrimSpace(id)
	for i := range s.cfg.Plans {
		if s.cfg.Plans[i].ID == id {
			p := s.cfg.Plans[i]
			return &p
		}
	}
	return nil
}

func (s *subscriptionService) planByPrice(priceID string) *types.Plan {
	if priceID == "" {
		return nil
	}
	for i := range s.cfg.Plans {
		if s.cfg.Plans[i].PriceID == priceID {
			p := s.cfg.Plans[i]
			return &p
		}
	}
	return nil
}

func billingErr(err error) error {
	if errors.Is(err, stripeclient.ErrBreakerOpen) {
		return apierr.New(http.StatusServiceUnavailable, "billing_unavailable", err)
	}
	return apierr.New(http.StatusBadGateway, "billing_error", err)
}

// requireUser returns the authenticated caller or an unauthorized error.
func requireUser(ctx context.Context) (*ctxutil.RequestData, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == "" {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", apperrors.ErrUnauthorized)
	}
	return rd, nil
}
