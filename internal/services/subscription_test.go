package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	stripeclient "github.com/yungbote/questline-backend/internal/clients/stripe"
	subrepo "github.com/yungbote/questline-backend/internal/data/repos/subscription"
	types "github.com/yungbote/questline-backend/internal/domain"
	subdomain "github.com/yungbote/questline-backend/internal/domain/subscription"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type subFixture struct {
	svc      *subscriptionService
	subs     *fakeSubs
	profiles *fakeProfiles
	billing  *fakeBilling
}

func newSubFixture(t *testing.T, profileIDs ...string) *subFixture {
	t.Helper()
	profiles := newFakeProfiles(profileIDs...)
	subs := newFakeSubs(profiles)
	billing := &fakeBilling{}
	plans := []types.Plan{
		{ID: "premium-monthly", Tier: subdomain.TierPremium, PriceID: "price_premium_monthly"},
		{ID: "pro-monthly", Tier: subdomain.TierPro, PriceID: "price_pro_monthly"},
	}
	svc := NewSubscriptionService(logger.Nop(), subs, profiles, billing, SubscriptionConfig{
		Plans: plans,
		PriceTiers: map[string]types.Tier{
			"price_premium_monthly": subdomain.TierPremium,
			"price_pro_monthly":     subdomain.TierPro,
		},
	}).(*subscriptionService)
	svc.retrier = svc.retrier.WithSleep(func(context.Context, time.Duration) error { return nil })
	svc.now = func() time.Time { return testNow }
	return &subFixture{svc: svc, subs: subs, profiles: profiles, billing: billing}
}

func event(id string, created int64, status types.SubscriptionStatus) types.SubscriptionEvent {
	return types.SubscriptionEvent{
		ID:             id,
		Type:           stripeclient.EventSubscriptionUpdated,
		Created:        created,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		UserID:         "u1",
		PriceID:        "price_pro_monthly",
		Status:         status,
	}
}

func TestSyncSubscriptionAppliesNewSubscription(t *testing.T) {
	f := newSubFixture(t, "u1")
	res, err := f.svc.SyncSubscription(context.Background(), event("evt_1", 100, subdomain.StatusActive))
	if err != nil {
		t.Fatalf("SyncSubscription: %v", err)
	}
	if res.Outcome != subdomain.SyncApplied || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.PreviousTier != subdomain.TierFree || res.NewTier != subdomain.TierPro {
		t.Fatalf("unexpected tiers: %+v", res)
	}
	sub := f.subs.subs["u1"]
	if sub.Version != 1 || sub.Status != subdomain.StatusActive || sub.LastEventID != "evt_1" {
		t.Fatalf("unexpected record: %+v", sub)
	}
	p := f.profiles.profiles["u1"]
	if p.Tier != subdomain.TierPro || p.SubscriptionStatus != subdomain.StatusActive || p.StripeCustomerID != "cus_1" {
		t.Fatalf("profile not updated: %+v", p)
	}
	if m := f.subs.markers["evt_1"]; m == nil || m.Outcome != string(subdomain.SyncApplied) {
		t.Fatalf("marker missing: %+v", m)
	}
}

func TestSyncSubscriptionDuplicateEvent(t *testing.T) {
	f := newSubFixture(t, "u1")
	ev := event("evt_1", 100, subdomain.StatusActive)
	if _, err := f.svc.SyncSubscription(context.Background(), ev); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := f.svc.SyncSubscription(context.Background(), ev)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Outcome != subdomain.SyncDuplicate {
		t.Fatalf("expected duplicate, got %s", res.Outcome)
	}
	if f.subs.subs["u1"].Version != 1 {
		t.Fatalf("replay must not bump version")
	}
}

func TestSyncSubscriptionStaleEvent(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := context.Background()
	if _, err := f.svc.SyncSubscription(ctx, event("evt_2", 200, subdomain.StatusPastDue)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	res, err := f.svc.SyncSubscription(ctx, event("evt_1", 100, subdomain.StatusActive))
	if err != nil {
		t.Fatalf("stale sync: %v", err)
	}
	if res.Outcome != subdomain.SyncStale {
		t.Fatalf("expected stale, got %s", res.Outcome)
	}
	if f.subs.subs["u1"].Status != subdomain.StatusPastDue {
		t.Fatalf("stale event overwrote record")
	}
	if m := f.subs.markers["evt_1"]; m == nil || m.Outcome != string(subdomain.SyncStale) {
		t.Fatalf("stale marker not recorded: %+v", m)
	}
}

func TestSyncSubscriptionRejectsInvalidTransition(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := context.Background()
	if _, err := f.svc.SyncSubscription(ctx, event("evt_1", 100, subdomain.StatusCanceled)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	res, err := f.svc.SyncSubscription(ctx, event("evt_2", 200, subdomain.StatusActive))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != subdomain.SyncRejected {
		t.Fatalf("expected rejected, got %s", res.Outcome)
	}
	if f.profiles.profiles["u1"].Tier != subdomain.TierFree {
		t.Fatalf("rejected transition changed tier")
	}
}

func TestSyncSubscriptionNewLifecycleReplacesCanceled(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := context.Background()
	if _, err := f.svc.SyncSubscription(ctx, event("evt_1", 100, subdomain.StatusCanceled)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	ev := event("evt_2", 200, subdomain.StatusActive)
	ev.SubscriptionID = "sub_2"
	res, err := f.svc.SyncSubscription(ctx, ev)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != subdomain.SyncApplied {
		t.Fatalf("expected applied, got %s", res.Outcome)
	}
	if sub := f.subs.subs["u1"]; sub.SubscriptionID != "sub_2" || sub.Version != 2 {
		t.Fatalf("unexpected record: %+v", sub)
	}
}

func TestSyncSubscriptionIgnoresSupersededCancellation(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := context.Background()
	live := event("evt_1", 100, subdomain.StatusActive)
	live.SubscriptionID = "sub_2"
	if _, err := f.svc.SyncSubscription(ctx, live); err != nil {
		t.Fatalf("sync: %v", err)
	}
	res, err := f.svc.SyncSubscription(ctx, event("evt_2", 200, subdomain.StatusCanceled))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != subdomain.SyncStale {
		t.Fatalf("expected stale, got %s", res.Outcome)
	}
	if f.profiles.profiles["u1"].Tier != subdomain.TierPro {
		t.Fatalf("old subscription downgraded the live one")
	}
}

func TestSyncSubscriptionOlderSubscriptionCannotReplaceLiveOne(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := context.Background()
	oldSub := func(id string, created int64, status types.SubscriptionStatus) types.SubscriptionEvent {
		ev := event(id, created, status)
		ev.SubscriptionCreated = 50
		return ev
	}

	winding := oldSub("evt_1", 100, subdomain.StatusActive)
	winding.CancelAtPeriodEnd = true
	live := event("evt_2", 200, subdomain.StatusActive)
	live.SubscriptionID, live.SubscriptionCreated = "sub_2", 150
	for _, ev := range []types.SubscriptionEvent{winding, live} {
		if res, err := f.svc.SyncSubscription(ctx, ev); err != nil || res.Outcome != subdomain.SyncApplied {
			t.Fatalf("%s: outcome=%s err=%v", ev.ID, res.Outcome, err)
		}
	}

	for _, ev := range []types.SubscriptionEvent{
		oldSub("evt_3", 210, subdomain.StatusActive),
		oldSub("evt_4", 300, subdomain.StatusCanceled),
	} {
		res, err := f.svc.SyncSubscription(ctx, ev)
		if err != nil {
			t.Fatalf("%s: %v", ev.ID, err)
		}
		if res.Outcome != subdomain.SyncStale {
			t.Fatalf("%s: expected stale, got %s", ev.ID, res.Outcome)
		}
	}
	sub := f.subs.subs["u1"]
	if sub.SubscriptionID != "sub_2" || sub.Status != subdomain.StatusActive {
		t.Fatalf("live subscription replaced: %+v", sub)
	}
	if f.profiles.profiles["u1"].Tier != subdomain.TierPro {
		t.Fatalf("paying user downgraded to %s", f.profiles.profiles["u1"].Tier)
	}

	// A subscription created after the live one does take over.
	upgrade := event("evt_5", 400, subdomain.StatusActive)
	upgrade.SubscriptionID, upgrade.SubscriptionCreated, upgrade.PriceID = "sub_3", 350, "price_premium_monthly"
	if res, err := f.svc.SyncSubscription(ctx, upgrade); err != nil || res.Outcome != subdomain.SyncApplied {
		t.Fatalf("newer subscription: outcome=%s err=%v", res.Outcome, err)
	}
	if f.subs.subs["u1"].SubscriptionID != "sub_3" || f.subs.subs["u1"].SubscriptionCreated != 350 {
		t.Fatalf("newer subscription not applied: %+v", f.subs.subs["u1"])
	}
}

func TestSyncSubscriptionRetriesOnContention(t *testing.T) {
	f := newSubFixture(t, "u1")
	f.subs.transactErrs = []error{subrepo.ErrVersionConflict, subrepo.ErrVersionConflict}
	res, err := f.svc.SyncSubscription(context.Background(), event("evt_1", 100, subdomain.StatusActive))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != subdomain.SyncApplied || res.Attempts != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSyncSubscriptionFallbacks(t *testing.T) {
	exhausted := make([]error, 5)
	for i := range exhausted {
		exhausted[i] = subrepo.ErrVersionConflict
	}
	cases := []struct {
		name      string
		profiles  []string
		errs      []error
		putSubErr error
		want      subdomain.SyncOutcome
		wantTier  types.Tier
	}{
		{name: "profile missing", profiles: nil, want: subdomain.SyncAppliedFallback, wantTier: subdomain.TierPro},
		{name: "transactions unsupported", profiles: []string{"u1"}, errs: []error{&smithy.GenericAPIError{Code: "UnknownOperationException"}},
			want: subdomain.SyncAppliedFallback, wantTier: subdomain.TierPro},
		{name: "retries exhausted", profiles: []string{"u1"}, errs: exhausted, want: subdomain.SyncAppliedFallback, wantTier: subdomain.TierPro},
		{name: "subscription version conflict", profiles: []string{"u1"}, errs: []error{subrepo.ErrProfileMissing},
			putSubErr: subrepo.ErrVersionConflict, want: subdomain.SyncStale, wantTier: subdomain.TierFree},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSubFixture(t, tc.profiles...)
			f.subs.transactErrs = tc.errs
			f.subs.putSubErr = tc.putSubErr
			res, err := f.svc.SyncSubscription(context.Background(), event("evt_1", 100, subdomain.StatusActive))
			if err != nil {
				t.Fatalf("sync: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("outcome=%s, want %s (%+v)", res.Outcome, tc.want, res)
			}
			if m := f.subs.markers["evt_1"]; m == nil || m.Outcome != string(tc.want) {
				t.Fatalf("marker not finalized as %s: %+v", tc.want, m)
			}
			if p := f.profiles.profiles["u1"]; p == nil || p.Tier != tc.wantTier {
				t.Fatalf("profile tier=%+v, want %s", p, tc.wantTier)
			}
			if tc.putSubErr != nil {
				if _, ok := f.subs.subs["u1"]; ok {
					t.Fatalf("conflicting write must not land")
				}
				return
			}
			if f.subs.subs["u1"].Version != 1 {
				t.Fatalf("unexpected version %d", f.subs.subs["u1"].Version)
			}
		})
	}
}

func TestSyncSubscriptionFallbackReleasesMarkerOnFailure(t *testing.T) {
	f := newSubFixture(t, "u1")
	f.subs.transactErrs = []error{subrepo.ErrProfileMissing}
	f.subs.profileErr = errors.New("dynamo down")
	_, err := f.svc.SyncSubscription(context.Background(), event("evt_1", 100, subdomain.StatusActive))
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := f.subs.markers["evt_1"]; ok {
		t.Fatalf("marker should be released for redelivery")
	}
	if len(f.subs.deletedMarkers) != 1 {
		t.Fatalf("expected one marker delete, got %v", f.subs.deletedMarkers)
	}
}

func TestSyncSubscriptionUnexpectedErrorIsReturned(t *testing.T) {
	f := newSubFixture(t, "u1")
	boom := errors.New("validation failed")
	f.subs.transactErrs = []error{boom}
	_, err := f.svc.SyncSubscription(context.Background(), event("evt_1", 100, subdomain.StatusActive))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if f.subs.transacts != 1 {
		t.Fatalf("unexpected retries: %d", f.subs.transacts)
	}
}

func TestSyncSubscriptionResolvesUser(t *testing.T) {
	f := newSubFixture(t, "u1")
	f.profiles.profiles["u1"].StripeCustomerID = "cus_1"

	ev := event("evt_1", 100, subdomain.StatusActive)
	ev.UserID = ""
	res, err := f.svc.SyncSubscription(context.Background(), ev)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UserID != "u1" || res.Outcome != subdomain.SyncApplied {
		t.Fatalf("customer lookup failed: %+v", res)
	}

	orphan := event("evt_2", 200, subdomain.StatusActive)
	orphan.UserID, orphan.CustomerID, orphan.SubscriptionID = "", "cus_unknown", "sub_unknown"
	res, err = f.svc.SyncSubscription(context.Background(), orphan)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != subdomain.SyncIgnored {
		t.Fatalf("expected ignored, got %s", res.Outcome)
	}
	if _, ok := f.subs.markers["evt_2"]; ok {
		t.Fatalf("ignored events must not be marked")
	}
}

func TestSyncSubscriptionRejectsMalformedEvent(t *testing.T) {
	f := newSubFixture(t, "u1")
	ev := event("evt_1", 100, subdomain.StatusActive)
	ev.SubscriptionID = ""
	_, err := f.svc.SyncSubscription(context.Background(), ev)
	if status, _ := apierr.From(err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", status, err)
	}
}

func TestSyncSubscriptionIgnoresUnknownStatus(t *testing.T) {
	f := newSubFixture(t, "u1")
	res, err := f.svc.SyncSubscription(context.Background(), event("evt_1", 100, "on_hold"))
	if err != nil {
		t.Fatalf("unknown status must be acknowledged: %v", err)
	}
	if res.Outcome != subdomain.SyncIgnored {
		t.Fatalf("expected ignored, got %s", res.Outcome)
	}
	if _, ok := f.subs.subs["u1"]; ok {
		t.Fatalf("unknown status must not be written")
	}
	if f.subs.transacts != 0 {
		t.Fatalf("unexpected transaction")
	}
}

func TestTierFor(t *testing.T) {
	f := newSubFixture(t)
	cases := []struct {
		status types.SubscriptionStatus
		price  string
		want   types.Tier
	}{
		{subdomain.StatusActive, "price_pro_monthly", subdomain.TierPro},
		{subdomain.StatusTrialing, "price_premium_monthly", subdomain.TierPremium},
		{subdomain.StatusPastDue, "price_unknown", subdomain.TierPremium},
		{subdomain.StatusCanceled, "price_pro_monthly", subdomain.TierFree},
		{subdomain.StatusUnpaid, "price_pro_monthly", subdomain.TierFree},
		{subdomain.StatusIncomplete, "price_pro_monthly", subdomain.TierFree},
	}
	for _, tc := range cases {
		if got := f.svc.TierFor(tc.status, tc.price); got != tc.want {
			t.Fatalf("TierFor(%s,%s)=%s, want %s", tc.status, tc.price, got, tc.want)
		}
	}
}

func TestHandleWebhook(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := context.Background()

	if _, err := f.svc.HandleWebhook(ctx, []byte("{}"), "forged"); err == nil {
		t.Fatalf("expected signature error")
	} else if status, code := apierr.From(err); status != http.StatusBadRequest || code != "invalid_webhook" {
		t.Fatalf("unexpected error mapping: %d %s", status, code)
	}

	f.billing.event = &stripeclient.WebhookEvent{
		ID:       "evt_c",
		Type:     stripeclient.EventCheckoutCompleted,
		Checkout: &stripeclient.CheckoutCompleted{UserID: "u1", CustomerID: "cus_9"},
	}
	res, err := f.svc.HandleWebhook(ctx, nil, "valid")
	if err != nil {
		t.Fatalf("checkout webhook: %v", err)
	}
	if res.Outcome != "linked" || f.profiles.profiles["u1"].StripeCustomerID != "cus_9" {
		t.Fatalf("customer not linked: %+v", res)
	}

	ev := event("evt_s", 100, subdomain.StatusTrialing)
	f.billing.event = &stripeclient.WebhookEvent{ID: ev.ID, Type: ev.Type, Subscription: &ev}
	res, err = f.svc.HandleWebhook(ctx, nil, "valid")
	if err != nil {
		t.Fatalf("subscription webhook: %v", err)
	}
	if res.Outcome != string(subdomain.SyncApplied) {
		t.Fatalf("unexpected outcome %s", res.Outcome)
	}

	f.billing.event = &stripeclient.WebhookEvent{ID: "evt_x", Type: "invoice.paid"}
	res, err = f.svc.HandleWebhook(ctx, nil, "valid")
	if err != nil || res.Outcome != string(subdomain.SyncIgnored) {
		t.Fatalf("unhandled type should be ignored: %+v %v", res, err)
	}
}

func TestCreateCheckout(t *testing.T) {
	f := newSubFixture(t)
	ctx := userCtx("u1")

	if _, err := f.svc.CreateCheckout(ctx, "gold"); err == nil {
		t.Fatalf("expected plan_not_found")
	}
	sess, err := f.svc.CreateCheckout(ctx, "pro-monthly")
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if sess.URL == "" || len(f.billing.checkouts) != 1 {
		t.Fatalf("checkout not created")
	}
	req := f.billing.checkouts[0]
	if req.CustomerID != "cus_u1" || req.PriceID != "price_pro_monthly" || req.UserID != "u1" {
		t.Fatalf("unexpected checkout request: %+v", req)
	}
	if f.profiles.profiles["u1"].StripeCustomerID != "cus_u1" {
		t.Fatalf("customer not linked")
	}

	if _, err := f.svc.CreateCheckout(ctx, "premium-monthly"); err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if f.billing.customers != 1 {
		t.Fatalf("customer created twice")
	}

	f.subs.subs["u1"] = &types.Subscription{UserID: "u1", SubscriptionID: "sub_1", Status: subdomain.StatusActive, Version: 1}
	_, err = f.svc.CreateCheckout(ctx, "pro-monthly")
	if status, code := apierr.From(err); status != http.StatusConflict || code != "already_subscribed" {
		t.Fatalf("expected already_subscribed, got %d %s", status, code)
	}
}

func TestCreateCheckoutRequiresAuth(t *testing.T) {
	f := newSubFixture(t)
	_, err := f.svc.CreateCheckout(context.Background(), "pro-monthly")
	if status, _ := apierr.From(err); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestCancelAndResume(t *testing.T) {
	f := newSubFixture(t, "u1")
	ctx := userCtx("u1")
	if _, err := f.svc.CancelAtPeriodEnd(ctx); err == nil {
		t.Fatalf("expected error without subscription")
	}

	f.subs.subs["u1"] = &types.Subscription{UserID: "u1", SubscriptionID: "sub_1", Status: subdomain.StatusActive, Version: 1}
	sub, err := f.svc.CancelAtPeriodEnd(ctx)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !sub.CancelAtPeriodEnd || !f.billing.cancels["sub_1"] {
		t.Fatalf("cancel not forwarded")
	}
	if f.subs.subs["u1"].CancelAtPeriodEnd {
		t.Fatalf("local record must wait for the webhook")
	}

	f.subs.subs["u1"].CancelAtPeriodEnd = true
	if _, err := f.svc.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if f.billing.cancels["sub_1"] {
		t.Fatalf("resume not forwarded")
	}
}

func TestBillingUnavailable(t *testing.T) {
	f := newSubFixture(t, "u1")
	f.profiles.profiles["u1"].StripeCustomerID = "cus_1"
	f.billing.err = fmt.Errorf("%w: open", stripeclient.ErrBreakerOpen)
	_, err := f.svc.CreatePortal(userCtx("u1"))
	if status, code := apierr.From(err); status != http.StatusServiceUnavailable || code != "billing_unavailable" {
		t.Fatalf("expected 503, got %d %s", status, code)
	}
}
