package services

import (
	"context"
	"errors"
	"sync"
	"time"

	stripeclient "github.com/yungbote/questline-backend/internal/clients/stripe"
	subrepo "github.com/yungbote/questline-backend/internal/data/repos/subscription"
	userrepo "github.com/yungbote/questline-backend/internal/data/repos/user"
	types "github.com/yungbote/questline-backend/internal/domain"
	"github.com/yungbote/questline-backend/internal/platform/ctxutil"
)

func userCtx(userID string) context.Context {
	return ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{
		UserID:      userID,
		Email:       userID + "@example.com",
		DisplayName: "User " + userID,
	})
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*types.Profile
	links    int
}

func newFakeProfiles(ids ...string) *fakeProfiles {
	f := &fakeProfiles{profiles: map[string]*types.Profile{}}
	for _, id := range ids {
		f.profiles[id] = &types.Profile{UserID: id, Tier: "free", Version: 1}
	}
	return f
}

func (f *fakeProfiles) EnsureProfile(_ context.Context, p *types.Profile) (*types.Profile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.profiles[p.UserID]; ok {
		cp := *cur
		return &cp, false, nil
	}
	cp := *p
	if cp.Tier == "" {
		cp.Tier = "free"
	}
	cp.Version = 1
	f.profiles[p.UserID] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeProfiles) Get(_ context.Context, userID string, _ bool) (*types.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeProfiles) GetByStripeCustomer(_ context.Context, customerID string) (*types.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if customerID != "" && p.StripeCustomerID == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) LinkStripeCustomer(_ context.Context, userID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return subrepo.ErrProfileMissing
	}
	if p.StripeCustomerID != "" && p.StripeCustomerID != customerID {
		return userrepo.ErrCustomerConflict
	}
	p.StripeCustomerID = customerID
	f.links++
	return nil
}

func (f *fakeProfiles) TierOf(ctx context.Context, userID string) (types.Tier, error) {
	p, err := f.Get(ctx, userID, false)
	if err != nil {
		return "", err
	}
	return p.EffectiveTier(), nil
}

func (f *fakeProfiles) setTier(userID string, tier types.Tier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[userID]; ok {
		p.Tier = tier
		return
	}
	f.profiles[userID] = &types.Profile{UserID: userID, Tier: tier, Version: 1}
}

// fakeSubs applies the same conditions as the real transaction. transactErrs
// are returned (and consumed) before any condition is evaluated.
type fakeSubs struct {
	mu           sync.Mutex
	profiles     *fakeProfiles
	subs         map[string]*types.Subscription
	markers      map[string]*types.SubscriptionEventMarker
	transactErrs []error
	putSubErr    error
	profileErr   error

	transacts      int
	deletedMarkers []string
}

func newFakeSubs(profiles *fakeProfiles) *fakeSubs {
	return &fakeSubs{
		profiles: profiles,
		subs:     map[string]*types.Subscription{},
		markers:  map[string]*types.SubscriptionEventMarker{},
	}
}

func (f *fakeSubs) GetByUser(_ context.Context, userID string, _ bool) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSubs) GetBySubscriptionID(_ context.Context, subscriptionID string) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.SubscriptionID == subscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSubs) GetMarker(_ context.Context, eventID string) (*types.SubscriptionEventMarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.markers[eventID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSubs) TransactSync(_ context.Context, w subrepo.SyncWrite) error {
	f.mu.Lock()
	f.transacts++
	if len(f.transactErrs) > 0 {
		err := f.transactErrs[0]
		f.transactErrs = f.transactErrs[1:]
		f.mu.Unlock()
		return err
	}
	if _, ok := f.markers[w.Marker.EventID]; ok {
		f.mu.Unlock()
		return subrepo.ErrDuplicateEvent
	}
	if v := f.versionLocked(w.Next.UserID); v != w.ExpectedVersion {
		f.mu.Unlock()
		return subrepo.ErrVersionConflict
	}
	f.mu.Unlock()

	f.profiles.mu.Lock()
	_, ok := f.profiles.profiles[w.Profile.UserID]
	f.profiles.mu.Unlock()
	if !ok {
		return subrepo.ErrProfileMissing
	}

	f.mu.Lock()
	m := *w.Marker
	f.markers[m.EventID] = &m
	next := *w.Next
	f.subs[next.UserID] = &next
	f.mu.Unlock()
	f.applyTier(w.Profile)
	return nil
}

func (f *fakeSubs) versionLocked(userID string) int64 {
	if s, ok := f.subs[userID]; ok {
		return s.Version
	}
	return 0
}

func (f *fakeSubs) applyTier(pt subrepo.ProfileTier) {
	f.profiles.mu.Lock()
	defer f.profiles.mu.Unlock()
	p := f.profiles.profiles[pt.UserID]
	p.Tier = pt.Tier
	p.SubscriptionStatus = pt.Status
	if pt.CustomerID != "" {
		p.StripeCustomerID = pt.CustomerID
	}
	at := pt.At
	p.TierUpdatedAt = &at
}

func (f *fakeSubs) PutMarker(_ context.Context, m *types.SubscriptionEventMarker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markers[m.EventID]; ok {
		return subrepo.ErrDuplicateEvent
	}
	cp := *m
	f.markers[m.EventID] = &cp
	return nil
}

func (f *fakeSubs) FinalizeMarker(_ context.Context, eventID, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.markers[eventID]; ok {
		m.Outcome = outcome
	}
	return nil
}

func (f *fakeSubs) DeleteMarker(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.markers, eventID)
	f.deletedMarkers = append(f.deletedMarkers, eventID)
	return nil
}

func (f *fakeSubs) PutSubscription(_ context.Context, next *types.Subscription, expected int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putSubErr != nil {
		return f.putSubErr
	}
	if f.versionLocked(next.UserID) != expected {
		return subrepo.ErrVersionConflict
	}
	cp := *next
	f.subs[next.UserID] = &cp
	return nil
}

func (f *fakeSubs) UpdateProfileTier(_ context.Context, pt subrepo.ProfileTier) error {
	if f.profileErr != nil {
		return f.profileErr
	}
	f.profiles.mu.Lock()
	_, ok := f.profiles.profiles[pt.UserID]
	f.profiles.mu.Unlock()
	if !ok {
		return subrepo.ErrProfileMissing
	}
	f.applyTier(pt)
	return nil
}

type fakeBilling struct {
	mu        sync.Mutex
	err       error
	customers int
	checkouts []stripeclient.CheckoutRequest
	cancels   map[string]bool
	event     *stripeclient.WebhookEvent
}

func (f *fakeBilling) CreateCustomer(_ context.Context, userID, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.customers++
	return "cus_" + userID, nil
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, req stripeclient.CheckoutRequest) (*stripeclient.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.checkouts = append(f.checkouts, req)
	return &stripeclient.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://billing.example/" + customerID, nil
}

func (f *fakeBilling) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.cancels == nil {
		f.cancels = map[string]bool{}
	}
	f.cancels[subscriptionID] = cancel
	return nil
}

func (f *fakeBilling) ParseWebhook(_ []byte, signature string) (*stripeclient.WebhookEvent, error) {
	if signature != "valid" {
		return nil, errBadSignature
	}
	return f.event, nil
}

var errBadSignature = errors.New("bad signature")

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
