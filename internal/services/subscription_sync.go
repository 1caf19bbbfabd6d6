package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	subrepo "github.com/yungbote/questline-backend/internal/data/repos/subscription"
	types "github.com/yungbote/questline-backend/internal/domain"
	subdomain "github.com/yungbote/questline-backend/internal/domain/subscription"
	"github.com/yungbote/questline-backend/internal/observability"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
)

// fallbackSignal ends the transactional loop and hands over to the sequential path.
type fallbackSignal struct{ cause error }

func (f *fallbackSignal) Error() string { return "fallback: " + f.cause.Error() }
func (f *fallbackSignal) Unwrap() error { return f.cause }

// SyncSubscription reconciles one provider event with the subscription record
// and the profile tier. Replays of an event are reported as duplicates.
func (s *subscriptionService) SyncSubscription(ctx context.Context, ev types.SubscriptionEvent) (subdomain.SyncResult, error) {
	ctx, span := observability.Tracer("subscription").Start(ctx, "SyncSubscription", trace.WithAttributes(
		attribute.String("stripe.event_id", ev.ID),
		attribute.String("stripe.event_type", ev.Type),
	))
	defer span.End()

	res, err := s.syncSubscription(ctx, ev)
	span.SetAttributes(attribute.String("sync.outcome", string(res.Outcome)), attribute.Int("sync.attempts", res.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		s.log.Error("subscription sync failed", "event_id", ev.ID, "user_id", res.UserID, "error", err)
		return res, err
	}
	observability.RecordSync(string(res.Outcome), res.Attempts)
	s.log.Info("subscription synced",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"user_id", res.UserID,
		"outcome", res.Outcome,
		"attempts", res.Attempts,
		"from_status", res.PreviousStatus,
		"to_status", res.NewStatus,
		"from_tier", res.PreviousTier,
		"to_tier", res.NewTier,
	)
	return res, nil
}

func (s *subscriptionService) syncSubscription(ctx context.Context, ev types.SubscriptionEvent) (subdomain.SyncResult, error) {
	var res subdomain.SyncResult
	if ev.ID == "" || ev.SubscriptionID == "" {
		return res, apierr.BadRequest("invalid_event", "event id and subscription id required")
	}
	if !ev.Status.Valid() {
		s.log.Warn("subscription event has unknown status", "event_id", ev.ID, "status", ev.Status)
		res.Outcome = subdomain.SyncIgnored
		return res, nil
	}

	userID, err := s.resolveUser(ctx, ev)
	if err != nil {
		return res, err
	}
	if userID == "" {
		s.log.Warn("subscription event has no resolvable user", "event_id", ev.ID, "customer_id", ev.CustomerID)
		res.Outcome = subdomain.SyncIgnored
		return res, nil
	}
	res.UserID = userID

	attempts, err := s.retrier.Do(ctx, func(attempt int) error {
		now := s.now()
		current, err := s.subs.GetByUser(ctx, userID, true)
		if err != nil {
			if dynamo.IsRetryable(err) {
				return dynamo.Retry(err)
			}
			return err
		}
		res.PreviousStatus, res.PreviousTier = statusAndTier(current)
		if outcome := s.decide(current, ev); outcome != "" {
			res.Outcome = outcome
			return nil
		}

		next, expected := s.nextRecord(current, ev, userID, now)
		err = s.subs.TransactSync(ctx, subrepo.SyncWrite{
			Marker:          subrepo.NewMarker(ev.ID, ev.Type, userID, string(subdomain.SyncApplied), now),
			Next:            next,
			ExpectedVersion: expected,
			Profile:         profileTier(next, now),
		})
		switch {
		case err == nil:
			res.Outcome = subdomain.SyncApplied
			res.NewStatus, res.NewTier = next.Status, next.Tier
			return nil
		case errors.Is(err, subrepo.ErrDuplicateEvent):
			res.Outcome = subdomain.SyncDuplicate
			return nil
		case errors.Is(err, subrepo.ErrVersionConflict), dynamo.IsRetryable(err):
			s.log.Debug("subscription sync contention", "event_id", ev.ID, "attempt", attempt, "error", err)
			return dynamo.Retry(err)
		case errors.Is(err, subrepo.ErrProfileMissing), dynamo.IsTransactionUnsupported(err):
			return &fallbackSignal{cause: err}
		default:
			return err
		}
	})
	res.Attempts = attempts

	var fb *fallbackSignal
	switch {
	case err == nil:
	case errors.As(err, &fb):
		if err := s.syncFallback(ctx, ev, userID, &res, fb.cause); err != nil {
			return res, err
		}
	case errors.Is(err, dynamo.ErrRetriesExhausted):
		if err := s.syncFallback(ctx, ev, userID, &res, err); err != nil {
			return res, err
		}
	default:
		return res, fmt.Errorf("sync subscription %s: %w", ev.SubscriptionID, err)
	}

	if res.Outcome == subdomain.SyncStale || res.Outcome == subdomain.SyncRejected {
		s.recordSkipped(ctx, ev, userID, res.Outcome)
	}
	return res, nil
}

// decide returns a terminal outcome when ev must not be applied on top of
// current, or "" when it should be written.
func (s *subscriptionService) decide(current *types.Subscription, ev types.SubscriptionEvent) subdomain.SyncOutcome {
	if current == nil {
		return ""
	}
	if ev.Created < current.LastEventCreated {
		return subdomain.SyncStale
	}
	if current.SubscriptionID != ev.SubscriptionID {
		if current.Status.Entitled() && !supersedes(ev, current) {
			return subdomain.SyncStale
		}
		return ""
	}
	if !subdomain.CanTransition(current.Status, ev.Status) {
		return subdomain.SyncRejected
	}
	return ""
}

// supersedes reports whether ev's subscription may replace the entitled one in
// current: only a subscription created later may. Without creation times only
// an entitled event may.
func supersedes(ev types.SubscriptionEvent, current *types.Subscription) bool {
	if ev.SubscriptionCreated > 0 && current.SubscriptionCreated > 0 {
		return ev.SubscriptionCreated > current.SubscriptionCreated
	}
	return ev.Status.Entitled()
}

func (s *subscriptionService) nextRecord(current *types.Subscription, ev types.SubscriptionEvent, userID string, now time.Time) (*types.Subscription, int64) {
	next := &types.Subscription{
		PK:                dynamo.UserPK(userID),
		SK:                dynamo.SKSubscription,
		GSI1PK:            dynamo.StripeSubscriptionPK(ev.SubscriptionID),
		GSI1SK:            dynamo.SKSubscription,
		UserID:            userID,
		SubscriptionID:      ev.SubscriptionID,
		SubscriptionCreated: ev.SubscriptionCreated,
		CustomerID:          ev.CustomerID,
		PriceID:             ev.PriceID,
		Status:              ev.Status,
		Tier:                s.TierFor(ev.Status, ev.PriceID),
		CancelAtPeriodEnd:   ev.CancelAtPeriodEnd,
		CurrentPeriodEnd:    ev.CurrentPeriodEnd,
		TrialEnd:            ev.TrialEnd,
		CanceledAt:          ev.CanceledAt,
		LastEventID:         ev.ID,
		LastEventCreated:    ev.Created,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	var expected int64
	if current != nil {
		expected = current.Version
		if current.SubscriptionID == ev.SubscriptionID {
			next.CreatedAt = current.CreatedAt
			if next.CustomerID == "" {
				next.CustomerID = current.CustomerID
			}
			if next.SubscriptionCreated == 0 {
				next.SubscriptionCreated = current.SubscriptionCreated
			}
			if next.PriceID == "" {
				next.PriceID = current.PriceID
				next.Tier = s.TierFor(ev.Status, current.PriceID)
			}
		}
	}
	next.Version = expected + 1
	return next, expected
}

func profileTier(next *types.Subscription, now time.Time) subrepo.ProfileTier {
	return subrepo.ProfileTier{
		UserID:     next.UserID,
		Tier:       next.Tier,
		Status:     next.Status,
		CustomerID: next.CustomerID,
		At:         now,
	}
}

func statusAndTier(cur *types.Subscription) (subdomain.Status, subdomain.Tier) {
	if cur == nil {
		return "", subdomain.TierFree
	}
	return cur.Status, cur.Tier
}

// syncFallback applies the event with sequential conditional writes. The
// pending marker claims the event first; any unexpected failure afterwards
// removes it so the provider's redelivery can run the event again.
func (s *subscriptionService) syncFallback(ctx context.Context, ev types.SubscriptionEvent, userID string, res *subdomain.SyncResult, cause error) error {
	s.log.Warn("subscription sync using sequential fallback", "event_id", ev.ID, "user_id", userID, "cause", cause)
	now := s.now()
	marker := subrepo.NewMarker(ev.ID, ev.Type, userID, subdomain.MarkerPending, now)
	if err := s.subs.PutMarker(ctx, marker); err != nil {
		if errors.Is(err, subrepo.ErrDuplicateEvent) {
			res.Outcome = subdomain.SyncDuplicate
			return nil
		}
		return fmt.Errorf("fallback marker: %w", err)
	}

	outcome, err := s.fallbackApply(ctx, ev, userID, res, now)
	if err != nil {
		if delErr := s.subs.DeleteMarker(ctx, ev.ID); delErr != nil {
			s.log.Error("failed to release event marker", "event_id", ev.ID, "error", delErr)
		}
		return fmt.Errorf("fallback sync %s: %w", ev.SubscriptionID, err)
	}
	res.Outcome = outcome
	if err := s.subs.FinalizeMarker(ctx, ev.ID, string(outcome)); err != nil {
		s.log.Warn("failed to finalize event marker", "event_id", ev.ID, "outcome", outcome, "error", err)
	}
	return nil
}

func (s *subscriptionService) fallbackApply(ctx context.Context, ev types.SubscriptionEvent, userID string, res *subdomain.SyncResult, now time.Time) (subdomain.SyncOutcome, error) {
	current, err := s.subs.GetByUser(ctx, userID, true)
	if err != nil {
		return "", err
	}
	res.PreviousStatus, res.PreviousTier = statusAndTier(current)
	if outcome := s.decide(current, ev); outcome != "" {
		return outcome, nil
	}
	next, expected := s.nextRecord(current, ev, userID, now)
	if err := s.subs.PutSubscription(ctx, next, expected); err != nil {
		if errors.Is(err, subrepo.ErrVersionConflict) {
			s.log.Warn("fallback lost subscription race", "event_id", ev.ID, "user_id", userID)
			return subdomain.SyncStale, nil
		}
		return "", err
	}
	res.NewStatus, res.NewTier = next.Status, next.Tier

	pt := profileTier(next, now)
	err = s.subs.UpdateProfileTier(ctx, pt)
	if errors.Is(err, subrepo.ErrProfileMissing) {
		s.log.Warn("profile missing during subscription sync; seeding it", "user_id", userID)
		err = s.seedProfile(ctx, pt)
	}
	if err != nil {
		return "", err
	}
	return subdomain.SyncAppliedFallback, nil
}

// seedProfile creates a bare profile carrying the synced tier. A concurrent
// creation wins and gets the tier applied on top.
func (s *subscriptionService) seedProfile(ctx context.Context, pt subrepo.ProfileTier) error {
	at := pt.At
	seed := &types.Profile{
		UserID:             pt.UserID,
		Tier:               pt.Tier,
		SubscriptionStatus: pt.Status,
		StripeCustomerID:   pt.CustomerID,
		TierUpdatedAt:      &at,
	}
	if pt.CustomerID != "" {
		seed.GSI1PK = dynamo.StripeCustomerPK(pt.CustomerID)
		seed.GSI1SK = dynamo.SKProfile
	}
	_, created, err := s.profiles.EnsureProfile(ctx, seed)
	if err != nil || created {
		return err
	}
	return s.subs.UpdateProfileTier(ctx, pt)
}

// recordSkipped stores the marker for events that were deliberately not
// applied so redeliveries short-circuit. Failures only cost a re-evaluation.
func (s *subscriptionService) recordSkipped(ctx context.Context, ev types.SubscriptionEvent, userID string, outcome subdomain.SyncOutcome) {
	marker := subrepo.NewMarker(ev.ID, ev.Type, userID, string(outcome), s.now())
	if err := s.subs.PutMarker(ctx, marker); err != nil && !errors.Is(err, subrepo.ErrDuplicateEvent) {
		s.log.Warn("failed to record skipped event", "event_id", ev.ID, "outcome", outcome, "error", err)
	}
}

func (s *subscriptionService) resolveUser(ctx context.Context, ev types.SubscriptionEvent) (string, error) {
	if ev.UserID != "" {
		return ev.UserID, nil
	}
	if sub, err := s.subs.GetBySubscriptionID(ctx, ev.SubscriptionID); err != nil {
		return "", err
	} else if sub != nil {
		return sub.UserID, nil
	}
	p, err := s.profiles.GetByStripeCustomer(ctx, ev.CustomerID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	return p.UserID, nil
}
