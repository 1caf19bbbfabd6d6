package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	types "github.com/yungbote/questline-backend/internal/domain"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

var (
	ErrDuplicateEvent  = errors.New("stripe event already processed")
	ErrVersionConflict = errors.New("subscription record changed concurrently")
	ErrProfileMissing  = errors.New("user profile missing")
)

// Transaction item positions; cancellation reasons are reported in this order.
const (
	idxMarker = iota
	idxSubscription
	idxProfile
)

// MarkerTTL bounds how long processed event ids are remembered.
const MarkerTTL = 30 * 24 * time.Hour

// ProfileTier is the slice of the profile the subscription service owns.
type ProfileTier struct {
	UserID     string
	Tier       types.Tier
	Status     types.SubscriptionStatus
	CustomerID string
	At         time.Time
}

// SyncWrite is one atomic reconciliation of a provider event.
type SyncWrite struct {
	Marker          *types.SubscriptionEventMarker
	Next            *types.Subscription
	ExpectedVersion int64
	Profile         ProfileTier
}

type SubscriptionRepo interface {
	GetByUser(ctx context.Context, userID string, consistent bool) (*types.Subscription, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Subscription, error)
	GetMarker(ctx context.Context, eventID string) (*types.SubscriptionEventMarker, error)

	// TransactSync writes marker, subscription and profile tier in one transaction.
	// Condition failures map to ErrDuplicateEvent, ErrVersionConflict and
	// ErrProfileMissing; everything else is returned unclassified.
	TransactSync(ctx context.Context, w SyncWrite) error

	PutMarker(ctx context.Context, m *types.SubscriptionEventMarker) error
	FinalizeMarker(ctx context.Context, eventID, outcome string) error
	DeleteMarker(ctx context.Context, eventID string) error
	PutSubscription(ctx context.Context, next *types.Subscription, expectedVersion int64) error
	UpdateProfileTier(ctx context.Context, pt ProfileTier) error
}

type subscriptionRepo struct {
	db  *dynamo.DB
	log *logger.Logger
}

func NewSubscriptionRepo(db *dynamo.DB, baseLog *logger.Logger) SubscriptionRepo {
	repoLog := baseLog.With("repo", "SubscriptionRepo")
	return &subscriptionRepo{db: db, log: repoLog}
}

// NewMarker stamps a marker for eventID with the standard TTL.
func NewMarker(eventID, eventType, userID, outcome string, at time.Time) *types.SubscriptionEventMarker {
	return &types.SubscriptionEventMarker{
		PK:          dynamo.StripeEventPK(eventID),
		SK:          dynamo.SKStripeEvent,
		EventID:     eventID,
		EventType:   eventType,
		UserID:      userID,
		Outcome:     outcome,
		ProcessedAt: at,
		ExpiresAt:   at.Add(MarkerTTL).Unix(),
	}
}

func (r *subscriptionRepo) GetByUser(ctx context.Context, userID string, consistent bool) (*types.Subscription, error) {
	var s types.Subscription
	ok, err := r.db.Get(ctx, dynamo.UserPK(userID), dynamo.SKSubscription, consistent, &s)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *subscriptionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Subscription, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	kc := expression.Key(dynamo.AttrGSI1PK).Equal(expression.Value(dynamo.StripeSubscriptionPK(subscriptionID)))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, err
	}
	items, _, err := r.db.QueryPage(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(dynamo.IndexGSI1),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query subscription by id: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	var s types.Subscription
	if err := attributevalue.UnmarshalMap(items[0], &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepo) GetMarker(ctx context.Context, eventID string) (*types.SubscriptionEventMarker, error) {
	var m types.SubscriptionEventMarker
	ok, err := r.db.Get(ctx, dynamo.StripeEventPK(eventID), dynamo.SKStripeEvent, true, &m)
	if err != nil {
		return nil, fmt.Errorf("get event marker: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *subscriptionRepo) TransactSync(ctx context.Context, w SyncWrite) error {
	if w.Marker == nil || w.Next == nil {
		return fmt.Errorf("transact sync: marker and subscription required")
	}
	items := make([]ddbtypes.TransactWriteItem, 3)
	var err error
	if items[idxMarker], err = dynamo.TxPut(r.db.Table, w.Marker, dynamo.NotExists()); err != nil {
		return err
	}
	if items[idxSubscription], err = dynamo.TxPut(r.db.Table, w.Next, dynamo.VersionIs(w.ExpectedVersion)); err != nil {
		return err
	}
	upd, cond := profileTierUpdate(w.Profile)
	if items[idxProfile], err = dynamo.TxUpdate(r.db.Table, dynamo.UserPK(w.Profile.UserID), dynamo.SKProfile, upd, cond); err != nil {
		return err
	}

	err = r.db.Transact(ctx, items, "")
	if err == nil {
		return nil
	}
	reasons, ok := dynamo.CancellationReasons(err)
	if !ok {
		return err
	}
	switch {
	case dynamo.ReasonAt(reasons, idxMarker) == dynamo.ReasonConditionalCheckFailed:
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, w.Marker.EventID)
	case dynamo.ReasonAt(reasons, idxSubscription) == dynamo.ReasonConditionalCheckFailed:
		return fmt.Errorf("%w: expected version %d", ErrVersionConflict, w.ExpectedVersion)
	case dynamo.ReasonAt(reasons, idxProfile) == dynamo.ReasonConditionalCheckFailed:
		return fmt.Errorf("%w: %s", ErrProfileMissing, w.Profile.UserID)
	}
	r.log.Debug("sync transaction cancelled", "event_id", w.Marker.EventID, "reasons", reasons)
	return err
}

func profileTierUpdate(pt ProfileTier) (expression.UpdateBuilder, *expression.ConditionBuilder) {
	upd := expression.
		Set(expression.Name("tier"), expression.Value(pt.Tier)).
		Set(expression.Name("subscriptionStatus"), expression.Value(pt.Status)).
		Set(expression.Name("tierUpdatedAt"), expression.Value(pt.At)).
		Set(expression.Name("updatedAt"), expression.Value(pt.At)).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	if pt.CustomerID != "" {
		upd = upd.
			Set(expression.Name("stripeCustomerId"), expression.Value(pt.CustomerID)).
			Set(expression.Name(dynamo.AttrGSI1PK), expression.Value(dynamo.StripeCustomerPK(pt.CustomerID))).
			Set(expression.Name(dynamo.AttrGSI1SK), expression.Value(dynamo.SKProfile))
	}
	return upd, dynamo.Exists()
}

func (r *subscriptionRepo) PutMarker(ctx context.Context, m *types.SubscriptionEventMarker) error {
	err := r.db.Put(ctx, m, dynamo.NotExists())
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, m.EventID)
	}
	return err
}

func (r *subscriptionRepo) FinalizeMarker(ctx context.Context, eventID, outcome string) error {
	upd := expression.
		Set(expression.Name("outcome"), expression.Value(outcome)).
		Set(expression.Name("processedAt"), expression.Value(time.Now().UTC()))
	return r.db.Update(ctx, dynamo.StripeEventPK(eventID), dynamo.SKStripeEvent, upd, dynamo.Exists(), nil)
}

func (r *subscriptionRepo) DeleteMarker(ctx context.Context, eventID string) error {
	return r.db.Delete(ctx, dynamo.StripeEventPK(eventID), dynamo.SKStripeEvent, nil)
}

func (r *subscriptionRepo) PutSubscription(ctx context.Context, next *types.Subscription, expectedVersion int64) error {
	err := r.db.Put(ctx, next, dynamo.VersionIs(expectedVersion))
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("%w: expected version %d", ErrVersionConflict, expectedVersion)
	}
	return err
}

func (r *subscriptionRepo) UpdateProfileTier(ctx context.Context, pt ProfileTier) error {
	upd, cond := profileTierUpdate(pt)
	err := r.db.Update(ctx, dynamo.UserPK(pt.UserID), dynamo.SKProfile, upd, cond, nil)
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("%w: %s", ErrProfileMissing, pt.UserID)
	}
	return err
}
