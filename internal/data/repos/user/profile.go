package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	types "github.com/yungbote/questline-backend/internal/domain"
	"github.com/yungbote/questline-backend/internal/domain/subscription"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

// ErrCustomerConflict is returned when a profile is already linked to a
// different Stripe customer.
var ErrCustomerConflict = errors.New("profile linked to another stripe customer")

type ProfileRepo interface {
	// EnsureProfile creates the profile if it does not exist yet and returns the stored record.
	EnsureProfile(ctx context.Context, p *types.Profile) (*types.Profile, bool, error)
	Get(ctx context.Context, userID string, consistent bool) (*types.Profile, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*types.Profile, error)
	LinkStripeCustomer(ctx context.Context, userID, customerID string) error
	TierOf(ctx context.Context, userID string) (types.Tier, error)
}

type profileRepo struct {
	db  *dynamo.DB
	log *logger.Logger
}

func NewProfileRepo(db *dynamo.DB, baseLog *logger.Logger) ProfileRepo {
	repoLog := baseLog.With("repo", "ProfileRepo")
	return &profileRepo{db: db, log: repoLog}
}

func (r *profileRepo) EnsureProfile(ctx context.Context, p *types.Profile) (*types.Profile, bool, error) {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return nil, false, fmt.Errorf("profile user id required")
	}
	now := time.Now().UTC()
	rec := *p
	rec.PK = dynamo.UserPK(p.UserID)
	rec.SK = dynamo.SKProfile
	if rec.Tier == "" {
		rec.Tier = subscription.TierFree
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	err := r.db.Put(ctx, &rec, dynamo.NotExists())
	if err == nil {
		return &rec, true, nil
	}
	if !dynamo.IsConditionalCheckFailed(err) {
		return nil, false, fmt.Errorf("create profile: %w", err)
	}
	existing, err := r.Get(ctx, p.UserID, true)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("profile %s vanished after create conflict", p.UserID)
	}
	return existing, false, nil
}

// Get returns nil without error when the profile does not exist.
func (r *profileRepo) Get(ctx context.Context, userID string, consistent bool) (*types.Profile, error) {
	var p types.Profile
	ok, err := r.db.Get(ctx, dynamo.UserPK(userID), dynamo.SKProfile, consistent, &p)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *profileRepo) GetByStripeCustomer(ctx context.Context, customerID string) (*types.Profile, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	kc := expression.Key(dynamo.AttrGSI1PK).Equal(expression.Value(dynamo.StripeCustomerPK(customerID))).
		And(expression.Key(dynamo.AttrGSI1SK).Equal(expression.Value(dynamo.SKProfile)))
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
		return nil, fmt.Errorf("query profile by customer: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	var p types.Profile
	if err := attributevalue.UnmarshalMap(items[0], &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LinkStripeCustomer sets the customer id when unset; re-linking the same id is a no-op.
func (r *profileRepo) LinkStripeCustomer(ctx context.Context, userID, customerID string) error {
	now := time.Now().UTC()
	upd := expression.
		Set(expression.Name("stripeCustomerId"), expression.Value(customerID)).
		Set(expression.Name(dynamo.AttrGSI1PK), expression.Value(dynamo.StripeCustomerPK(customerID))).
		Set(expression.Name(dynamo.AttrGSI1SK), expression.Value(dynamo.SKProfile)).
		Set(expression.Name("updatedAt"), expression.Value(now)).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	cond := expression.AttributeExists(expression.Name(dynamo.AttrPK)).And(
		expression.Or(
			expression.AttributeNotExists(expression.Name("stripeCustomerId")),
			expression.Name("stripeCustomerId").Equal(expression.Value(customerID)),
		),
	)
	err := r.db.Update(ctx, dynamo.UserPK(userID), dynamo.SKProfile, upd, dynamo.Cond(cond), nil)
	if err == nil {
		return nil
	}
	if dynamo.IsConditionalCheckFailed(err) {
		existing, getErr := r.Get(ctx, userID, true)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("link stripe customer: profile %s not found", userID)
		}
		r.log.Warn("stripe customer link refused", "user_id", userID, "customer_id", customerID)
		return ErrCustomerConflict
	}
	return fmt.Errorf("link stripe customer: %w", err)
}

func (r *profileRepo) TierOf(ctx context.Context, userID string) (types.Tier, error) {
	p, err := r.Get(ctx, userID, false)
	if err != nil {
		return subscription.TierFree, err
	}
	return p.EffectiveTier(), nil
}
