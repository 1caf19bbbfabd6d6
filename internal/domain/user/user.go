package user

import (
	"time"

	"github.com/yungbote/questline-backend/internal/domain/subscription"
)

// Profile is the shared user record (PK USER#<id>, SK PROFILE). The
// subscription service owns Tier/SubscriptionStatus/StripeCustomerID; the other
// services only read them.
type Profile struct {
	PK     string `dynamodbav:"PK" json:"-"`
	SK     string `dynamodbav:"SK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty" json:"-"`

	UserID      string `dynamodbav:"userId" json:"user_id"`
	Email       string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Username    string `dynamodbav:"username,omitempty" json:"username,omitempty"`
	DisplayName string `dynamodbav:"displayName,omitempty" json:"display_name,omitempty"`

	Tier               subscription.Tier   `dynamodbav:"tier" json:"tier"`
	SubscriptionStatus subscription.Status `dynamodbav:"subscriptionStatus,omitempty" json:"subscription_status,omitempty"`
	StripeCustomerID   string              `dynamodbav:"stripeCustomerId,omitempty" json:"-"`
	TierUpdatedAt      *time.Time          `dynamodbav:"tierUpdatedAt,omitempty" json:"tier_updated_at,omitempty"`

	Version   int64     `dynamodbav:"version" json:"-"`
	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updated_at"`
}

// EffectiveTier treats a missing tier as free.
func (p *Profile) EffectiveTier() subscription.Tier {
	if p == nil || p.Tier == "" {
		return subscription.TierFree
	}
	return p.Tier
}
