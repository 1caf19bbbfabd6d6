package subscription

import "time"

// Status mirrors the Stripe subscription lifecycle.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusIncompleteExpired, StatusTrialing, StatusActive,
		StatusPastDue, StatusCanceled, StatusUnpaid, StatusPaused:
		return true
	}
	return false
}

// Entitled reports whether the status grants the paid tier. past_due keeps
// access while Stripe retries the payment.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierPro     Tier = "pro"
)

// Subscription is the per-user billing record (PK USER#<id>, SK SUBSCRIPTION).
type Subscription struct {
	PK     string `dynamodbav:"PK" json:"-"`
	SK     string `dynamodbav:"SK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty" json:"-"`

	UserID            string     `dynamodbav:"userId" json:"user_id"`
	SubscriptionID    string     `dynamodbav:"subscriptionId" json:"subscription_id"`
	CustomerID        string     `dynamodbav:"customerId" json:"customer_id"`
	PriceID           string     `dynamodbav:"priceId,omitempty" json:"price_id,omitempty"`
	Tier              Tier       `dynamodbav:"tier" json:"tier"`
	Status            Status     `dynamodbav:"status" json:"status"`
	CancelAtPeriodEnd bool       `dynamodbav:"cancelAtPeriodEnd" json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `dynamodbav:"currentPeriodEnd,omitempty" json:"current_period_end,omitempty"`
	TrialEnd          *time.Time `dynamodbav:"trialEnd,omitempty" json:"trial_end,omitempty"`
	CanceledAt        *time.Time `dynamodbav:"canceledAt,omitempty" json:"canceled_at,omitempty"`

	// SubscriptionCreated is the provider's creation time of SubscriptionID (unix seconds).
	SubscriptionCreated int64  `dynamodbav:"subscriptionCreated,omitempty" json:"-"`
	LastEventID         string `dynamodbav:"lastEventId" json:"-"`
	LastEventCreated    int64  `dynamodbav:"lastEventCreated" json:"-"`
	Version             int64  `dynamodbav:"version" json:"-"`

	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updated_at"`
}

// Event is a Stripe subscription webhook normalised to what the sync needs.
type Event struct {
	ID      string
	Type    string
	Created int64

	SubscriptionID      string
	SubscriptionCreated int64
	CustomerID          string
	UserID              string
	PriceID             string
	Status              Status
	CancelAtPeriodEnd   bool
	CurrentPeriodEnd    *time.Time
	TrialEnd            *time.Time
	CanceledAt          *time.Time
}

// EventMarker records a processed provider event (PK STRIPEEVENT#<id>).
type EventMarker struct {
	PK          string    `dynamodbav:"PK"`
	SK          string    `dynamodbav:"SK"`
	EventID     string    `dynamodbav:"eventId"`
	EventType   string    `dynamodbav:"eventType"`
	UserID      string    `dynamodbav:"userId,omitempty"`
	Outcome     string    `dynamodbav:"outcome"`
	ProcessedAt time.Time `dynamodbav:"processedAt"`
	ExpiresAt   int64     `dynamodbav:"expiresAt"`
}

const (
	MarkerPending = "pending"
)

type SyncOutcome string

const (
	SyncApplied         SyncOutcome = "applied"
	SyncAppliedFallback SyncOutcome = "applied_fallback"
	SyncDuplicate       SyncOutcome = "duplicate"
	SyncStale           SyncOutcome = "stale"
	SyncRejected        SyncOutcome = "rejected_transition"
	SyncIgnored         SyncOutcome = "ignored"
)

type SyncResult struct {
	Outcome        SyncOutcome `json:"outcome"`
	UserID         string      `json:"user_id,omitempty"`
	Attempts       int         `json:"attempts"`
	PreviousStatus Status      `json:"previous_status,omitempty"`
	NewStatus      Status      `json:"new_status,omitempty"`
	PreviousTier   Tier        `json:"previous_tier,omitempty"`
	NewTier        Tier        `json:"new_tier,omitempty"`
}

// Plan is one purchasable option from the plan catalog.
type Plan struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Tier        Tier     `yaml:"tier" json:"tier"`
	PriceID     string   `yaml:"price_id" json:"price_id"`
	Interval    string   `yaml:"interval" json:"interval"`
	AmountCents int64    `yaml:"amount_cents" json:"amount_cents"`
	Currency    string   `yaml:"currency" json:"currency"`
	Features    []string `yaml:"features" json:"features"`
}
