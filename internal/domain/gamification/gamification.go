package gamification

import "time"

// Progress is a user's XP state (PK USER#<id>, SK PROGRESS). GSI1 places it on
// the XP leaderboard.
type Progress struct {
	PK     string `dynamodbav:"PK" json:"-"`
	SK     string `dynamodbav:"SK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK" json:"-"`

	UserID          string    `dynamodbav:"userId" json:"user_id"`
	Username        string    `dynamodbav:"username,omitempty" json:"username,omitempty"`
	DisplayName     string    `dynamodbav:"displayName,omitempty" json:"display_name,omitempty"`
	XP              int64     `dynamodbav:"xp" json:"xp"`
	Level           int64     `dynamodbav:"level" json:"level"`
	QuestsCompleted int64     `dynamodbav:"questsCompleted" json:"quests_completed"`
	UpdatedAt       time.Time `dynamodbav:"updatedAt" json:"updated_at"`
	Version         int64     `dynamodbav:"version" json:"-"`
}

// Award is a request to grant XP. Key makes the grant idempotent per user.
type Award struct {
	UserID         string `json:"user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,min=1,max=10000"`
	Source         string `json:"source" binding:"required,max=40"`
	SourceID       string `json:"source_id" binding:"max=100"`
	Key            string `json:"key" binding:"required,max=200"`
	Username       string `json:"username,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	QuestCompleted bool   `json:"quest_completed,omitempty"`
}

// AwardMarker records an applied award (PK USER#<id>, SK XPAWARD#<key>).
type AwardMarker struct {
	PK        string    `dynamodbav:"PK"`
	SK        string    `dynamodbav:"SK"`
	Key       string    `dynamodbav:"awardKey"`
	Amount    int64     `dynamodbav:"amount"`
	Source    string    `dynamodbav:"source"`
	SourceID  string    `dynamodbav:"sourceId,omitempty"`
	AwardedAt time.Time `dynamodbav:"awardedAt"`
}

type EarnedBadge struct {
	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`

	UserID   string    `dynamodbav:"userId" json:"user_id"`
	BadgeID  string    `dynamodbav:"badgeId" json:"badge_id"`
	Name     string    `dynamodbav:"name" json:"name"`
	EarnedAt time.Time `dynamodbav:"earnedAt" json:"earned_at"`
}

type CriteriaType string

const (
	CriteriaQuestsCompleted CriteriaType = "quests_completed"
	CriteriaLevel           CriteriaType = "level"
	CriteriaXP              CriteriaType = "xp"
)

type Criteria struct {
	Type      CriteriaType `yaml:"type" json:"type"`
	Threshold int64        `yaml:"threshold" json:"threshold"`
}

// Met evaluates the criteria against a progress snapshot.
func (c Criteria) Met(p *Progress) bool {
	if p == nil {
		return false
	}
	switch c.Type {
	case CriteriaQuestsCompleted:
		return p.QuestsCompleted >= c.Threshold
	case CriteriaLevel:
		return p.Level >= c.Threshold
	case CriteriaXP:
		return p.XP >= c.Threshold
	}
	return false
}

type Badge struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Criteria    Criteria `yaml:"criteria" json:"criteria"`
}

type AwardResult struct {
	Progress  *Progress `json:"progress"`
	NewBadges []Badge   `json:"new_badges"`
	LeveledUp bool      `json:"leveled_up"`
	Duplicate bool      `json:"duplicate"`
	Attempts  int       `json:"-"`
}

type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	XP          int64  `json:"xp"`
	Level       int64  `json:"level"`
}
