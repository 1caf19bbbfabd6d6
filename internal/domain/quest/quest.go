package quest

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusCompleted, StatusCancelled, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// RewardXP is the XP granted on completion.
func (d Difficulty) RewardXP() int64 {
	switch d {
	case DifficultyEasy:
		return 50
	case DifficultyHard:
		return 200
	default:
		return 100
	}
}

type Privacy string

const (
	PrivacyPrivate   Privacy = "private"
	PrivacyFollowers Privacy = "followers"
	PrivacyPublic    Privacy = "public"
)

var Categories = []string{
	"health", "fitness", "learning", "career", "finance",
	"creativity", "relationships", "mindfulness", "productivity", "other",
}

// Quest is a user goal (PK USER#<owner>, SK QUEST#<id>).
type Quest struct {
	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`

	ID          string     `dynamodbav:"questId" json:"id"`
	UserID      string     `dynamodbav:"userId" json:"user_id"`
	Title       string     `dynamodbav:"title" json:"title"`
	Description string     `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Category    string     `dynamodbav:"category" json:"category"`
	Difficulty  Difficulty `dynamodbav:"difficulty" json:"difficulty"`
	Privacy     Privacy    `dynamodbav:"privacy" json:"privacy"`
	Status      Status     `dynamodbav:"status" json:"status"`
	Tags        []string   `dynamodbav:"tags,omitempty,stringset" json:"tags,omitempty"`
	Deadline    *time.Time `dynamodbav:"deadline,omitempty" json:"deadline,omitempty"`

	TargetCount   int64 `dynamodbav:"targetCount,omitempty" json:"target_count,omitempty"`
	ProgressCount int64 `dynamodbav:"progressCount" json:"progress_count"`
	RewardXP      int64 `dynamodbav:"rewardXp" json:"reward_xp"`
	XPAwarded     bool  `dynamodbav:"xpAwarded" json:"xp_awarded"`

	StartedAt   *time.Time `dynamodbav:"startedAt,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `dynamodbav:"completedAt,omitempty" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt   time.Time  `dynamodbav:"updatedAt" json:"updated_at"`
	Version     int64      `dynamodbav:"version" json:"version"`
}

// TargetReached is true for quests without a target.
func (q *Quest) TargetReached() bool {
	return q.TargetCount <= 0 || q.ProgressCount >= q.TargetCount
}

// Filter narrows a quest listing.
type Filter struct {
	Status Status
	Limit  int32
	Cursor string
}
