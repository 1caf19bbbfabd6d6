package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yungbote/questline-backend/internal/data/repos"
	questrepo "github.com/yungbote/questline-backend/internal/data/repos/quest"
	types "github.com/yungbote/questline-backend/internal/domain"
	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	questdomain "github.com/yungbote/questline-backend/internal/domain/quest"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type CreateQuestInput struct {
	Title       string                 `json:"title" binding:"required,min=3,max=100"`
	Description string                 `json:"description" binding:"max=1000"`
	Category    string                 `json:"category" binding:"required,quest_category"`
	Difficulty  questdomain.Difficulty `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Privacy     questdomain.Privacy    `json:"privacy" binding:"omitempty,oneof=private followers public"`
	Deadline    *time.Time             `json:"deadline" binding:"omitempty,future"`
	Tags        []string               `json:"tags" binding:"max=10,dive,min=1,max=30"`
	TargetCount int64                  `json:"target_count" binding:"omitempty,min=1,max=100000"`
}

// UpdateQuestInput changes the fields that are set. Version must match the
// stored quest.
type UpdateQuestInput struct {
	Title       *string                 `json:"title" binding:"omitempty,min=3,max=100"`
	Description *string                 `json:"description" binding:"omitempty,max=1000"`
	Category    *string                 `json:"category" binding:"omitempty,quest_category"`
	Difficulty  *questdomain.Difficulty `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Privacy     *questdomain.Privacy    `json:"privacy" binding:"omitempty,oneof=private followers public"`
	Deadline    *time.Time              `json:"deadline" binding:"omitempty,future"`
	Tags        *[]string               `json:"tags" binding:"omitempty,max=10,dive,min=1,max=30"`
	TargetCount *int64                  `json:"target_count" binding:"omitempty,min=1,max=100000"`
	Version     int64                   `json:"version" binding:"required,min=1"`
}

type QuestPage struct {
	Quests     []*types.Quest `json:"quests"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// CompleteResult carries the completed quest and its award. XPPending means
// the award did not go through; completing again retries it.
type CompleteResult struct {
	Quest     *types.Quest            `json:"quest"`
	Award     *gamedomain.AwardResult `json:"award,omitempty"`
	XPPending bool                    `json:"xp_pending"`
}

type QuestConfig struct {
	// ActiveLimits caps concurrently active quests per tier; 0 or missing is unlimited.
	ActiveLimits map[types.Tier]int
}

type QuestService interface {
	Create(ctx context.Context, in CreateQuestInput) (*types.Quest, error)
	Get(ctx context.Context, ownerID, questID string) (*types.Quest, error)
	List(ctx context.Context, f questdomain.Filter) (*QuestPage, error)
	Update(ctx context.Context, questID string, in UpdateQuestInput) (*types.Quest, error)
	Delete(ctx context.Context, questID string) error
	Start(ctx context.Context, questID string) (*types.Quest, error)
	RecordProgress(ctx context.Context, questID string, delta int64) (*types.Quest, error)
	Complete(ctx context.Context, questID string) (*CompleteResult, error)
	Cancel(ctx context.Context, questID string) (*types.Quest, error)
	Fail(ctx context.Context, questID string) (*types.Quest, error)
}

type questService struct {
	log      *logger.Logger
	quests   repos.QuestRepo
	profiles repos.ProfileRepo
	xp       XPAwarder
	cfg      QuestConfig
	now      func() time.Time
}

func NewQuestService(log *logger.Logger, quests repos.QuestRepo, profiles repos.ProfileRepo, xp XPAwarder, cfg QuestConfig) QuestService {
	return &questService{
		log:      log.With("service", "QuestService"),
		quests:   quests,
		profiles: profiles,
		xp:       xp,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *questService) Create(ctx context.Context, in CreateQuestInput) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if utf8.RuneCountInString(title) < 3 {
		return nil, apierr.BadRequest("invalid_title", "title must have at least 3 characters")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("quest id: %w", err)
	}
	now := s.now()
	q := &types.Quest{
		ID:          id.String(),
		UserID:      rd.UserID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		Difficulty:  in.Difficulty,
		Privacy:     in.Privacy,
		Status:      questdomain.StatusDraft,
		Tags:        normalizeTags(in.Tags),
		Deadline:    in.Deadline,
		TargetCount: in.TargetCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if q.Difficulty == "" {
		q.Difficulty = questdomain.DifficultyMedium
	}
	if q.Privacy == "" {
		q.Privacy = questdomain.PrivacyPrivate
	}
	q.RewardXP = q.Difficulty.RewardXP()
	if err := s.quests.Create(ctx, q); err != nil {
		return nil, err
	}
	s.log.Info("quest created", "user_id", rd.UserID, "quest_id", q.ID, "category", q.Category)
	return q, nil
}

// Get returns the caller's quest, or another user's quest when it is public.
func (s *questService) Get(ctx context.Context, ownerID, questID string) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = rd.UserID
	}
	q, err := s.quests.Get(ctx, ownerID, questID)
	if err != nil {
		return nil, questErr(err)
	}
	if ownerID != rd.UserID && q.Privacy != questdomain.PrivacyPublic {
		return nil, apierr.NotFound("quest_not_found", "quest %s", questID)
	}
	return q, nil
}

func (s *questService) List(ctx context.Context, f questdomain.Filter) (*QuestPage, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apierr.BadRequest("invalid_status", "unknown status %q", f.Status)
	}
	if _, err := dynamo.DecodeCursor(f.Cursor); err != nil {
		return nil, apierr.BadRequest("invalid_cursor", "malformed cursor")
	}
	quests, next, err := s.quests.List(ctx, rd.UserID, f)
	if err != nil {
		return nil, err
	}
	return &QuestPage{Quests: quests, NextCursor: next}, nil
}

func (s *questService) Update(ctx context.Context, questID string, in UpdateQuestInput) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.quests.Get(ctx, rd.UserID, questID)
	if err != nil {
		return nil, questErr(err)
	}
	if q.Status.Terminal() {
		return nil, apierr.Conflict("quest_closed", "quest is %s", q.Status)
	}
	if in.Version != q.Version {
		return nil, apierr.Conflict("version_conflict", "quest was modified")
	}
	if in.Title != nil {
		q.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		q.Description = strings.TrimSpace(*in.Description)
	}
	if in.Category != nil {
		q.Category = *in.Category
	}
	if in.Difficulty != nil {
		q.Difficulty = *in.Difficulty
		q.RewardXP = q.Difficulty.RewardXP()
	}
	if in.Privacy != nil {
		q.Privacy = *in.Privacy
	}
	if in.Deadline != nil {
		q.Deadline = in.Deadline
	}
	if in.Tags != nil {
		q.Tags = normalizeTags(*in.Tags)
	}
	if in.TargetCount != nil {
		q.TargetCount = *in.TargetCount
	}
	q.UpdatedAt = s.now()
	if err := s.quests.Update(ctx, q, in.Version); err != nil {
		return nil, questErr(err)
	}
	return q, nil
}

func (s *questService) Delete(ctx context.Context, questID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if err := s.quests.Delete(ctx, rd.UserID, questID); err != nil {
		return questErr(err)
	}
	s.log.Info("quest deleted", "user_id", rd.UserID, "quest_id", questID)
	return nil
}

// Start activates a draft quest within the caller's tier limit. Two concurrent
// starts can overshoot the limit by one.
func (s *questService) Start(ctx context.Context, questID string) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	tier, err := s.profiles.TierOf(ctx, rd.UserID)
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.ActiveLimits[tier]; limit > 0 {
		active, err := s.quests.CountByStatus(ctx, rd.UserID, questdomain.StatusActive)
		if err != nil {
			return nil, err
		}
		if active >= limit {
			return nil, apierr.Forbidden("active_quest_limit", "%s tier allows %d active quests", tier, limit)
		}
	}
	return s.transition(ctx, rd.UserID, questID, questdomain.StatusActive)
}

func (s *questService) RecordProgress(ctx context.Context, questID string, delta int64) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if delta < 1 || delta > 1000 {
		return nil, apierr.BadRequest("invalid_delta", "delta must be between 1 and 1000")
	}
	q, err := s.quests.AddProgress(ctx, rd.UserID, questID, delta)
	if errors.Is(err, questrepo.ErrStatusConflict) {
		if _, getErr := s.quests.Get(ctx, rd.UserID, questID); getErr != nil {
			return nil, questErr(getErr)
		}
		return nil, apierr.Conflict("quest_not_active", "progress can only be recorded on active quests")
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Complete closes an active quest and grants its reward. Completing an already
// completed quest whose reward is still pending retries the award.
func (s *questService) Complete(ctx context.Context, questID string) (*CompleteResult, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.quests.Get(ctx, rd.UserID, questID)
	if err != nil {
		return nil, questErr(err)
	}
	switch q.Status {
	case questdomain.StatusCompleted:
		if q.XPAwarded {
			return &CompleteResult{Quest: q}, nil
		}
	case questdomain.StatusActive:
		if !q.TargetReached() {
			return nil, apierr.Conflict("target_not_reached", "progress %d of %d", q.ProgressCount, q.TargetCount)
		}
		q, err = s.quests.Transition(ctx, rd.UserID, questID, questdomain.StatusActive, questdomain.StatusCompleted, s.now())
		if err != nil {
			return nil, questErr(err)
		}
		s.log.Info("quest completed", "user_id", rd.UserID, "quest_id", questID)
	default:
		return nil, apierr.Conflict("invalid_transition", "cannot complete a %s quest", q.Status)
	}

	out := &CompleteResult{Quest: q}
	award, err := s.xp.AwardXP(ctx, types.XPAward{
		UserID:         rd.UserID,
		Amount:         q.RewardXP,
		Source:         "quest",
		SourceID:       q.ID,
		Key:            "quest:" + q.ID,
		Username:       rd.Username,
		DisplayName:    rd.DisplayName,
		QuestCompleted: true,
	})
	if err != nil {
		s.log.Warn("quest reward pending", "user_id", rd.UserID, "quest_id", questID, "error", err)
		out.XPPending = true
		return out, nil
	}
	out.Award = award
	if err := s.quests.MarkXPAwarded(ctx, rd.UserID, questID); err != nil {
		s.log.Warn("failed to flag quest reward", "quest_id", questID, "error", err)
	} else {
		q.XPAwarded = true
	}
	return out, nil
}

func (s *questService) Cancel(ctx context.Context, questID string) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, rd.UserID, questID, questdomain.StatusCancelled)
}

func (s *questService) Fail(ctx context.Context, questID string) (*types.Quest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, rd.UserID, questID, questdomain.StatusFailed)
}

func (s *questService) transition(ctx context.Context, userID, questID string, to types.QuestStatus) (*types.Quest, error) {
	q, err := s.quests.Get(ctx, userID, questID)
	if err != nil {
		return nil, questErr(err)
	}
	if !questdomain.CanTransition(q.Status, to) {
		return nil, apierr.Conflict("invalid_transition", "cannot move quest from %s to %s", q.Status, to)
	}
	out, err := s.quests.Transition(ctx, userID, questID, q.Status, to, s.now())
	if err != nil {
		return nil, questErr(err)
	}
	s.log.Info("quest status changed", "user_id", userID, "quest_id", questID, "from", q.Status, "to", to)
	return out, nil
}

func questErr(err error) error {
	switch {
	case errors.Is(err, questrepo.ErrNotFound):
		return apierr.NotFound("quest_not_found", "quest not found")
	case errors.Is(err, questrepo.ErrVersionConflict):
		return apierr.Conflict("version_conflict", "quest was modified")
	case errors.Is(err, questrepo.ErrStatusConflict):
		return apierr.New(http.StatusConflict, "status_conflict", err)
	}
	return err
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
