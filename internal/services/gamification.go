package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/questline-backend/internal/clients/redis"
	"github.com/yungbote/questline-backend/internal/data/repos"
	gamerepo "github.com/yungbote/questline-backend/internal/data/repos/gamification"
	types "github.com/yungbote/questline-backend/internal/domain"
	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	"github.com/yungbote/questline-backend/internal/observability"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// XPAwarder grants XP. Implemented in-process by the gamification service and
// over HTTP by the gamification client.
type XPAwarder interface {
	AwardXP(ctx context.Context, award types.XPAward) (*gamedomain.AwardResult, error)
}

type ProgressView struct {
	UserID          string `json:"user_id"`
	XP              int64  `json:"xp"`
	Level           int64  `json:"level"`
	QuestsCompleted int64  `json:"quests_completed"`
	XPIntoLevel     int64  `json:"xp_into_level"`
	XPForNextLevel  int64  `json:"xp_for_next_level"`
}

type GamificationConfig struct {
	Badges         []types.Badge
	LeaderboardTTL time.Duration
	MaxAttempts    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

type GamificationService interface {
	XPAwarder
	GetProgress(ctx context.Context, userID string) (*ProgressView, error)
	ListBadges(ctx context.Context, userID string) ([]*types.EarnedBadge, error)
	Catalog() []types.Badge
	Leaderboard(ctx context.Context, limit int) ([]gamedomain.LeaderboardEntry, error)
}

type gamificationService struct {
	log     *logger.Logger
	repo    repos.GamificationRepo
	cache   redis.Cache
	retrier *dynamo.Retrier
	cfg     GamificationConfig
	group   singleflight.Group
	now     func() time.Time
}

// NewGamificationService builds the service. cache may be nil, in which case
// the leaderboard is always read from the table.
func NewGamificationService(log *logger.Logger, repo repos.GamificationRepo, cache redis.Cache, cfg GamificationConfig) GamificationService {
	if cfg.LeaderboardTTL <= 0 {
		cfg.LeaderboardTTL = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &gamificationService{
		log:     log.With("service", "GamificationService"),
		repo:    repo,
		cache:   cache,
		retrier: dynamo.NewRetrier(cfg.MaxAttempts, cfg.RetryInitial, cfg.RetryMax),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *gamificationService) AwardXP(ctx context.Context, award types.XPAward) (*gamedomain.AwardResult, error) {
	award.Key = strings.TrimSpace(award.Key)
	if award.UserID == "" || award.Key == "" {
		return nil, apierr.BadRequest("invalid_award", "user id and key required")
	}
	if award.Amount <= 0 {
		return nil, apierr.BadRequest("invalid_award", "amount must be positive")
	}

	var res gamedomain.AwardResult
	attempts, err := s.retrier.Do(ctx, func(attempt int) error {
		res = gamedomain.AwardResult{}
		current, err := s.repo.GetProgress(ctx, award.UserID, true)
		if err != nil {
			if dynamo.IsRetryable(err) {
				return dynamo.Retry(err)
			}
			return err
		}
		earned, err := s.repo.ListBadges(ctx, award.UserID)
		if err != nil {
			return err
		}
		now := s.now()
		next, expected := nextProgress(current, award, now)
		newBadges := s.unlocked(next, earned)

		w := gamerepo.AwardWrite{
			Marker: &gamedomain.AwardMarker{
				PK:        dynamo.UserPK(award.UserID),
				SK:        dynamo.XPAwardSK(award.Key),
				Key:       award.Key,
				Amount:    award.Amount,
				Source:    award.Source,
				SourceID:  award.SourceID,
				AwardedAt: now,
			},
			Progress:        next,
			ExpectedVersion: expected,
		}
		for _, b := range newBadges {
			w.Badges = append(w.Badges, &types.EarnedBadge{
				PK:       dynamo.UserPK(award.UserID),
				SK:       dynamo.BadgeSK(b.ID),
				UserID:   award.UserID,
				BadgeID:  b.ID,
				Name:     b.Name,
				EarnedAt: now,
			})
		}

		err = s.repo.ApplyAward(ctx, w)
		switch {
		case err == nil:
			res.Progress = next
			res.NewBadges = newBadges
			prevLevel := int64(1)
			if current != nil {
				prevLevel = current.Level
			}
			res.LeveledUp = next.Level > prevLevel
			return nil
		case errors.Is(err, gamerepo.ErrDuplicateAward):
			res.Progress = current
			res.Duplicate = true
			return nil
		case errors.Is(err, gamerepo.ErrVersionConflict), dynamo.IsRetryable(err):
			return dynamo.Retry(err)
		default:
			return err
		}
	})
	res.Attempts = attempts
	if err != nil {
		s.log.Error("xp award failed", "user_id", award.UserID, "key", award.Key, "attempts", attempts, "error", err)
		return nil, fmt.Errorf("award xp: %w", err)
	}
	if res.Duplicate {
		s.log.Debug("xp award already applied", "user_id", award.UserID, "key", award.Key)
		return &res, nil
	}
	observability.RecordAward(award.Source, award.Amount, attempts)
	s.log.Info("xp awarded",
		"user_id", award.UserID,
		"source", award.Source,
		"amount", award.Amount,
		"xp", res.Progress.XP,
		"level", res.Progress.Level,
		"badges", len(res.NewBadges),
		"attempts", attempts,
	)
	return &res, nil
}

func nextProgress(current *types.Progress, award types.XPAward, now time.Time) (*types.Progress, int64) {
	next := &types.Progress{
		PK:     dynamo.UserPK(award.UserID),
		SK:     dynamo.SKProgress,
		UserID: award.UserID,
	}
	var expected int64
	if current != nil {
		*next = *current
		expected = current.Version
	}
	if award.Username != "" {
		next.Username = award.Username
	}
	if award.DisplayName != "" {
		next.DisplayName = award.DisplayName
	}
	next.XP += award.Amount
	next.Level = gamedomain.LevelForXP(next.XP)
	if award.QuestCompleted {
		next.QuestsCompleted++
	}
	next.GSI1PK = dynamo.LeaderboardXP
	next.GSI1SK = dynamo.LeaderboardSK(next.XP, award.UserID)
	next.UpdatedAt = now
	next.Version = expected + 1
	return next, expected
}

func (s *gamificationService) unlocked(p *types.Progress, earned []*types.EarnedBadge) []types.Badge {
	have := make(map[string]bool, len(earned))
	for _, e := range earned {
		have[e.BadgeID] = true
	}
	var out []types.Badge
	for _, b := range s.cfg.Badges {
		if !have[b.ID] && b.Criteria.Met(p) {
			out = append(out, b)
		}
	}
	return out
}

func (s *gamificationService) GetProgress(ctx context.Context, userID string) (*ProgressView, error) {
	if userID == "" {
		return nil, apierr.BadRequest("invalid_user", "user id required")
	}
	p, err := s.repo.GetProgress(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	view := &ProgressView{UserID: userID, Level: 1}
	if p != nil {
		view.XP, view.Level, view.QuestsCompleted = p.XP, p.Level, p.QuestsCompleted
	}
	view.XPIntoLevel, view.XPForNextLevel = gamedomain.ProgressToNext(view.XP)
	return view, nil
}

func (s *gamificationService) ListBadges(ctx context.Context, userID string) ([]*types.EarnedBadge, error) {
	if userID == "" {
		return nil, apierr.BadRequest("invalid_user", "user id required")
	}
	return s.repo.ListBadges(ctx, userID)
}

func (s *gamificationService) Catalog() []types.Badge {
	out := make([]types.Badge, len(s.cfg.Badges))
	copy(out, s.cfg.Badges)
	return out
}

func (s *gamificationService) Leaderboard(ctx context.Context, limit int) ([]gamedomain.LeaderboardEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultLeaderboardSize
	case limit > maxLeaderboardSize:
		limit = maxLeaderboardSize
	}
	if s.cache == nil {
		return s.loadLeaderboard(ctx, limit)
	}

	key := fmt.Sprintf("leaderboard:xp:%d", limit)
	var cached []gamedomain.LeaderboardEntry
	hit, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.log.Warn("leaderboard cache read failed", "error", err)
	}
	observability.RecordLeaderboardCache(hit)
	if hit {
		return cached, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Shared by every waiter, so one caller going away must not fail the rest.
		loadCtx := context.WithoutCancel(ctx)
		entries, err := s.loadLeaderboard(loadCtx, limit)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetJSON(loadCtx, key, entries, s.cfg.LeaderboardTTL); err != nil {
			s.log.Warn("leaderboard cache write failed", "error", err)
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]gamedomain.LeaderboardEntry), nil
}

func (s *gamificationService) loadLeaderboard(ctx context.Context, limit int) ([]gamedomain.LeaderboardEntry, error) {
	rows, err := s.repo.Leaderboard(ctx, int32(limit))
	if err != nil {
		return nil, err
	}
	out := make([]gamedomain.LeaderboardEntry, 0, len(rows))
	for i, p := range rows {
		out = append(out, gamedomain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      p.UserID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			XP:          p.XP,
			Level:       p.Level,
		})
	}
	return out, nil
}
