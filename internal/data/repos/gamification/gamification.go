package gamification

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	types "github.com/yungbote/questline-backend/internal/domain"
	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

var (
	ErrDuplicateAward  = errors.New("xp award already applied")
	ErrVersionConflict = errors.New("progress changed concurrently")
)

// AwardWrite is one atomic XP grant: the marker, the new progress snapshot and
// any badges the grant unlocked.
type AwardWrite struct {
	Marker          *gamedomain.AwardMarker
	Progress        *types.Progress
	ExpectedVersion int64
	Badges          []*types.EarnedBadge
}

type GamificationRepo interface {
	GetProgress(ctx context.Context, userID string, consistent bool) (*types.Progress, error)
	ListBadges(ctx context.Context, userID string) ([]*types.EarnedBadge, error)
	AwardApplied(ctx context.Context, userID, key string) (bool, error)
	ApplyAward(ctx context.Context, w AwardWrite) error
	Leaderboard(ctx context.Context, limit int32) ([]*types.Progress, error)
}

type gamificationRepo struct {
	db  *dynamo.DB
	log *logger.Logger
}

func NewGamificationRepo(db *dynamo.DB, baseLog *logger.Logger) GamificationRepo {
	repoLog := baseLog.With("repo", "GamificationRepo")
	return &gamificationRepo{db: db, log: repoLog}
}

// GetProgress returns nil without error for users that never earned XP.
func (r *gamificationRepo) GetProgress(ctx context.Context, userID string, consistent bool) (*types.Progress, error) {
	var p types.Progress
	ok, err := r.db.Get(ctx, dynamo.UserPK(userID), dynamo.SKProgress, consistent, &p)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *gamificationRepo) ListBadges(ctx context.Context, userID string) ([]*types.EarnedBadge, error) {
	kc := expression.Key(dynamo.AttrPK).Equal(expression.Value(dynamo.UserPK(userID))).
		And(expression.Key(dynamo.AttrSK).BeginsWith(dynamo.PrefixBadge))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, err
	}
	items, err := r.db.QueryAll(ctx, &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	out := make([]*types.EarnedBadge, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gamificationRepo) AwardApplied(ctx context.Context, userID, key string) (bool, error) {
	var m gamedomain.AwardMarker
	ok, err := r.db.Get(ctx, dynamo.UserPK(userID), dynamo.XPAwardSK(key), true, &m)
	if err != nil {
		return false, fmt.Errorf("get award marker: %w", err)
	}
	return ok, nil
}

func (r *gamificationRepo) ApplyAward(ctx context.Context, w AwardWrite) error {
	if w.Marker == nil || w.Progress == nil {
		return fmt.Errorf("apply award: marker and progress required")
	}
	items := make([]ddbtypes.TransactWriteItem, 0, 2+len(w.Badges))
	marker, err := dynamo.TxPut(r.db.Table, w.Marker, dynamo.NotExists())
	if err != nil {
		return err
	}
	progress, err := dynamo.TxPut(r.db.Table, w.Progress, dynamo.VersionIs(w.ExpectedVersion))
	if err != nil {
		return err
	}
	items = append(items, marker, progress)
	for _, b := range w.Badges {
		item, err := dynamo.TxPut(r.db.Table, b, dynamo.NotExists())
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	err = r.db.Transact(ctx, items, "")
	if err == nil {
		return nil
	}
	reasons, ok := dynamo.CancellationReasons(err)
	if !ok {
		return err
	}
	if dynamo.ReasonAt(reasons, 0) == dynamo.ReasonConditionalCheckFailed {
		return fmt.Errorf("%w: %s", ErrDuplicateAward, w.Marker.Key)
	}
	// A badge condition failing means a concurrent award earned it first; the
	// caller re-reads and recomputes.
	for i := 1; i < len(reasons); i++ {
		if reasons[i] == dynamo.ReasonConditionalCheckFailed {
			return fmt.Errorf("%w: expected version %d", ErrVersionConflict, w.ExpectedVersion)
		}
	}
	return err
}

func (r *gamificationRepo) Leaderboard(ctx context.Context, limit int32) ([]*types.Progress, error) {
	if limit <= 0 {
		limit = 10
	}
	kc := expression.Key(dynamo.AttrGSI1PK).Equal(expression.Value(dynamo.LeaderboardXP))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, err
	}
	items, _, err := r.db.QueryPage(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(dynamo.IndexGSI1),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	out := make([]*types.Progress, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, err
	}
	return out, nil
}
