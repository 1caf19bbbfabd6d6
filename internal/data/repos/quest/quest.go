package quest

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
	questdomain "github.com/yungbote/questline-backend/internal/domain/quest"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

var (
	ErrNotFound        = errors.New("quest not found")
	ErrVersionConflict = errors.New("quest changed concurrently")
	ErrStatusConflict  = errors.New("quest status changed concurrently")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type QuestRepo interface {
	Create(ctx context.Context, q *types.Quest) error
	Get(ctx context.Context, userID, questID string) (*types.Quest, error)
	List(ctx context.Context, userID string, f questdomain.Filter) ([]*types.Quest, string, error)
	CountByStatus(ctx context.Context, userID string, status types.QuestStatus) (int, error)
	// Update replaces the quest guarded by its stored version.
	Update(ctx context.Context, q *types.Quest, expectedVersion int64) error
	// Transition moves the quest from one status to another and returns the new record.
	Transition(ctx context.Context, userID, questID string, from, to types.QuestStatus, at time.Time) (*types.Quest, error)
	AddProgress(ctx context.Context, userID, questID string, delta int64) (*types.Quest, error)
	MarkXPAwarded(ctx context.Context, userID, questID string) error
	Delete(ctx context.Context, userID, questID string) error
}

type questRepo struct {
	db  *dynamo.DB
	log *logger.Logger
}

func NewQuestRepo(db *dynamo.DB, baseLog *logger.Logger) QuestRepo {
	repoLog := baseLog.With("repo", "QuestRepo")
	return &questRepo{db: db, log: repoLog}
}

func (r *questRepo) Create(ctx context.Context, q *types.Quest) error {
	q.PK = dynamo.UserPK(q.UserID)
	q.SK = dynamo.QuestSK(q.ID)
	if q.Version == 0 {
		q.Version = 1
	}
	if err := r.db.Put(ctx, q, dynamo.NotExists()); err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("create quest %s: already exists", q.ID)
		}
		return fmt.Errorf("create quest: %w", err)
	}
	return nil
}

func (r *questRepo) Get(ctx context.Context, userID, questID string) (*types.Quest, error) {
	var q types.Quest
	ok, err := r.db.Get(ctx, dynamo.UserPK(userID), dynamo.QuestSK(questID), true, &q)
	if err != nil {
		return nil, fmt.Errorf("get quest: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}

func (r *questRepo) List(ctx context.Context, userID string, f questdomain.Filter) ([]*types.Quest, string, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	b := expression.NewBuilder().WithKeyCondition(questKey(userID))
	if f.Status != "" {
		b = b.WithFilter(expression.Name("status").Equal(expression.Value(f.Status)))
	}
	expr, err := b.Build()
	if err != nil {
		return nil, "", err
	}
	start, err := dynamo.DecodeCursor(f.Cursor)
	if err != nil {
		return nil, "", err
	}
	items, next, err := r.db.QueryPage(ctx, &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         start,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, "", fmt.Errorf("list quests: %w", err)
	}
	out := make([]*types.Quest, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, "", err
	}
	return out, next, nil
}

func (r *questRepo) CountByStatus(ctx context.Context, userID string, status types.QuestStatus) (int, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(questKey(userID)).
		WithFilter(expression.Name("status").Equal(expression.Value(status))).
		Build()
	if err != nil {
		return 0, err
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(r.db.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    ddbtypes.SelectCount,
	}
	total := 0
	for {
		res, err := r.db.API.Query(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("count quests: %w", err)
		}
		total += int(res.Count)
		if len(res.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

func (r *questRepo) Update(ctx context.Context, q *types.Quest, expectedVersion int64) error {
	q.PK = dynamo.UserPK(q.UserID)
	q.SK = dynamo.QuestSK(q.ID)
	q.Version = expectedVersion + 1
	err := r.db.Put(ctx, q, dynamo.Cond(expression.Name(dynamo.AttrVersion).Equal(expression.Value(expectedVersion))))
	if dynamo.IsConditionalCheckFailed(err) {
		return ErrVersionConflict
	}
	return err
}

func (r *questRepo) Transition(ctx context.Context, userID, questID string, from, to types.QuestStatus, at time.Time) (*types.Quest, error) {
	upd := expression.
		Set(expression.Name("status"), expression.Value(to)).
		Set(expression.Name("updatedAt"), expression.Value(at)).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	switch to {
	case questdomain.StatusActive:
		upd = upd.Set(expression.Name("startedAt"), expression.Value(at))
	case questdomain.StatusCompleted, questdomain.StatusCancelled, questdomain.StatusFailed:
		upd = upd.Set(expression.Name("completedAt"), expression.Value(at))
	}
	cond := expression.AttributeExists(expression.Name(dynamo.AttrPK)).
		And(expression.Name("status").Equal(expression.Value(from)))

	var q types.Quest
	err := r.db.Update(ctx, dynamo.UserPK(userID), dynamo.QuestSK(questID), upd, dynamo.Cond(cond), &q)
	if dynamo.IsConditionalCheckFailed(err) {
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("transition quest: %w", err)
	}
	return &q, nil
}

func (r *questRepo) AddProgress(ctx context.Context, userID, questID string, delta int64) (*types.Quest, error) {
	upd := expression.
		Add(expression.Name("progressCount"), expression.Value(delta)).
		Set(expression.Name("updatedAt"), expression.Value(time.Now().UTC())).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	cond := expression.AttributeExists(expression.Name(dynamo.AttrPK)).
		And(expression.Name("status").Equal(expression.Value(questdomain.StatusActive)))

	var q types.Quest
	err := r.db.Update(ctx, dynamo.UserPK(userID), dynamo.QuestSK(questID), upd, dynamo.Cond(cond), &q)
	if dynamo.IsConditionalCheckFailed(err) {
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("record quest progress: %w", err)
	}
	return &q, nil
}

func (r *questRepo) MarkXPAwarded(ctx context.Context, userID, questID string) error {
	upd := expression.Set(expression.Name("xpAwarded"), expression.Value(true))
	return r.db.Update(ctx, dynamo.UserPK(userID), dynamo.QuestSK(questID), upd, dynamo.Exists(), nil)
}

func (r *questRepo) Delete(ctx context.Context, userID, questID string) error {
	err := r.db.Delete(ctx, dynamo.UserPK(userID), dynamo.QuestSK(questID), dynamo.Exists())
	if dynamo.IsConditionalCheckFailed(err) {
		return ErrNotFound
	}
	return err
}

func questKey(userID string) expression.KeyConditionBuilder {
	return expression.Key(dynamo.AttrPK).Equal(expression.Value(dynamo.UserPK(userID))).
		And(expression.Key(dynamo.AttrSK).BeginsWith(dynamo.PrefixQuest))
}
