package guild

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
	guilddomain "github.com/yungbote/questline-backend/internal/domain/guild"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

var (
	ErrNotFound        = errors.New("guild not found")
	ErrNameTaken       = errors.New("guild name already taken")
	ErrVersionConflict = errors.New("guild changed concurrently")
	ErrAlreadyMember   = errors.New("already a guild member")
	ErrNotMember       = errors.New("not a guild member")
	ErrGuildFull       = errors.New("guild is full")
	ErrRequestExists   = errors.New("join request already pending")
	ErrRequestMissing  = errors.New("join request not found")
	ErrOwnerMismatch   = errors.New("guild owner changed")

	ErrMaxMembersTooLow = errors.New("max members below member count")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type GuildRepo interface {
	Create(ctx context.Context, g *types.Guild, owner *types.GuildMember) error
	Get(ctx context.Context, guildID string, consistent bool) (*types.Guild, error)
	ListListed(ctx context.Context, limit int32, cursor string) ([]*types.Guild, string, error)
	// Update writes the editable fields of g guarded by expectedVersion and reloads
	// g from the stored item. A changed name swaps the name locks.
	Update(ctx context.Context, g *types.Guild, expectedVersion int64, previousName string) error
	Delete(ctx context.Context, g *types.Guild) error
	SetInviteCodeHash(ctx context.Context, guildID, hash string) error

	GetMember(ctx context.Context, guildID, userID string) (*types.GuildMember, error)
	ListMembers(ctx context.Context, guildID string) ([]*types.GuildMember, error)
	ListMemberships(ctx context.Context, userID string) ([]*types.GuildMember, error)
	// AddMember puts the membership and bumps the member count under the capacity
	// condition. When fromRequest is set the pending join request is consumed too.
	AddMember(ctx context.Context, m *types.GuildMember, fromRequest bool) error
	RemoveMember(ctx context.Context, guildID, userID string) error
	SetRole(ctx context.Context, guildID, userID string, role guilddomain.Role) error
	TransferOwnership(ctx context.Context, guildID, fromUserID, toUserID string) error

	PutJoinRequest(ctx context.Context, jr *types.GuildJoinRequest) error
	GetJoinRequest(ctx context.Context, guildID, userID string) (*types.GuildJoinRequest, error)
	ListJoinRequests(ctx context.Context, guildID string) ([]*types.GuildJoinRequest, error)
	DeleteJoinRequest(ctx context.Context, guildID, userID string) error
}

type guildRepo struct {
	db  *dynamo.DB
	log *logger.Logger
}

func NewGuildRepo(db *dynamo.DB, baseLog *logger.Logger) GuildRepo {
	repoLog := baseLog.With("repo", "GuildRepo")
	return &guildRepo{db: db, log: repoLog}
}

func stampGuild(g *types.Guild) {
	g.PK = dynamo.GuildPK(g.ID)
	g.SK = dynamo.SKGuildMeta
	g.GSI1PK, g.GSI1SK = "", ""
	if g.Type.Listed() {
		g.GSI1PK = dynamo.ListedGuilds
		g.GSI1SK = g.CreatedAt.UTC().Format(time.RFC3339Nano) + "#" + g.ID
	}
}

func nameLock(g *types.Guild) *guilddomain.NameLock {
	return &guilddomain.NameLock{
		PK:      dynamo.GuildNamePK(g.Name),
		SK:      dynamo.SKGuildName,
		GuildID: g.ID,
		Name:    g.Name,
	}
}

func stampMember(m *types.GuildMember) {
	m.PK = dynamo.GuildPK(m.GuildID)
	m.SK = dynamo.MemberSK(m.UserID)
	m.GSI1PK = dynamo.UserPK(m.UserID)
	m.GSI1SK = dynamo.GuildPK(m.GuildID)
}

func (r *guildRepo) Create(ctx context.Context, g *types.Guild, owner *types.GuildMember) error {
	stampGuild(g)
	stampMember(owner)
	g.Version = 1
	g.MemberCount = 1

	guildItem, err := dynamo.TxPut(r.db.Table, g, dynamo.NotExists())
	if err != nil {
		return err
	}
	lockItem, err := dynamo.TxPut(r.db.Table, nameLock(g), dynamo.NotExists())
	if err != nil {
		return err
	}
	memberItem, err := dynamo.TxPut(r.db.Table, owner, dynamo.NotExists())
	if err != nil {
		return err
	}
	err = r.db.Transact(ctx, []ddbtypes.TransactWriteItem{guildItem, lockItem, memberItem}, "")
	if reasons, ok := dynamo.CancellationReasons(err); ok && dynamo.ReasonAt(reasons, 1) == dynamo.ReasonConditionalCheckFailed {
		return ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("create guild: %w", err)
	}
	return nil
}

func (r *guildRepo) Get(ctx context.Context, guildID string, consistent bool) (*types.Guild, error) {
	var g types.Guild
	ok, err := r.db.Get(ctx, dynamo.GuildPK(guildID), dynamo.SKGuildMeta, consistent, &g)
	if err != nil {
		return nil, fmt.Errorf("get guild: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (r *guildRepo) ListListed(ctx context.Context, limit int32, cursor string) ([]*types.Guild, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	start, err := dynamo.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	kc := expression.Key(dynamo.AttrGSI1PK).Equal(expression.Value(dynamo.ListedGuilds))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, "", err
	}
	items, next, err := r.db.QueryPage(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(dynamo.IndexGSI1),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         start,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, "", fmt.Errorf("list guilds: %w", err)
	}
	out := make([]*types.Guild, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// Update sets only the editable fields so a concurrent join or leave keeps its
// memberCount. The write fails when maxMembers would drop below the live count.
func (r *guildRepo) Update(ctx context.Context, g *types.Guild, expectedVersion int64, previousName string) error {
	stampGuild(g)
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	upd := editableFields(g)
	cond := dynamo.Cond(expression.Name(dynamo.AttrVersion).Equal(expression.Value(expectedVersion)).
		And(expression.Name("memberCount").LessThanEqual(expression.Value(g.MaxMembers))))

	if dynamo.NormalizeName(previousName) == dynamo.NormalizeName(g.Name) {
		var fresh types.Guild
		err := r.db.Update(ctx, g.PK, g.SK, upd, cond, &fresh)
		if dynamo.IsConditionalCheckFailed(err) {
			return r.updateRejected(ctx, g.ID, expectedVersion)
		}
		if err != nil {
			return fmt.Errorf("update guild: %w", err)
		}
		*g = fresh
		return nil
	}

	guildItem, err := dynamo.TxUpdate(r.db.Table, g.PK, g.SK, upd, cond)
	if err != nil {
		return err
	}
	dropLock, err := dynamo.TxDelete(r.db.Table, dynamo.GuildNamePK(previousName), dynamo.SKGuildName, nil)
	if err != nil {
		return err
	}
	newLock, err := dynamo.TxPut(r.db.Table, nameLock(g), dynamo.NotExists())
	if err != nil {
		return err
	}
	err = r.db.Transact(ctx, []ddbtypes.TransactWriteItem{guildItem, dropLock, newLock}, "")
	if reasons, ok := dynamo.CancellationReasons(err); ok {
		switch {
		case dynamo.ReasonAt(reasons, 0) == dynamo.ReasonConditionalCheckFailed:
			return r.updateRejected(ctx, g.ID, expectedVersion)
		case dynamo.ReasonAt(reasons, 2) == dynamo.ReasonConditionalCheckFailed:
			return ErrNameTaken
		}
	}
	if err != nil {
		return fmt.Errorf("rename guild: %w", err)
	}
	fresh, err := r.Get(ctx, g.ID, true)
	if err != nil {
		return err
	}
	*g = *fresh
	return nil
}

func editableFields(g *types.Guild) expression.UpdateBuilder {
	upd := expression.
		Set(expression.Name("name"), expression.Value(g.Name)).
		Set(expression.Name("guildType"), expression.Value(g.Type)).
		Set(expression.Name("maxMembers"), expression.Value(g.MaxMembers)).
		Set(expression.Name("updatedAt"), expression.Value(g.UpdatedAt)).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	if g.Description != "" {
		upd = upd.Set(expression.Name("description"), expression.Value(g.Description))
	} else {
		upd = upd.Remove(expression.Name("description"))
	}
	if len(g.Tags) > 0 {
		upd = upd.Set(expression.Name("tags"), expression.Value(stringSet(g.Tags)))
	} else {
		upd = upd.Remove(expression.Name("tags"))
	}
	if g.GSI1PK != "" {
		upd = upd.
			Set(expression.Name(dynamo.AttrGSI1PK), expression.Value(g.GSI1PK)).
			Set(expression.Name(dynamo.AttrGSI1SK), expression.Value(g.GSI1SK))
	} else {
		upd = upd.
			Remove(expression.Name(dynamo.AttrGSI1PK)).
			Remove(expression.Name(dynamo.AttrGSI1SK))
	}
	return upd
}

// updateRejected tells a stale version apart from a maxMembers floor violation.
func (r *guildRepo) updateRejected(ctx context.Context, guildID string, expectedVersion int64) error {
	cur, err := r.Get(ctx, guildID, true)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	return ErrMaxMembersTooLow
}

type stringSet []string

func (s stringSet) MarshalDynamoDBAttributeValue() (ddbtypes.AttributeValue, error) {
	return &ddbtypes.AttributeValueMemberSS{Value: s}, nil
}

// Delete removes the guild and its name lock atomically, then sweeps the
// partition (members, join requests) in batches.
func (r *guildRepo) Delete(ctx context.Context, g *types.Guild) error {
	guildItem, err := dynamo.TxDelete(r.db.Table, dynamo.GuildPK(g.ID), dynamo.SKGuildMeta,
		dynamo.Cond(expression.Name(dynamo.AttrVersion).Equal(expression.Value(g.Version))))
	if err != nil {
		return err
	}
	lockItem, err := dynamo.TxDelete(r.db.Table, dynamo.GuildNamePK(g.Name), dynamo.SKGuildName, nil)
	if err != nil {
		return err
	}
	err = r.db.Transact(ctx, []ddbtypes.TransactWriteItem{guildItem, lockItem}, "")
	if reasons, ok := dynamo.CancellationReasons(err); ok && dynamo.ReasonAt(reasons, 0) == dynamo.ReasonConditionalCheckFailed {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("delete guild: %w", err)
	}

	kc := expression.Key(dynamo.AttrPK).Equal(expression.Value(dynamo.GuildPK(g.ID)))
	expr, err := expression.NewBuilder().
		WithKeyCondition(kc).
		WithProjection(expression.NamesList(expression.Name(dynamo.AttrPK), expression.Name(dynamo.AttrSK))).
		Build()
	if err != nil {
		return err
	}
	items, err := r.db.QueryAll(ctx, &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("list guild children: %w", err)
	}
	keys := make([]map[string]ddbtypes.AttributeValue, 0, len(items))
	for _, it := range items {
		keys = append(keys, dynamo.KeyOf(it))
	}
	if err := r.db.DeleteKeys(ctx, keys); err != nil {
		r.log.Warn("guild children cleanup incomplete", "guild_id", g.ID, "error", err)
		return err
	}
	return nil
}

func (r *guildRepo) SetInviteCodeHash(ctx context.Context, guildID, hash string) error {
	upd := expression.
		Set(expression.Name("inviteCodeHash"), expression.Value(hash)).
		Set(expression.Name("updatedAt"), expression.Value(time.Now().UTC())).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	err := r.db.Update(ctx, dynamo.GuildPK(guildID), dynamo.SKGuildMeta, upd, dynamo.Exists(), nil)
	if dynamo.IsConditionalCheckFailed(err) {
		return ErrNotFound
	}
	return err
}

func (r *guildRepo) GetMember(ctx context.Context, guildID, userID string) (*types.GuildMember, error) {
	var m types.GuildMember
	ok, err := r.db.Get(ctx, dynamo.GuildPK(guildID), dynamo.MemberSK(userID), true, &m)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if !ok {
		return nil, ErrNotMember
	}
	return &m, nil
}

func (r *guildRepo) ListMembers(ctx context.Context, guildID string) ([]*types.GuildMember, error) {
	out := []*types.GuildMember{}
	if err := r.queryChildren(ctx, guildID, dynamo.PrefixMember, &out); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func (r *guildRepo) ListJoinRequests(ctx context.Context, guildID string) ([]*types.GuildJoinRequest, error) {
	out := []*types.GuildJoinRequest{}
	if err := r.queryChildren(ctx, guildID, dynamo.PrefixJoinRequest, &out); err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	return out, nil
}

func (r *guildRepo) queryChildren(ctx context.Context, guildID, prefix string, out any) error {
	kc := expression.Key(dynamo.AttrPK).Equal(expression.Value(dynamo.GuildPK(guildID))).
		And(expression.Key(dynamo.AttrSK).BeginsWith(prefix))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return err
	}
	items, err := r.db.QueryAll(ctx, &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return err
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (r *guildRepo) ListMemberships(ctx context.Context, userID string) ([]*types.GuildMember, error) {
	kc := expression.Key(dynamo.AttrGSI1PK).Equal(expression.Value(dynamo.UserPK(userID))).
		And(expression.Key(dynamo.AttrGSI1SK).BeginsWith(dynamo.PrefixGuild))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, err
	}
	items, err := r.db.QueryAll(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(dynamo.IndexGSI1),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]*types.GuildMember, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *guildRepo) AddMember(ctx context.Context, m *types.GuildMember, fromRequest bool) error {
	stampMember(m)
	memberItem, err := dynamo.TxPut(r.db.Table, m, dynamo.NotExists())
	if err != nil {
		return err
	}
	upd := expression.
		Add(expression.Name("memberCount"), expression.Value(1)).
		Set(expression.Name("updatedAt"), expression.Value(m.JoinedAt))
	capacity := expression.AttributeExists(expression.Name(dynamo.AttrPK)).
		And(expression.Name("memberCount").LessThan(expression.Name("maxMembers")))
	countItem, err := dynamo.TxUpdate(r.db.Table, dynamo.GuildPK(m.GuildID), dynamo.SKGuildMeta, upd, dynamo.Cond(capacity))
	if err != nil {
		return err
	}
	items := []ddbtypes.TransactWriteItem{memberItem, countItem}
	if fromRequest {
		reqItem, err := dynamo.TxDelete(r.db.Table, dynamo.GuildPK(m.GuildID), dynamo.JoinRequestSK(m.UserID), dynamo.Exists())
		if err != nil {
			return err
		}
		items = append(items, reqItem)
	}

	err = r.db.Transact(ctx, items, "")
	if reasons, ok := dynamo.CancellationReasons(err); ok {
		switch {
		case dynamo.ReasonAt(reasons, 0) == dynamo.ReasonConditionalCheckFailed:
			return ErrAlreadyMember
		case dynamo.ReasonAt(reasons, 1) == dynamo.ReasonConditionalCheckFailed:
			return ErrGuildFull
		case dynamo.ReasonAt(reasons, 2) == dynamo.ReasonConditionalCheckFailed:
			return ErrRequestMissing
		}
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember refuses to remove the owner; ownership must move first.
func (r *guildRepo) RemoveMember(ctx context.Context, guildID, userID string) error {
	cond := expression.AttributeExists(expression.Name(dynamo.AttrPK)).
		And(expression.Name("role").NotEqual(expression.Value(guilddomain.RoleOwner)))
	memberItem, err := dynamo.TxDelete(r.db.Table, dynamo.GuildPK(guildID), dynamo.MemberSK(userID), dynamo.Cond(cond))
	if err != nil {
		return err
	}
	upd := expression.
		Add(expression.Name("memberCount"), expression.Value(-1)).
		Set(expression.Name("updatedAt"), expression.Value(time.Now().UTC()))
	countItem, err := dynamo.TxUpdate(r.db.Table, dynamo.GuildPK(guildID), dynamo.SKGuildMeta, upd, dynamo.Exists())
	if err != nil {
		return err
	}
	err = r.db.Transact(ctx, []ddbtypes.TransactWriteItem{memberItem, countItem}, "")
	if reasons, ok := dynamo.CancellationReasons(err); ok {
		switch {
		case dynamo.ReasonAt(reasons, 0) == dynamo.ReasonConditionalCheckFailed:
			return ErrNotMember
		case dynamo.ReasonAt(reasons, 1) == dynamo.ReasonConditionalCheckFailed:
			return ErrNotFound
		}
	}
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (r *guildRepo) SetRole(ctx context.Context, guildID, userID string, role guilddomain.Role) error {
	upd := expression.Set(expression.Name("role"), expression.Value(role))
	cond := expression.AttributeExists(expression.Name(dynamo.AttrPK)).
		And(expression.Name("role").NotEqual(expression.Value(guilddomain.RoleOwner)))
	err := r.db.Update(ctx, dynamo.GuildPK(guildID), dynamo.MemberSK(userID), upd, dynamo.Cond(cond), nil)
	if dynamo.IsConditionalCheckFailed(err) {
		return ErrNotMember
	}
	return err
}

func (r *guildRepo) TransferOwnership(ctx context.Context, guildID, fromUserID, toUserID string) error {
	now := time.Now().UTC()
	guildUpd := expression.
		Set(expression.Name("ownerId"), expression.Value(toUserID)).
		Set(expression.Name("updatedAt"), expression.Value(now)).
		Add(expression.Name(dynamo.AttrVersion), expression.Value(1))
	guildItem, err := dynamo.TxUpdate(r.db.Table, dynamo.GuildPK(guildID), dynamo.SKGuildMeta, guildUpd,
		dynamo.Cond(expression.Name("ownerId").Equal(expression.Value(fromUserID))))
	if err != nil {
		return err
	}
	demote, err := dynamo.TxUpdate(r.db.Table, dynamo.GuildPK(guildID), dynamo.MemberSK(fromUserID),
		expression.Set(expression.Name("role"), expression.Value(guilddomain.RoleModerator)),
		dynamo.Cond(expression.Name("role").Equal(expression.Value(guilddomain.RoleOwner))))
	if err != nil {
		return err
	}
	promote, err := dynamo.TxUpdate(r.db.Table, dynamo.GuildPK(guildID), dynamo.MemberSK(toUserID),
		expression.Set(expression.Name("role"), expression.Value(guilddomain.RoleOwner)),
		dynamo.Exists())
	if err != nil {
		return err
	}
	err = r.db.Transact(ctx, []ddbtypes.TransactWriteItem{guildItem, demote, promote}, "")
	if reasons, ok := dynamo.CancellationReasons(err); ok {
		switch {
		case dynamo.ReasonAt(reasons, 0) == dynamo.ReasonConditionalCheckFailed,
			dynamo.ReasonAt(reasons, 1) == dynamo.ReasonConditionalCheckFailed:
			return ErrOwnerMismatch
		case dynamo.ReasonAt(reasons, 2) == dynamo.ReasonConditionalCheckFailed:
			return ErrNotMember
		}
	}
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	return nil
}

func (r *guildRepo) PutJoinRequest(ctx context.Context, jr *types.GuildJoinRequest) error {
	jr.PK = dynamo.GuildPK(jr.GuildID)
	jr.SK = dynamo.JoinRequestSK(jr.UserID)
	err := r.db.Put(ctx, jr, dynamo.NotExists())
	if dynamo.IsConditionalCheckFailed(err) {
		return ErrRequestExists
	}
	return err
}

func (r *guildRepo) GetJoinRequest(ctx context.Context, guildID, userID string) (*types.GuildJoinRequest, error) {
	var jr types.GuildJoinRequest
	ok, err := r.db.Get(ctx, dynamo.GuildPK(guildID), dynamo.JoinRequestSK(userID), true, &jr)
	if err != nil {
		return nil, fmt.Errorf("get join request: %w", err)
	}
	if !ok {
		return nil, ErrRequestMissing
	}
	return &jr, nil
}

func (r *guildRepo) DeleteJoinRequest(ctx context.Context, guildID, userID string) error {
	err := r.db.Delete(ctx, dynamo.GuildPK(guildID), dynamo.JoinRequestSK(userID), dynamo.Exists())
	if dynamo.IsConditionalCheckFailed(err) {
		return ErrRequestMissing
	}
	return err
}
