package services

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/questline-backend/internal/data/repos"
	guildrepo "github.com/yungbote/questline-backend/internal/data/repos/guild"
	types "github.com/yungbote/questline-backend/internal/domain"
	guilddomain "github.com/yungbote/questline-backend/internal/domain/guild"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type CreateGuildInput struct {
	Name        string           `json:"name" binding:"required,min=3,max=50"`
	Description string           `json:"description" binding:"max=500"`
	Type        guilddomain.Type `json:"type" binding:"required,oneof=public approval private"`
	Tags        []string         `json:"tags" binding:"max=10,dive,slug,max=30"`
	MaxMembers  int64            `json:"max_members" binding:"omitempty,min=2,max=500"`
}

type UpdateGuildInput struct {
	Name        *string           `json:"name" binding:"omitempty,min=3,max=50"`
	Description *string           `json:"description" binding:"omitempty,max=500"`
	Type        *guilddomain.Type `json:"type" binding:"omitempty,oneof=public approval private"`
	Tags        *[]string         `json:"tags" binding:"omitempty,max=10,dive,slug,max=30"`
	MaxMembers  *int64            `json:"max_members" binding:"omitempty,min=2,max=500"`
	Version     int64             `json:"version" binding:"required,min=1"`
}

type JoinGuildInput struct {
	InviteCode string `json:"invite_code" binding:"max=64"`
	Message    string `json:"message" binding:"max=280"`
}

// GuildWithCode is returned where a plaintext invite code is minted. The code
// is shown once; only its hash is stored.
type GuildWithCode struct {
	Guild      *types.Guild `json:"guild"`
	InviteCode string       `json:"invite_code,omitempty"`
}

type GuildPage struct {
	Guilds     []*types.Guild `json:"guilds"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type Membership struct {
	Guild *types.Guild     `json:"guild"`
	Role  guilddomain.Role `json:"role"`
}

type GuildConfig struct {
	// OwnedLimits caps guilds owned per tier; 0 or missing is unlimited.
	OwnedLimits map[types.Tier]int
	BcryptCost  int
}

type GuildService interface {
	Create(ctx context.Context, in CreateGuildInput) (*GuildWithCode, error)
	Get(ctx context.Context, guildID string) (*types.Guild, error)
	ListListed(ctx context.Context, limit int, cursor string) (*GuildPage, error)
	ListMine(ctx context.Context) ([]Membership, error)
	Update(ctx context.Context, guildID string, in UpdateGuildInput) (*types.Guild, error)
	Delete(ctx context.Context, guildID string) error

	Join(ctx context.Context, guildID string, in JoinGuildInput) (guilddomain.JoinOutcome, error)
	Leave(ctx context.Context, guildID string) error
	ListMembers(ctx context.Context, guildID string) ([]*types.GuildMember, error)
	ListJoinRequests(ctx context.Context, guildID string) ([]*types.GuildJoinRequest, error)
	ApproveJoinRequest(ctx context.Context, guildID, userID string) error
	RejectJoinRequest(ctx context.Context, guildID, userID string) error
	RemoveMember(ctx context.Context, guildID, userID string) error
	SetMemberRole(ctx context.Context, guildID, userID string, role guilddomain.Role) error
	TransferOwnership(ctx context.Context, guildID, toUserID string) error
	RotateInviteCode(ctx context.Context, guildID string) (string, error)
}

type guildService struct {
	log      *logger.Logger
	guilds   repos.GuildRepo
	profiles repos.ProfileRepo
	cfg      GuildConfig
	now      func() time.Time
}

func NewGuildService(log *logger.Logger, guilds repos.GuildRepo, profiles repos.ProfileRepo, cfg GuildConfig) GuildService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &guildService{
		log:      log.With("service", "GuildService"),
		guilds:   guilds,
		profiles: profiles,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *guildService) Create(ctx context.Context, in CreateGuildInput) (*GuildWithCode, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if utf8.RuneCountInString(name) < 3 {
		return nil, apierr.BadRequest("invalid_name", "name must have at least 3 characters")
	}
	if !in.Type.Valid() {
		return nil, apierr.BadRequest("invalid_type", "unknown guild type %q", in.Type)
	}
	if err := s.checkOwnedLimit(ctx, rd.UserID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("guild id: %w", err)
	}
	now := s.now()
	g := &types.Guild{
		ID:          id.String(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     rd.UserID,
		Type:        in.Type,
		Tags:        normalizeTags(in.Tags),
		MaxMembers:  in.MaxMembers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if g.MaxMembers == 0 {
		g.MaxMembers = guilddomain.DefaultMaxMembers
	}
	out := &GuildWithCode{Guild: g}
	if g.Type == guilddomain.TypePrivate {
		code, hash, err := s.newInviteCode()
		if err != nil {
			return nil, err
		}
		g.InviteCodeHash = hash
		out.InviteCode = code
	}
	owner := &types.GuildMember{
		GuildID:     g.ID,
		UserID:      rd.UserID,
		Username:    rd.Username,
		DisplayName: rd.DisplayName,
		Role:        guilddomain.RoleOwner,
		JoinedAt:    now,
	}
	if err := s.guilds.Create(ctx, g, owner); err != nil {
		return nil, guildErr(err)
	}
	s.log.Info("guild created", "guild_id", g.ID, "owner_id", rd.UserID, "type", g.Type)
	return out, nil
}

func (s *guildService) checkOwnedLimit(ctx context.Context, userID string) error {
	tier, err := s.profiles.TierOf(ctx, userID)
	if err != nil {
		return err
	}
	limit := s.cfg.OwnedLimits[tier]
	if limit <= 0 {
		return nil
	}
	memberships, err := s.guilds.ListMemberships(ctx, userID)
	if err != nil {
		return err
	}
	owned := 0
	for _, m := range memberships {
		if m.Role == guilddomain.RoleOwner {
			owned++
		}
	}
	if owned >= limit {
		return apierr.Forbidden("guild_limit", "%s tier allows %d owned guilds", tier, limit)
	}
	return nil
}

// Get hides private guilds from non-members.
func (s *guildService) Get(ctx context.Context, guildID string) (*types.Guild, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	g, _, err := s.visible(ctx, guildID, rd.UserID)
	return g, err
}

func (s *guildService) visible(ctx context.Context, guildID, userID string) (*types.Guild, *types.GuildMember, error) {
	g, err := s.guilds.Get(ctx, guildID, false)
	if err != nil {
		return nil, nil, guildErr(err)
	}
	m, err := s.member(ctx, guildID, userID)
	if err != nil {
		return nil, nil, err
	}
	if g.Type == guilddomain.TypePrivate && m == nil {
		return nil, nil, apierr.NotFound("guild_not_found", "guild not found")
	}
	return g, m, nil
}

// member returns nil without error when userID is not in the guild.
func (s *guildService) member(ctx context.Context, guildID, userID string) (*types.GuildMember, error) {
	m, err := s.guilds.GetMember(ctx, guildID, userID)
	if errors.Is(err, guildrepo.ErrNotMember) {
		return nil, nil
	}
	return m, err
}

func (s *guildService) requireRole(ctx context.Context, guildID, userID string, roles ...guilddomain.Role) (*types.GuildMember, error) {
	m, err := s.member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		for _, r := range roles {
			if m.Role == r {
				return m, nil
			}
		}
	}
	return nil, apierr.Forbidden("insufficient_role", "requires role %v", roles)
}

func (s *guildService) ListListed(ctx context.Context, limit int, cursor string) (*GuildPage, error) {
	if _, err := dynamo.DecodeCursor(cursor); err != nil {
		return nil, apierr.BadRequest("invalid_cursor", "malformed cursor")
	}
	guilds, next, err := s.guilds.ListListed(ctx, int32(limit), cursor)
	if err != nil {
		return nil, err
	}
	return &GuildPage{Guilds: guilds, NextCursor: next}, nil
}

// ListMine loads the caller's guilds concurrently. Memberships whose guild
// has disappeared are skipped.
func (s *guildService) ListMine(ctx context.Context) ([]Membership, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	memberships, err := s.guilds.ListMemberships(ctx, rd.UserID)
	if err != nil {
		return nil, err
	}
	loaded := make([]*types.Guild, len(memberships))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, m := range memberships {
		g.Go(func() error {
			guild, err := s.guilds.Get(gctx, m.GuildID, false)
			if errors.Is(err, guildrepo.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			loaded[i] = guild
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Membership, 0, len(memberships))
	for i, m := range memberships {
		if loaded[i] != nil {
			out = append(out, Membership{Guild: loaded[i], Role: m.Role})
		}
	}
	return out, nil
}

func (s *guildService) Update(ctx context.Context, guildID string, in UpdateGuildInput) (*types.Guild, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner, guilddomain.RoleModerator); err != nil {
		return nil, err
	}
	g, err := s.guilds.Get(ctx, guildID, true)
	if err != nil {
		return nil, guildErr(err)
	}
	if in.Version != g.Version {
		return nil, apierr.Conflict("version_conflict", "guild was modified")
	}
	previousName := g.Name
	if in.Name != nil {
		g.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		g.Description = strings.TrimSpace(*in.Description)
	}
	if in.Type != nil {
		g.Type = *in.Type
	}
	if in.Tags != nil {
		g.Tags = normalizeTags(*in.Tags)
	}
	if in.MaxMembers != nil {
		if *in.MaxMembers < g.MemberCount {
			return nil, apierr.BadRequest("max_members_too_low", "guild already has %d members", g.MemberCount)
		}
		g.MaxMembers = *in.MaxMembers
	}
	g.UpdatedAt = s.now()
	if err := s.guilds.Update(ctx, g, in.Version, previousName); err != nil {
		return nil, guildErr(err)
	}
	return g, nil
}

func (s *guildService) Delete(ctx context.Context, guildID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	g, err := s.guilds.Get(ctx, guildID, true)
	if err != nil {
		return guildErr(err)
	}
	if g.OwnerID != rd.UserID {
		return apierr.Forbidden("insufficient_role", "only the owner can delete a guild")
	}
	if err := s.guilds.Delete(ctx, g); err != nil {
		return guildErr(err)
	}
	s.log.Info("guild deleted", "guild_id", guildID, "owner_id", rd.UserID)
	return nil
}

func (s *guildService) Join(ctx context.Context, guildID string, in JoinGuildInput) (guilddomain.JoinOutcome, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return "", err
	}
	g, err := s.guilds.Get(ctx, guildID, false)
	if err != nil {
		return "", guildErr(err)
	}
	if m, err := s.member(ctx, guildID, rd.UserID); err != nil {
		return "", err
	} else if m != nil {
		return "", apierr.Conflict("already_member", "already a member")
	}

	switch g.Type {
	case guilddomain.TypeApproval:
		err := s.guilds.PutJoinRequest(ctx, &types.GuildJoinRequest{
			GuildID:   guildID,
			UserID:    rd.UserID,
			Username:  rd.Username,
			Message:   strings.TrimSpace(in.Message),
			CreatedAt: s.now(),
		})
		if err != nil {
			return "", guildErr(err)
		}
		return guilddomain.JoinRequested, nil
	case guilddomain.TypePrivate:
		if g.InviteCodeHash == "" || in.InviteCode == "" ||
			bcrypt.CompareHashAndPassword([]byte(g.InviteCodeHash), []byte(normalizeCode(in.InviteCode))) != nil {
			return "", apierr.Forbidden("invalid_invite_code", "invite code does not match")
		}
	}

	err = s.guilds.AddMember(ctx, &types.GuildMember{
		GuildID:     guildID,
		UserID:      rd.UserID,
		Username:    rd.Username,
		DisplayName: rd.DisplayName,
		Role:        guilddomain.RoleMember,
		JoinedAt:    s.now(),
	}, false)
	if err != nil {
		return "", guildErr(err)
	}
	s.log.Info("guild joined", "guild_id", guildID, "user_id", rd.UserID)
	return guilddomain.JoinJoined, nil
}

func (s *guildService) Leave(ctx context.Context, guildID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	m, err := s.member(ctx, guildID, rd.UserID)
	if err != nil {
		return err
	}
	if m == nil {
		return apierr.NotFound("not_member", "not a member")
	}
	if m.Role == guilddomain.RoleOwner {
		return apierr.Conflict("owner_must_transfer", "transfer ownership before leaving")
	}
	return guildErr(s.guilds.RemoveMember(ctx, guildID, rd.UserID))
}

func (s *guildService) ListMembers(ctx context.Context, guildID string) ([]*types.GuildMember, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.visible(ctx, guildID, rd.UserID); err != nil {
		return nil, err
	}
	return s.guilds.ListMembers(ctx, guildID)
}

func (s *guildService) ListJoinRequests(ctx context.Context, guildID string) ([]*types.GuildJoinRequest, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner, guilddomain.RoleModerator); err != nil {
		return nil, err
	}
	return s.guilds.ListJoinRequests(ctx, guildID)
}

func (s *guildService) ApproveJoinRequest(ctx context.Context, guildID, userID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner, guilddomain.RoleModerator); err != nil {
		return err
	}
	jr, err := s.guilds.GetJoinRequest(ctx, guildID, userID)
	if err != nil {
		return guildErr(err)
	}
	err = s.guilds.AddMember(ctx, &types.GuildMember{
		GuildID:  guildID,
		UserID:   userID,
		Username: jr.Username,
		Role:     guilddomain.RoleMember,
		JoinedAt: s.now(),
	}, true)
	if err != nil {
		return guildErr(err)
	}
	s.log.Info("join request approved", "guild_id", guildID, "user_id", userID)
	return nil
}

func (s *guildService) RejectJoinRequest(ctx context.Context, guildID, userID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner, guilddomain.RoleModerator); err != nil {
		return err
	}
	return guildErr(s.guilds.DeleteJoinRequest(ctx, guildID, userID))
}

func (s *guildService) RemoveMember(ctx context.Context, guildID, userID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if userID == rd.UserID {
		return s.Leave(ctx, guildID)
	}
	actor, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner, guilddomain.RoleModerator)
	if err != nil {
		return err
	}
	target, err := s.member(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return apierr.NotFound("not_member", "user is not a member")
	}
	if !actor.Role.CanManage(target.Role) {
		return apierr.Forbidden("insufficient_role", "cannot remove a %s", target.Role)
	}
	if err := s.guilds.RemoveMember(ctx, guildID, userID); err != nil {
		return guildErr(err)
	}
	s.log.Info("guild member removed", "guild_id", guildID, "user_id", userID, "by", rd.UserID)
	return nil
}

func (s *guildService) SetMemberRole(ctx context.Context, guildID, userID string, role guilddomain.Role) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if role != guilddomain.RoleModerator && role != guilddomain.RoleMember {
		return apierr.BadRequest("invalid_role", "role must be moderator or member")
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner); err != nil {
		return err
	}
	if userID == rd.UserID {
		return apierr.BadRequest("invalid_target", "use ownership transfer to change your own role")
	}
	return guildErr(s.guilds.SetRole(ctx, guildID, userID, role))
}

func (s *guildService) TransferOwnership(ctx context.Context, guildID, toUserID string) error {
	rd, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if toUserID == rd.UserID {
		return apierr.BadRequest("invalid_target", "already the owner")
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner); err != nil {
		return err
	}
	if err := s.guilds.TransferOwnership(ctx, guildID, rd.UserID, toUserID); err != nil {
		return guildErr(err)
	}
	s.log.Info("guild ownership transferred", "guild_id", guildID, "from", rd.UserID, "to", toUserID)
	return nil
}

func (s *guildService) RotateInviteCode(ctx context.Context, guildID string) (string, error) {
	rd, err := requireUser(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.requireRole(ctx, guildID, rd.UserID, guilddomain.RoleOwner); err != nil {
		return "", err
	}
	g, err := s.guilds.Get(ctx, guildID, false)
	if err != nil {
		return "", guildErr(err)
	}
	if g.Type != guilddomain.TypePrivate {
		return "", apierr.Conflict("not_private", "only private guilds use invite codes")
	}
	code, hash, err := s.newInviteCode()
	if err != nil {
		return "", err
	}
	if err := s.guilds.SetInviteCodeHash(ctx, guildID, hash); err != nil {
		return "", guildErr(err)
	}
	return code, nil
}

var inviteEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func (s *guildService) newInviteCode() (code, hash string, err error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("invite code: %w", err)
	}
	code = inviteEncoding.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("hash invite code: %w", err)
	}
	return code, string(h), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

func guildErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, guildrepo.ErrNotFound):
		return apierr.NotFound("guild_not_found", "guild not found")
	case errors.Is(err, guildrepo.ErrNameTaken):
		return apierr.Conflict("name_taken", "guild name already taken")
	case errors.Is(err, guildrepo.ErrVersionConflict):
		return apierr.Conflict("version_conflict", "guild was modified")
	case errors.Is(err, guildrepo.ErrAlreadyMember):
		return apierr.Conflict("already_member", "already a member")
	case errors.Is(err, guildrepo.ErrNotMember):
		return apierr.NotFound("not_member", "user is not a member")
	case errors.Is(err, guildrepo.ErrGuildFull):
		return apierr.Conflict("guild_full", "guild is full")
	case errors.Is(err, guildrepo.ErrRequestExists):
		return apierr.Conflict("request_pending", "join request already pending")
	case errors.Is(err, guildrepo.ErrRequestMissing):
		return apierr.NotFound("request_not_found", "join request not found")
	case errors.Is(err, guildrepo.ErrOwnerMismatch):
		return apierr.Conflict("owner_changed", "guild ownership changed")
	case errors.Is(err, guildrepo.ErrMaxMembersTooLow):
		return apierr.BadRequest("max_members_too_low", "max members is below the current member count")
	}
	return err
}
