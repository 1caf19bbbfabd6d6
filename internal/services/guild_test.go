package services

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	guildrepo "github.com/yungbote/questline-backend/internal/data/repos/guild"
	types "github.com/yungbote/questline-backend/internal/domain"
	guilddomain "github.com/yungbote/questline-backend/internal/domain/guild"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type fakeGuilds struct {
	mu       sync.Mutex
	guilds   map[string]*types.Guild
	names    map[string]string
	members  map[string]map[string]*types.GuildMember
	requests map[string]map[string]*types.GuildJoinRequest

	// beforeUpdate runs ahead of Update, standing in for a concurrent writer.
	beforeUpdate func()
}

func newFakeGuilds() *fakeGuilds {
	return &fakeGuilds{
		guilds:   map[string]*types.Guild{},
		names:    map[string]string{},
		members:  map[string]map[string]*types.GuildMember{},
		requests: map[string]map[string]*types.GuildJoinRequest{},
	}
}

func (f *fakeGuilds) Create(_ context.Context, g *types.Guild, owner *types.GuildMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.names[dynamo.NormalizeName(g.Name)]; ok {
		return guildrepo.ErrNameTaken
	}
	g.Version, g.MemberCount = 1, 1
	cp := *g
	f.guilds[g.ID] = &cp
	f.names[dynamo.NormalizeName(g.Name)] = g.ID
	m := *owner
	f.members[g.ID] = map[string]*types.GuildMember{owner.UserID: &m}
	f.requests[g.ID] = map[string]*types.GuildJoinRequest{}
	return nil
}

func (f *fakeGuilds) Get(_ context.Context, guildID string, _ bool) (*types.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guilds[guildID]
	if !ok {
		return nil, guildrepo.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGuilds) ListListed(_ context.Context, _ int32, _ string) ([]*types.Guild, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Guild
	for _, g := range f.guilds {
		if g.Type.Listed() {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, "", nil
}

func (f *fakeGuilds) Update(_ context.Context, g *types.Guild, expected int64, previousName string) error {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.guilds[g.ID]
	if !ok || cur.Version != expected {
		return guildrepo.ErrVersionConflict
	}
	if cur.MemberCount > g.MaxMembers {
		return guildrepo.ErrMaxMembersTooLow
	}
	oldKey, newKey := dynamo.NormalizeName(previousName), dynamo.NormalizeName(g.Name)
	if oldKey != newKey {
		if _, taken := f.names[newKey]; taken {
			return guildrepo.ErrNameTaken
		}
		delete(f.names, oldKey)
		f.names[newKey] = g.ID
	}
	next := *cur
	next.Name, next.Description, next.Type, next.Tags = g.Name, g.Description, g.Type, g.Tags
	next.MaxMembers, next.UpdatedAt = g.MaxMembers, g.UpdatedAt
	next.Version = expected + 1
	f.guilds[g.ID] = &next
	*g = next
	return nil
}

func (f *fakeGuilds) Delete(_ context.Context, g *types.Guild) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.guilds, g.ID)
	delete(f.names, dynamo.NormalizeName(g.Name))
	delete(f.members, g.ID)
	delete(f.requests, g.ID)
	return nil
}

func (f *fakeGuilds) SetInviteCodeHash(_ context.Context, guildID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[guildID].InviteCodeHash = hash
	return nil
}

func (f *fakeGuilds) GetMember(_ context.Context, guildID, userID string) (*types.GuildMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID][userID]
	if !ok {
		return nil, guildrepo.ErrNotMember
	}
	cp := *m
	return &cp, nil
}

func (f *fakeGuilds) ListMembers(_ context.Context, guildID string) ([]*types.GuildMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*types.GuildMember{}
	for _, m := range f.members[guildID] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeGuilds) ListMemberships(_ context.Context, userID string) ([]*types.GuildMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.GuildMember
	for _, ms := range f.members {
		if m, ok := ms[userID]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (f *fakeGuilds) AddMember(_ context.Context, m *types.GuildMember, fromRequest bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.guilds[m.GuildID]
	if _, ok := f.members[m.GuildID][m.UserID]; ok {
		return guildrepo.ErrAlreadyMember
	}
	if g.MemberCount >= g.MaxMembers {
		return guildrepo.ErrGuildFull
	}
	if fromRequest {
		if _, ok := f.requests[m.GuildID][m.UserID]; !ok {
			return guildrepo.ErrRequestMissing
		}
		delete(f.requests[m.GuildID], m.UserID)
	}
	cp := *m
	f.members[m.GuildID][m.UserID] = &cp
	g.MemberCount++
	return nil
}

func (f *fakeGuilds) RemoveMember(_ context.Context, guildID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID][userID]
	if !ok || m.Role == guilddomain.RoleOwner {
		return guildrepo.ErrNotMember
	}
	delete(f.members[guildID], userID)
	f.guilds[guildID].MemberCount--
	return nil
}

func (f *fakeGuilds) SetRole(_ context.Context, guildID, userID string, role guilddomain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID][userID]
	if !ok || m.Role == guilddomain.RoleOwner {
		return guildrepo.ErrNotMember
	}
	m.Role = role
	return nil
}

func (f *fakeGuilds) TransferOwnership(_ context.Context, guildID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.guilds[guildID]
	if g.OwnerID != from {
		return guildrepo.ErrOwnerMismatch
	}
	target, ok := f.members[guildID][to]
	if !ok {
		return guildrepo.ErrNotMember
	}
	f.members[guildID][from].Role = guilddomain.RoleModerator
	target.Role = guilddomain.RoleOwner
	g.OwnerID = to
	g.Version++
	return nil
}

func (f *fakeGuilds) PutJoinRequest(_ context.Context, jr *types.GuildJoinRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[jr.GuildID][jr.UserID]; ok {
		return guildrepo.ErrRequestExists
	}
	cp := *jr
	f.requests[jr.GuildID][jr.UserID] = &cp
	return nil
}

func (f *fakeGuilds) GetJoinRequest(_ context.Context, guildID, userID string) (*types.GuildJoinRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jr, ok := f.requests[guildID][userID]
	if !ok {
		return nil, guildrepo.ErrRequestMissing
	}
	cp := *jr
	return &cp, nil
}

func (f *fakeGuilds) ListJoinRequests(_ context.Context, guildID string) ([]*types.GuildJoinRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*types.GuildJoinRequest{}
	for _, jr := range f.requests[guildID] {
		cp := *jr
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeGuilds) DeleteJoinRequest(_ context.Context, guildID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[guildID][userID]; !ok {
		return guildrepo.ErrRequestMissing
	}
	delete(f.requests[guildID], userID)
	return nil
}

func newGuildFixture() (*guildService, *fakeGuilds, *fakeProfiles) {
	guilds := newFakeGuilds()
	profiles := newFakeProfiles("owner", "alice", "bob")
	svc := NewGuildService(logger.Nop(), guilds, profiles, GuildConfig{
		OwnedLimits: map[types.Tier]int{"free": 1, "premium": 3},
		BcryptCost:  bcrypt.MinCost,
	}).(*guildService)
	svc.now = func() time.Time { return testNow }
	return svc, guilds, profiles
}

func createGuild(t *testing.T, svc *guildService, owner string, in CreateGuildInput) *GuildWithCode {
	t.Helper()
	out, err := svc.Create(userCtx(owner), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return out
}

func wantCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	gotStatus, gotCode := apierr.From(err)
	if gotStatus != status || gotCode != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, gotStatus, gotCode, err)
	}
}

func TestCreateGuild(t *testing.T) {
	svc, guilds, profiles := newGuildFixture()
	out := createGuild(t, svc, "owner", CreateGuildInput{Name: "Night Runners", Type: guilddomain.TypePublic})
	g := out.Guild
	if g.MaxMembers != guilddomain.DefaultMaxMembers || g.MemberCount != 1 || out.InviteCode != "" {
		t.Fatalf("unexpected guild: %+v", out)
	}
	if m := guilds.members[g.ID]["owner"]; m == nil || m.Role != guilddomain.RoleOwner {
		t.Fatalf("owner membership missing")
	}

	_, err := svc.Create(userCtx("alice"), CreateGuildInput{Name: "night runners", Type: guilddomain.TypePublic})
	wantCode(t, err, http.StatusConflict, "name_taken")

	_, err = svc.Create(userCtx("owner"), CreateGuildInput{Name: "Second", Type: guilddomain.TypePublic})
	wantCode(t, err, http.StatusForbidden, "guild_limit")

	profiles.setTier("owner", "premium")
	createGuild(t, svc, "owner", CreateGuildInput{Name: "Second", Type: guilddomain.TypePublic})
}

func TestCreateGuildNameLengthCountsCharacters(t *testing.T) {
	svc, _, _ := newGuildFixture()
	_, err := svc.Create(userCtx("owner"), CreateGuildInput{Name: "ñø", Type: guilddomain.TypePublic})
	wantCode(t, err, http.StatusBadRequest, "invalid_name")
	g := createGuild(t, svc, "owner", CreateGuildInput{Name: "ñøø", Type: guilddomain.TypePublic}).Guild
	if g.Name != "ñøø" {
		t.Fatalf("unexpected name %q", g.Name)
	}
}

func TestJoinByGuildType(t *testing.T) {
	svc, guilds, _ := newGuildFixture()
	public := createGuild(t, svc, "owner", CreateGuildInput{Name: "Public Guild", Type: guilddomain.TypePublic, MaxMembers: 2}).Guild
	approval := createGuild(t, svc, "alice", CreateGuildInput{Name: "Approval Guild", Type: guilddomain.TypeApproval}).Guild

	outcome, err := svc.Join(userCtx("bob"), public.ID, JoinGuildInput{})
	if err != nil || outcome != guilddomain.JoinJoined {
		t.Fatalf("public join: %s %v", outcome, err)
	}
	_, err = svc.Join(userCtx("bob"), public.ID, JoinGuildInput{})
	wantCode(t, err, http.StatusConflict, "already_member")
	_, err = svc.Join(userCtx("carol"), public.ID, JoinGuildInput{})
	wantCode(t, err, http.StatusConflict, "guild_full")

	outcome, err = svc.Join(userCtx("bob"), approval.ID, JoinGuildInput{Message: "hi"})
	if err != nil || outcome != guilddomain.JoinRequested {
		t.Fatalf("approval join: %s %v", outcome, err)
	}
	_, err = svc.Join(userCtx("bob"), approval.ID, JoinGuildInput{})
	wantCode(t, err, http.StatusConflict, "request_pending")

	err = svc.ApproveJoinRequest(userCtx("bob"), approval.ID, "bob")
	wantCode(t, err, http.StatusForbidden, "insufficient_role")
	if err := svc.ApproveJoinRequest(userCtx("alice"), approval.ID, "bob"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if guilds.members[approval.ID]["bob"] == nil || len(guilds.requests[approval.ID]) != 0 {
		t.Fatalf("approval did not convert request into membership")
	}
	err = svc.RejectJoinRequest(userCtx("alice"), approval.ID, "bob")
	wantCode(t, err, http.StatusNotFound, "request_not_found")
}

func TestPrivateGuildInviteCode(t *testing.T) {
	svc, _, _ := newGuildFixture()
	out := createGuild(t, svc, "owner", CreateGuildInput{Name: "Secret Club", Type: guilddomain.TypePrivate})
	if out.InviteCode == "" || out.Guild.InviteCodeHash == "" || out.Guild.InviteCodeHash == out.InviteCode {
		t.Fatalf("invite code not minted and hashed: %+v", out)
	}

	_, err := svc.Get(userCtx("alice"), out.Guild.ID)
	wantCode(t, err, http.StatusNotFound, "guild_not_found")

	_, err = svc.Join(userCtx("alice"), out.Guild.ID, JoinGuildInput{InviteCode: "WRONG"})
	wantCode(t, err, http.StatusForbidden, "invalid_invite_code")

	if _, err := svc.Join(userCtx("alice"), out.Guild.ID, JoinGuildInput{InviteCode: " " + out.InviteCode + " "}); err != nil {
		t.Fatalf("join with code: %v", err)
	}
	if _, err := svc.Get(userCtx("alice"), out.Guild.ID); err != nil {
		t.Fatalf("member should see private guild: %v", err)
	}

	rotated, err := svc.RotateInviteCode(userCtx("owner"), out.Guild.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_, err = svc.Join(userCtx("bob"), out.Guild.ID, JoinGuildInput{InviteCode: out.InviteCode})
	wantCode(t, err, http.StatusForbidden, "invalid_invite_code")
	if _, err := svc.Join(userCtx("bob"), out.Guild.ID, JoinGuildInput{InviteCode: rotated}); err != nil {
		t.Fatalf("join with rotated code: %v", err)
	}
}

func TestGuildRolesAndOwnership(t *testing.T) {
	svc, guilds, _ := newGuildFixture()
	g := createGuild(t, svc, "owner", CreateGuildInput{Name: "Guild", Type: guilddomain.TypePublic}).Guild
	for _, u := range []string{"alice", "bob"} {
		if _, err := svc.Join(userCtx(u), g.ID, JoinGuildInput{}); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}

	err := svc.SetMemberRole(userCtx("alice"), g.ID, "bob", guilddomain.RoleModerator)
	wantCode(t, err, http.StatusForbidden, "insufficient_role")
	if err := svc.SetMemberRole(userCtx("owner"), g.ID, "alice", guilddomain.RoleModerator); err != nil {
		t.Fatalf("promote: %v", err)
	}
	err = svc.SetMemberRole(userCtx("owner"), g.ID, "alice", guilddomain.RoleOwner)
	wantCode(t, err, http.StatusBadRequest, "invalid_role")

	err = svc.RemoveMember(userCtx("bob"), g.ID, "alice")
	wantCode(t, err, http.StatusForbidden, "insufficient_role")
	err = svc.RemoveMember(userCtx("alice"), g.ID, "owner")
	wantCode(t, err, http.StatusForbidden, "insufficient_role")
	if err := svc.RemoveMember(userCtx("alice"), g.ID, "bob"); err != nil {
		t.Fatalf("moderator removes member: %v", err)
	}

	err = svc.Leave(userCtx("owner"), g.ID)
	wantCode(t, err, http.StatusConflict, "owner_must_transfer")
	if err := svc.TransferOwnership(userCtx("owner"), g.ID, "alice"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if guilds.guilds[g.ID].OwnerID != "alice" || guilds.members[g.ID]["owner"].Role != guilddomain.RoleModerator {
		t.Fatalf("ownership not moved")
	}
	if err := svc.Leave(userCtx("owner"), g.ID); err != nil {
		t.Fatalf("former owner leaves: %v", err)
	}
	if guilds.guilds[g.ID].MemberCount != 1 {
		t.Fatalf("unexpected member count %d", guilds.guilds[g.ID].MemberCount)
	}
}

func TestUpdateAndDeleteGuild(t *testing.T) {
	svc, guilds, _ := newGuildFixture()
	g := createGuild(t, svc, "owner", CreateGuildInput{Name: "Old Name", Type: guilddomain.TypePublic}).Guild
	createGuild(t, svc, "alice", CreateGuildInput{Name: "Taken", Type: guilddomain.TypePublic})

	taken := "taken"
	_, err := svc.Update(userCtx("owner"), g.ID, UpdateGuildInput{Name: &taken, Version: 1})
	wantCode(t, err, http.StatusConflict, "name_taken")

	name := "New Name"
	updated, err := svc.Update(userCtx("owner"), g.ID, UpdateGuildInput{Name: &name, Version: 1})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated.Version != 2 || guilds.names["new name"] != g.ID {
		t.Fatalf("rename not applied: %+v", updated)
	}
	if _, ok := guilds.names["old name"]; ok {
		t.Fatalf("old name lock kept")
	}
	_, err = svc.Update(userCtx("owner"), g.ID, UpdateGuildInput{Name: &name, Version: 1})
	wantCode(t, err, http.StatusConflict, "version_conflict")

	tiny := int64(0)
	_, err = svc.Update(userCtx("owner"), g.ID, UpdateGuildInput{MaxMembers: &tiny, Version: 2})
	wantCode(t, err, http.StatusBadRequest, "max_members_too_low")

	err = svc.Delete(userCtx("alice"), g.ID)
	wantCode(t, err, http.StatusForbidden, "insufficient_role")
	if err := svc.Delete(userCtx("owner"), g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = svc.Get(userCtx("owner"), g.ID)
	wantCode(t, err, http.StatusNotFound, "guild_not_found")
}

func TestUpdateRacingJoinKeepsMemberCount(t *testing.T) {
	svc, guilds, _ := newGuildFixture()
	g := createGuild(t, svc, "owner", CreateGuildInput{Name: "Night Owls", Type: guilddomain.TypePublic}).Guild

	guilds.beforeUpdate = func() {
		guilds.beforeUpdate = nil
		if _, err := svc.Join(userCtx("alice"), g.ID, JoinGuildInput{}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	desc := "late night questing"
	updated, err := svc.Update(userCtx("owner"), g.ID, UpdateGuildInput{Description: &desc, Version: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.MemberCount != 2 || guilds.guilds[g.ID].MemberCount != 2 {
		t.Fatalf("member count lost: returned=%d stored=%d", updated.MemberCount, guilds.guilds[g.ID].MemberCount)
	}

	// The service sees one member; the join lands before the write.
	solo := createGuild(t, svc, "bob", CreateGuildInput{Name: "Early Birds", Type: guilddomain.TypePublic}).Guild
	guilds.beforeUpdate = func() {
		guilds.beforeUpdate = nil
		if _, err := svc.Join(userCtx("owner"), solo.ID, JoinGuildInput{}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	one := int64(1)
	_, err = svc.Update(userCtx("bob"), solo.ID, UpdateGuildInput{MaxMembers: &one, Version: 1})
	wantCode(t, err, http.StatusBadRequest, "max_members_too_low")
	if guilds.guilds[solo.ID].MaxMembers == 1 {
		t.Fatalf("max members dropped below the member count")
	}
}

func TestListMine(t *testing.T) {
	svc, guilds, profiles := newGuildFixture()
	profiles.setTier("owner", "pro")
	a := createGuild(t, svc, "owner", CreateGuildInput{Name: "Alpha", Type: guilddomain.TypePublic}).Guild
	b := createGuild(t, svc, "alice", CreateGuildInput{Name: "Beta", Type: guilddomain.TypePublic}).Guild
	if _, err := svc.Join(userCtx("owner"), b.ID, JoinGuildInput{}); err != nil {
		t.Fatalf("join: %v", err)
	}
	// A membership whose guild vanished is skipped.
	guilds.members["ghost"] = map[string]*types.GuildMember{"owner": {GuildID: "ghost", UserID: "owner", Role: guilddomain.RoleMember}}

	mine, err := svc.ListMine(userCtx("owner"))
	if err != nil {
		t.Fatalf("ListMine: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 guilds, got %d", len(mine))
	}
	roles := map[string]guilddomain.Role{}
	for _, m := range mine {
		roles[m.Guild.ID] = m.Role
	}
	if roles[a.ID] != guilddomain.RoleOwner || roles[b.ID] != guilddomain.RoleMember {
		t.Fatalf("unexpected roles: %v", roles)
	}
}
