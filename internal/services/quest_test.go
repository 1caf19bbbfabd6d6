package services

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	questrepo "github.com/yungbote/questline-backend/internal/data/repos/quest"
	types "github.com/yungbote/questline-backend/internal/domain"
	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	questdomain "github.com/yungbote/questline-backend/internal/domain/quest"
	"github.com/yungbote/questline-backend/internal/platform/apierr"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type fakeQuests struct {
	mu     sync.Mutex
	quests map[string]*types.Quest
}

func newFakeQuests() *fakeQuests { return &fakeQuests{quests: map[string]*types.Quest{}} }

func qkey(userID, questID string) string { return userID + "|" + questID }

func (f *fakeQuests) Create(_ context.Context, q *types.Quest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.Version = 1
	cp := *q
	f.quests[qkey(q.UserID, q.ID)] = &cp
	return nil
}

func (f *fakeQuests) Get(_ context.Context, userID, questID string) (*types.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quests[qkey(userID, questID)]
	if !ok {
		return nil, questrepo.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeQuests) List(_ context.Context, userID string, flt questdomain.Filter) ([]*types.Quest, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Quest
	for _, q := range f.quests {
		if q.UserID == userID && (flt.Status == "" || q.Status == flt.Status) {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, "", nil
}

func (f *fakeQuests) CountByStatus(_ context.Context, userID string, status types.QuestStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.quests {
		if q.UserID == userID && q.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeQuests) Update(_ context.Context, q *types.Quest, expected int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.quests[qkey(q.UserID, q.ID)]
	if !ok || cur.Version != expected {
		return questrepo.ErrVersionConflict
	}
	q.Version = expected + 1
	cp := *q
	f.quests[qkey(q.UserID, q.ID)] = &cp
	return nil
}

func (f *fakeQuests) Transition(_ context.Context, userID, questID string, from, to types.QuestStatus, at time.Time) (*types.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quests[qkey(userID, questID)]
	if !ok || q.Status != from {
		return nil, questrepo.ErrStatusConflict
	}
	q.Status = to
	q.Version++
	q.UpdatedAt = at
	cp := *q
	return &cp, nil
}

func (f *fakeQuests) AddProgress(_ context.Context, userID, questID string, delta int64) (*types.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quests[qkey(userID, questID)]
	if !ok || q.Status != questdomain.StatusActive {
		return nil, questrepo.ErrStatusConflict
	}
	q.ProgressCount += delta
	q.Version++
	cp := *q
	return &cp, nil
}

func (f *fakeQuests) MarkXPAwarded(_ context.Context, userID, questID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quests[qkey(userID, questID)].XPAwarded = true
	return nil
}

func (f *fakeQuests) Delete(_ context.Context, userID, questID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.quests[qkey(userID, questID)]; !ok {
		return questrepo.ErrNotFound
	}
	delete(f.quests, qkey(userID, questID))
	return nil
}

type fakeAwarder struct {
	mu     sync.Mutex
	err    error
	awards []types.XPAward
}

func (f *fakeAwarder) AwardXP(_ context.Context, a types.XPAward) (*gamedomain.AwardResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.awards = append(f.awards, a)
	return &gamedomain.AwardResult{Progress: &types.Progress{UserID: a.UserID, XP: a.Amount}}, nil
}

func newQuestFixture() (*questService, *fakeQuests, *fakeProfiles, *fakeAwarder) {
	quests := newFakeQuests()
	profiles := newFakeProfiles("u1")
	xp := &fakeAwarder{}
	svc := NewQuestService(logger.Nop(), quests, profiles, xp, QuestConfig{
		ActiveLimits: map[types.Tier]int{"free": 2, "premium": 5},
	}).(*questService)
	svc.now = func() time.Time { return testNow }
	return svc, quests, profiles, xp
}

func mustCreate(t *testing.T, svc *questService, ctx context.Context, in CreateQuestInput) *types.Quest {
	t.Helper()
	q, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return q
}

func TestCreateQuestDefaults(t *testing.T) {
	svc, _, _, _ := newQuestFixture()
	q := mustCreate(t, svc, userCtx("u1"), CreateQuestInput{
		Title:    "  Run a 10k  ",
		Category: "fitness",
		Tags:     []string{"Running", "running ", "outdoor"},
	})
	if q.Title != "Run a 10k" || q.Status != questdomain.StatusDraft || q.Privacy != questdomain.PrivacyPrivate {
		t.Fatalf("unexpected quest: %+v", q)
	}
	if q.Difficulty != questdomain.DifficultyMedium || q.RewardXP != 100 {
		t.Fatalf("unexpected reward: %s %d", q.Difficulty, q.RewardXP)
	}
	if len(q.Tags) != 2 || q.Tags[0] != "running" {
		t.Fatalf("tags not normalized: %v", q.Tags)
	}
	if _, err := svc.Create(context.Background(), CreateQuestInput{Title: "abc"}); err == nil {
		t.Fatalf("expected unauthorized")
	}
}

func TestCreateQuestTitleLengthCountsCharacters(t *testing.T) {
	svc, _, _, _ := newQuestFixture()
	_, err := svc.Create(userCtx("u1"), CreateQuestInput{Title: " éé ", Category: "other"})
	wantCode(t, err, http.StatusBadRequest, "invalid_title")
	q := mustCreate(t, svc, userCtx("u1"), CreateQuestInput{Title: "日本語", Category: "other"})
	if q.Title != "日本語" {
		t.Fatalf("unexpected title %q", q.Title)
	}
}

func TestGetQuestPrivacy(t *testing.T) {
	svc, _, _, _ := newQuestFixture()
	private := mustCreate(t, svc, userCtx("u1"), CreateQuestInput{Title: "secret", Category: "other"})
	public := mustCreate(t, svc, userCtx("u1"), CreateQuestInput{Title: "shared", Category: "other", Privacy: questdomain.PrivacyPublic})

	if _, err := svc.Get(userCtx("u1"), "", private.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(userCtx("u2"), "u1", private.ID); err == nil {
		t.Fatalf("private quest visible to others")
	} else if status, _ := apierr.From(err); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if _, err := svc.Get(userCtx("u2"), "u1", public.ID); err != nil {
		t.Fatalf("public get: %v", err)
	}
}

func TestQuestLifecycle(t *testing.T) {
	svc, quests, _, xp := newQuestFixture()
	ctx := userCtx("u1")
	q := mustCreate(t, svc, ctx, CreateQuestInput{Title: "Read 3 books", Category: "learning", Difficulty: questdomain.DifficultyHard, TargetCount: 3})

	if _, err := svc.RecordProgress(ctx, q.ID, 1); err == nil {
		t.Fatalf("progress on draft should fail")
	}
	if _, err := svc.Start(ctx, q.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.RecordProgress(ctx, q.ID, 2); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	if _, err := svc.Complete(ctx, q.ID); err == nil {
		t.Fatalf("expected target_not_reached")
	} else if _, code := apierr.From(err); code != "target_not_reached" {
		t.Fatalf("unexpected code %s", code)
	}
	if _, err := svc.RecordProgress(ctx, q.ID, 1); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	res, err := svc.Complete(ctx, q.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.XPPending || res.Quest.Status != questdomain.StatusCompleted || !res.Quest.XPAwarded {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(xp.awards) != 1 || xp.awards[0].Key != "quest:"+q.ID || xp.awards[0].Amount != 200 || !xp.awards[0].QuestCompleted {
		t.Fatalf("unexpected award: %+v", xp.awards)
	}

	if _, err := svc.Complete(ctx, q.ID); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if len(xp.awards) != 1 {
		t.Fatalf("awarded reward must not be re-sent")
	}
	if _, err := svc.Cancel(ctx, q.ID); err == nil {
		t.Fatalf("completed quest cannot be cancelled")
	}
	if quests.quests[qkey("u1", q.ID)].Status != questdomain.StatusCompleted {
		t.Fatalf("status changed")
	}
}

func TestCompleteRedrivesPendingAward(t *testing.T) {
	svc, quests, _, xp := newQuestFixture()
	ctx := userCtx("u1")
	q := mustCreate(t, svc, ctx, CreateQuestInput{Title: "Meditate", Category: "mindfulness"})
	if _, err := svc.Start(ctx, q.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	xp.err = errors.New("gamification unavailable")
	res, err := svc.Complete(ctx, q.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !res.XPPending || quests.quests[qkey("u1", q.ID)].XPAwarded {
		t.Fatalf("award should be pending: %+v", res)
	}

	xp.err = nil
	res, err = svc.Complete(ctx, q.ID)
	if err != nil {
		t.Fatalf("redrive: %v", err)
	}
	if res.XPPending || len(xp.awards) != 1 || !quests.quests[qkey("u1", q.ID)].XPAwarded {
		t.Fatalf("award not re-driven: %+v", res)
	}
}

func TestStartEnforcesTierLimit(t *testing.T) {
	svc, _, profiles, _ := newQuestFixture()
	ctx := userCtx("u1")
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, mustCreate(t, svc, ctx, CreateQuestInput{Title: "quest", Category: "other"}).ID)
	}
	for _, id := range ids[:2] {
		if _, err := svc.Start(ctx, id); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	_, err := svc.Start(ctx, ids[2])
	if status, code := apierr.From(err); status != http.StatusForbidden || code != "active_quest_limit" {
		t.Fatalf("expected limit error, got %d %s", status, code)
	}

	profiles.setTier("u1", "pro")
	if _, err := svc.Start(ctx, ids[2]); err != nil {
		t.Fatalf("pro tier is unlimited: %v", err)
	}
}

func TestUpdateQuest(t *testing.T) {
	svc, _, _, _ := newQuestFixture()
	ctx := userCtx("u1")
	q := mustCreate(t, svc, ctx, CreateQuestInput{Title: "Learn Go", Category: "learning"})

	title := "Learn Go deeply"
	easy := questdomain.DifficultyEasy
	updated, err := svc.Update(ctx, q.ID, UpdateQuestInput{Title: &title, Difficulty: &easy, Version: 1})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != title || updated.RewardXP != 50 || updated.Version != 2 {
		t.Fatalf("unexpected update: %+v", updated)
	}
	_, err = svc.Update(ctx, q.ID, UpdateQuestInput{Title: &title, Version: 1})
	if _, code := apierr.From(err); code != "version_conflict" {
		t.Fatalf("expected version_conflict, got %v", err)
	}

	if _, err := svc.Cancel(ctx, q.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err = svc.Update(ctx, q.ID, UpdateQuestInput{Title: &title, Version: 3})
	if _, code := apierr.From(err); code != "quest_closed" {
		t.Fatalf("expected quest_closed, got %v", err)
	}
}

func TestListAndDeleteQuests(t *testing.T) {
	svc, _, _, _ := newQuestFixture()
	ctx := userCtx("u1")
	a := mustCreate(t, svc, ctx, CreateQuestInput{Title: "first", Category: "other"})
	mustCreate(t, svc, ctx, CreateQuestInput{Title: "second", Category: "other"})
	if _, err := svc.Start(ctx, a.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	page, err := svc.List(ctx, questdomain.Filter{Status: questdomain.StatusActive})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Quests) != 1 || page.Quests[0].ID != a.ID {
		t.Fatalf("unexpected page: %+v", page.Quests)
	}
	if _, err := svc.List(ctx, questdomain.Filter{Status: "paused"}); err == nil {
		t.Fatalf("expected invalid status")
	}
	if _, err := svc.List(ctx, questdomain.Filter{Cursor: "%%%"}); err == nil {
		t.Fatalf("expected invalid cursor")
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, a.ID); err == nil {
		t.Fatalf("second delete should 404")
	}
}
