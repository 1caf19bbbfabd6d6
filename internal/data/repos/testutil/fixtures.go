package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/questline-backend/internal/domain"
	"github.com/yungbote/questline-backend/internal/domain/subscription"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
)

func SeedProfile(tb testing.TB, ctx context.Context, db *dynamo.DB) *types.Profile {
	tb.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	p := &types.Profile{
		PK:        dynamo.UserPK(id),
		SK:        dynamo.SKProfile,
		UserID:    id,
		Email:     id[:8] + "@example.com",
		Username:  "user-" + id[:8],
		Tier:      subscription.TierFree,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Put(ctx, p, dynamo.NotExists()); err != nil {
		tb.Fatalf("seed profile: %v", err)
	}
	return p
}
