package repos

import (
	"github.com/yungbote/questline-backend/internal/data/repos/gamification"
	"github.com/yungbote/questline-backend/internal/data/repos/guild"
	"github.com/yungbote/questline-backend/internal/data/repos/quest"
	"github.com/yungbote/questline-backend/internal/data/repos/subscription"
	"github.com/yungbote/questline-backend/internal/data/repos/user"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type ProfileRepo = user.ProfileRepo
type SubscriptionRepo = subscription.SubscriptionRepo
type QuestRepo = quest.QuestRepo
type GuildRepo = guild.GuildRepo
type GamificationRepo = gamification.GamificationRepo

func NewProfileRepo(db *dynamo.DB, baseLog *logger.Logger) ProfileRepo {
	return user.NewProfileRepo(db, baseLog)
}
func NewSubscriptionRepo(db *dynamo.DB, baseLog *logger.Logger) SubscriptionRepo {
	return subscription.NewSubscriptionRepo(db, baseLog)
}
func NewQuestRepo(db *dynamo.DB, baseLog *logger.Logger) QuestRepo {
	return quest.NewQuestRepo(db, baseLog)
}
func NewGuildRepo(db *dynamo.DB, baseLog *logger.Logger) GuildRepo {
	return guild.NewGuildRepo(db, baseLog)
}
func NewGamificationRepo(db *dynamo.DB, baseLog *logger.Logger) GamificationRepo {
	return gamification.NewGamificationRepo(db, baseLog)
}
