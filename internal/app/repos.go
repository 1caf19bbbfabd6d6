package app

import (
	"github.com/yungbote/questline-backend/internal/data/repos"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type Repos struct {
	Profile      repos.ProfileRepo
	Subscription repos.SubscriptionRepo
	Quest        repos.QuestRepo
	Guild        repos.GuildRepo
	Gamification repos.GamificationRepo
}

func wireRepos(db *dynamo.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Profile:      repos.NewProfileRepo(db, log),
		Subscription: repos.NewSubscriptionRepo(db, log),
		Quest:        repos.NewQuestRepo(db, log),
		Guild:        repos.NewGuildRepo(db, log),
		Gamification: repos.NewGamificationRepo(db, log),
	}
}
