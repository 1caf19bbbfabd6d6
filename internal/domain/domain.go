package domain

import (
	"github.com/yungbote/questline-backend/internal/domain/gamification"
	"github.com/yungbote/questline-backend/internal/domain/guild"
	"github.com/yungbote/questline-backend/internal/domain/quest"
	"github.com/yungbote/questline-backend/internal/domain/subscription"
	"github.com/yungbote/questline-backend/internal/domain/user"
)

type Profile = user.Profile

type Subscription = subscription.Subscription
type SubscriptionEvent = subscription.Event
type SubscriptionEventMarker = subscription.EventMarker
type SubscriptionStatus = subscription.Status
type Tier = subscription.Tier
type Plan = subscription.Plan

type Quest = quest.Quest
type QuestStatus = quest.Status

type Guild = guild.Guild
type GuildMember = guild.Member
type GuildJoinRequest = guild.JoinRequest

type Progress = gamification.Progress
type Badge = gamification.Badge
type EarnedBadge = gamification.EarnedBadge
type XPAward = gamification.Award
