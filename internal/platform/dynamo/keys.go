package dynamo

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	AttrPK        = "PK"
	AttrSK        = "SK"
	AttrGSI1PK    = "GSI1PK"
	AttrGSI1SK    = "GSI1SK"
	AttrExpiresAt = "expiresAt"
	AttrVersion   = "version"

	IndexGSI1 = "GSI1"
)

const (
	SKProfile      = "PROFILE"
	SKSubscription = "SUBSCRIPTION"
	SKProgress     = "PROGRESS"
	SKStripeEvent  = "STRIPEEVENT"
	SKGuildMeta    = "METADATA"
	SKGuildName    = "GUILDNAME"

	PrefixQuest       = "QUEST#"
	PrefixMember      = "MEMBER#"
	PrefixJoinRequest = "JOINREQ#"
	PrefixBadge       = "BADGE#"
	PrefixXPAward     = "XPAWARD#"
	PrefixGuild       = "GUILD#"

	LeaderboardXP = "LEADERBOARD#XP"
	ListedGuilds  = "GUILDS#LISTED"
)

func UserPK(userID string) string { return "USER#" + userID }
func GuildPK(guildID string) string { return PrefixGuild + guildID }
func GuildNamePK(name string) string { return "GUILDNAME#" + NormalizeName(name) }
func StripeEventPK(eventID string) string { return "STRIPEEVENT#" + eventID }
func StripeCustomerPK(cus string) string { return "STRIPECUSTOMER#" + cus }
func StripeSubscriptionPK(sub string) string { return "STRIPESUB#" + sub }
func QuestSK(questID string) string { return PrefixQuest + questID }
func MemberSK(userID string) string { return PrefixMember + userID }
func JoinRequestSK(userID string) string { return PrefixJoinRequest + userID }
func BadgeSK(badgeID string) string { return PrefixBadge + badgeID }
func XPAwardSK(key string) string { return PrefixXPAward + key }

// LeaderboardSK sorts lexicographically by XP; ties fall back to the user id.
func LeaderboardSK(xp int64, userID string) string {
	if xp < 0 {
		xp = 0
	}
	return fmt.Sprintf("%012d#%s", xp, userID)
}

// NormalizeName folds a display name into its uniqueness key.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func Key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: pk},
		AttrSK: &types.AttributeValueMemberS{Value: sk},
	}
}
