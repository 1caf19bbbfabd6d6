package guild

import "time"

type Type string

const (
	TypePublic   Type = "public"
	TypeApproval Type = "approval"
	TypePrivate  Type = "private"
)

func (t Type) Valid() bool {
	return t == TypePublic || t == TypeApproval || t == TypePrivate
}

// Listed guilds show up in discovery.
func (t Type) Listed() bool {
	return t == TypePublic || t == TypeApproval
}

type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// CanManage reports whether r may moderate a member holding target.
func (r Role) CanManage(target Role) bool {
	return r.rank() >= RoleModerator.rank() && r.rank() > target.rank()
}

const DefaultMaxMembers = 50

// Guild is the metadata item (PK GUILD#<id>, SK METADATA).
type Guild struct {
	PK     string `dynamodbav:"PK" json:"-"`
	SK     string `dynamodbav:"SK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty" json:"-"`

	ID             string   `dynamodbav:"guildId" json:"id"`
	Name           string   `dynamodbav:"name" json:"name"`
	Description    string   `dynamodbav:"description,omitempty" json:"description,omitempty"`
	OwnerID        string   `dynamodbav:"ownerId" json:"owner_id"`
	Type           Type     `dynamodbav:"guildType" json:"type"`
	Tags           []string `dynamodbav:"tags,omitempty,stringset" json:"tags,omitempty"`
	MemberCount    int64    `dynamodbav:"memberCount" json:"member_count"`
	MaxMembers     int64    `dynamodbav:"maxMembers" json:"max_members"`
	InviteCodeHash string   `dynamodbav:"inviteCodeHash,omitempty" json:"-"`

	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updated_at"`
	Version   int64     `dynamodbav:"version" json:"version"`
}

// NameLock reserves a normalised guild name (PK GUILDNAME#<name>).
type NameLock struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	GuildID string `dynamodbav:"guildId"`
	Name    string `dynamodbav:"name"`
}

// Member is a membership edge (PK GUILD#<gid>, SK MEMBER#<uid>), indexed by
// user through GSI1.
type Member struct {
	PK     string `dynamodbav:"PK" json:"-"`
	SK     string `dynamodbav:"SK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK" json:"-"`

	GuildID     string    `dynamodbav:"guildId" json:"guild_id"`
	UserID      string    `dynamodbav:"userId" json:"user_id"`
	Username    string    `dynamodbav:"username,omitempty" json:"username,omitempty"`
	DisplayName string    `dynamodbav:"displayName,omitempty" json:"display_name,omitempty"`
	Role        Role      `dynamodbav:"role" json:"role"`
	JoinedAt    time.Time `dynamodbav:"joinedAt" json:"joined_at"`
}

type JoinRequest struct {
	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`

	GuildID   string    `dynamodbav:"guildId" json:"guild_id"`
	UserID    string    `dynamodbav:"userId" json:"user_id"`
	Username  string    `dynamodbav:"username,omitempty" json:"username,omitempty"`
	Message   string    `dynamodbav:"message,omitempty" json:"message,omitempty"`
	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
}

// JoinOutcome tells the caller whether a join took effect or is pending review.
type JoinOutcome string

const (
	JoinJoined    JoinOutcome = "joined"
	JoinRequested JoinOutcome = "requested"
)
