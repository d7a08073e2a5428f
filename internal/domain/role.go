package domain

// Role is derived per request from the list and the requester's membership.
// It is never stored.
type Role int

const (
	RoleNonMember Role = iota
	RoleMember
	RoleModerator
	RoleOwner
)

var roleNames = map[Role]string{
	RoleNonMember: "non_member",
	RoleMember:    "member",
	RoleModerator: "moderator",
	RoleOwner:     "owner",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "unknown"
}

// IsStaff reports whether the role carries moderation privileges.
func (r Role) IsStaff() bool { return r == RoleModerator || r == RoleOwner }

// Action tags an operation for permission checks.
type Action string

const (
	ActionSubscribeSelf     Action = "subscribe_self"
	ActionSubscribeOther    Action = "subscribe_other"
	ActionUnsubscribeSelf   Action = "unsubscribe_self"
	ActionUnsubscribeOther  Action = "unsubscribe_other"
	ActionSetFlagSelf       Action = "set_flag_self"
	ActionSetFlagOther      Action = "set_flag_other"
	ActionSetConfig         Action = "set_config"
	ActionViewConfig        Action = "view_config"
	ActionViewMembers       Action = "view_members"
	ActionModerate          Action = "moderate"
	ActionSetRestrictedFlag Action = "set_restricted_flag"
)
