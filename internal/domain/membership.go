package domain

import "time"

// MembershipState enumerates the lifecycle states of a (list, address) pair.
// Absence of a Membership record is equivalent to MemberNone.
type MembershipState string

const (
	MemberNone                  MembershipState = "non_member"
	MemberPendingSubscription   MembershipState = "pending_subscription"
	MemberSubscribed            MembershipState = "subscribed"
	MemberPendingUnsubscription MembershipState = "pending_unsubscription"
)

// Membership is the relationship between a list and one address.
type Membership struct {
	ListAddress string          `json:"list_address" db:"list_address" dynamodbav:"ListAddress"`
	Address     string          `json:"address" db:"address" dynamodbav:"Address"`
	State       MembershipState `json:"state" db:"state" dynamodbav:"State"`
	Flags       map[string]bool `json:"flags" db:"flags" dynamodbav:"Flags"`
	// Version is the compare-and-swap token. Zero means "not yet persisted".
	Version   int64     `json:"version" db:"version" dynamodbav:"Version"`
	CreatedAt time.Time `json:"created_at" db:"created_at" dynamodbav:"CreatedAt"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" dynamodbav:"UpdatedAt"`
}

// StateOf returns the state of m, treating nil as MemberNone.
func StateOf(m *Membership) MembershipState {
	if m == nil || m.State == "" {
		return MemberNone
	}
	return m.State
}

// Flag returns the value of a member flag, false when unset.
func (m *Membership) Flag(name string) bool {
	if m == nil || m.Flags == nil {
		return false
	}
	return m.Flags[name]
}

// Member flag names.
const (
	FlagVacation  = "vacation"
	FlagEchoPost  = "echo_post"
	FlagModerated = "moderated"
)

// Flag describes one entry of the closed member flag set.
type Flag struct {
	Name        string
	Description string
	// ModeratorOnly flags can only be changed by a moderator or the owner,
	// even on the requester's own membership.
	ModeratorOnly bool
}

// Flags is the complete, ordered set of valid member flags.
var Flags = []Flag{
	{Name: FlagVacation, Description: "suspend delivery of posts"},
	{Name: FlagEchoPost, Description: "receive a copy of your own posts"},
	{Name: FlagModerated, Description: "hold every post from this member", ModeratorOnly: true},
}

// LookupFlag finds a flag by name.
func LookupFlag(name string) (Flag, bool) {
	for _, f := range Flags {
		if f.Name == name {
			return f, true
		}
	}
	return Flag{}, false
}

// FlagValue pairs a flag with a member's current value.
type FlagValue struct {
	Flag  Flag
	Value bool
}
