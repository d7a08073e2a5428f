package domain

import (
	"slices"
	"strings"
	"time"
)

// List is a mailing list identified by its posting address.
type List struct {
	Address    string     `json:"address" db:"address" dynamodbav:"Address"`
	Owner      string     `json:"owner" db:"owner" dynamodbav:"Owner"`
	Moderators []string   `json:"moderators" db:"moderators" dynamodbav:"Moderators"`
	Config     ListConfig `json:"config" db:"config" dynamodbav:"Config"`
	Version    int64      `json:"version" db:"version" dynamodbav:"Version"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at" dynamodbav:"CreatedAt"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at" dynamodbav:"UpdatedAt"`
}

// IsOwner reports whether address owns the list.
func (l *List) IsOwner(address string) bool {
	return l.Owner != "" && NormalizeAddress(address) == NormalizeAddress(l.Owner)
}

// IsModerator reports whether address is one of the list moderators.
func (l *List) IsModerator(address string) bool {
	address = NormalizeAddress(address)
	return slices.ContainsFunc(l.Moderators, func(m string) bool {
		return NormalizeAddress(m) == address
	})
}

// SubscriptionClosed reports whether non-moderators are barred from subscribing.
func (l *List) SubscriptionClosed() bool { return l.Config.Bool(OptSubscriptionClosed) }

// UnsubscriptionClosed reports whether members are barred from removing themselves.
func (l *List) UnsubscriptionClosed() bool { return l.Config.Bool(OptUnsubscriptionClosed) }

// Staff returns the owner followed by the moderators, deduplicated.
func (l *List) Staff() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range append([]string{l.Owner}, l.Moderators...) {
		n := NormalizeAddress(a)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// NormalizeAddress lower-cases and trims an email address for comparison and
// storage keys.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidAddress performs the minimal shape check applied to list and member
// addresses: one "@" with a non-empty local part and a dotted domain.
func ValidAddress(address string) bool {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return false
	}
	if strings.ContainsAny(address, " \t\r\n<>") {
		return false
	}
	return strings.Contains(address[at+1:], ".")
}
