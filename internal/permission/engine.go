// Package permission decides whether a requester may perform an action on a
// mailing list. Decisions are pure: no I/O, no state.
package permission

import (
	"fmt"

	"github.com/ignite/listserv/internal/domain"
)

// Policy is the list-level input to a decision.
type Policy struct {
	SubscriptionClosed   bool
	UnsubscriptionClosed bool
	PrivateMembers       bool
	// OwnerOnlyConfig withholds set_config from moderators.
	OwnerOnlyConfig bool
}

// Decision is the outcome of Authorize. A denial always carries the reason.
type Decision struct {
	Allowed bool
	Reason  error
	Role    domain.Role
	Action  domain.Action
}

// Err returns nil for an allow, or the denial reason wrapped with context.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s", d.Reason, d.Role, d.Action)
}

// Engine evaluates the default permission matrix.
type Engine struct {
	ownerOnlyConfig bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithOwnerOnlyConfig restricts configuration changes to the list owner.
func WithOwnerOnlyConfig(v bool) Option {
	return func(e *Engine) { e.ownerOnlyConfig = v }
}

// NewEngine creates an engine with the default policy.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// PolicyFor derives the decision policy from a list's configuration.
func (e *Engine) PolicyFor(l *domain.List) Policy {
	return Policy{
		SubscriptionClosed:   l.SubscriptionClosed(),
		UnsubscriptionClosed: l.UnsubscriptionClosed(),
		PrivateMembers:       l.Config.Bool(domain.OptPrivateMembers),
		OwnerOnlyConfig:      e.ownerOnlyConfig,
	}
}

// RoleFor computes the requester's role from address equality against the
// owner, membership in the moderator set, and membership state. A pending
// subscriber is still a non-member; a pending unsubscriber is still a member.
func RoleFor(l *domain.List, address string, state domain.MembershipState) domain.Role {
	switch {
	case l.IsOwner(address):
		return domain.RoleOwner
	case l.IsModerator(address):
		return domain.RoleModerator
	case state == domain.MemberSubscribed || state == domain.MemberPendingUnsubscription:
		return domain.RoleMember
	default:
		return domain.RoleNonMember
	}
}

// Authorize decides whether role may perform action under p.
//
// Self-service actions by non-members are allowed through (except subscribing
// to a closed list) so the state machine can answer with the precise state
// error, e.g. NotSubscribed for unsubscribing twice.
func (e *Engine) Authorize(role domain.Role, action domain.Action, p Policy) Decision {
	d := Decision{Role: role, Action: action}
	deny := func(reason error) Decision {
		d.Reason = reason
		return d
	}

	switch role {
	case domain.RoleOwner:
		d.Allowed = true
		return d
	case domain.RoleModerator:
		if action == domain.ActionSetConfig && p.OwnerOnlyConfig {
			return deny(domain.ErrInsufficientPermissions)
		}
		d.Allowed = true
		return d
	case domain.RoleMember:
		switch action {
		case domain.ActionSubscribeSelf, domain.ActionSetFlagSelf, domain.ActionViewConfig:
			d.Allowed = true
			return d
		case domain.ActionUnsubscribeSelf:
			if p.UnsubscriptionClosed {
				return deny(domain.ErrClosedUnsubscription)
			}
			d.Allowed = true
			return d
		case domain.ActionViewMembers:
			if p.PrivateMembers {
				return deny(domain.ErrInsufficientPermissions)
			}
			d.Allowed = true
			return d
		}
		return deny(domain.ErrInsufficientPermissions)
	default:
		switch action {
		case domain.ActionSubscribeSelf:
			if p.SubscriptionClosed {
				return deny(domain.ErrClosedSubscription)
			}
			d.Allowed = true
			return d
		case domain.ActionUnsubscribeSelf, domain.ActionSetFlagSelf:
			d.Allowed = true
			return d
		}
		return deny(domain.ErrInsufficientPermissions)
	}
}
