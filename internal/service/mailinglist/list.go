package mailinglist

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/permission"
	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/ignite/listserv/internal/token"
)

// maxWriteAttempts bounds the read-modify-write loop when a versioned write
// loses to a concurrent writer that bypassed the lock.
const maxWriteAttempts = 5

// List is a handle on one mailing list. Handles are cheap and hold no state
// beyond the address; every call reads the current record.
type List struct {
	address string
	deps    Deps
	log     *logger.Logger
}

// Address returns the list address.
func (l *List) Address() string { return l.address }

// Record loads the current list record.
func (l *List) Record(ctx context.Context) (*domain.List, error) {
	rec, err := l.deps.Repo.GetList(ctx, l.address)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidListAddress, l.address)
	}
	return rec, err
}

// Subscribe subscribes address on behalf of user. An empty address means
// user. Returns the resulting membership state: Subscribed, or
// PendingSubscription when the list requires confirmation and an invitation
// was sent.
func (l *List) Subscribe(ctx context.Context, user, address string) (domain.MembershipState, error) {
	user, address = targets(user, address)
	action := domain.ActionSubscribeSelf
	if user != address {
		action = domain.ActionSubscribeOther
	}

	var result domain.MembershipState
	err := l.locked(ctx, func(ctx context.Context) error {
		rec, target, err := l.authorize(ctx, user, address, action)
		if err != nil {
			return err
		}
		if domain.StateOf(target) != domain.MemberNone {
			return fmt.Errorf("%w: %s", domain.ErrAlreadySubscribed, address)
		}

		now := l.deps.Now().UTC()
		m := &domain.Membership{
			ListAddress: l.address,
			Address:     address,
			State:       domain.MemberSubscribed,
			Flags:       map[string]bool{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if !rec.Config.Bool(domain.OptSubscriptionConfirmation) {
			if err := l.deps.Repo.PutMembership(ctx, m, 0); err != nil {
				return err
			}
			result = domain.MemberSubscribed
			return nil
		}

		m.State = domain.MemberPendingSubscription
		if err := l.deps.Repo.PutMembership(ctx, m, 0); err != nil {
			return err
		}
		if err := l.invite(ctx, rec, address, token.KindSubscribe); err != nil {
			if rbErr := l.deps.Repo.DeleteMembership(ctx, l.address, address, m.Version); rbErr != nil {
				l.log.Error("rollback pending subscription failed", "member", address, "error", rbErr)
			}
			return err
		}
		result = domain.MemberPendingSubscription
		return nil
	})
	l.audit(user, action, address, result, err)
	return result, err
}

// Unsubscribe removes address on behalf of user. Self-unsubscription on a
// list that requires confirmation moves the membership to
// PendingUnsubscription and mails a token instead. A PendingSubscription is
// withdrawn outright, so an expired or lost invitation never strands the
// address.
func (l *List) Unsubscribe(ctx context.Context, user, address string) (domain.MembershipState, error) {
	user, address = targets(user, address)
	action := domain.ActionUnsubscribeSelf
	if user != address {
		action = domain.ActionUnsubscribeOther
	}

	var result domain.MembershipState
	err := l.locked(ctx, func(ctx context.Context) error {
		rec, target, err := l.authorize(ctx, user, address, action)
		if err != nil {
			return err
		}
		state := domain.StateOf(target)
		switch state {
		case domain.MemberNone:
			return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, address)
		case domain.MemberPendingSubscription:
			// Withdraws an unconfirmed subscription. Nothing was ever
			// delivered, so no confirmation is needed.
			if err := l.deps.Repo.DeleteMembership(ctx, l.address, address, target.Version); err != nil {
				return err
			}
			result = domain.MemberNone
			return nil
		}

		confirm := action == domain.ActionUnsubscribeSelf && rec.Config.Bool(domain.OptUnsubscriptionConfirmation)
		if !confirm {
			if err := l.deps.Repo.DeleteMembership(ctx, l.address, address, target.Version); err != nil {
				return err
			}
			result = domain.MemberNone
			return nil
		}

		if state == domain.MemberSubscribed {
			pending := cloneMembership(target)
			pending.State = domain.MemberPendingUnsubscription
			pending.UpdatedAt = l.deps.Now().UTC()
			if err := l.deps.Repo.PutMembership(ctx, pending, target.Version); err != nil {
				return err
			}
			if err := l.invite(ctx, rec, address, token.KindUnsubscribe); err != nil {
				restored := cloneMembership(target)
				if rbErr := l.deps.Repo.PutMembership(ctx, restored, pending.Version); rbErr != nil {
					l.log.Error("rollback pending unsubscription failed", "member", address, "error", rbErr)
				}
				return err
			}
		} else if err := l.invite(ctx, rec, address, token.KindUnsubscribe); err != nil {
			return err
		}
		result = domain.MemberPendingUnsubscription
		return nil
	})
	l.audit(user, action, address, result, err)
	return result, err
}

// AcceptSubscriptionInvitation completes a pending subscription for user.
func (l *List) AcceptSubscriptionInvitation(ctx context.Context, user, raw string) error {
	user = domain.NormalizeAddress(user)
	err := l.accept(ctx, user, raw, token.KindSubscribe, func(ctx context.Context, m *domain.Membership) error {
		switch domain.StateOf(m) {
		case domain.MemberPendingSubscription:
			next := cloneMembership(m)
			next.State = domain.MemberSubscribed
			next.UpdatedAt = l.deps.Now().UTC()
			return l.deps.Repo.PutMembership(ctx, next, m.Version)
		case domain.MemberNone:
			return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, user)
		default:
			return fmt.Errorf("%w: %s", domain.ErrAlreadySubscribed, user)
		}
	})
	l.audit(user, "accept_subscription", user, domain.MemberSubscribed, err)
	return err
}

// AcceptUnsubscriptionInvitation completes a pending unsubscription for user.
func (l *List) AcceptUnsubscriptionInvitation(ctx context.Context, user, raw string) error {
	user = domain.NormalizeAddress(user)
	err := l.accept(ctx, user, raw, token.KindUnsubscribe, func(ctx context.Context, m *domain.Membership) error {
		switch domain.StateOf(m) {
		case domain.MemberPendingUnsubscription:
			return l.deps.Repo.DeleteMembership(ctx, l.address, user, m.Version)
		case domain.MemberSubscribed:
			return fmt.Errorf("%w: %s", domain.ErrAlreadySubscribed, user)
		default:
			return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, user)
		}
	})
	l.audit(user, "accept_unsubscription", user, domain.MemberNone, err)
	return err
}

func (l *List) accept(ctx context.Context, user, raw string, kind token.Kind, apply func(context.Context, *domain.Membership) error) error {
	grant, err := l.deps.Tokens.Verify(raw, kind)
	if err != nil {
		return err
	}
	if grant.ListAddress != l.address || grant.Member != user {
		return fmt.Errorf("%w: token is not valid for %s on %s", domain.ErrInvalidSignature, user, l.address)
	}
	return l.locked(ctx, func(ctx context.Context) error {
		if _, err := l.Record(ctx); err != nil {
			return err
		}
		m, err := l.membership(ctx, user)
		if err != nil {
			return err
		}
		return apply(ctx, m)
	})
}

// OwnFlags returns every known flag with user's current value.
func (l *List) OwnFlags(ctx context.Context, user string) ([]domain.FlagValue, error) {
	user = domain.NormalizeAddress(user)
	if _, err := l.Record(ctx); err != nil {
		return nil, err
	}
	m, err := l.membership(ctx, user)
	if err != nil {
		return nil, err
	}
	if domain.StateOf(m) != domain.MemberSubscribed {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotSubscribed, user)
	}
	out := make([]domain.FlagValue, 0, len(domain.Flags))
	for _, f := range domain.Flags {
		out = append(out, domain.FlagValue{Flag: f, Value: m.Flag(f.Name)})
	}
	return out, nil
}

// SetMemberFlagValue sets flag on address's membership. Unknown flags are
// rejected before any permission or state check. Setting the current value
// is a no-op.
func (l *List) SetMemberFlagValue(ctx context.Context, user, address, flag string, value bool) error {
	user, address = targets(user, address)
	f, ok := domain.LookupFlag(flag)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownFlag, flag)
	}
	action := domain.ActionSetFlagSelf
	if user != address {
		action = domain.ActionSetFlagOther
	}
	if f.ModeratorOnly {
		action = domain.ActionSetRestrictedFlag
	}

	err := l.locked(ctx, func(ctx context.Context) error {
		_, target, err := l.authorize(ctx, user, address, action)
		if err != nil {
			return err
		}
		if domain.StateOf(target) != domain.MemberSubscribed {
			return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, address)
		}
		if target.Flag(f.Name) == value {
			return nil
		}
		next := cloneMembership(target)
		next.Flags[f.Name] = value
		next.UpdatedAt = l.deps.Now().UTC()
		return l.deps.Repo.PutMembership(ctx, next, target.Version)
	})
	l.audit(user, action, address, "", err, "flag", flag, "value", value)
	return err
}

// ConfigValues returns the full effective configuration in option order.
func (l *List) ConfigValues(ctx context.Context, user string) ([]domain.ConfigValue, error) {
	user = domain.NormalizeAddress(user)
	rec, _, err := l.authorize(ctx, user, user, domain.ActionViewConfig)
	if err != nil {
		return nil, err
	}
	return rec.Config.Values(), nil
}

// SetConfigValue validates and stores one option. Permission is checked
// before the option name so callers without set_config learn nothing about
// the catalog.
func (l *List) SetConfigValue(ctx context.Context, user, option string, value any) error {
	user = domain.NormalizeAddress(user)
	err := l.locked(ctx, func(ctx context.Context) error {
		rec, _, err := l.authorize(ctx, user, user, domain.ActionSetConfig)
		if err != nil {
			return err
		}
		cfg, err := rec.Config.With(option, value)
		if err != nil {
			return err
		}
		next := *rec
		next.Config = cfg
		next.UpdatedAt = l.deps.Now().UTC()
		return l.deps.Repo.UpdateList(ctx, &next, rec.Version)
	})
	l.audit(user, domain.ActionSetConfig, user, "", err, "option", option)
	return err
}

// Members returns the addresses currently Subscribed, sorted.
func (l *List) Members(ctx context.Context, user string) ([]string, error) {
	user = domain.NormalizeAddress(user)
	if _, _, err := l.authorize(ctx, user, user, domain.ActionViewMembers); err != nil {
		return nil, err
	}
	ms, err := l.deps.Repo.Memberships(ctx, l.address, domain.MemberSubscribed)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Address)
	}
	return out, nil
}

// Held returns the moderation queue.
func (l *List) Held(ctx context.Context, user string) ([]domain.ModeratedMessage, error) {
	user = domain.NormalizeAddress(user)
	if _, _, err := l.authorize(ctx, user, user, domain.ActionModerate); err != nil {
		return nil, err
	}
	return l.deps.Repo.HeldMessages(ctx, l.address)
}

// ModApprove releases a held message to the current subscribers. If delivery
// fails the message goes back on the queue, narrowed to the members that did
// not get it.
func (l *List) ModApprove(ctx context.Context, user, id string) error {
	user = domain.NormalizeAddress(user)
	rec, held, err := l.takeHeld(ctx, user, id)
	if err == nil {
		var n int
		n, err = l.deliver(ctx, rec, held.Sender, held.Subject, held.ObjectKey, held.Recipients)
		if err != nil {
			requeue := held
			var partial *domain.PartialDelivery
			if errors.As(err, &partial) {
				rest := *held
				rest.Recipients = partial.Remaining
				requeue = &rest
			}
			if rqErr := l.deps.Repo.HoldMessage(ctx, requeue); rqErr != nil {
				l.log.Error("requeue after failed delivery", "id", id, "error", rqErr)
			}
		} else {
			l.log.Info("held post delivered", "id", id, "recipients", n)
		}
	}
	l.audit(user, "mod_approve", user, "", err, "id", id)
	return err
}

// ModReject discards a held message and tells the submitter.
func (l *List) ModReject(ctx context.Context, user, id string) error {
	user = domain.NormalizeAddress(user)
	rec, held, err := l.takeHeld(ctx, user, id)
	if err == nil {
		l.notify(ctx, func() (domain.OutboundMessage, error) {
			return l.deps.Notices.RejectNotice(rec, held)
		})
	}
	l.audit(user, "mod_reject", user, "", err, "id", id)
	return err
}

func (l *List) takeHeld(ctx context.Context, user, id string) (*domain.List, *domain.ModeratedMessage, error) {
	rec, _, err := l.authorize(ctx, user, user, domain.ActionModerate)
	if err != nil {
		return nil, nil, err
	}
	held, err := l.deps.Repo.TakeHeldMessage(ctx, l.address, id)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrModeratedMessageNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}
	return rec, held, nil
}

// authorize loads the list record and the target membership, derives the
// requester's role and applies the permission matrix.
func (l *List) authorize(ctx context.Context, user, address string, action domain.Action) (*domain.List, *domain.Membership, error) {
	rec, err := l.Record(ctx)
	if err != nil {
		return nil, nil, err
	}
	target, err := l.membership(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	requester := target
	if user != address {
		if requester, err = l.membership(ctx, user); err != nil {
			return nil, nil, err
		}
	}
	role := permission.RoleFor(rec, user, domain.StateOf(requester))
	if d := l.deps.Permissions.Authorize(role, action, l.deps.Permissions.PolicyFor(rec)); !d.Allowed {
		return nil, nil, d.Err()
	}
	return rec, target, nil
}

func (l *List) membership(ctx context.Context, address string) (*domain.Membership, error) {
	m, err := l.deps.Repo.GetMembership(ctx, l.address, address)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	return m, err
}

// locked runs fn under the list lock, retrying on version conflicts.
func (l *List) locked(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.deps.Locker.Lock(ctx, "list:"+l.address)
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.address, err)
	}
	defer release()

	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			return err
		}
		l.log.Debug("version conflict, retrying", "attempt", attempt)
	}
}

func (l *List) invite(ctx context.Context, rec *domain.List, member string, kind token.Kind) error {
	ttl := time.Duration(rec.Config.Int(domain.OptInvitationTTLHours)) * time.Hour
	tok, err := l.deps.Tokens.Issue(rec.Address, member, kind, ttl)
	if err != nil {
		return fmt.Errorf("issue %s token: %w", kind, err)
	}
	msg, err := l.deps.Notices.Invitation(rec, member, kind, tok, l.deps.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("render invitation: %w", err)
	}
	if err := l.deps.Outbox.Reply(ctx, msg); err != nil {
		return fmt.Errorf("send invitation: %w", err)
	}
	return nil
}

// notify sends a best-effort notice. Failures are logged only.
func (l *List) notify(ctx context.Context, render func() (domain.OutboundMessage, error)) {
	msg, err := render()
	if err == nil {
		err = l.deps.Outbox.Reply(ctx, msg)
	}
	if err != nil {
		l.log.Warn("notice not sent", "to", msg.To, "error", err)
	}
}

func (l *List) audit(user string, action domain.Action, address string, state domain.MembershipState, err error, extra ...interface{}) {
	fields := append([]interface{}{"user", user, "action", string(action), "member", address}, extra...)
	switch {
	case err == nil:
		if state != "" {
			fields = append(fields, "state", string(state))
		}
		l.log.Info("list action", append(fields, "outcome", "ok")...)
	case domain.IsOutcome(err):
		l.log.Info("list action denied", append(fields, "outcome", err.Error())...)
	default:
		l.log.Error("list action failed", append(fields, "error", err)...)
	}
}

// targets normalizes the requester and target; an empty target is the
// requester.
func targets(user, address string) (string, string) {
	user = domain.NormalizeAddress(user)
	address = domain.NormalizeAddress(address)
	if address == "" {
		address = user
	}
	return user, address
}

func cloneMembership(m *domain.Membership) *domain.Membership {
	c := *m
	c.Flags = maps.Clone(m.Flags)
	if c.Flags == nil {
		c.Flags = map[string]bool{}
	}
	return &c
}
