package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/service/mailinglist"
)

var helpText = []string{
	"Commands are sent as the subject or first line of a message:",
	"",
	"  list <list> subscribe [address]",
	"  list <list> unsubscribe [address]",
	"  list <list> accept-subscription <token>",
	"  list <list> accept-unsubscription <token>",
	"  list <list> setflag [flag [address]]",
	"  list <list> unsetflag [flag [address]]",
	"  list <list> set [option [value | --true | --false | --int N]]",
	"  list <list> members",
	"  list <list> mod list",
	"  list <list> mod approve <id>",
	"  list <list> mod reject <id>",
	"  help",
}

// run carries one command execution.
type run struct {
	ctx  context.Context
	user string
	cmd  Command
	list *mailinglist.List
}

func invalidList(addr string) string { return fmt.Sprintf("%s is not a valid list address.", addr) }

func denied(action string) string {
	return fmt.Sprintf("You do not have sufficient permissions to %s.", action)
}

func (r *run) notSubscribed(address string) string {
	if address == r.user {
		return fmt.Sprintf("You are not subscribed to %s.", r.cmd.List)
	}
	return fmt.Sprintf("%s is not subscribed to %s.", address, r.cmd.List)
}

func (r *run) target(i int) string {
	if a := domain.NormalizeAddress(r.cmd.Arg(i)); a != "" {
		return a
	}
	return r.user
}

func (r *run) subscribe() ([]string, error) {
	addr := r.target(0)
	state, err := r.list.Subscribe(r.ctx, r.user, addr)
	switch {
	case err == nil && state == domain.MemberPendingSubscription:
		return lines(fmt.Sprintf("A confirmation message has been sent to %s.", addr)), nil
	case err == nil:
		return lines(fmt.Sprintf("%s has been subscribed to %s.", addr, r.cmd.List)), nil
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("subscribe %s to %s", addr, r.cmd.List))), err
	case errors.Is(err, domain.ErrAlreadySubscribed):
		return lines(fmt.Sprintf("%s is already subscribed to %s.", addr, r.cmd.List)), err
	case errors.Is(err, domain.ErrClosedSubscription):
		return lines(invalidList(r.cmd.List)), err
	}
	return nil, err
}

func (r *run) unsubscribe() ([]string, error) {
	addr := r.target(0)
	state, err := r.list.Unsubscribe(r.ctx, r.user, addr)
	switch {
	case err == nil && state == domain.MemberPendingUnsubscription:
		return lines(fmt.Sprintf("A confirmation message has been sent to %s.", addr)), nil
	case err == nil:
		return lines(fmt.Sprintf("%s has been unsubscribed from %s.", addr, r.cmd.List)), nil
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("unsubscribe %s from %s", addr, r.cmd.List))), err
	case errors.Is(err, domain.ErrNotSubscribed):
		return lines(r.notSubscribed(addr)), err
	case errors.Is(err, domain.ErrClosedUnsubscription):
		return lines(fmt.Sprintf("%s does not allow members to unsubscribe themselves.  Please contact the list administrator to be removed from the list.", r.cmd.List)), err
	}
	return nil, err
}

func (r *run) accept(fn func(context.Context, string, string) error, success string) ([]string, error) {
	err := fn(r.ctx, r.user, r.cmd.Arg(0))
	switch {
	case err == nil:
		return lines(success), nil
	case errors.Is(err, domain.ErrExpiredSignature):
		return lines("The invitation has expired."), err
	case errors.Is(err, domain.ErrInvalidSignature):
		return lines(fmt.Sprintf("The invitation is not valid for %s.", r.user)), err
	case errors.Is(err, domain.ErrAlreadySubscribed):
		return lines(fmt.Sprintf("You are already subscribed to %s.", r.cmd.List)), err
	case errors.Is(err, domain.ErrNotSubscribed):
		return lines(fmt.Sprintf("You are not subscribed to %s.", r.cmd.List)), err
	}
	return nil, err
}

func (r *run) flag(value bool) ([]string, error) {
	flag := r.cmd.Arg(0)
	if flag == "" {
		flags, err := r.list.OwnFlags(r.ctx, r.user)
		switch {
		case err == nil:
			out := lines("Available flags:")
			for _, f := range flags {
				out = append(out, fmt.Sprintf("%s: %t", f.Flag.Name, f.Value))
			}
			return out, nil
		case errors.Is(err, domain.ErrNotSubscribed):
			return lines(r.notSubscribed(r.user)), err
		}
		return nil, err
	}

	addr := r.target(1)
	err := r.list.SetMemberFlagValue(r.ctx, r.user, addr, flag, value)
	switch {
	case err == nil:
		verb := "Unset"
		if value {
			verb = "Set"
		}
		return lines(fmt.Sprintf("%s flag %s on %s.", verb, flag, addr)), nil
	case errors.Is(err, domain.ErrNotSubscribed):
		return lines(r.notSubscribed(addr)), err
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("change the %s flag on %s", flag, addr))), err
	case errors.Is(err, domain.ErrUnknownFlag):
		return lines(fmt.Sprintf("%s is not a valid flag.", flag)), err
	}
	return nil, err
}

func (r *run) set() ([]string, error) {
	option := r.cmd.Arg(0)
	if option == "" {
		values, err := r.list.ConfigValues(r.ctx, r.user)
		switch {
		case err == nil:
			out := lines(fmt.Sprintf("Configuration for %s:", r.cmd.List))
			for _, v := range values {
				out = append(out, fmt.Sprintf("%s: %v", v.Option, v.Value))
			}
			return out, nil
		case errors.Is(err, domain.ErrInsufficientPermissions):
			return lines(denied(fmt.Sprintf("view options on %s", r.cmd.List))), err
		}
		return nil, err
	}

	err := r.list.SetConfigValue(r.ctx, r.user, option, r.cmd.Value)
	switch {
	case err == nil:
		return lines(fmt.Sprintf("Set %s to %v on %s.", option, r.cmd.Value, r.cmd.List)), nil
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("change %s on %s", option, r.cmd.List))), err
	case errors.Is(err, domain.ErrUnknownOption):
		return lines(fmt.Sprintf("%s is not a valid configuration option.", option)), err
	case errors.Is(err, domain.ErrInvalidOptionValue):
		opt, _ := domain.LookupOption(option)
		return lines(fmt.Sprintf("%v is not a valid value for %s (expected %s).", valueText(r.cmd.Value), option, opt.Type)), err
	}
	return nil, err
}

func (r *run) members() ([]string, error) {
	ms, err := r.list.Members(r.ctx, r.user)
	switch {
	case err == nil:
		return append(lines(fmt.Sprintf("Members of %s:", r.cmd.List)), ms...), nil
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("view the members of %s", r.cmd.List))), err
	}
	return nil, err
}

func (r *run) moderate(fn func(context.Context, string, string) error, success string) ([]string, error) {
	err := fn(r.ctx, r.user, r.cmd.Arg(0))
	switch {
	case err == nil:
		return lines(success), nil
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("moderate messages on %s", r.cmd.List))), err
	case errors.Is(err, domain.ErrModeratedMessageNotFound):
		return lines("Message not found.  It may already have been acted on."), err
	}
	return nil, err
}

func (r *run) held() ([]string, error) {
	held, err := r.list.Held(r.ctx, r.user)
	switch {
	case err == nil:
		out := lines(fmt.Sprintf("Held posts on %s:", r.cmd.List))
		for _, h := range held {
			subject := strings.TrimSpace(h.Subject)
			if subject == "" {
				subject = "(no subject)"
			}
			out = append(out, fmt.Sprintf("%s: %s: %s (%s)", h.ID, h.Sender, subject, h.Reason))
		}
		return out, nil
	case errors.Is(err, domain.ErrInsufficientPermissions):
		return lines(denied(fmt.Sprintf("moderate messages on %s", r.cmd.List))), err
	}
	return nil, err
}

func valueText(v any) string {
	if v == nil {
		return "(empty)"
	}
	return fmt.Sprint(v)
}
