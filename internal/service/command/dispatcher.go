package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/ignite/listserv/internal/service/mailinglist"
)

// Lists resolves a list address to a handle.
type Lists interface {
	Get(ctx context.Context, address string) (*mailinglist.List, error)
}

// Replies renders the reply mail for a command run.
type Replies interface {
	CommandReply(to, command string, lines []string) (domain.OutboundMessage, error)
}

// Result is the outcome of one command message.
type Result struct {
	Command Command
	// Outcome is nil on success or one of the domain outcome errors.
	Outcome error
	// Reply is empty when the sender could not be determined.
	Reply domain.OutboundMessage
}

// Dispatcher executes commands on behalf of the message sender.
type Dispatcher struct {
	lists   Lists
	replies Replies
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(lists Lists, replies Replies) *Dispatcher {
	return &Dispatcher{lists: lists, replies: replies}
}

// Handle parses and runs the command in msg. Outcome errors are reported in
// the Result and rendered into the reply; only infrastructure failures are
// returned as err.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.Message) (Result, error) {
	user := domain.NormalizeAddress(msg.Sender())
	if user == "" {
		return Result{Outcome: fmt.Errorf("%w: no sender", domain.ErrInvalidCommand)}, nil
	}

	cmd, err := Parse(msg.Header("Subject"), msg.Text())
	var out []string
	if err != nil {
		out = append([]string{"Sorry, that command was not understood: " + firstNonEmpty(cmd.Line, msg.Header("Subject")), ""}, helpText...)
	} else {
		out, err = d.run(ctx, user, cmd)
		if err != nil && !domain.IsOutcome(err) {
			logger.Error("command failed", "user", user, "list", cmd.List, "verb", cmd.Verb, "error", err)
			return Result{Command: cmd}, err
		}
		if err != nil && len(out) == 0 {
			out = lines("The command failed: " + err.Error() + ".")
		}
	}
	logger.Info("command handled", "user", user, "list", cmd.List, "verb", cmd.Verb, "outcome", outcomeName(err))

	reply, rerr := d.replies.CommandReply(user, cmd.Line, out)
	if rerr != nil {
		return Result{Command: cmd, Outcome: err}, rerr
	}
	return Result{Command: cmd, Outcome: err, Reply: reply}, nil
}

func (d *Dispatcher) run(ctx context.Context, user string, cmd Command) ([]string, error) {
	if cmd.Verb == VerbHelp {
		return helpText, nil
	}
	l, err := d.lists.Get(ctx, cmd.List)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidListAddress) {
			return lines(invalidList(cmd.List)), err
		}
		return nil, err
	}
	r := &run{ctx: ctx, user: user, cmd: cmd, list: l}

	switch cmd.Verb {
	case VerbSubscribe:
		return r.subscribe()
	case VerbUnsubscribe:
		return r.unsubscribe()
	case VerbAcceptSubscription:
		return r.accept(l.AcceptSubscriptionInvitation, fmt.Sprintf("You are now subscribed to %s.", cmd.List))
	case VerbAcceptUnsubscription:
		return r.accept(l.AcceptUnsubscriptionInvitation, fmt.Sprintf("You are no longer subscribed to %s.", cmd.List))
	case VerbSetFlag:
		return r.flag(true)
	case VerbUnsetFlag:
		return r.flag(false)
	case VerbSet:
		return r.set()
	case VerbMembers:
		return r.members()
	case VerbModApprove:
		return r.moderate(l.ModApprove, "Post approved.")
	case VerbModReject:
		return r.moderate(l.ModReject, "Post rejected.")
	case VerbModList:
		return r.held()
	}
	return lines("Unknown command."), fmt.Errorf("%w: %s", domain.ErrInvalidCommand, cmd.Verb)
}

func outcomeName(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func lines(l ...string) []string { return l }
