// Package inbound processes one received message end to end: fetch the raw
// message, route it, then run the command or post it to every matched list.
package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/ignite/listserv/internal/service/command"
	"github.com/ignite/listserv/internal/service/mailinglist"
	"github.com/ignite/listserv/internal/service/routing"
	"github.com/ignite/listserv/internal/storage"
)

// MessageStore loads raw messages by object key.
type MessageStore interface {
	Fetch(ctx context.Context, key string) (*storage.Message, error)
}

// Replier sends command replies.
type Replier interface {
	Reply(ctx context.Context, msg domain.OutboundMessage) error
}

// ListResult is the outcome of posting to one list.
type ListResult struct {
	List       string `json:"list"`
	Outcome    string `json:"outcome"`
	HeldID     string `json:"held_id,omitempty"`
	Recipients int    `json:"recipients"`
	Error      string `json:"error,omitempty"`
}

// CommandResult is the outcome of a command message.
type CommandResult struct {
	Verb    string `json:"verb,omitempty"`
	List    string `json:"list,omitempty"`
	Outcome string `json:"outcome"`
	Replied bool   `json:"replied"`
}

// Report summarises what happened to one event.
type Report struct {
	MessageID string         `json:"message_id"`
	Route     string         `json:"route"`
	Command   *CommandResult `json:"command,omitempty"`
	Lists     []ListResult   `json:"lists,omitempty"`
}

// Processor wires the router, the command dispatcher and the lists.
type Processor struct {
	store    MessageStore
	router   *routing.Router
	commands *command.Dispatcher
	replies  Replier
}

// NewProcessor creates a processor.
func NewProcessor(store MessageStore, router *routing.Router, commands *command.Dispatcher, replies Replier) *Processor {
	return &Processor{store: store, router: router, commands: commands, replies: replies}
}

// Process handles ev. Each matched list is an independent unit of work:
// an outcome error on one list never stops the others, and lists that
// succeeded are not rolled back when another fails. Infrastructure failures
// (store, lock, transport) are collected and returned so the caller can
// retry.
func (p *Processor) Process(ctx context.Context, ev domain.InboundEvent) (Report, error) {
	rep := Report{MessageID: ev.MessageID}
	log := logger.With("message_id", ev.MessageID)

	msg, err := p.store.Fetch(ctx, ev.ObjectKey)
	if err != nil {
		eventsTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("fetch %s: %w", ev.ObjectKey, err)
	}

	route, err := p.router.Route(ctx, ev)
	if err != nil {
		eventsTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("route: %w", err)
	}

	switch {
	case route.Command:
		rep.Route = "command"
		eventsTotal.WithLabelValues(rep.Route).Inc()
		res, err := p.command(ctx, msg)
		rep.Command = res
		return rep, err
	case len(route.Lists) == 0:
		rep.Route = "unrouted"
		eventsTotal.WithLabelValues(rep.Route).Inc()
		log.Info("no list or command address matched", "recipients", len(ev.Recipients))
		return rep, nil
	}

	rep.Route = "list"
	eventsTotal.WithLabelValues(rep.Route).Inc()
	log.Info("message from sender", "sender", msg.Sender(), "lists", len(route.Lists))

	var fatal []error
	for _, l := range route.Lists {
		res := p.post(ctx, l, msg)
		rep.Lists = append(rep.Lists, res.ListResult)
		if res.err != nil {
			fatal = append(fatal, fmt.Errorf("list %s: %w", l.Address(), res.err))
		}
	}
	return rep, errors.Join(fatal...)
}

type postResult struct {
	ListResult
	err error
}

func (p *Processor) post(ctx context.Context, l *mailinglist.List, msg *storage.Message) postResult {
	res := postResult{ListResult: ListResult{List: l.Address()}}
	sent, err := l.Send(ctx, msg)
	res.Outcome = OutcomeLabel(err)
	defer func() { postsTotal.WithLabelValues(res.Outcome).Inc() }()
	switch {
	case err == nil:
		if sent.Held != nil {
			res.Outcome = "held"
			res.HeldID = sent.Held.ID
		}
		res.Recipients = sent.Recipients
		recipientsTotal.Add(float64(sent.Recipients))
	case domain.IsOutcome(err):
		res.Error = err.Error()
	default:
		res.Error = err.Error()
		res.err = err
	}
	return res
}

func (p *Processor) command(ctx context.Context, msg *storage.Message) (*CommandResult, error) {
	res, err := p.commands.Handle(ctx, msg)
	out := &CommandResult{Verb: res.Command.Verb, List: res.Command.List, Outcome: OutcomeLabel(res.Outcome)}
	if err != nil {
		commandsTotal.WithLabelValues(out.Verb, "error").Inc()
		out.Outcome = "error"
		return out, err
	}
	commandsTotal.WithLabelValues(out.Verb, out.Outcome).Inc()
	if res.Reply.To == "" {
		return out, nil
	}
	if err := p.replies.Reply(ctx, res.Reply); err != nil {
		return out, fmt.Errorf("command reply: %w", err)
	}
	out.Replied = true
	return out, nil
}
