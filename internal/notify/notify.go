// Package notify renders the mails the list engine sends on its own behalf:
// confirmation invitations, moderation notices and command replies. Templates
// use the Liquid language and are parsed once at construction.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/token"
)

// Template names. Each has a subject and a body variant, e.g.
// "invitation_subscribe.subject".
const (
	TplInviteSubscribe   = "invitation_subscribe"
	TplInviteUnsubscribe = "invitation_unsubscribe"
	TplHold              = "hold"
	TplReject            = "reject"
	TplCommandReply      = "command_reply"
)

var defaults = map[string]string{
	TplInviteSubscribe + ".subject": `Confirm your subscription to {{ list }}`,
	TplInviteSubscribe + ".body": `Someone, hopefully you, asked to subscribe {{ member }} to {{ list }}.

To confirm, send a message to {{ command_address }} with this line as the
subject or the first line of the body:

list {{ list }} accept-subscription {{ token }}

The invitation expires {{ expires }}. If you did not ask for this, ignore
this message.
`,
	TplInviteUnsubscribe + ".subject": `Confirm your removal from {{ list }}`,
	TplInviteUnsubscribe + ".body": `Someone, hopefully you, asked to unsubscribe {{ member }} from {{ list }}.

To confirm, send a message to {{ command_address }} with this line as the
subject or the first line of the body:

list {{ list }} accept-unsubscription {{ token }}

The invitation expires {{ expires }}.
`,
	TplHold + ".subject": `Post to {{ list }} held for moderation`,
	TplHold + ".body": `A post to {{ list }} is waiting for approval.

From:    {{ sender }}
Subject: {{ subject | fallback: "(no subject)" }}
Reason:  {{ reason }}

To release it, send this line to {{ command_address }}:

list {{ list }} mod approve {{ id }}

To discard it:

list {{ list }} mod reject {{ id }}
`,
	TplReject + ".subject": `Your post to {{ list }} was rejected`,
	TplReject + ".body": `Your post to {{ list }}{% if subject != "" %} with subject "{{ subject }}"{% endif %} was rejected by a moderator.
`,
	TplCommandReply + ".subject": `Re: {{ command | fallback: "your command" }}`,
	TplCommandReply + ".body": `{% for line in lines %}{{ line }}
{% endfor %}`,
}

// Notifier renders notification mails. It is safe for concurrent use.
type Notifier struct {
	commandAddress string
	templates      map[string]*liquid.Template
}

// Option configures a Notifier.
type Option func(map[string]string)

// WithTemplate overrides one template source, e.g. "hold.body".
func WithTemplate(name, src string) Option {
	return func(m map[string]string) { m[name] = src }
}

// New parses every template. commandAddress is where recipients send their
// replies.
func New(commandAddress string, opts ...Option) (*Notifier, error) {
	srcs := make(map[string]string, len(defaults))
	for k, v := range defaults {
		srcs[k] = v
	}
	for _, o := range opts {
		o(srcs)
	}

	engine := liquid.NewEngine()
	engine.RegisterFilter("fallback", func(value interface{}, defaultVal string) interface{} {
		if s, ok := value.(string); value == nil || (ok && s == "") {
			return defaultVal
		}
		return value
	})

	n := &Notifier{commandAddress: commandAddress, templates: make(map[string]*liquid.Template, len(srcs))}
	for name, src := range srcs {
		if _, ok := defaults[name]; !ok {
			return nil, fmt.Errorf("notify: unknown template %q", name)
		}
		tpl, err := engine.ParseString(src)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s: %w", name, err)
		}
		n.templates[name] = tpl
	}
	return n, nil
}

func (n *Notifier) render(name, to string, bindings map[string]interface{}) (domain.OutboundMessage, error) {
	bindings["command_address"] = n.commandAddress
	subject, err := n.templates[name+".subject"].RenderString(bindings)
	if err != nil {
		return domain.OutboundMessage{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	body, err := n.templates[name+".body"].RenderString(bindings)
	if err != nil {
		return domain.OutboundMessage{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return domain.OutboundMessage{To: to, Subject: strings.TrimSpace(subject), Body: body}, nil
}

// Invitation renders the confirmation mail for a pending subscribe or
// unsubscribe.
func (n *Notifier) Invitation(l *domain.List, member string, kind token.Kind, tok string, expires time.Time) (domain.OutboundMessage, error) {
	name := TplInviteSubscribe
	if kind == token.KindUnsubscribe {
		name = TplInviteUnsubscribe
	}
	return n.render(name, member, map[string]interface{}{
		"list":    l.Address,
		"member":  member,
		"token":   tok,
		"expires": expires.UTC().Format(time.RFC1123),
	})
}

// HoldNotice tells a staff member that a post is waiting.
func (n *Notifier) HoldNotice(l *domain.List, to string, held *domain.ModeratedMessage) (domain.OutboundMessage, error) {
	return n.render(TplHold, to, map[string]interface{}{
		"list":    l.Address,
		"id":      held.ID,
		"sender":  held.Sender,
		"subject": held.Subject,
		"reason":  string(held.Reason),
	})
}

// RejectNotice tells the submitter their post was discarded.
func (n *Notifier) RejectNotice(l *domain.List, held *domain.ModeratedMessage) (domain.OutboundMessage, error) {
	return n.render(TplReject, held.Sender, map[string]interface{}{
		"list":    l.Address,
		"subject": held.Subject,
	})
}

// CommandReply wraps the outcome lines of a command run.
func (n *Notifier) CommandReply(to, command string, lines []string) (domain.OutboundMessage, error) {
	return n.render(TplCommandReply, to, map[string]interface{}{
		"command": command,
		"lines":   lines,
	})
}
