package mailinglist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/permission"
)

// SendResult reports what happened to a post.
type SendResult struct {
	// Held is set when the post went to the moderation queue.
	Held *domain.ModeratedMessage
	// Recipients is the number of members the post was delivered to.
	Recipients int
}

// Send accepts a post addressed to the list. Posts from non-staff are held
// when the list is moderated, when the sender's moderated flag is set, or
// when the post exceeds max_message_kb. Everything else is delivered to the
// current subscribers. A delivery that stops part way queues the members it
// did not reach and reports success, so a redelivered event cannot reach
// the others twice.
func (l *List) Send(ctx context.Context, msg domain.Message) (SendResult, error) {
	rec, err := l.Record(ctx)
	if err != nil {
		return SendResult{}, err
	}
	sender := domain.NormalizeAddress(msg.Sender())
	m, err := l.membership(ctx, sender)
	if err != nil {
		return SendResult{}, err
	}
	role := permission.RoleFor(rec, sender, domain.StateOf(m))

	if reason := holdReason(rec, m, role, msg); reason != "" {
		held, err := l.hold(ctx, rec, l.newHeld(sender, msg.Header("Subject"), msg.ObjectKey(), reason))
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{Held: held}, nil
	}

	n, err := l.deliver(ctx, rec, sender, msg.Header("Subject"), msg.ObjectKey(), nil)
	var partial *domain.PartialDelivery
	if errors.As(err, &partial) {
		rest := l.newHeld(sender, msg.Header("Subject"), msg.ObjectKey(), domain.HoldDeliveryFailed)
		rest.Recipients = partial.Remaining
		l.log.Warn("partial delivery, holding remainder", "sender", sender, "sent", n, "remaining", len(partial.Remaining), "error", partial.Err)
		held, hErr := l.hold(ctx, rec, rest)
		if hErr != nil {
			return SendResult{}, errors.Join(err, hErr)
		}
		return SendResult{Held: held, Recipients: n}, nil
	}
	if err != nil {
		l.log.Error("delivery failed", "sender", sender, "error", err)
		return SendResult{}, err
	}
	l.log.Info("post delivered", "sender", sender, "recipients", n)
	return SendResult{Recipients: n}, nil
}

func holdReason(rec *domain.List, m *domain.Membership, role domain.Role, msg domain.Message) domain.HoldReason {
	if role.IsStaff() {
		return ""
	}
	switch limit := rec.Config.Int(domain.OptMaxMessageKB); {
	case rec.Config.Bool(domain.OptModerated):
		return domain.HoldModeratedList
	case m.Flag(domain.FlagModerated):
		return domain.HoldModeratedMember
	case limit > 0 && int64(msg.Size()) > limit*1024:
		return domain.HoldOversize
	}
	return ""
}

func (l *List) newHeld(sender, subject, objectKey string, reason domain.HoldReason) *domain.ModeratedMessage {
	return &domain.ModeratedMessage{
		ID:          l.deps.NewID(),
		ListAddress: l.address,
		Sender:      sender,
		Subject:     subject,
		ObjectKey:   objectKey,
		Reason:      reason,
		HeldAt:      l.deps.Now().UTC(),
	}
}

func (l *List) hold(ctx context.Context, rec *domain.List, held *domain.ModeratedMessage) (*domain.ModeratedMessage, error) {
	if err := l.deps.Repo.HoldMessage(ctx, held); err != nil {
		return nil, err
	}
	l.log.Info("post held", "sender", held.Sender, "id", held.ID, "reason", string(held.Reason))
	for _, staff := range rec.Staff() {
		l.notify(ctx, func() (domain.OutboundMessage, error) {
			return l.deps.Notices.HoldNotice(rec, staff, held)
		})
	}
	return held, nil
}

// deliver sends the stored post to every Subscribed member, skipping members
// on vacation and the sender unless echo_post is set. A non-empty only
// further restricts delivery to those addresses. On a partial failure the
// returned count is the number already sent and the error is a
// *domain.PartialDelivery.
func (l *List) deliver(ctx context.Context, rec *domain.List, sender, subject, objectKey string, only []string) (int, error) {
	ms, err := l.deps.Repo.Memberships(ctx, l.address, domain.MemberSubscribed)
	if err != nil {
		return 0, err
	}
	var recipients []string
	for i := range ms {
		m := &ms[i]
		if m.Flag(domain.FlagVacation) {
			continue
		}
		if m.Address == sender && !m.Flag(domain.FlagEchoPost) {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, m.Address) {
			continue
		}
		recipients = append(recipients, m.Address)
	}
	if len(recipients) == 0 {
		return 0, nil
	}
	d := l.delivery(rec, sender, subject, objectKey, recipients)
	if err := l.deps.Outbox.Deliver(ctx, d); err != nil {
		var partial *domain.PartialDelivery
		if errors.As(err, &partial) {
			return len(partial.Sent), fmt.Errorf("deliver to %s: %w", l.address, err)
		}
		return 0, fmt.Errorf("deliver to %s: %w", l.address, err)
	}
	return len(recipients), nil
}

func (l *List) delivery(rec *domain.List, sender, subject, objectKey string, recipients []string) domain.Delivery {
	if tag := rec.Config.String(domain.OptSubjectTag); tag != "" && !strings.Contains(subject, tag) {
		subject = strings.TrimSpace(tag + " " + subject)
	}
	headers := []domain.Header{
		{Name: "List-Id", Value: "<" + strings.Replace(rec.Address, "@", ".", 1) + ">"},
		{Name: "List-Post", Value: "<mailto:" + rec.Address + ">"},
	}
	if l.deps.CommandAddress != "" {
		q := url.Values{"subject": {"list " + rec.Address + " unsubscribe"}}
		headers = append(headers, domain.Header{
			Name:  "List-Unsubscribe",
			Value: "<mailto:" + l.deps.CommandAddress + "?" + strings.ReplaceAll(q.Encode(), "+", "%20") + ">",
		})
	}
	if rec.Config.Bool(domain.OptReplyToList) {
		headers = append(headers, domain.Header{Name: "Reply-To", Value: rec.Address})
	}
	return domain.Delivery{
		ListAddress: rec.Address,
		Sender:      sender,
		Recipients:  recipients,
		ObjectKey:   objectKey,
		Subject:     subject,
		Headers:     headers,
	}
}
