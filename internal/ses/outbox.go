// Package ses is the outbound mail transport. Replies go out as simple
// SES v2 messages; list deliveries re-send the stored raw post with list
// headers injected, in recipient batches.
package ses

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/pkg/logger"
)

// MaxRecipientsPerMessage is the SES destination limit for one SendEmail call.
const MaxRecipientsPerMessage = 50

// SendEmailAPI is the SES v2 call the outbox uses.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// RawSource returns the stored bytes of a post.
type RawSource interface {
	Raw(ctx context.Context, key string) ([]byte, error)
}

// Outbox implements mailinglist.Outbox over SES.
type Outbox struct {
	client  SendEmailAPI
	raw     RawSource
	from    string
	timeout time.Duration
	batch   int
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithTimeout bounds every SendEmail call.
func WithTimeout(d time.Duration) Option { return func(o *Outbox) { o.timeout = d } }

// WithBatchSize caps recipients per raw send. Values above the SES limit are
// clamped.
func WithBatchSize(n int) Option {
	return func(o *Outbox) {
		if n > 0 && n <= MaxRecipientsPerMessage {
			o.batch = n
		}
	}
}

// NewOutbox creates an outbox sending replies from replyFrom.
func NewOutbox(client SendEmailAPI, raw RawSource, replyFrom string, opts ...Option) *Outbox {
	o := &Outbox{
		client:  client,
		raw:     raw,
		from:    replyFrom,
		timeout: 10 * time.Second,
		batch:   MaxRecipientsPerMessage,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewOutboxFromConfig builds the outbox with an SES client from cfg.
func NewOutboxFromConfig(cfg aws.Config, raw RawSource, replyFrom string, opts ...Option) *Outbox {
	return NewOutbox(sesv2.NewFromConfig(cfg), raw, replyFrom, opts...)
}

func (o *Outbox) send(ctx context.Context, in *sesv2.SendEmailInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	out, err := o.client.SendEmail(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// Reply sends a plain text message.
func (o *Outbox) Reply(ctx context.Context, msg domain.OutboundMessage) error {
	id, err := o.send(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(o.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		logger.Warn("ses reply failed", "to", msg.To, "error", err)
		return fmt.Errorf("ses reply to %s: %w", logger.RedactEmail(msg.To), err)
	}
	logger.Debug("ses reply sent", "to", msg.To, "message_id", id)
	return nil
}

// Deliver re-sends the stored post to d.Recipients. Recipients go in Bcc so
// members never see each other; the list address is the envelope sender.
// A failure after the first batch is a *domain.PartialDelivery naming the
// recipients that were not reached.
func (o *Outbox) Deliver(ctx context.Context, d domain.Delivery) error {
	raw, err := o.raw.Raw(ctx, d.ObjectKey)
	if err != nil {
		return fmt.Errorf("load post %s: %w", d.ObjectKey, err)
	}
	data := RewriteHeaders(raw, d)

	for start := 0; start < len(d.Recipients); start += o.batch {
		end := min(start+o.batch, len(d.Recipients))
		id, err := o.send(ctx, &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(d.ListAddress),
			Destination:      &types.Destination{BccAddresses: d.Recipients[start:end]},
			Content:          &types.EmailContent{Raw: &types.RawMessage{Data: data}},
			EmailTags: []types.MessageTag{
				{Name: aws.String("list"), Value: aws.String(tagValue(d.ListAddress))},
			},
		})
		if err != nil {
			err = fmt.Errorf("ses deliver %s batch %d-%d: %w", d.ListAddress, start, end, err)
			if start == 0 {
				return err
			}
			return &domain.PartialDelivery{
				Sent:      d.Recipients[:start],
				Remaining: d.Recipients[start:],
				Err:       err,
			}
		}
		logger.Debug("ses batch sent", "list", d.ListAddress, "recipients", end-start, "message_id", id)
	}
	return nil
}
