package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/listserv/internal/domain"
)

// sesNotification is the SES receipt notification for a received message,
// as published to SNS or embedded in a Lambda record.
type sesNotification struct {
	NotificationType string  `json:"notificationType"`
	Mail             sesMail `json:"mail"`
	Receipt          struct {
		Recipients []string `json:"recipients"`
		Action     struct {
			Type       string `json:"type"`
			BucketName string `json:"bucketName"`
			ObjectKey  string `json:"objectKey"`
		} `json:"action"`
	} `json:"receipt"`
}

type sesMail struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	MessageID     string    `json:"messageId"`
	Destination   []string  `json:"destination"`
	CommonHeaders struct {
		From    []string `json:"from"`
		To      []string `json:"to"`
		Cc      []string `json:"cc"`
		Subject string   `json:"subject"`
	} `json:"commonHeaders"`
}

// snsEnvelope is the HTTP(S) delivery wrapper SNS puts around a message.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// lambdaEvent is the SES event shape delivered to a Lambda function.
type lambdaEvent struct {
	Records []struct {
		EventSource string          `json:"eventSource"`
		SES         sesNotification `json:"ses"`
	} `json:"Records"`
}

var errNotReceipt = errors.New("not a receipt notification")

// event converts the notification to an inbound event. Recipients are the
// union of the header destinations and the envelope recipients SES matched.
func (n sesNotification) event() (domain.InboundEvent, error) {
	if n.NotificationType != "" && n.NotificationType != "Received" {
		return domain.InboundEvent{}, fmt.Errorf("%w: %s", errNotReceipt, n.NotificationType)
	}
	key := n.Receipt.Action.ObjectKey
	if key == "" {
		key = n.Mail.MessageID
	}
	if key == "" {
		return domain.InboundEvent{}, errors.New("notification has neither object key nor message id")
	}

	seen := make(map[string]bool)
	var rcpts []string
	for _, list := range [][]string{n.Mail.Destination, n.Receipt.Recipients} {
		for _, a := range list {
			a = domain.NormalizeAddress(a)
			if a != "" && !seen[a] {
				seen[a] = true
				rcpts = append(rcpts, a)
			}
		}
	}
	return domain.InboundEvent{
		MessageID:  n.Mail.MessageID,
		Source:     n.Mail.Source,
		Recipients: rcpts,
		ObjectKey:  key,
		ReceivedAt: n.Mail.Timestamp,
	}, nil
}

// parsedBody is a decoded webhook body: either events to process or an SNS
// subscription to confirm.
type parsedBody struct {
	events       []domain.InboundEvent
	subscribeURL string
}

// parseBody accepts a bare SES notification, an SNS envelope around one, or
// a Lambda SES event.
func parseBody(body []byte) (parsedBody, error) {
	var probe struct {
		Type    string          `json:"Type"`
		Records json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return parsedBody{}, fmt.Errorf("invalid JSON: %w", err)
	}

	switch {
	case probe.Type != "":
		var env snsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return parsedBody{}, fmt.Errorf("invalid SNS envelope: %w", err)
		}
		switch env.Type {
		case "SubscriptionConfirmation":
			if !validSubscribeURL(env.SubscribeURL) {
				return parsedBody{}, fmt.Errorf("refusing SubscribeURL %q", env.SubscribeURL)
			}
			return parsedBody{subscribeURL: env.SubscribeURL}, nil
		case "Notification":
			ev, err := decodeNotification([]byte(env.Message))
			if err != nil {
				return parsedBody{}, err
			}
			return parsedBody{events: []domain.InboundEvent{ev}}, nil
		case "UnsubscribeConfirmation":
			return parsedBody{}, nil
		}
		return parsedBody{}, fmt.Errorf("unsupported SNS message type %q", env.Type)

	case len(probe.Records) > 0:
		var le lambdaEvent
		if err := json.Unmarshal(body, &le); err != nil {
			return parsedBody{}, fmt.Errorf("invalid Lambda event: %w", err)
		}
		var out parsedBody
		for _, r := range le.Records {
			if r.EventSource != "aws:ses" {
				continue
			}
			ev, err := r.SES.event()
			if err != nil {
				return parsedBody{}, err
			}
			out.events = append(out.events, ev)
		}
		return out, nil
	}

	ev, err := decodeNotification(body)
	if err != nil {
		return parsedBody{}, err
	}
	return parsedBody{events: []domain.InboundEvent{ev}}, nil
}

// validSubscribeURL only lets the webhook call back into SNS itself.
func validSubscribeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return strings.HasPrefix(host, "sns.") && strings.HasSuffix(host, ".amazonaws.com")
}

func decodeNotification(data []byte) (domain.InboundEvent, error) {
	var n sesNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("invalid SES notification: %w", err)
	}
	return n.event()
}
