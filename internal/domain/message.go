package domain

import (
	"fmt"
	"time"
)

// Message is the read-only view of an inbound message that the core needs.
// MIME parsing lives behind this interface.
type Message interface {
	// Header returns the first value of the named header, or "".
	Header(name string) string
	// Sender returns the bare address of the From header.
	Sender() string
	// Text returns the plain text body.
	Text() string
	// Size returns the raw message size in bytes.
	Size() int
	// ObjectKey locates the raw message in the message store.
	ObjectKey() string
}

// InboundEvent is one received message as announced by the receiving
// transport: the envelope recipients and a reference to the stored content.
type InboundEvent struct {
	MessageID  string    `json:"message_id"`
	Source     string    `json:"source"`
	Recipients []string  `json:"recipients"`
	ObjectKey  string    `json:"object_key"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is a (recipient, subject, body) reply produced by the core.
type OutboundMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Header is a single header line added to a delivered post.
type Header struct {
	Name  string
	Value string
}

// Delivery fans a stored post out to list members.
type Delivery struct {
	ListAddress string
	Sender      string
	Recipients  []string
	ObjectKey   string
	Subject     string
	Headers     []Header
}

// PartialDelivery is returned by a transport that stopped part way through a
// delivery. Sent members already have the post; Remaining do not.
type PartialDelivery struct {
	Sent      []string
	Remaining []string
	Err       error
}

func (e *PartialDelivery) Error() string {
	return fmt.Sprintf("delivered to %d of %d recipients: %v", len(e.Sent), len(e.Sent)+len(e.Remaining), e.Err)
}

func (e *PartialDelivery) Unwrap() error { return e.Err }
