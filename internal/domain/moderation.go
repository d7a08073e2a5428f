package domain

import "time"

// HoldReason explains why a post was withheld.
type HoldReason string

const (
	HoldModeratedList   HoldReason = "moderated_list"
	HoldModeratedMember HoldReason = "moderated_member"
	HoldOversize        HoldReason = "oversize"
	// HoldDeliveryFailed queues the recipients a delivery did not reach.
	HoldDeliveryFailed  HoldReason = "delivery_failed"
)

// ModeratedMessage is a post held in a list's moderation queue.
type ModeratedMessage struct {
	ID          string     `json:"id" db:"id" dynamodbav:"ID"`
	ListAddress string     `json:"list_address" db:"list_address" dynamodbav:"ListAddress"`
	Sender      string     `json:"sender" db:"sender" dynamodbav:"Sender"`
	Subject     string     `json:"subject" db:"subject" dynamodbav:"Subject"`
	ObjectKey   string     `json:"object_key" db:"object_key" dynamodbav:"ObjectKey"`
	Reason      HoldReason `json:"reason" db:"reason" dynamodbav:"Reason"`
	HeldAt      time.Time  `json:"held_at" db:"held_at" dynamodbav:"HeldAt"`
	// Recipients restricts a release to these members. Empty means every
	// current subscriber.
	Recipients  []string   `json:"recipients,omitempty" db:"recipients" dynamodbav:"Recipients,omitempty"`
}
