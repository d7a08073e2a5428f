package mailinglist

import (
	"context"
	"time"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/token"
)

// Repository defines the persistence contract for lists, memberships and the
// moderation queue. Writes carry the version the caller read; a stale version
// fails with domain.ErrConflict. Driver failures are wrapped with
// domain.ErrStoreUnavailable.
type Repository interface {
	// GetList returns domain.ErrRecordNotFound for an unknown address.
	GetList(ctx context.Context, address string) (*domain.List, error)

	// CreateList stores a new list at version 1. Returns domain.ErrConflict
	// if the address is taken.
	CreateList(ctx context.Context, l *domain.List) error

	// UpdateList replaces the list record if its stored version equals
	// expectedVersion, and bumps l.Version on success.
	UpdateList(ctx context.Context, l *domain.List, expectedVersion int64) error

	// ListAddresses returns every known list address, sorted.
	ListAddresses(ctx context.Context) ([]string, error)

	// GetMembership returns domain.ErrRecordNotFound when no record exists,
	// which callers treat as NonMember.
	GetMembership(ctx context.Context, listAddress, address string) (*domain.Membership, error)

	// PutMembership writes m if the stored version equals expectedVersion.
	// An expectedVersion of 0 means the record must not exist. m.Version is
	// bumped on success.
	PutMembership(ctx context.Context, m *domain.Membership, expectedVersion int64) error

	// DeleteMembership removes the record if its version equals
	// expectedVersion. A missing record is a conflict.
	DeleteMembership(ctx context.Context, listAddress, address string, expectedVersion int64) error

	// Memberships returns the list's records in the given state, sorted by
	// address.
	Memberships(ctx context.Context, listAddress string, state domain.MembershipState) ([]domain.Membership, error)

	// HoldMessage adds a message to the list's moderation queue.
	HoldMessage(ctx context.Context, m *domain.ModeratedMessage) error

	// TakeHeldMessage atomically removes and returns a held message.
	// Exactly one concurrent caller wins; the rest get
	// domain.ErrRecordNotFound.
	TakeHeldMessage(ctx context.Context, listAddress, id string) (*domain.ModeratedMessage, error)

	// HeldMessages returns the queue in hold order.
	HeldMessages(ctx context.Context, listAddress string) ([]domain.ModeratedMessage, error)
}

// Locker serializes mutations per list. Satisfied by distlock.Locker.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Outbox hands mail to the outbound transport.
type Outbox interface {
	// Reply sends a single (recipient, subject, body) message.
	Reply(ctx context.Context, msg domain.OutboundMessage) error
	// Deliver fans a stored post out to list members.
	Deliver(ctx context.Context, d domain.Delivery) error
}

// Notices renders the notification mails the state machine emits.
type Notices interface {
	Invitation(l *domain.List, member string, kind token.Kind, tok string, expires time.Time) (domain.OutboundMessage, error)
	HoldNotice(l *domain.List, to string, held *domain.ModeratedMessage) (domain.OutboundMessage, error)
	RejectNotice(l *domain.List, held *domain.ModeratedMessage) (domain.OutboundMessage, error)
}
