package domain

import "errors"

// Outcome errors. Every public mailing list operation returns nil or an error
// matching exactly one of these through errors.Is. Callers branch on the
// sentinel, never on the message text.
var (
	ErrInsufficientPermissions  = errors.New("insufficient permissions")
	ErrAlreadySubscribed        = errors.New("already subscribed")
	ErrNotSubscribed            = errors.New("not subscribed")
	ErrClosedSubscription       = errors.New("list is closed to subscription")
	ErrClosedUnsubscription     = errors.New("list is closed to unsubscription")
	ErrUnknownFlag              = errors.New("unknown member flag")
	ErrUnknownOption            = errors.New("unknown configuration option")
	ErrInvalidOptionValue       = errors.New("invalid value for configuration option")
	ErrModeratedMessageNotFound = errors.New("moderated message not found")
	ErrInvalidSignature         = errors.New("invalid signature")
	ErrExpiredSignature         = errors.New("expired signature")
	ErrInvalidListAddress       = errors.New("invalid list address")
	ErrInvalidCommand           = errors.New("invalid command")
)

// Persistence contract errors.
var (
	// ErrRecordNotFound is returned by repositories when a keyed record is absent.
	ErrRecordNotFound = errors.New("record not found")
	// ErrConflict is returned when a compare-and-swap write lost against a
	// concurrent writer.
	ErrConflict = errors.New("record version conflict")
	// ErrStoreUnavailable marks a failure of the backing store itself. It is
	// fatal to the request and retried by the transport.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsOutcome reports whether err is one of the expected, caller-recoverable
// outcome errors rather than an infrastructure failure.
func IsOutcome(err error) bool {
	for _, target := range outcomeErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var outcomeErrors = []error{
	ErrInsufficientPermissions,
	ErrAlreadySubscribed,
	ErrNotSubscribed,
	ErrClosedSubscription,
	ErrClosedUnsubscription,
	ErrUnknownFlag,
	ErrUnknownOption,
	ErrInvalidOptionValue,
	ErrModeratedMessageNotFound,
	ErrInvalidSignature,
	ErrExpiredSignature,
	ErrInvalidListAddress,
	ErrInvalidCommand,
}
