package inbound

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ignite/listserv/internal/domain"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listserv_inbound_events_total",
			Help: "Inbound messages by route (command, list, unrouted, error)",
		},
		[]string{"route"},
	)

	postsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listserv_posts_total",
			Help: "Per-list post outcomes",
		},
		[]string{"outcome"},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listserv_commands_total",
			Help: "Commands handled by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	recipientsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listserv_delivery_recipients_total",
			Help: "Member addresses handed to the outbound transport",
		},
	)
)

var outcomeLabels = []struct {
	err   error
	label string
}{
	{domain.ErrInsufficientPermissions, "insufficient_permissions"},
	{domain.ErrAlreadySubscribed, "already_subscribed"},
	{domain.ErrNotSubscribed, "not_subscribed"},
	{domain.ErrClosedSubscription, "closed_subscription"},
	{domain.ErrClosedUnsubscription, "closed_unsubscription"},
	{domain.ErrUnknownFlag, "unknown_flag"},
	{domain.ErrUnknownOption, "unknown_option"},
	{domain.ErrInvalidOptionValue, "invalid_option_value"},
	{domain.ErrModeratedMessageNotFound, "message_not_found"},
	{domain.ErrInvalidSignature, "invalid_signature"},
	{domain.ErrExpiredSignature, "expired_signature"},
	{domain.ErrInvalidListAddress, "invalid_list_address"},
	{domain.ErrInvalidCommand, "invalid_command"},
}

// OutcomeLabel maps an operation result to a short, stable label.
func OutcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomeLabels {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}
