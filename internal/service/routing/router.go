// Package routing decides where an inbound message goes: to the command
// processor, or to the lists it was addressed to.
package routing

import (
	"context"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/service/mailinglist"
)

// ListFinder resolves recipient addresses to lists.
type ListFinder interface {
	ListsForAddresses(ctx context.Context, addresses []string) ([]*mailinglist.List, error)
}

// Route is the result of routing one event. When Command is set, Lists is
// empty: commands take priority over list delivery.
type Route struct {
	Command bool
	Lists   []*mailinglist.List
}

// Empty reports whether the event matched nothing.
func (r Route) Empty() bool { return !r.Command && len(r.Lists) == 0 }

// Router implements address routing.
type Router struct {
	commandAddress string
	lists          ListFinder
}

// NewRouter creates a router for the given command address.
func NewRouter(commandAddress string, lists ListFinder) *Router {
	return &Router{commandAddress: domain.NormalizeAddress(commandAddress), lists: lists}
}

// Route matches the event's recipients against the command address and the
// known list addresses.
func (r *Router) Route(ctx context.Context, ev domain.InboundEvent) (Route, error) {
	for _, rcpt := range ev.Recipients {
		if r.commandAddress != "" && domain.NormalizeAddress(rcpt) == r.commandAddress {
			return Route{Command: true}, nil
		}
	}
	lists, err := r.lists.ListsForAddresses(ctx, ev.Recipients)
	if err != nil {
		return Route{}, err
	}
	return Route{Lists: lists}, nil
}
