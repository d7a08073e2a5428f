package mailinglist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/permission"
	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/ignite/listserv/internal/token"
)

// Deps are the collaborators shared by every List handle.
type Deps struct {
	Repo        Repository
	Locker      Locker
	Permissions *permission.Engine
	Tokens      *token.Codec
	Outbox      Outbox
	Notices     Notices

	// CommandAddress is advertised in List-Unsubscribe headers.
	CommandAddress string

	Now   func() time.Time
	NewID func() string
}

// Registry maps addresses to lists. It is safe for concurrent use.
type Registry struct {
	deps Deps
}

// NewRegistry validates deps and fills defaults for the clock and id source.
func NewRegistry(deps Deps) (*Registry, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("%w: repository", ErrMissingDependency)
	case deps.Locker == nil:
		return nil, fmt.Errorf("%w: locker", ErrMissingDependency)
	case deps.Tokens == nil:
		return nil, fmt.Errorf("%w: token codec", ErrMissingDependency)
	case deps.Outbox == nil:
		return nil, fmt.Errorf("%w: outbox", ErrMissingDependency)
	case deps.Notices == nil:
		return nil, fmt.Errorf("%w: notices", ErrMissingDependency)
	}
	if deps.Permissions == nil {
		deps.Permissions = permission.NewEngine()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	deps.CommandAddress = domain.NormalizeAddress(deps.CommandAddress)
	return &Registry{deps: deps}, nil
}

// Get returns a handle for the list at address, or ErrInvalidListAddress.
func (r *Registry) Get(ctx context.Context, address string) (*List, error) {
	address = domain.NormalizeAddress(address)
	if _, err := r.deps.Repo.GetList(ctx, address); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidListAddress, address)
		}
		return nil, err
	}
	return r.handle(address), nil
}

// ListsForAddresses returns every list whose address appears in addresses,
// ordered by address. Unknown addresses are ignored.
func (r *Registry) ListsForAddresses(ctx context.Context, addresses []string) ([]*List, error) {
	seen := make(map[string]bool, len(addresses))
	var found []string
	for _, a := range addresses {
		a = domain.NormalizeAddress(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		_, err := r.deps.Repo.GetList(ctx, a)
		if errors.Is(err, domain.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, a)
	}
	slices.Sort(found)
	out := make([]*List, 0, len(found))
	for _, a := range found {
		out = append(out, r.handle(a))
	}
	return out, nil
}

// Addresses returns every known list address.
func (r *Registry) Addresses(ctx context.Context) ([]string, error) {
	return r.deps.Repo.ListAddresses(ctx)
}

// Ensure provisions spec if no list exists at its address. An existing list
// is left untouched. Reports whether a list was created.
func (r *Registry) Ensure(ctx context.Context, spec domain.List) (*List, bool, error) {
	spec.Address = domain.NormalizeAddress(spec.Address)
	if !domain.ValidAddress(spec.Address) {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrInvalidListAddress, spec.Address)
	}
	if err := spec.Config.Validate(); err != nil {
		return nil, false, fmt.Errorf("list %s: %w", spec.Address, err)
	}
	spec.Owner = domain.NormalizeAddress(spec.Owner)
	mods := make([]string, 0, len(spec.Moderators))
	for _, m := range spec.Moderators {
		mods = append(mods, domain.NormalizeAddress(m))
	}
	spec.Moderators = mods
	if spec.Config == nil {
		spec.Config = domain.ListConfig{}
	}
	now := r.deps.Now().UTC()
	spec.CreatedAt, spec.UpdatedAt = now, now

	err := r.deps.Repo.CreateList(ctx, &spec)
	switch {
	case err == nil:
		logger.Info("list provisioned", "list", spec.Address, "owner", spec.Owner, "moderators", len(spec.Moderators))
		return r.handle(spec.Address), true, nil
	case errors.Is(err, domain.ErrConflict):
		return r.handle(spec.Address), false, nil
	default:
		return nil, false, err
	}
}

func (r *Registry) handle(address string) *List {
	return &List{
		address: address,
		deps:    r.deps,
		log:     logger.With("list", address),
	}
}
