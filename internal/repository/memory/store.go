// Package memory is an in-process implementation of the mailing list
// repository. It backs the single-node deployment and the service tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ignite/listserv/internal/domain"
)

// Store keeps every record in maps guarded by one mutex. Values are copied
// on the way in and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	lists   map[string]domain.List
	members map[string]map[string]domain.Membership
	held    map[string]map[string]domain.ModeratedMessage
}

// New creates an empty store.
func New() *Store {
	return &Store{
		lists:   make(map[string]domain.List),
		members: make(map[string]map[string]domain.Membership),
		held:    make(map[string]map[string]domain.ModeratedMessage),
	}
}

func (s *Store) GetList(_ context.Context, address string) (*domain.List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lists[address]
	if !ok {
		return nil, fmt.Errorf("%w: list %s", domain.ErrRecordNotFound, address)
	}
	return copyList(l), nil
}

func (s *Store) CreateList(_ context.Context, l *domain.List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[l.Address]; ok {
		return fmt.Errorf("%w: list %s exists", domain.ErrConflict, l.Address)
	}
	l.Version = 1
	s.lists[l.Address] = *copyList(*l)
	return nil
}

func (s *Store) UpdateList(_ context.Context, l *domain.List, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.lists[l.Address]
	if !ok || cur.Version != expectedVersion {
		return fmt.Errorf("%w: list %s version %d", domain.ErrConflict, l.Address, expectedVersion)
	}
	l.Version = expectedVersion + 1
	s.lists[l.Address] = *copyList(*l)
	return nil
}

func (s *Store) ListAddresses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.lists)), nil
}

func (s *Store) GetMembership(_ context.Context, listAddress, address string) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[listAddress][address]
	if !ok {
		return nil, fmt.Errorf("%w: membership %s/%s", domain.ErrRecordNotFound, listAddress, address)
	}
	return copyMembership(m), nil
}

func (s *Store) PutMembership(_ context.Context, m *domain.Membership, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAddr := s.members[m.ListAddress]
	cur, ok := byAddr[m.Address]
	if (ok && cur.Version != expectedVersion) || (!ok && expectedVersion != 0) {
		return fmt.Errorf("%w: membership %s/%s version %d", domain.ErrConflict, m.ListAddress, m.Address, expectedVersion)
	}
	if byAddr == nil {
		byAddr = make(map[string]domain.Membership)
		s.members[m.ListAddress] = byAddr
	}
	m.Version = expectedVersion + 1
	byAddr[m.Address] = *copyMembership(*m)
	return nil
}

func (s *Store) DeleteMembership(_ context.Context, listAddress, address string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.members[listAddress][address]
	if !ok || cur.Version != expectedVersion {
		return fmt.Errorf("%w: membership %s/%s version %d", domain.ErrConflict, listAddress, address, expectedVersion)
	}
	delete(s.members[listAddress], address)
	return nil
}

func (s *Store) Memberships(_ context.Context, listAddress string, state domain.MembershipState) ([]domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Membership
	for _, m := range s.members[listAddress] {
		if m.State == state {
			out = append(out, *copyMembership(m))
		}
	}
	slices.SortFunc(out, func(a, b domain.Membership) int { return cmp.Compare(a.Address, b.Address) })
	return out, nil
}

func (s *Store) HoldMessage(_ context.Context, m *domain.ModeratedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.held[m.ListAddress]
	if q == nil {
		q = make(map[string]domain.ModeratedMessage)
		s.held[m.ListAddress] = q
	}
	held := *m
	held.Recipients = slices.Clone(m.Recipients)
	q[m.ID] = held
	return nil
}

func (s *Store) TakeHeldMessage(_ context.Context, listAddress, id string) (*domain.ModeratedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.held[listAddress][id]
	if !ok {
		return nil, fmt.Errorf("%w: held message %s", domain.ErrRecordNotFound, id)
	}
	delete(s.held[listAddress], id)
	return &m, nil
}

func (s *Store) HeldMessages(_ context.Context, listAddress string) ([]domain.ModeratedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.held[listAddress]))
	slices.SortFunc(out, func(a, b domain.ModeratedMessage) int {
		if c := a.HeldAt.Compare(b.HeldAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func copyList(l domain.List) *domain.List {
	l.Moderators = slices.Clone(l.Moderators)
	l.Config = maps.Clone(l.Config)
	return &l
}

func copyMembership(m domain.Membership) *domain.Membership {
	m.Flags = maps.Clone(m.Flags)
	return &m
}
