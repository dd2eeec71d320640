package aggregator

import (
	"sync"

	"github.com/wrenhall/moneypots/internal/domain"
)

// Store holds the latest balance snapshot per account group. Snapshots are
// superseded, never merged; no history is retained here. Safe for
// concurrent use by the per-bank pollers and the pot manager.
type Store struct {
	mu     sync.RWMutex
	latest map[domain.GroupRef]domain.BalanceSnapshot
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{latest: make(map[domain.GroupRef]domain.BalanceSnapshot)}
}

// Put stores a snapshot unless an equally fresh or fresher one is already
// held. Returns whether the snapshot was stored; a rejected put means an
// out-of-order fetch tried to regress the balance.
func (s *Store) Put(snap domain.BalanceSnapshot) bool {
	ref := domain.GroupRef{Bank: snap.Bank, Group: snap.Group}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.latest[ref]; ok && !snap.FresherThan(current) {
		return false
	}
	s.latest[ref] = snap
	return true
}

// MarkStale flags the held snapshot for a group as stale, retaining its
// last known amount. A group that has never produced a snapshot is left
// absent: there is no previous value to retain.
func (s *Store) MarkStale(ref domain.GroupRef) (domain.BalanceSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.latest[ref]
	if !ok {
		return domain.BalanceSnapshot{}, false
	}
	current.Stale = true
	s.latest[ref] = current
	return current, true
}

// Latest returns the held snapshot for a group.
func (s *Store) Latest(ref domain.GroupRef) (domain.BalanceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.latest[ref]
	return snap, ok
}
