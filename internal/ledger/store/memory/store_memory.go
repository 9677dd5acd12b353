// Package memory is the in-memory ledger substrate, used by unit tests and
// single-node deployments without Postgres.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

// Store implements ledger.LogStore with maps guarded by a RWMutex.
type Store struct {
	mu         sync.RWMutex
	byID       map[domain.EventID]ledger.Record
	partitions map[domain.AggregateType][]ledger.Record
}

func NewStore() *Store {
	return &Store{
		byID:       make(map[domain.EventID]ledger.Record),
		partitions: make(map[domain.AggregateType][]ledger.Record),
	}
}

func (s *Store) AppendIfAbsent(_ context.Context, rec ledger.Record) (ledger.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[rec.Event.ID]; ok {
		return existing, true, nil
	}
	chain := s.partitions[rec.Partition]
	if rec.Sequence != uint64(len(chain))+1 {
		return ledger.Record{}, false, fmt.Errorf(
			"append at sequence %d, tail is %d: %w", rec.Sequence, len(chain), sentinel.ErrConflict)
	}
	s.partitions[rec.Partition] = append(chain, rec)
	s.byID[rec.Event.ID] = rec
	return rec, false, nil
}

func (s *Store) GetByID(_ context.Context, id domain.EventID) (ledger.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	return rec, ok, nil
}

func (s *Store) ReadRange(_ context.Context, partition domain.AggregateType, from, to uint64) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.partitions[partition]
	if from == 0 {
		from = 1
	}
	if to > uint64(len(chain)) {
		to = uint64(len(chain))
	}
	if from > to {
		return nil, nil
	}
	out := make([]ledger.Record, to-from+1)
	copy(out, chain[from-1:to])
	return out, nil
}

func (s *Store) Head(_ context.Context, partition domain.AggregateType) (uint64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.partitions[partition]
	if len(chain) == 0 {
		return 0, "", nil
	}
	tail := chain[len(chain)-1]
	return tail.Sequence, tail.Hash, nil
}

// Tamper mutates a stored record in place. Test hook for exercising chain
// verification; nothing in production code calls it.
func (s *Store) Tamper(partition domain.AggregateType, sequence uint64, mutate func(*ledger.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.partitions[partition]
	if sequence == 0 || sequence > uint64(len(chain)) {
		return
	}
	rec := &chain[sequence-1]
	mutate(rec)
	s.byID[rec.Event.ID] = *rec
}
