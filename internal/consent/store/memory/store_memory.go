// Package memory is the in-memory consent substrate, used by unit tests
// and single-node deployments without Redis.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/GrupoUS/neonpro-sub006/internal/consent"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

// Store implements consent.Store with maps guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	current map[string]consent.Record
	history map[string][]consent.Record
}

func NewStore() *Store {
	return &Store{
		current: make(map[string]consent.Record),
		history: make(map[string][]consent.Record),
	}
}

func key(subject domain.SubjectID, purpose domain.ConsentPurpose) string {
	return subject.String() + "\x00" + purpose.String()
}

func (s *Store) Current(_ context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (consent.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.current[key(subject, purpose)]
	return rec, ok, nil
}

func (s *Store) CompareAndSwap(_ context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, expect consent.Expected, next consent.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(subject, purpose)
	stored, exists := s.current[k]
	if !exists {
		if expect != (consent.Expected{}) {
			return fmt.Errorf("expected version %d, no record exists: %w", expect.Version, sentinel.ErrConflict)
		}
	} else if stored.Version != expect.Version || stored.Status != expect.Status {
		return fmt.Errorf("expected version %d/%s, stored %d/%s: %w",
			expect.Version, expect.Status, stored.Version, stored.Status, sentinel.ErrConflict)
	}
	s.current[k] = next
	s.history[k] = append(s.history[k], next)
	return nil
}

func (s *Store) History(_ context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) ([]consent.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[key(subject, purpose)]
	out := make([]consent.Record, len(h))
	copy(out, h)
	return out, nil
}

func (s *Store) ListCurrent(_ context.Context) ([]consent.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consent.Record, 0, len(s.current))
	for _, rec := range s.current {
		out = append(out, rec)
	}
	return out, nil
}
