package consent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// RunExpirySweeper periodically moves lapsed grants to expired and emits
// consent.expired events for audit completeness. Correctness does not
// depend on it: Check evaluates expiry lazily and denies lapsed grants
// before any sweep runs.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SweepExpired(ctx); err != nil {
				s.log.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

// SweepExpired runs one sweep pass. Exported so operators can trigger it
// on demand.
func (s *Service) SweepExpired(ctx context.Context) error {
	records, err := s.store.ListCurrent(ctx)
	if err != nil {
		return translateStoreErr(err, "list current consents")
	}
	for _, current := range records {
		if current.Status != StatusGranted || current.EffectiveStatus(s.now()) != StatusExpired {
			continue
		}
		if err := s.expireOne(ctx, current); err != nil {
			// Keep sweeping; the record stays lazily denied and the
			// next pass retries with the same deterministic event id.
			s.log.Warn().Err(err).
				Str("purpose", current.Purpose.String()).
				Msg("failed to expire consent")
		}
	}
	return nil
}

func (s *Service) expireOne(ctx context.Context, current Record) error {
	mu := s.lock(current.SubjectID, current.Purpose)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	// Re-read under the lock; a re-grant may have raced the sweep.
	latest, ok, err := s.store.Current(ctx, current.SubjectID, current.Purpose)
	if err != nil {
		return translateStoreErr(err, "read current consent")
	}
	if !ok || latest.Version != current.Version || latest.Status != StatusGranted || latest.EffectiveStatus(now) != StatusExpired {
		return nil
	}

	next := latest
	next.Status = StatusExpired

	payload, err := json.Marshal(event.ConsentExpiredPayload{
		SubjectID: next.SubjectID.String(),
		Purpose:   next.Purpose.String(),
		Version:   next.Version,
		ExpiredAt: *next.ExpiresAt,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal expiry payload")
	}
	if err := s.appendTransition(ctx, next, event.TypeConsentExpired, payload, now, "system", "", ""); err != nil {
		return err
	}
	expect := Expected{Version: latest.Version, Status: latest.Status}
	if err := s.store.CompareAndSwap(ctx, next.SubjectID, next.Purpose, expect, next); err != nil {
		return s.casFailed(err, next.SubjectID, next.Purpose, "expire")
	}
	s.metrics.RecordConsentTransition("expire")
	return nil
}
