package consent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// denialBuffer bounds the in-flight denial queue. A full queue drops the
// audit entry rather than blocking Check; the drop is logged.
const denialBuffer = 1024

type denial struct {
	subject domain.SubjectID
	purpose domain.ConsentPurpose
	reason  string
	at      time.Time
}

func (s *Service) enqueueDenial(subject domain.SubjectID, purpose domain.ConsentPurpose, reason string) {
	d := denial{subject: subject, purpose: purpose, reason: reason, at: s.now()}
	select {
	case s.denials <- d:
	default:
		s.log.Warn().
			Str("purpose", purpose.String()).
			Str("reason", reason).
			Msg("denial audit queue full, entry dropped")
	}
}

// RunDenialAuditor consumes denied checks and records them in the ledger
// as consent.check_denied events. A denial is a fact worth auditing, but
// auditing it must not slow down the check path, so this runs as a
// background worker off a buffered channel.
func (s *Service) RunDenialAuditor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.denials:
			if err := s.auditDenial(ctx, d); err != nil {
				s.log.Error().Err(err).
					Str("purpose", d.purpose.String()).
					Msg("failed to audit consent denial")
			}
		}
	}
}

func (s *Service) auditDenial(ctx context.Context, d denial) error {
	payload, err := json.Marshal(event.ConsentCheckDeniedPayload{
		SubjectID: d.subject.String(),
		Purpose:   d.purpose.String(),
		Reason:    d.reason,
	})
	if err != nil {
		return err
	}
	ev := event.Event{
		ID:            domain.EventID(uuid.New()),
		AggregateID:   d.subject.String() + "/" + d.purpose.String(),
		AggregateType: domain.AggregateConsent,
		Type:          event.TypeConsentCheckDenied,
		Payload:       payload,
		OccurredAt:    d.at,
		ActorID:       "system",
		ActorRole:     domain.RoleSystem,
	}
	_, err = s.gate.Submit(ctx, ev)
	return err
}
