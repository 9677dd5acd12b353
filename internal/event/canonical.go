package event

import (
	"bytes"
	"encoding/json"
	"time"

	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// canonicalEvent fixes field order and encoding for hashing. Struct field
// order is the canonical order; encoding/json preserves it, so independent
// re-computation reproduces identical bytes. Timestamps are UTC
// RFC3339Nano; the payload is compacted but otherwise untouched, so the
// caller's byte-level payload is what the chain commits to.
type canonicalEvent struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    string          `json:"occurred_at"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role"`
	CausationID   string          `json:"causation_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// CanonicalBytes returns the deterministic encoding of the event used for
// chain hashing and duplicate-payload comparison.
func CanonicalBytes(e Event) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, e.Payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEventBadPayload, "payload is not valid JSON")
	}
	c := canonicalEvent{
		ID:            e.ID.String(),
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType.String(),
		EventType:     e.Type.String(),
		Payload:       compact.Bytes(),
		OccurredAt:    e.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole.String(),
		CorrelationID: e.CorrelationID,
	}
	if e.HasCausation() {
		c.CausationID = e.CausationID.String()
	}
	out, err := json.Marshal(c)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "canonical encoding failed")
	}
	return out, nil
}
