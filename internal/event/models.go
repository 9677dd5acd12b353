// Package event defines the immutable domain-event model consumed by the
// audit ledger. Events describe state changes in the business domain
// (patient, appointment, professional, consent) and are produced by external
// domain services; this package only defines their shape, their payload
// schemas, and canonical encoding. It holds no durable state.
package event

import (
	"encoding/json"
	"time"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// Event is an immutable record of one domain state change. Once accepted by
// the ledger it is never updated or deleted.
type Event struct {
	// ID is caller-assigned and globally unique for the lifetime of the
	// ledger. It is the idempotency key: retried submissions must reuse it.
	ID            domain.EventID
	AggregateID   string
	AggregateType domain.AggregateType
	Type          Type
	// Payload is schema-checked against the type registry before the
	// event reaches the ledger.
	Payload    json.RawMessage
	OccurredAt time.Time
	ActorID    string
	ActorRole  domain.ActorRole
	// CausationID references the event that triggered this one. Optional.
	CausationID domain.EventID
	// CorrelationID groups events from one logical operation. Optional.
	CorrelationID string
}

// HasCausation reports whether the event declares a causation reference.
func (e Event) HasCausation() bool { return !e.CausationID.IsNil() }

// subjectProbe extracts the data-subject reference most payloads carry.
type subjectProbe struct {
	SubjectID string `json:"subject_id"`
}

// SubjectOf returns the data subject referenced by the event payload, when
// the payload carries one. Used by the audit query API to filter by subject
// without a dedicated index column.
func SubjectOf(e Event) (domain.SubjectID, bool) {
	var p subjectProbe
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.SubjectID == "" {
		return "", false
	}
	return domain.SubjectID(p.SubjectID), true
}
