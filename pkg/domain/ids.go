// Package domain holds the typed identifiers and enumerations shared by the
// event gate, the audit ledger, and the consent service. Values are
// constructed via Parse* at trust boundaries to enforce invariants; direct
// casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// EventID is the globally unique, caller-assigned identifier of a domain
// event. It doubles as the idempotency key for ledger appends, so callers
// must derive it deterministically from their own operation.
type EventID uuid.UUID

// ParseEventID constructs an EventID from external input.
//
// Errors: CodeInvalidInput when the value is empty, malformed, or the nil
// UUID; no other errors are expected.
func ParseEventID(s string) (EventID, error) {
	if s == "" {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "event id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "event id is not a valid UUID")
	}
	if u == uuid.Nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "event id cannot be the nil UUID")
	}
	return EventID(u), nil
}

func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EventID) String() string { return uuid.UUID(id).String() }

// SubjectID identifies the data subject (patient) a consent decision or an
// event payload refers to. Subjects may be keyed by external identifiers,
// so this is a non-empty opaque string rather than a UUID.
type SubjectID string

func ParseSubjectID(s string) (SubjectID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be empty")
	}
	return SubjectID(s), nil
}

func (id SubjectID) String() string { return string(id) }

// ActorRole classifies who performed an action. Used for read-side
// redaction: only compliance officers see unmasked payloads.
type ActorRole string

const (
	RoleSystem       ActorRole = "system"
	RolePatient      ActorRole = "patient"
	RoleProfessional ActorRole = "professional"
	RoleReception    ActorRole = "reception"
	RoleCompliance   ActorRole = "compliance_officer"
)

var validActorRoles = map[ActorRole]bool{
	RoleSystem:       true,
	RolePatient:      true,
	RoleProfessional: true,
	RoleReception:    true,
	RoleCompliance:   true,
}

func ParseActorRole(s string) (ActorRole, error) {
	r := ActorRole(s)
	if !validActorRoles[r] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown actor role %q", s)
	}
	return r, nil
}

func (r ActorRole) String() string { return string(r) }
