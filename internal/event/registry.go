package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
	pstrings "github.com/GrupoUS/neonpro-sub006/pkg/platform/strings"
)

// Type is the enumerated, versioned discriminant of an event payload. The
// registry below is the single source of truth: a type not registered here
// is rejected at the gate, never trusted implicitly downstream.
type Type string

const (
	TypePatientCreated  Type = "patient.created"
	TypePatientUpdated  Type = "patient.updated"
	TypePatientArchived Type = "patient.archived"

	TypeAppointmentScheduled Type = "appointment.scheduled"
	TypeAppointmentCompleted Type = "appointment.completed"
	TypeAppointmentCancelled Type = "appointment.cancelled"

	TypeProfessionalRegistered Type = "professional.registered"

	TypeConsentGranted     Type = "consent.granted"
	TypeConsentWithdrawn   Type = "consent.withdrawn"
	TypeConsentExpired     Type = "consent.expired"
	TypeConsentCheckDenied Type = "consent.check_denied"
)

func (t Type) String() string { return string(t) }

// ---------------------------------------------------------------------------
// Payload shapes. One struct per registered type; unknown fields are
// rejected so payloads cannot smuggle unvalidated data past the gate.
// ---------------------------------------------------------------------------

type PatientCreatedPayload struct {
	SubjectID string `json:"subject_id"`
	FullName  string `json:"full_name"`
	CPF       string `json:"cpf,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	ClinicID  string `json:"clinic_id,omitempty"`
}

type PatientUpdatedPayload struct {
	SubjectID     string   `json:"subject_id"`
	ChangedFields []string `json:"changed_fields"`
}

type PatientArchivedPayload struct {
	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
}

type AppointmentScheduledPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	SubjectID      string    `json:"subject_id"`
	ProfessionalID string    `json:"professional_id"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	Procedure      string    `json:"procedure,omitempty"`
}

type AppointmentCompletedPayload struct {
	AppointmentID string `json:"appointment_id"`
	SubjectID     string `json:"subject_id"`
}

type AppointmentCancelledPayload struct {
	AppointmentID string `json:"appointment_id"`
	SubjectID     string `json:"subject_id"`
	Reason        string `json:"reason"`
}

type ProfessionalRegisteredPayload struct {
	ProfessionalID string `json:"professional_id"`
	FullName       string `json:"full_name"`
	Registration   string `json:"registration"`
	Specialty      string `json:"specialty,omitempty"`
}

type ConsentGrantedPayload struct {
	SubjectID  string     `json:"subject_id"`
	Purpose    string     `json:"purpose"`
	LegalBasis string     `json:"legal_basis"`
	Version    int64      `json:"version"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type ConsentWithdrawnPayload struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose"`
	Version   int64  `json:"version"`
}

type ConsentExpiredPayload struct {
	SubjectID string    `json:"subject_id"`
	Purpose   string    `json:"purpose"`
	Version   int64     `json:"version"`
	ExpiredAt time.Time `json:"expired_at"`
}

type ConsentCheckDeniedPayload struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose"`
	Reason    string `json:"reason"`
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

type schema struct {
	aggregate domain.AggregateType
	version   int
	validate  func(raw json.RawMessage) error
}

var registry = map[Type]schema{
	TypePatientCreated: {domain.AggregatePatient, 1, func(raw json.RawMessage) error {
		var p PatientCreatedPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		return requireFields(field{"subject_id", p.SubjectID}, field{"full_name", p.FullName})
	}},
	TypePatientUpdated: {domain.AggregatePatient, 1, func(raw json.RawMessage) error {
		var p PatientUpdatedPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := requireFields(field{"subject_id", p.SubjectID}); err != nil {
			return err
		}
		if len(pstrings.DedupeAndTrimLower(p.ChangedFields)) == 0 {
			return dErrors.New(dErrors.CodeEventBadPayload, "changed_fields must name at least one field")
		}
		return nil
	}},
	TypePatientArchived: {domain.AggregatePatient, 1, func(raw json.RawMessage) error {
		var p PatientArchivedPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		return requireFields(field{"subject_id", p.SubjectID}, field{"reason", p.Reason})
	}},
	TypeAppointmentScheduled: {domain.AggregateAppointment, 1, func(raw json.RawMessage) error {
		var p AppointmentScheduledPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := requireFields(
			field{"appointment_id", p.AppointmentID},
			field{"subject_id", p.SubjectID},
			field{"professional_id", p.ProfessionalID},
		); err != nil {
			return err
		}
		if p.ScheduledFor.IsZero() {
			return dErrors.New(dErrors.CodeEventBadPayload, "scheduled_for is required")
		}
		return nil
	}},
	TypeAppointmentCompleted: {domain.AggregateAppointment, 1, func(raw json.RawMessage) error {
		var p AppointmentCompletedPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		return requireFields(field{"appointment_id", p.AppointmentID}, field{"subject_id", p.SubjectID})
	}},
	TypeAppointmentCancelled: {domain.AggregateAppointment, 1, func(raw json.RawMessage) error {
		var p AppointmentCancelledPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		return requireFields(
			field{"appointment_id", p.AppointmentID},
			field{"subject_id", p.SubjectID},
			field{"reason", p.Reason},
		)
	}},
	TypeProfessionalRegistered: {domain.AggregateProfessional, 1, func(raw json.RawMessage) error {
		var p ProfessionalRegisteredPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		return requireFields(
			field{"professional_id", p.ProfessionalID},
			field{"full_name", p.FullName},
			field{"registration", p.Registration},
		)
	}},
	TypeConsentGranted: {domain.AggregateConsent, 1, func(raw json.RawMessage) error {
		var p ConsentGrantedPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := requireFields(
			field{"subject_id", p.SubjectID},
			field{"purpose", p.Purpose},
			field{"legal_basis", p.LegalBasis},
		); err != nil {
			return err
		}
		if p.Version < 1 {
			return dErrors.New(dErrors.CodeEventBadPayload, "version must be positive")
		}
		return nil
	}},
	TypeConsentWithdrawn: {domain.AggregateConsent, 1, func(raw json.RawMessage) error {
		var p ConsentWithdrawnPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := requireFields(field{"subject_id", p.SubjectID}, field{"purpose", p.Purpose}); err != nil {
			return err
		}
		if p.Version < 1 {
			return dErrors.New(dErrors.CodeEventBadPayload, "version must be positive")
		}
		return nil
	}},
	TypeConsentExpired: {domain.AggregateConsent, 1, func(raw json.RawMessage) error {
		var p ConsentExpiredPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := requireFields(field{"subject_id", p.SubjectID}, field{"purpose", p.Purpose}); err != nil {
			return err
		}
		if p.ExpiredAt.IsZero() {
			return dErrors.New(dErrors.CodeEventBadPayload, "expired_at is required")
		}
		return nil
	}},
	TypeConsentCheckDenied: {domain.AggregateConsent, 1, func(raw json.RawMessage) error {
		var p ConsentCheckDeniedPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		return requireFields(
			field{"subject_id", p.SubjectID},
			field{"purpose", p.Purpose},
			field{"reason", p.Reason},
		)
	}},
}

// KnownType reports whether t is registered.
func KnownType(t Type) bool {
	_, ok := registry[t]
	return ok
}

// AggregateFor returns the aggregate type a registered event type belongs to.
func AggregateFor(t Type) (domain.AggregateType, bool) {
	s, ok := registry[t]
	return s.aggregate, ok
}

// SchemaVersion returns the current payload schema version for a type.
func SchemaVersion(t Type) (int, bool) {
	s, ok := registry[t]
	return s.version, ok
}

// ValidatePayload checks raw against the registered schema for t.
//
// Errors: CodeEventUnknownType for unregistered types, CodeEventBadPayload
// for schema violations.
func ValidatePayload(t Type, raw json.RawMessage) error {
	s, ok := registry[t]
	if !ok {
		return dErrors.Newf(dErrors.CodeEventUnknownType, "event type %q is not registered", t)
	}
	if len(raw) == 0 {
		return dErrors.New(dErrors.CodeEventBadPayload, "payload cannot be empty")
	}
	return s.validate(raw)
}

// Types lists every registered event type, for diagnostics and tests.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return dErrors.Newf(dErrors.CodeEventBadPayload, "%s is required", f.name)
		}
	}
	return nil
}

func decodeStrict(raw json.RawMessage, into any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return dErrors.Wrap(err, dErrors.CodeEventBadPayload, "payload does not match schema")
	}
	// Trailing garbage after the JSON document is also a schema violation.
	if dec.More() {
		return dErrors.New(dErrors.CodeEventBadPayload, "payload contains trailing data")
	}
	return nil
}
