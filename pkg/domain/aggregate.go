package domain

import dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"

// AggregateType names the kind of entity an event describes. It is also the
// ledger partition key: a single global chain would serialize unrelated
// domains, so each aggregate type gets its own gapless, verifiable chain.
type AggregateType string

const (
	AggregatePatient      AggregateType = "patient"
	AggregateAppointment  AggregateType = "appointment"
	AggregateProfessional AggregateType = "professional"
	AggregateConsent      AggregateType = "consent"
)

var validAggregateTypes = map[AggregateType]bool{
	AggregatePatient:      true,
	AggregateAppointment:  true,
	AggregateProfessional: true,
	AggregateConsent:      true,
}

// ParseAggregateType constructs an AggregateType from external input,
// enforcing the allowlist.
func ParseAggregateType(s string) (AggregateType, error) {
	t := AggregateType(s)
	if !validAggregateTypes[t] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown aggregate type %q", s)
	}
	return t, nil
}

func (t AggregateType) IsValid() bool { return validAggregateTypes[t] }

func (t AggregateType) String() string { return string(t) }

// AggregateTypes returns every known aggregate type, for chain verification
// sweeps that walk all partitions.
func AggregateTypes() []AggregateType {
	return []AggregateType{AggregatePatient, AggregateAppointment, AggregateProfessional, AggregateConsent}
}
