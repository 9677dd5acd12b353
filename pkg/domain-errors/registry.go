package domainerrors

// The closed code registry. Append new codes at the end of their group;
// never renumber, reuse, or recategorize an existing code.
const (
	// Event gate.
	CodeEventInvalid      Code = "event.invalid"
	CodeEventUnknownType  Code = "event.unknown_type"
	CodeEventBadPayload   Code = "event.bad_payload"
	CodeEventClockSkew    Code = "event.clock_skew"
	CodeEventBadReference Code = "event.bad_reference"

	// Audit ledger.
	CodeLedgerDuplicateMismatch Code = "ledger.duplicate_mismatch"
	CodeLedgerChainMismatch     Code = "ledger.chain_mismatch"
	CodeLedgerPartitionSealed   Code = "ledger.partition_sealed"
	CodeLedgerRecordNotFound    Code = "ledger.record_not_found"
	CodeLedgerBadCursor         Code = "ledger.bad_cursor"

	// Consent.
	CodeConsentDenied         Code = "consent.denied"
	CodeConsentConflict       Code = "consent.conflict"
	CodeConsentUnknownPurpose Code = "consent.unknown_purpose"
	CodeConsentNotFound       Code = "consent.not_found"

	// Shared.
	CodeInvalidInput       Code = "request.invalid_input"
	CodeNotFound           Code = "resource.not_found"
	CodeConflict           Code = "resource.conflict"
	CodeStoreUnavailable   Code = "store.unavailable"
	CodeStoreTimeout       Code = "store.timeout"
	CodePublishUnavailable Code = "publish.unavailable"
	CodeInternal           Code = "internal"
)

type spec struct {
	Category  Category
	Retryable bool
}

// registry maps every code to its fixed category and retryability.
// Invariants (enforced by TestRegistryInvariants):
//   - validation codes are never retryable
//   - external_dependency codes are always retryable
//   - integrity_violation codes are never retryable
var registry = map[Code]spec{
	CodeEventInvalid:      {CategoryValidation, false},
	CodeEventUnknownType:  {CategoryValidation, false},
	CodeEventBadPayload:   {CategoryValidation, false},
	CodeEventClockSkew:    {CategoryValidation, false},
	CodeEventBadReference: {CategoryValidation, false},

	CodeLedgerDuplicateMismatch: {CategoryIntegrity, false},
	CodeLedgerChainMismatch:     {CategoryIntegrity, false},
	CodeLedgerPartitionSealed:   {CategoryIntegrity, false},
	CodeLedgerRecordNotFound:    {CategoryNotFound, false},
	CodeLedgerBadCursor:         {CategoryValidation, false},

	CodeConsentDenied:         {CategoryAuthorization, false},
	CodeConsentConflict:       {CategoryConflict, false},
	CodeConsentUnknownPurpose: {CategoryNotFound, false},
	CodeConsentNotFound:       {CategoryNotFound, false},

	CodeInvalidInput:       {CategoryValidation, false},
	CodeNotFound:           {CategoryNotFound, false},
	CodeConflict:           {CategoryConflict, false},
	CodeStoreUnavailable:   {CategoryExternal, true},
	CodeStoreTimeout:       {CategoryExternal, true},
	CodePublishUnavailable: {CategoryExternal, true},
	CodeInternal:           {CategoryInternal, false},
}

func mustSpec(code Code) spec {
	s, ok := registry[code]
	if !ok {
		// An unregistered code is a programming error, not a runtime
		// condition. Fail loudly so it cannot ship.
		panic("domainerrors: unregistered code " + string(code))
	}
	return s
}

// Registry returns a copy of the full code registry for regression tests
// and for surfacing the taxonomy over diagnostics endpoints.
func Registry() map[Code]struct {
	Category  Category
	Retryable bool
} {
	out := make(map[Code]struct {
		Category  Category
		Retryable bool
	}, len(registry))
	for c, s := range registry {
		out[c] = struct {
			Category  Category
			Retryable bool
		}{s.Category, s.Retryable}
	}
	return out
}
