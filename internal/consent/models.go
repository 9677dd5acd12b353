// Package consent tracks per-subject, per-purpose consent and gates data
// processing on it. Every transition is itself a domain event appended to
// the audit ledger before the state changes, so the consent history is
// fully auditable.
package consent

import (
	"time"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// Status of one consent version.
type Status string

const (
	StatusGranted   Status = "granted"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

// Record is one version of a subject's decision for one purpose. Versions
// are monotonic per (subject, purpose); superseded versions are retained as
// history and never mutated.
type Record struct {
	SubjectID   domain.SubjectID
	Purpose     domain.ConsentPurpose
	Status      Status
	LegalBasis  domain.LegalBasis
	GrantedAt   time.Time
	WithdrawnAt *time.Time
	// ExpiresAt nil means the grant does not expire.
	ExpiresAt *time.Time
	Version   int64
}

// EffectiveStatus evaluates expiry lazily: a granted record whose expiry
// has passed reads as expired even before any sweep has run.
func (r Record) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusGranted && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// Decision is the outcome of a consent check.
type Decision struct {
	Allowed bool
	// Reason is "granted" on allow; on deny it names the cause.
	Reason string
}

// Deny reasons. Persisted inside consent.check_denied audit events, so
// these strings are append-only.
const (
	ReasonGranted   = "granted"
	ReasonNoConsent = "no_consent"
	ReasonWithdrawn = "withdrawn"
	ReasonExpired   = "expired"
)

func allow() Decision             { return Decision{Allowed: true, Reason: ReasonGranted} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
