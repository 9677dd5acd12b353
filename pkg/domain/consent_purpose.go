package domain

import (
	"time"

	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// ConsentPurpose is a domain value that identifies why data is processed.
// Invariant: the value must be declared in the purpose catalog supplied at
// construction; which purposes exist is policy content and arrives as
// configuration, not code.
type ConsentPurpose string

// Built-in purposes used by the default catalog. Deployments may extend the
// set through configuration.
const (
	PurposeTreatment ConsentPurpose = "treatment"
	PurposeBilling   ConsentPurpose = "billing"
	PurposeMarketing ConsentPurpose = "marketing"
	PurposeResearch  ConsentPurpose = "research"
)

func (p ConsentPurpose) String() string { return string(p) }

// LegalBasis is the LGPD justification recorded against a purpose.
type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisContract           LegalBasis = "contract"
	BasisLegalObligation    LegalBasis = "legal_obligation"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
)

var validLegalBases = map[LegalBasis]bool{
	BasisConsent:            true,
	BasisContract:           true,
	BasisLegalObligation:    true,
	BasisLegitimateInterest: true,
}

// PurposePolicy is the configured policy for one processing purpose.
type PurposePolicy struct {
	Purpose    ConsentPurpose
	LegalBasis LegalBasis
	// Retention bounds how long records tied to this purpose are kept
	// before read-side redaction applies. Zero means no bound configured.
	Retention time.Duration
	// DefaultTTL is applied to grants that do not carry an explicit
	// expiry. Zero means grants do not expire by default.
	DefaultTTL time.Duration
}

// PurposeCatalog is the allowlist of purposes plus their policies. One
// catalog is built at startup from configuration and handed to the consent
// service; there is no ambient global.
type PurposeCatalog struct {
	policies map[ConsentPurpose]PurposePolicy
}

// NewPurposeCatalog validates and indexes the configured policies.
func NewPurposeCatalog(policies []PurposePolicy) (*PurposeCatalog, error) {
	if len(policies) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "purpose catalog cannot be empty")
	}
	idx := make(map[ConsentPurpose]PurposePolicy, len(policies))
	for _, p := range policies {
		if p.Purpose == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "purpose name cannot be empty")
		}
		if !validLegalBases[p.LegalBasis] {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "purpose %q has unknown legal basis %q", p.Purpose, p.LegalBasis)
		}
		if _, dup := idx[p.Purpose]; dup {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "purpose %q declared twice", p.Purpose)
		}
		idx[p.Purpose] = p
	}
	return &PurposeCatalog{policies: idx}, nil
}

// DefaultPurposePolicies returns the purposes the platform ships
// with (365-day retention default).
func DefaultPurposePolicies() []PurposePolicy {
	retention := 365 * 24 * time.Hour
	return []PurposePolicy{
		{Purpose: PurposeTreatment, LegalBasis: BasisContract, Retention: retention},
		{Purpose: PurposeBilling, LegalBasis: BasisLegalObligation, Retention: retention},
		{Purpose: PurposeMarketing, LegalBasis: BasisConsent, Retention: retention, DefaultTTL: 180 * 24 * time.Hour},
		{Purpose: PurposeResearch, LegalBasis: BasisConsent, Retention: retention, DefaultTTL: 365 * 24 * time.Hour},
	}
}

// Parse constructs a ConsentPurpose from external input, enforcing the
// catalog allowlist.
//
// Errors: CodeConsentUnknownPurpose when the value is empty or not
// configured; no other errors are expected.
func (c *PurposeCatalog) Parse(s string) (ConsentPurpose, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeConsentUnknownPurpose, "purpose cannot be empty")
	}
	p := ConsentPurpose(s)
	if _, ok := c.policies[p]; !ok {
		return "", dErrors.Newf(dErrors.CodeConsentUnknownPurpose, "purpose %q is not configured", s)
	}
	return p, nil
}

// Policy returns the configured policy for a purpose.
func (c *PurposeCatalog) Policy(p ConsentPurpose) (PurposePolicy, bool) {
	pol, ok := c.policies[p]
	return pol, ok
}

// Purposes lists every configured purpose.
func (c *PurposeCatalog) Purposes() []ConsentPurpose {
	out := make([]ConsentPurpose, 0, len(c.policies))
	for p := range c.policies {
		out = append(out, p)
	}
	return out
}
