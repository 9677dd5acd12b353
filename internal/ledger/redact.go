package ledger

import (
	"encoding/json"
	"strings"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// Payload keys carrying personal data, masked for every role except the
// compliance officer. Redaction is presentation-only: stored bytes and
// chain hashes are never touched, so a redacted record does not verify —
// verification always runs against the stored form.
var piiKeys = map[string]bool{
	"cpf":       true,
	"email":     true,
	"phone":     true,
	"full_name": true,
}

// RedactFor returns the record as the given role may see it. Compliance
// officers and the system itself see stored bytes; everyone else gets PII
// payload fields masked.
func RedactFor(role domain.ActorRole, rec Record) Record {
	if role == domain.RoleCompliance || role == domain.RoleSystem {
		return rec
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Event.Payload, &payload); err != nil {
		return rec
	}
	changed := false
	for key, value := range payload {
		s, ok := value.(string)
		if !ok || !piiKeys[key] {
			continue
		}
		payload[key] = mask(s)
		changed = true
	}
	if !changed {
		return rec
	}
	masked, err := json.Marshal(payload)
	if err != nil {
		return rec
	}
	out := rec
	out.Event.Payload = masked
	return out
}

// mask keeps the last two characters so records stay distinguishable in
// support conversations without exposing the value.
func mask(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-2) + s[len(s)-2:]
}
