package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GrupoUS/neonpro-sub006/internal/consent"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

type consentResponse struct {
	SubjectID   string     `json:"subject_id"`
	Purpose     string     `json:"purpose"`
	Status      string     `json:"status"`
	LegalBasis  string     `json:"legal_basis"`
	GrantedAt   time.Time  `json:"granted_at"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Version     int64      `json:"version"`
}

func toConsentResponse(rec consent.Record) consentResponse {
	return consentResponse{
		SubjectID:   string(rec.SubjectID),
		Purpose:     string(rec.Purpose),
		Status:      string(rec.Status),
		LegalBasis:  string(rec.LegalBasis),
		GrantedAt:   rec.GrantedAt,
		WithdrawnAt: rec.WithdrawnAt,
		ExpiresAt:   rec.ExpiresAt,
		Version:     rec.Version,
	}
}

func (h *Handler) consentParams(r *http.Request) (domain.SubjectID, domain.ConsentPurpose, error) {
	subject := domain.SubjectID(chi.URLParam(r, "subject"))
	if subject == "" {
		return "", "", dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be empty")
	}
	purpose, err := h.catalog.Parse(chi.URLParam(r, "purpose"))
	if err != nil {
		return "", "", err
	}
	return subject, purpose, nil
}

type decisionResponse struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
}

// handleCheckConsent is the hot path: domain services call it before
// processing subject data. Denials are audited asynchronously by the
// consent service, so the response never waits on the ledger.
func (h *Handler) handleCheckConsent(w http.ResponseWriter, r *http.Request) {
	subject, purpose, err := h.consentParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dec, err := h.consent.Check(r.Context(), subject, purpose)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		SubjectID: string(subject),
		Purpose:   string(purpose),
		Allowed:   dec.Allowed,
		Reason:    dec.Reason,
	})
}

type grantRequestBody struct {
	LegalBasis    string     `json:"legal_basis,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ActorID       string     `json:"actor_id"`
	ActorRole     string     `json:"actor_role"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

func (h *Handler) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	subject, purpose, err := h.consentParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body grantRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	req := consent.GrantRequest{
		LegalBasis:    domain.LegalBasis(body.LegalBasis),
		ExpiresAt:     body.ExpiresAt,
		ActorID:       body.ActorID,
		CorrelationID: body.CorrelationID,
	}
	if body.ActorRole != "" {
		role, err := domain.ParseActorRole(body.ActorRole)
		if err != nil {
			writeError(w, err)
			return
		}
		req.ActorRole = role
	}
	rec, err := h.consent.Grant(r.Context(), subject, purpose, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConsentResponse(rec))
}

func (h *Handler) handleWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	subject, purpose, err := h.consentParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vals := r.URL.Query()
	actorID := vals.Get("actor_id")
	role := domain.RoleSystem
	if raw := vals.Get("actor_role"); raw != "" {
		if role, err = domain.ParseActorRole(raw); err != nil {
			writeError(w, err)
			return
		}
	}
	rec, err := h.consent.Withdraw(r.Context(), subject, purpose, actorID, role, vals.Get("correlation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsentResponse(rec))
}

func (h *Handler) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	subject, purpose, err := h.consentParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := h.consent.History(r.Context(), subject, purpose)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]consentResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toConsentResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}
