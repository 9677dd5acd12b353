package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

type eventRequest struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role"`
	CausationID   string          `json:"causation_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

func (req eventRequest) toEvent() (event.Event, error) {
	id, err := domain.ParseEventID(req.ID)
	if err != nil {
		return event.Event{}, err
	}
	role, err := domain.ParseActorRole(req.ActorRole)
	if err != nil {
		return event.Event{}, err
	}
	ev := event.Event{
		ID:            id,
		AggregateID:   req.AggregateID,
		AggregateType: domain.AggregateType(req.AggregateType),
		Type:          event.Type(req.EventType),
		Payload:       req.Payload,
		OccurredAt:    req.OccurredAt,
		ActorID:       req.ActorID,
		ActorRole:     role,
		CorrelationID: req.CorrelationID,
	}
	if req.CausationID != "" {
		cid, err := domain.ParseEventID(req.CausationID)
		if err != nil {
			return event.Event{}, err
		}
		ev.CausationID = cid
	}
	return ev, nil
}

type recordResponse struct {
	Partition    string       `json:"partition"`
	Sequence     uint64       `json:"sequence"`
	PreviousHash string       `json:"previous_hash"`
	RecordHash   string       `json:"record_hash"`
	Event        eventRequest `json:"event"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

func toRecordResponse(rec ledger.Record) recordResponse {
	resp := recordResponse{
		Partition:    string(rec.Partition),
		Sequence:     rec.Sequence,
		PreviousHash: rec.PreviousHash,
		RecordHash:   rec.Hash,
		RecordedAt:   rec.RecordedAt,
		Event: eventRequest{
			ID:            rec.Event.ID.String(),
			AggregateID:   rec.Event.AggregateID,
			AggregateType: string(rec.Event.AggregateType),
			EventType:     string(rec.Event.Type),
			Payload:       rec.Event.Payload,
			OccurredAt:    rec.Event.OccurredAt,
			ActorID:       rec.Event.ActorID,
			ActorRole:     string(rec.Event.ActorRole),
			CorrelationID: rec.Event.CorrelationID,
		},
	}
	if !rec.Event.CausationID.IsNil() {
		resp.Event.CausationID = rec.Event.CausationID.String()
	}
	return resp
}

func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.checkProcessingConsent(r, ev); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.gate.Submit(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []eventRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	events := make([]event.Event, 0, len(reqs))
	for _, req := range reqs {
		ev, err := req.toEvent()
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.checkProcessingConsent(r, ev); err != nil {
			writeError(w, err)
			return
		}
		events = append(events, ev)
	}
	recs, err := h.gate.SubmitBatch(r.Context(), events)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// checkProcessingConsent blocks data-processing events for subjects who have
// no effective consent for the purpose the event type is mapped to. Event
// types outside the mapping (consent transitions included) pass through.
func (h *Handler) checkProcessingConsent(r *http.Request, ev event.Event) error {
	purpose, gated := h.gatedPurposes[ev.Type]
	if !gated || h.consent == nil {
		return nil
	}
	subject, ok := event.SubjectOf(ev)
	if !ok {
		return nil
	}
	dec, err := h.consent.Check(r.Context(), subject, purpose)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return dErrors.Newf(dErrors.CodeConsentDenied,
			"consent %s for subject %s purpose %s", dec.Reason, subject, purpose)
	}
	return nil
}
