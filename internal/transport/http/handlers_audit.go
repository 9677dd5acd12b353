package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

type queryResponse struct {
	Records    []recordResponse `json:"records"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// handleQueryRecords serves audit reads. The caller's role decides how much
// of the payload it may see; untrusted roles get masked subject PII.
func (h *Handler) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	q, role, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.ledger.QueryRecords(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := queryResponse{Records: make([]recordResponse, 0, len(page.Records))}
	for _, rec := range page.Records {
		resp.Records = append(resp.Records, toRecordResponse(ledger.RedactFor(role, rec)))
	}
	if page.NextCursor != 0 {
		resp.NextCursor = strconv.FormatUint(page.NextCursor, 10)
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseQuery(r *http.Request) (ledger.Query, domain.ActorRole, error) {
	vals := r.URL.Query()
	q := ledger.Query{
		Partition:     domain.AggregateType(vals.Get("partition")),
		ActorID:       vals.Get("actor_id"),
		SubjectID:     domain.SubjectID(vals.Get("subject_id")),
		EventType:     event.Type(vals.Get("event_type")),
		CorrelationID: vals.Get("correlation_id"),
	}
	var err error
	if q.OccurredFrom, err = parseTimeParam(vals.Get("from")); err != nil {
		return ledger.Query{}, "", err
	}
	if q.OccurredTo, err = parseTimeParam(vals.Get("to")); err != nil {
		return ledger.Query{}, "", err
	}
	if cursor := vals.Get("cursor"); cursor != "" {
		after, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return ledger.Query{}, "", dErrors.Newf(dErrors.CodeLedgerBadCursor, "malformed cursor %q", cursor)
		}
		q.AfterSequence = after
	}
	if limit := vals.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return ledger.Query{}, "", dErrors.Newf(dErrors.CodeInvalidInput, "malformed limit %q", limit)
		}
		q.Limit = n
	}
	role := domain.RoleCompliance
	if raw := vals.Get("role"); raw != "" {
		role, err = domain.ParseActorRole(raw)
		if err != nil {
			return ledger.Query{}, "", err
		}
	}
	return q, role, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeInvalidInput, "malformed timestamp %q", raw)
	}
	return t, nil
}

type verifyResponse struct {
	Partition string `json:"partition"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
	OK        bool   `json:"ok"`
	BrokenAt  uint64 `json:"broken_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	partition := domain.AggregateType(vals.Get("partition"))
	var from, to uint64
	var err error
	if raw := vals.Get("from"); raw != "" {
		if from, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "malformed from %q", raw))
			return
		}
	}
	if raw := vals.Get("to"); raw != "" {
		if to, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "malformed to %q", raw))
			return
		}
	}
	report, err := h.ledger.VerifyChain(r.Context(), partition, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Partition: string(report.Partition),
		From:      report.From,
		To:        report.To,
		OK:        report.OK,
		BrokenAt:  report.BrokenAt,
		Reason:    report.Reason,
	})
}

// handleUnseal reopens a partition after an operator has investigated an
// integrity violation. The unseal itself is recorded in the server log, not
// the ledger: a sealed partition rejects writes.
func (h *Handler) handleUnseal(w http.ResponseWriter, r *http.Request) {
	partition := domain.AggregateType(chi.URLParam(r, "partition"))
	if !partition.IsValid() {
		writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown partition %q", partition))
		return
	}
	if err := h.ledger.Unseal(partition); err != nil {
		writeError(w, err)
		return
	}
	h.log.Warn().Str("partition", partition.String()).Msg("partition unsealed by operator")
	writeJSON(w, http.StatusOK, map[string]string{"partition": string(partition), "status": "unsealed"})
}
