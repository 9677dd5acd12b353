// Package httptransport is the thin HTTP layer over the compliance core.
// Handlers delegate to domain services and only translate between JSON and
// domain types; transport is an implementation choice, the contracts live
// in the services.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/GrupoUS/neonpro-sub006/internal/consent"
	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// Ledger is the query/verification surface the transport needs.
type Ledger interface {
	QueryRecords(ctx context.Context, q ledger.Query) (ledger.Page, error)
	VerifyChain(ctx context.Context, p domain.AggregateType, from, to uint64) (ledger.VerifyReport, error)
	Unseal(p domain.AggregateType) error
}

// Gate is the ingestion surface.
type Gate interface {
	Submit(ctx context.Context, ev event.Event) (ledger.Record, error)
	SubmitBatch(ctx context.Context, events []event.Event) ([]ledger.Record, error)
}

// Consent is the consent contract exposed to domain services and
// subject-facing flows.
type Consent interface {
	Check(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (consent.Decision, error)
	Grant(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, req consent.GrantRequest) (consent.Record, error)
	Withdraw(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, actorID string, actorRole domain.ActorRole, correlationID string) (consent.Record, error)
	History(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) ([]consent.Record, error)
}

// Handler is the thin HTTP layer.
type Handler struct {
	log     zerolog.Logger
	gate    Gate
	ledger  Ledger
	consent Consent
	catalog *domain.PurposeCatalog
	// gatedPurposes maps event types that represent data processing to
	// the purpose they require. Which types require which consent is
	// policy content, supplied as configuration.
	gatedPurposes map[event.Type]domain.ConsentPurpose

	healthChecks map[string]func(context.Context) error
}

func NewHandler(gate Gate, l Ledger, c Consent, catalog *domain.PurposeCatalog, gated map[event.Type]domain.ConsentPurpose, log zerolog.Logger) *Handler {
	return &Handler{
		log:           log.With().Str("component", "http").Logger(),
		gate:          gate,
		ledger:        l,
		consent:       c,
		catalog:       catalog,
		gatedPurposes: gated,
		healthChecks:  map[string]func(context.Context) error{},
	}
}

// AddHealthCheck registers a named substrate check for /healthz. Checks are
// registered by main for whichever substrates the deployment configured.
func (h *Handler) AddHealthCheck(name string, check func(context.Context) error) {
	h.healthChecks[name] = check
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "no such resource"))
	})

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.handleSubmitEvent)
		r.Post("/events/batch", h.handleSubmitBatch)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/records", h.handleQueryRecords)
			r.Get("/verify", h.handleVerifyChain)
			r.Post("/partitions/{partition}/unseal", h.handleUnseal)
		})

		r.Route("/consents/{subject}/{purpose}", func(r chi.Router) {
			r.Get("/", h.handleCheckConsent)
			r.Post("/", h.handleGrantConsent)
			r.Delete("/", h.handleWithdrawConsent)
			r.Get("/history", h.handleConsentHistory)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.healthChecks {
		if err := check(ctx); err != nil {
			h.log.Error().Err(err).Str("substrate", name).Msg("health check failed")
			writeError(w, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, name+" unhealthy"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
