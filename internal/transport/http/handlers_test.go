package httptransport_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub006/internal/consent"
	consentmemory "github.com/GrupoUS/neonpro-sub006/internal/consent/store/memory"
	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/event/gate"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	ledgermemory "github.com/GrupoUS/neonpro-sub006/internal/ledger/store/memory"
	httptransport "github.com/GrupoUS/neonpro-sub006/internal/transport/http"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	"github.com/GrupoUS/neonpro-sub006/pkg/testutil"
)

var gatedPurposes = map[event.Type]domain.ConsentPurpose{
	event.TypePatientCreated: domain.PurposeTreatment,
}

type server struct {
	router  http.Handler
	handler *httptransport.Handler
	ledger  *ledger.Service
	consent *consent.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	catalog, err := domain.NewPurposeCatalog(domain.DefaultPurposePolicies())
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledgermemory.NewStore(), zerolog.Nop(), nil)
	g := gate.New(ledgerSvc, zerolog.Nop())
	consentSvc := consent.NewService(consentmemory.NewStore(), g, catalog, zerolog.Nop(), nil)

	h := httptransport.NewHandler(g, ledgerSvc, consentSvc, catalog, gatedPurposes, zerolog.Nop())
	return &server{
		router:  httptransport.NewRouter(h),
		handler: h,
		ledger:  ledgerSvc,
		consent: consentSvc,
	}
}

func eventBody(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"aggregate_id":   "appt-1",
		"aggregate_type": "appointment",
		"event_type":     "appointment.completed",
		"payload":        map[string]any{"appointment_id": "appt-1", "subject_id": "p-1"},
		"occurred_at":    time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano),
		"actor_id":       "prof-9",
		"actor_role":     "professional",
	}
}

func TestSubmitEventEndpoint(t *testing.T) {
	srv := newServer(t)

	t.Run("accepts a valid event", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", eventBody(uuid.NewString())))
		testutil.AssertStatus(t, rr, http.StatusCreated)

		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, "appointment", (*resp)["partition"])
		assert.Equal(t, float64(1), (*resp)["sequence"])
		assert.NotEmpty(t, (*resp)["record_hash"])
	})

	t.Run("replay returns the stored record", func(t *testing.T) {
		body := eventBody(uuid.NewString())
		first := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", body))
		testutil.AssertStatus(t, first, http.StatusCreated)

		replay := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", body))
		testutil.AssertStatus(t, replay, http.StatusCreated)
		assert.JSONEq(t, string(testutil.ReadBody(t, first)), string(testutil.ReadBody(t, replay)))
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		body := eventBody("not-a-uuid")
		rr := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", body))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "request.invalid_input")
	})

	t.Run("rejects unknown event type", func(t *testing.T) {
		body := eventBody(uuid.NewString())
		body["event_type"] = "appointment.rescheduled"
		rr := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", body))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "event.unknown_type")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/v1/events")
		rr := testutil.DoRequest(srv.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "request.invalid_input")
	})
}

func TestSubmitEventConsentGating(t *testing.T) {
	srv := newServer(t)

	patientCreated := func() map[string]any {
		body := eventBody(uuid.NewString())
		body["aggregate_id"] = "p-1"
		body["aggregate_type"] = "patient"
		body["event_type"] = "patient.created"
		body["payload"] = map[string]any{"subject_id": "p-1", "full_name": "Ana Souza"}
		return body
	}

	testutil.Given(t, "a subject without treatment consent", func(t *testing.T) {
		testutil.Then(t, "a patient event is refused", func(t *testing.T) {
			rr := testutil.DoRequest(srv.router,
				testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", patientCreated()))
			testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "consent.denied")
		})
	})

	testutil.When(t, "the subject grants treatment consent", func(t *testing.T) {
		grant := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t,
			http.MethodPost, "/v1/consents/p-1/treatment", map[string]any{
				"actor_id":   "p-1",
				"actor_role": "patient",
			}))
		testutil.AssertStatus(t, grant, http.StatusCreated)

		testutil.Then(t, "the same event is accepted", func(t *testing.T) {
			rr := testutil.DoRequest(srv.router,
				testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", patientCreated()))
			testutil.AssertStatus(t, rr, http.StatusCreated)
		})
	})
}

func TestSubmitBatchEndpoint(t *testing.T) {
	srv := newServer(t)

	first := eventBody(uuid.NewString())
	second := eventBody(uuid.NewString())
	second["causation_id"] = first["id"]

	rr := testutil.DoRequest(srv.router,
		testutil.NewJSONRequest(t, http.MethodPost, "/v1/events/batch", []map[string]any{first, second}))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	resp := testutil.UnmarshalResponse[[]map[string]any](t, rr)
	require.Len(t, *resp, 2)
	assert.Equal(t, float64(2), (*resp)[1]["sequence"])
}

func TestAuditQueryEndpoint(t *testing.T) {
	srv := newServer(t)

	body := eventBody(uuid.NewString())
	body["payload"] = map[string]any{"appointment_id": "appt-1", "subject_id": "p-1"}
	rr := testutil.DoRequest(srv.router,
		testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", body))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	t.Run("lists records", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/audit/records?partition=appointment"))
		testutil.AssertStatus(t, rr, http.StatusOK)

		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		records := (*resp)["records"].([]any)
		assert.Len(t, records, 1)
	})

	t.Run("rejects unknown partition", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/audit/records?partition=billing"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "request.invalid_input")
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/audit/records?partition=appointment&cursor=abc"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "ledger.bad_cursor")
	})
}

func TestAuditVerifyAndUnsealEndpoints(t *testing.T) {
	srv := newServer(t)

	rr := testutil.DoRequest(srv.router,
		testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", eventBody(uuid.NewString())))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	t.Run("verify reports ok", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/audit/verify?partition=appointment"))
		testutil.AssertStatus(t, rr, http.StatusOK)

		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, true, (*resp)["ok"])
	})

	t.Run("unseal after an integrity violation", func(t *testing.T) {
		id := uuid.NewString()
		first := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", eventBody(id)))
		testutil.AssertStatus(t, first, http.StatusCreated)

		forged := eventBody(id)
		forged["payload"] = map[string]any{"appointment_id": "appt-2", "subject_id": "p-1"}
		rr := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", forged))
		testutil.AssertStatusAndError(t, rr, http.StatusLocked, "ledger.duplicate_mismatch")

		unseal := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/audit/partitions/appointment/unseal", nil))
		testutil.AssertStatus(t, unseal, http.StatusOK)
	})

	t.Run("unseal of a healthy partition conflicts", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/audit/partitions/patient/unseal", nil))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "resource.conflict")
	})

	t.Run("unseal unknown partition", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewJSONRequest(t, http.MethodPost, "/v1/audit/partitions/billing/unseal", nil))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestConsentEndpoints(t *testing.T) {
	srv := newServer(t)

	t.Run("check without grant", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/consents/p-1/marketing"))
		testutil.AssertStatus(t, rr, http.StatusOK)

		resp := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, false, (*resp)["allowed"])
		assert.Equal(t, "no_consent", (*resp)["reason"])
	})

	t.Run("grant withdraw history", func(t *testing.T) {
		grant := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t,
			http.MethodPost, "/v1/consents/p-1/marketing", map[string]any{
				"actor_id":   "p-1",
				"actor_role": "patient",
			}))
		testutil.AssertStatus(t, grant, http.StatusCreated)
		granted := testutil.UnmarshalResponse[map[string]any](t, grant)
		assert.Equal(t, "granted", (*granted)["status"])
		assert.Equal(t, float64(1), (*granted)["version"])
		assert.NotEmpty(t, (*granted)["expires_at"], "marketing gets the policy TTL")

		check := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/consents/p-1/marketing"))
		resp := testutil.UnmarshalResponse[map[string]any](t, check)
		assert.Equal(t, true, (*resp)["allowed"])

		withdraw := testutil.DoRequest(srv.router, testutil.NewRequest(t,
			http.MethodDelete, "/v1/consents/p-1/marketing?actor_id=p-1&actor_role=patient"))
		testutil.AssertStatus(t, withdraw, http.StatusOK)

		again := testutil.DoRequest(srv.router, testutil.NewRequest(t,
			http.MethodDelete, "/v1/consents/p-1/marketing?actor_id=p-1&actor_role=patient"))
		testutil.AssertStatusAndError(t, again, http.StatusConflict, "consent.conflict")

		history := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/consents/p-1/marketing/history"))
		testutil.AssertStatus(t, history, http.StatusOK)
		versions := testutil.UnmarshalResponse[[]map[string]any](t, history)
		assert.Len(t, *versions, 2)
	})

	t.Run("unknown purpose", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router,
			testutil.NewRequest(t, http.MethodGet, "/v1/consents/p-1/advertising"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "consent.unknown_purpose")
	})
}

func TestRedactionByRoleOnAuditReads(t *testing.T) {
	srv := newServer(t)

	// Treatment consent first so the patient event passes the gate.
	grant := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t,
		http.MethodPost, "/v1/consents/p-9/treatment", map[string]any{"actor_id": "p-9", "actor_role": "patient"}))
	testutil.AssertStatus(t, grant, http.StatusCreated)

	body := eventBody(uuid.NewString())
	body["aggregate_id"] = "p-9"
	body["aggregate_type"] = "patient"
	body["event_type"] = "patient.created"
	body["payload"] = map[string]any{"subject_id": "p-9", "full_name": "Ana Souza", "cpf": "12345678901"}
	rr := testutil.DoRequest(srv.router,
		testutil.NewJSONRequest(t, http.MethodPost, "/v1/events", body))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	reception := testutil.DoRequest(srv.router, testutil.NewRequest(t,
		http.MethodGet, "/v1/audit/records?partition=patient&role=reception"))
	testutil.AssertStatus(t, reception, http.StatusOK)
	assert.NotContains(t, string(testutil.ReadBody(t, reception)), "12345678901")

	officer := testutil.DoRequest(srv.router, testutil.NewRequest(t,
		http.MethodGet, "/v1/audit/records?partition=patient&role=compliance_officer"))
	testutil.AssertStatus(t, officer, http.StatusOK)
	assert.Contains(t, string(testutil.ReadBody(t, officer)), "12345678901")
}

func TestHealthEndpoint(t *testing.T) {
	srv := newServer(t)
	rr := testutil.DoRequest(srv.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	t.Run("failing substrate check turns unhealthy", func(t *testing.T) {
		srv.handler.AddHealthCheck("redis", func(context.Context) error {
			return errors.New("connection refused")
		})
		rr := testutil.DoRequest(srv.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "store.unavailable")
	})
}

func TestUnknownRouteReturnsErrorEnvelope(t *testing.T) {
	srv := newServer(t)
	rr := testutil.DoRequest(srv.router, testutil.NewRequest(t, http.MethodGet, "/v1/nope"))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "resource.not_found")
}
