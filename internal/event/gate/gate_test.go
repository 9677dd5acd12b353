package gate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	ledgermemory "github.com/GrupoUS/neonpro-sub006/internal/ledger/store/memory"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T) (*Gate, *ledger.Service) {
	t.Helper()
	svc := ledger.NewService(ledgermemory.NewStore(), zerolog.Nop(), nil)
	g := New(svc, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
	return g, svc
}

func validEvent() event.Event {
	return event.Event{
		ID:            domain.EventID(uuid.New()),
		AggregateID:   "patient-1",
		AggregateType: domain.AggregatePatient,
		Type:          event.TypePatientCreated,
		Payload:       []byte(`{"subject_id":"patient-1","full_name":"Ana Souza"}`),
		OccurredAt:    fixedNow.Add(-time.Minute),
		ActorID:       "reception-4",
		ActorRole:     domain.RoleReception,
	}
}

func TestSubmitAcceptsValidEvent(t *testing.T) {
	g, _ := newTestGate(t)

	rec, err := g.Submit(context.Background(), validEvent())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)
	assert.Equal(t, domain.AggregatePatient, rec.Partition)
	assert.NotEmpty(t, rec.Hash)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*event.Event)
		wantCode dErrors.Code
	}{
		{
			name:     "missing id",
			mutate:   func(ev *event.Event) { ev.ID = domain.EventID{} },
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name:     "missing aggregate id",
			mutate:   func(ev *event.Event) { ev.AggregateID = "" },
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name:     "unknown aggregate type",
			mutate:   func(ev *event.Event) { ev.AggregateType = "invoice" },
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name:     "unregistered event type",
			mutate:   func(ev *event.Event) { ev.Type = "patient.deleted" },
			wantCode: dErrors.CodeEventUnknownType,
		},
		{
			name: "type does not match aggregate",
			mutate: func(ev *event.Event) {
				ev.AggregateType = domain.AggregateAppointment
			},
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name: "payload fails schema",
			mutate: func(ev *event.Event) {
				ev.Payload = []byte(`{"subject_id":"patient-1"}`)
			},
			wantCode: dErrors.CodeEventBadPayload,
		},
		{
			name:     "missing occurred_at",
			mutate:   func(ev *event.Event) { ev.OccurredAt = time.Time{} },
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name: "occurred_at too far in the future",
			mutate: func(ev *event.Event) {
				ev.OccurredAt = fixedNow.Add(10 * time.Minute)
			},
			wantCode: dErrors.CodeEventClockSkew,
		},
		{
			name:     "missing actor",
			mutate:   func(ev *event.Event) { ev.ActorID = "" },
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name:     "unknown actor role",
			mutate:   func(ev *event.Event) { ev.ActorRole = "janitor" },
			wantCode: dErrors.CodeEventInvalid,
		},
		{
			name: "self causation",
			mutate: func(ev *event.Event) {
				ev.CausationID = ev.ID
			},
			wantCode: dErrors.CodeEventBadReference,
		},
		{
			name: "dangling causation",
			mutate: func(ev *event.Event) {
				ev.CausationID = domain.EventID(uuid.New())
			},
			wantCode: dErrors.CodeEventBadReference,
		},
		{
			name: "oversized correlation id",
			mutate: func(ev *event.Event) {
				long := make([]byte, 257)
				for i := range long {
					long[i] = 'x'
				}
				ev.CorrelationID = string(long)
			},
			wantCode: dErrors.CodeEventInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, svc := newTestGate(t)
			ev := validEvent()
			tt.mutate(&ev)

			_, err := g.Submit(context.Background(), ev)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.wantCode), "got %v", err)

			head, err := svc.Head(context.Background(), domain.AggregatePatient)
			require.NoError(t, err)
			assert.Zero(t, head, "rejected event must not reach the ledger")
		})
	}
}

func TestSubmitOccurredAtWithinSkewAccepted(t *testing.T) {
	g, _ := newTestGate(t)
	ev := validEvent()
	ev.OccurredAt = fixedNow.Add(4 * time.Minute)

	_, err := g.Submit(context.Background(), ev)
	assert.NoError(t, err)
}

func TestSubmitCausationToLedgeredEvent(t *testing.T) {
	g, _ := newTestGate(t)
	first := validEvent()
	_, err := g.Submit(context.Background(), first)
	require.NoError(t, err)

	second := validEvent()
	second.ID = domain.EventID(uuid.New())
	second.Type = event.TypePatientUpdated
	second.Payload = []byte(`{"subject_id":"patient-1","changed_fields":["phone"]}`)
	second.CausationID = first.ID

	_, err = g.Submit(context.Background(), second)
	assert.NoError(t, err)
}

func TestSubmitBatchResolvesIntraBatchCausation(t *testing.T) {
	g, _ := newTestGate(t)

	first := validEvent()
	second := validEvent()
	second.ID = domain.EventID(uuid.New())
	second.Type = event.TypePatientUpdated
	second.Payload = []byte(`{"subject_id":"patient-1","changed_fields":["email"]}`)
	second.CausationID = first.ID

	records, err := g.SubmitBatch(context.Background(), []event.Event{first, second})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, uint64(2), records[1].Sequence)
}

func TestSubmitBatchRejectsForwardCausation(t *testing.T) {
	// A reference to a later batch position is a dangling reference at
	// validation time: batch order is append order.
	g, svc := newTestGate(t)

	first := validEvent()
	second := validEvent()
	second.ID = domain.EventID(uuid.New())
	second.Type = event.TypePatientUpdated
	second.Payload = []byte(`{"subject_id":"patient-1","changed_fields":["email"]}`)
	first.CausationID = second.ID

	_, err := g.SubmitBatch(context.Background(), []event.Event{first, second})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEventBadReference), "got %v", err)

	head, err := svc.Head(context.Background(), domain.AggregatePatient)
	require.NoError(t, err)
	assert.Zero(t, head, "an invalid batch must append nothing")
}

func TestSubmitBatchEmptyRejected(t *testing.T) {
	g, _ := newTestGate(t)
	_, err := g.SubmitBatch(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEventInvalid))
}
