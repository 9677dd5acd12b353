package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

func seedPatients(t *testing.T, svc *ledger.Service, n int) []ledger.Record {
	t.Helper()
	records := make([]ledger.Record, 0, n)
	for i := 0; i < n; i++ {
		ev := patientEvent(fmt.Sprintf("p-%d", i))
		ev.OccurredAt = time.Date(2026, 1, 15, 10, i, 0, 0, time.UTC)
		ev.CorrelationID = fmt.Sprintf("op-%d", i%2)
		rec, err := svc.Append(context.Background(), ev)
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records
}

func TestQueryRecordsReturnsAllInOrder(t *testing.T) {
	svc, _ := newTestLedger(t)
	seedPatients(t, svc, 5)

	page, err := svc.QueryRecords(context.Background(), ledger.Query{Partition: domain.AggregatePatient})
	require.NoError(t, err)
	require.Len(t, page.Records, 5)
	for i, rec := range page.Records {
		assert.Equal(t, uint64(i+1), rec.Sequence)
	}
	assert.Zero(t, page.NextCursor, "a complete result set has no next page")
}

func TestQueryRecordsCursorPagination(t *testing.T) {
	svc, _ := newTestLedger(t)
	seedPatients(t, svc, 7)

	var got []ledger.Record
	var cursor uint64
	pages := 0
	for {
		page, err := svc.QueryRecords(context.Background(), ledger.Query{
			Partition:     domain.AggregatePatient,
			AfterSequence: cursor,
			Limit:         3,
		})
		require.NoError(t, err)
		got = append(got, page.Records...)
		pages++
		if page.NextCursor == 0 {
			break
		}
		cursor = page.NextCursor
	}
	require.Len(t, got, 7)
	assert.Equal(t, 3, pages)
	for i, rec := range got {
		assert.Equal(t, uint64(i+1), rec.Sequence, "pages must not skip or repeat")
	}
}

func TestQueryRecordsCursorStableUnderConcurrentAppends(t *testing.T) {
	svc, _ := newTestLedger(t)
	seedPatients(t, svc, 4)

	first, err := svc.QueryRecords(context.Background(), ledger.Query{
		Partition: domain.AggregatePatient,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)

	// New appends between pages must not disturb the already-served page.
	_, err = svc.Append(context.Background(), patientEvent("late"))
	require.NoError(t, err)

	second, err := svc.QueryRecords(context.Background(), ledger.Query{
		Partition:     domain.AggregatePatient,
		AfterSequence: first.NextCursor,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, second.Records, 3)
	assert.Equal(t, uint64(3), second.Records[0].Sequence)
}

func TestQueryRecordsFilters(t *testing.T) {
	svc, _ := newTestLedger(t)
	seedPatients(t, svc, 6)

	t.Run("by subject", func(t *testing.T) {
		page, err := svc.QueryRecords(context.Background(), ledger.Query{
			Partition: domain.AggregatePatient,
			SubjectID: "p-2",
		})
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		assert.Equal(t, "p-2", page.Records[0].Event.AggregateID)
	})

	t.Run("by correlation id", func(t *testing.T) {
		page, err := svc.QueryRecords(context.Background(), ledger.Query{
			Partition:     domain.AggregatePatient,
			CorrelationID: "op-1",
		})
		require.NoError(t, err)
		assert.Len(t, page.Records, 3)
	})

	t.Run("by time window", func(t *testing.T) {
		page, err := svc.QueryRecords(context.Background(), ledger.Query{
			Partition:    domain.AggregatePatient,
			OccurredFrom: time.Date(2026, 1, 15, 10, 2, 0, 0, time.UTC),
			OccurredTo:   time.Date(2026, 1, 15, 10, 4, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Len(t, page.Records, 2, "from is inclusive, to is exclusive")
	})

	t.Run("by event type with no matches", func(t *testing.T) {
		page, err := svc.QueryRecords(context.Background(), ledger.Query{
			Partition: domain.AggregatePatient,
			EventType: event.TypePatientArchived,
		})
		require.NoError(t, err)
		assert.Empty(t, page.Records)
	})
}

func TestQueryRecordsRejectsBadInput(t *testing.T) {
	svc, _ := newTestLedger(t)

	_, err := svc.QueryRecords(context.Background(), ledger.Query{Partition: "billing"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.QueryRecords(context.Background(), ledger.Query{
		Partition: domain.AggregatePatient,
		EventType: "patient.deleted",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEventUnknownType))
}

func TestRedactForMasksPIIForUntrustedRoles(t *testing.T) {
	svc, _ := newTestLedger(t)
	ev := patientEvent("p-1")
	ev.Payload = []byte(`{"subject_id":"p-1","full_name":"Ana Clara Souza","cpf":"12345678901","email":"ana@example.com"}`)
	rec, err := svc.Append(context.Background(), ev)
	require.NoError(t, err)

	masked := ledger.RedactFor(domain.RoleReception, rec)
	assert.NotContains(t, string(masked.Event.Payload), "12345678901")
	assert.NotContains(t, string(masked.Event.Payload), "ana@example.com")
	assert.Contains(t, string(masked.Event.Payload), `"subject_id":"p-1"`,
		"non-PII fields pass through")

	raw := ledger.RedactFor(domain.RoleCompliance, rec)
	assert.Equal(t, rec.Event.Payload, raw.Event.Payload,
		"compliance officers see unmasked payloads")

	// Redaction is read-side only; stored bytes stay hash-verifiable.
	report, err := svc.VerifyChain(context.Background(), domain.AggregatePatient, 0, 0)
	require.NoError(t, err)
	assert.True(t, report.OK)
}
