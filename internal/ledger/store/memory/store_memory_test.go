package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

func record(seq uint64) ledger.Record {
	return ledger.Record{
		Partition:    domain.AggregatePatient,
		Sequence:     seq,
		PreviousHash: "prev",
		Hash:         "hash",
		Event: event.Event{
			ID:            domain.EventID(uuid.New()),
			AggregateID:   "p-1",
			AggregateType: domain.AggregatePatient,
			Type:          event.TypePatientCreated,
			Payload:       []byte(`{"subject_id":"p-1","full_name":"Ana"}`),
			OccurredAt:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			ActorID:       "system",
			ActorRole:     domain.RoleSystem,
		},
		RecordedAt: time.Date(2026, 1, 15, 10, 0, 1, 0, time.UTC),
	}
}

func TestAppendIfAbsentEnforcesTailSequence(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, existed, err := store.AppendIfAbsent(ctx, record(1))
	require.NoError(t, err)
	assert.False(t, existed)

	// A gap is a conflict, not silent corruption.
	_, _, err = store.AppendIfAbsent(ctx, record(3))
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	_, _, err = store.AppendIfAbsent(ctx, record(2))
	assert.NoError(t, err)
}

func TestAppendIfAbsentReturnsExistingByEventID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	rec := record(1)
	_, _, err := store.AppendIfAbsent(ctx, rec)
	require.NoError(t, err)

	dup := record(2)
	dup.Event.ID = rec.Event.ID
	stored, existed, err := store.AppendIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, uint64(1), stored.Sequence, "the stored record wins")

	seq, _, err := store.Head(ctx, domain.AggregatePatient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestReadRangeClampsBounds(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for i := uint64(1); i <= 4; i++ {
		_, _, err := store.AppendIfAbsent(ctx, record(i))
		require.NoError(t, err)
	}

	records, err := store.ReadRange(ctx, domain.AggregatePatient, 2, 100)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(2), records[0].Sequence)

	records, err = store.ReadRange(ctx, domain.AggregatePatient, 5, 9)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHeadEmptyPartition(t *testing.T) {
	store := NewStore()
	seq, hash, err := store.Head(context.Background(), domain.AggregateConsent)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Empty(t, hash)
}
