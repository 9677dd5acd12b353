// Package publisher fans accepted audit records out to Kafka for downstream
// compliance consumers (reporting, SIEM). The ledger remains the source of
// truth; the stream is a read model feed.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// Kafka implements ledger.Publisher over franz-go.
type Kafka struct {
	client *kgo.Client
	topic  string
	log    zerolog.Logger
}

func NewKafka(brokers []string, topic string, log zerolog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePublishUnavailable, "kafka client init failed")
	}
	return &Kafka{
		client: client,
		topic:  topic,
		log:    log.With().Str("component", "audit-publisher").Logger(),
	}, nil
}

// envelope is the wire shape consumers deserialize. Field order mirrors the
// canonical event encoding so consumers can recompute record hashes.
type envelope struct {
	Partition     string          `json:"partition"`
	Sequence      uint64          `json:"sequence"`
	PreviousHash  string          `json:"previous_hash"`
	RecordHash    string          `json:"record_hash"`
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role"`
	CausationID   string          `json:"causation_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

func newEnvelope(rec ledger.Record) envelope {
	env := envelope{
		Partition:     rec.Partition.String(),
		Sequence:      rec.Sequence,
		PreviousHash:  rec.PreviousHash,
		RecordHash:    rec.Hash,
		EventID:       rec.Event.ID.String(),
		AggregateID:   rec.Event.AggregateID,
		EventType:     rec.Event.Type.String(),
		Payload:       rec.Event.Payload,
		OccurredAt:    rec.Event.OccurredAt.UTC(),
		ActorID:       rec.Event.ActorID,
		ActorRole:     rec.Event.ActorRole.String(),
		CorrelationID: rec.Event.CorrelationID,
		RecordedAt:    rec.RecordedAt,
	}
	if rec.Event.HasCausation() {
		env.CausationID = rec.Event.CausationID.String()
	}
	return env
}

// Publish produces one record. Keyed by ledger partition so consumers see
// each chain in order.
func (k *Kafka) Publish(ctx context.Context, rec ledger.Record) error {
	value, err := json.Marshal(newEnvelope(rec))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal audit envelope")
	}
	res := k.client.ProduceSync(ctx, &kgo.Record{
		Topic: k.topic,
		Key:   []byte(rec.Partition.String()),
		Value: value,
	})
	if err := res.FirstErr(); err != nil {
		return dErrors.Wrap(err, dErrors.CodePublishUnavailable, "produce audit record")
	}
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}
