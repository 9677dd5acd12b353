// Package gate is the validation and normalization front of the audit
// ledger. Every event passes through Submit before it can be appended; the
// gate itself holds no durable state.
package gate

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// defaultClockSkew is how far in the future occurredAt may lie before the
// event is rejected. Domain services stamp events on their own clocks.
const defaultClockSkew = 5 * time.Minute

// Ledger is the downstream the gate hands validated events to.
type Ledger interface {
	Append(ctx context.Context, ev event.Event) (ledger.Record, error)
	Exists(ctx context.Context, id domain.EventID) (bool, error)
}

// Gate validates the shape of events before they reach the ledger.
type Gate struct {
	ledger Ledger
	log    zerolog.Logger
	skew   time.Duration
	now    func() time.Time
}

type Option func(*Gate)

// WithClockSkew overrides the future-timestamp tolerance.
func WithClockSkew(d time.Duration) Option {
	return func(g *Gate) { g.skew = d }
}

// WithClock injects a clock; tests pin time with it.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(l Ledger, log zerolog.Logger, opts ...Option) *Gate {
	g := &Gate{
		ledger: l,
		log:    log.With().Str("component", "event-gate").Logger(),
		skew:   defaultClockSkew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit validates one event and hands it to the ledger. Validation
// failures return CategoryValidation errors and nothing is appended.
func (g *Gate) Submit(ctx context.Context, ev event.Event) (ledger.Record, error) {
	if err := g.validate(ctx, ev, nil); err != nil {
		return ledger.Record{}, err
	}
	return g.ledger.Append(ctx, ev)
}

// SubmitBatch validates a batch as a unit: causation references may point
// at earlier events of the same batch. All events are validated before any
// append, then appended in order; the first append failure aborts the rest
// and already-appended events stay appended (callers resubmit the whole
// batch, idempotency absorbs the overlap).
func (g *Gate) SubmitBatch(ctx context.Context, events []event.Event) ([]ledger.Record, error) {
	if len(events) == 0 {
		return nil, dErrors.New(dErrors.CodeEventInvalid, "batch cannot be empty")
	}
	inBatch := make(map[domain.EventID]bool, len(events))
	for i, ev := range events {
		if err := g.validate(ctx, ev, inBatch); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeEventInvalid,
				"batch rejected at position "+strconv.Itoa(i))
		}
		inBatch[ev.ID] = true
	}
	records := make([]ledger.Record, 0, len(events))
	for _, ev := range events {
		rec, err := g.ledger.Append(ctx, ev)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (g *Gate) validate(ctx context.Context, ev event.Event, inBatch map[domain.EventID]bool) error {
	if ev.ID.IsNil() {
		return dErrors.New(dErrors.CodeEventInvalid, "event id is required")
	}
	if ev.AggregateID == "" {
		return dErrors.New(dErrors.CodeEventInvalid, "aggregate id is required")
	}
	if !ev.AggregateType.IsValid() {
		return dErrors.Newf(dErrors.CodeEventInvalid, "unknown aggregate type %q", ev.AggregateType)
	}
	if !event.KnownType(ev.Type) {
		return dErrors.Newf(dErrors.CodeEventUnknownType, "event type %q is not registered", ev.Type)
	}
	if want, _ := event.AggregateFor(ev.Type); want != ev.AggregateType {
		return dErrors.Newf(dErrors.CodeEventInvalid,
			"event type %s belongs to aggregate %s, not %s", ev.Type, want, ev.AggregateType)
	}
	if err := event.ValidatePayload(ev.Type, ev.Payload); err != nil {
		return err
	}
	if ev.OccurredAt.IsZero() {
		return dErrors.New(dErrors.CodeEventInvalid, "occurred_at is required")
	}
	if ev.OccurredAt.After(g.now().Add(g.skew)) {
		return dErrors.Newf(dErrors.CodeEventClockSkew,
			"occurred_at %s is in the future beyond the %s tolerance",
			ev.OccurredAt.UTC().Format(time.RFC3339), g.skew)
	}
	if ev.ActorID == "" {
		return dErrors.New(dErrors.CodeEventInvalid, "actor id is required")
	}
	if _, err := domain.ParseActorRole(ev.ActorRole.String()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeEventInvalid, "invalid actor role")
	}
	if ev.HasCausation() {
		if ev.CausationID == ev.ID {
			return dErrors.New(dErrors.CodeEventBadReference, "event cannot cause itself")
		}
		if !inBatch[ev.CausationID] {
			exists, err := g.ledger.Exists(ctx, ev.CausationID)
			if err != nil {
				return err
			}
			if !exists {
				return dErrors.Newf(dErrors.CodeEventBadReference,
					"causation event %s is not in the ledger", ev.CausationID)
			}
		}
	}
	// Correlation ids are opaque group keys, not event references: the
	// first event of an operation necessarily introduces a fresh one, so
	// only basic shape is checked.
	if len(ev.CorrelationID) > 256 {
		return dErrors.New(dErrors.CodeEventInvalid, "correlation id exceeds 256 characters")
	}
	return nil
}
