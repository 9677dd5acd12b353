package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

// LogStore is the append-only persistence substrate the ledger depends on.
// Implementations return sentinel.ErrUnavailable (wrapped) for transient
// failures; the service retries those with bounded exponential backoff.
type LogStore interface {
	// AppendIfAbsent persists rec unless a record with the same event id
	// already exists, in which case the stored record is returned with
	// existed=true and nothing is written.
	AppendIfAbsent(ctx context.Context, rec Record) (stored Record, existed bool, err error)
	// GetByID looks a record up by its event id.
	GetByID(ctx context.Context, id domain.EventID) (Record, bool, error)
	// ReadRange returns records of one partition with from <= Sequence <= to,
	// ordered by sequence ascending.
	ReadRange(ctx context.Context, partition domain.AggregateType, from, to uint64) ([]Record, error)
	// Head returns the highest sequence and its hash, or (0, "") for an
	// empty partition.
	Head(ctx context.Context, partition domain.AggregateType) (uint64, string, error)
}

// Publisher fans accepted records out to downstream compliance consumers.
// Publication is best-effort and never blocks or fails an append.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// partitionState serializes appends to one partition and tracks the seal
// set by integrity violations.
type partitionState struct {
	mu         sync.Mutex
	sealed     bool
	sealReason string
}

// Service assigns accepted events an immutable, verifiable position and
// serves queries. Appends to one partition are serialized so the hash chain
// has one unambiguous next position; appends to different partitions
// proceed fully in parallel. Reads never take partition locks.
type Service struct {
	store   LogStore
	pub     Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu         sync.Mutex
	partitions map[domain.AggregateType]*partitionState

	maxRetries      uint64
	backoffInterval time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher attaches a downstream fan-out publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithRetry overrides the substrate retry policy.
func WithRetry(maxRetries uint64, initialInterval time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.backoffInterval = initialInterval
	}
}

// NewService builds a ledger service on the given substrate. The store is
// an explicit handle; there is no ambient global ledger.
func NewService(store LogStore, log zerolog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:           store,
		log:             log.With().Str("component", "ledger").Logger(),
		metrics:         m,
		tracer:          otel.Tracer("neonpro/ledger"),
		partitions:      make(map[domain.AggregateType]*partitionState),
		maxRetries:      4,
		backoffInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) partition(p domain.AggregateType) *partitionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.partitions[p]
	if !ok {
		st = &partitionState{}
		s.partitions[p] = st
	}
	return st
}

// Append accepts a validated event and chains it into its partition.
//
// Idempotency: resubmitting an event with the same id and the same
// canonical bytes returns the already-stored record unchanged. The same id
// with different bytes is an integrity violation and seals the partition.
//
// A caller-imposed timeout must not roll back a write already durably
// recorded; callers retry with the same event id and the idempotency check
// absorbs the duplicate.
func (s *Service) Append(ctx context.Context, ev event.Event) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Append", trace.WithAttributes(
		attribute.String("event.id", ev.ID.String()),
		attribute.String("event.type", ev.Type.String()),
		attribute.String("partition", ev.AggregateType.String()),
	))
	defer span.End()
	start := time.Now()

	canonical, err := event.CanonicalBytes(ev)
	if err != nil {
		return Record{}, err
	}

	part := s.partition(ev.AggregateType)
	part.mu.Lock()
	defer part.mu.Unlock()

	if part.sealed {
		return Record{}, dErrors.Newf(dErrors.CodeLedgerPartitionSealed,
			"partition %s is sealed: %s", ev.AggregateType, part.sealReason)
	}

	// Idempotency check before assigning a position.
	if existing, ok, err := s.getByID(ctx, ev.ID); err != nil {
		return Record{}, err
	} else if ok {
		return s.resolveDuplicate(ev, existing, canonical, part)
	}

	head, headHash, err := s.head(ctx, ev.AggregateType)
	if err != nil {
		return Record{}, err
	}
	prev := headHash
	if head == 0 {
		prev = GenesisHash(ev.AggregateType)
	}
	seq := head + 1

	rec := Record{
		Partition:    ev.AggregateType,
		Sequence:     seq,
		PreviousHash: prev,
		Hash:         ChainHash(prev, canonical, seq),
		Event:        ev,
		RecordedAt:   time.Now().UTC(),
	}

	stored, existed, err := s.appendIfAbsent(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if existed {
		// Another writer won between our id check and the insert.
		return s.resolveDuplicate(ev, stored, canonical, part)
	}

	s.metrics.RecordAppend(ev.AggregateType.String(), time.Since(start).Seconds())
	s.log.Debug().
		Str("event_id", ev.ID.String()).
		Str("partition", ev.AggregateType.String()).
		Uint64("sequence", stored.Sequence).
		Msg("event appended")

	if s.pub != nil {
		// Fan-out is best-effort; the ledger is the source of truth.
		if err := s.pub.Publish(ctx, stored); err != nil {
			s.log.Warn().Err(err).
				Str("event_id", ev.ID.String()).
				Msg("downstream publish failed")
		}
	}
	return stored, nil
}

// resolveDuplicate decides between an idempotent replay and an id collision.
// Caller holds the partition lock.
func (s *Service) resolveDuplicate(ev event.Event, existing Record, canonical []byte, part *partitionState) (Record, error) {
	existingCanonical, err := event.CanonicalBytes(existing.Event)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "stored event failed canonical encoding")
	}
	if bytes.Equal(canonical, existingCanonical) {
		s.metrics.RecordIdempotentReplay()
		return existing, nil
	}
	s.seal(part, existing.Partition, "duplicate event id "+ev.ID.String()+" with mismatched payload")
	return Record{}, dErrors.Newf(dErrors.CodeLedgerDuplicateMismatch,
		"event %s already appended with different payload", ev.ID)
}

// seal refuses further appends to the partition until an operator clears
// the condition. Caller holds the partition lock.
func (s *Service) seal(part *partitionState, p domain.AggregateType, reason string) {
	part.sealed = true
	part.sealReason = reason
	s.metrics.RecordIntegrityViolation(p.String())
	s.log.Error().
		Str("partition", p.String()).
		Str("reason", reason).
		Msg("partition sealed after integrity violation")
}

// Unseal clears a sealed partition. Operator action only, after the
// underlying condition has been investigated.
func (s *Service) Unseal(p domain.AggregateType) error {
	part := s.partition(p)
	part.mu.Lock()
	defer part.mu.Unlock()
	if !part.sealed {
		return dErrors.Newf(dErrors.CodeConflict, "partition %s is not sealed", p)
	}
	part.sealed = false
	part.sealReason = ""
	s.log.Warn().Str("partition", p.String()).Msg("partition unsealed by operator")
	return nil
}

// Sealed reports whether a partition currently refuses appends.
func (s *Service) Sealed(p domain.AggregateType) bool {
	part := s.partition(p)
	part.mu.Lock()
	defer part.mu.Unlock()
	return part.sealed
}

// Exists reports whether an event id is already present in the ledger.
// Used by the gate to check causation references.
func (s *Service) Exists(ctx context.Context, id domain.EventID) (bool, error) {
	_, ok, err := s.getByID(ctx, id)
	return ok, err
}

// Head returns the highest assigned sequence of a partition.
func (s *Service) Head(ctx context.Context, p domain.AggregateType) (uint64, error) {
	seq, _, err := s.head(ctx, p)
	return seq, err
}

// ---------------------------------------------------------------------------
// Substrate access with bounded retry. Only transient substrate failures
// (sentinel.ErrUnavailable) are retried; everything else is permanent.
// ---------------------------------------------------------------------------

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.backoffInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx)
}

func retrySubstrate[T any](s *Service, ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		var err error
		out, err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, s.retryPolicy(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return out, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, op+": substrate unavailable after retries")
		}
		// A caller deadline expiring mid-retry ends the backoff loop
		// with the context error rather than the substrate's.
		if errors.Is(err, context.DeadlineExceeded) {
			return out, dErrors.Wrap(err, dErrors.CodeStoreTimeout, op+": substrate timed out")
		}
		var de *dErrors.Error
		if errors.As(err, &de) {
			return out, err
		}
		return out, dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
	}
	return out, nil
}

type headResult struct {
	seq  uint64
	hash string
}

func (s *Service) head(ctx context.Context, p domain.AggregateType) (uint64, string, error) {
	out, err := retrySubstrate(s, ctx, "head", func() (headResult, error) {
		seq, hash, err := s.store.Head(ctx, p)
		return headResult{seq, hash}, err
	})
	return out.seq, out.hash, err
}

func (s *Service) getByID(ctx context.Context, id domain.EventID) (Record, bool, error) {
	type result struct {
		rec Record
		ok  bool
	}
	out, err := retrySubstrate(s, ctx, "get_by_id", func() (result, error) {
		rec, ok, err := s.store.GetByID(ctx, id)
		return result{rec, ok}, err
	})
	return out.rec, out.ok, err
}

func (s *Service) appendIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	type result struct {
		rec     Record
		existed bool
	}
	out, err := retrySubstrate(s, ctx, "append_if_absent", func() (result, error) {
		stored, existed, err := s.store.AppendIfAbsent(ctx, rec)
		return result{stored, existed}, err
	})
	return out.rec, out.existed, err
}

func (s *Service) readRange(ctx context.Context, p domain.AggregateType, from, to uint64) ([]Record, error) {
	return retrySubstrate(s, ctx, "read_range", func() ([]Record, error) {
		return s.store.ReadRange(ctx, p, from, to)
	})
}
