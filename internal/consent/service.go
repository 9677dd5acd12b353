package consent

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

// transitionNamespace seeds deterministic event ids for consent
// transitions: a crashed-and-retried transition reuses the same id and the
// ledger's idempotency check absorbs the duplicate.
var transitionNamespace = uuid.MustParse("7f1c9f6e-30a2-4b82-9a4e-ceb14d2f0a11")

// Gate is the path every consent transition takes into the ledger.
type Gate interface {
	Submit(ctx context.Context, ev event.Event) (ledger.Record, error)
}

// Service is the consent state machine. Transitions for the same
// (subject, purpose) are serialized; Check is a wait-free read of the
// already-committed current pointer.
type Service struct {
	store   Store
	gate    Gate
	catalog *domain.PurposeCatalog
	log     zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	locks struct {
		mu sync.Mutex
		m  map[string]*sync.Mutex
	}

	denials chan denial
}

type Option func(*Service)

// WithClock injects a clock; tests pin time with it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the state machine to its store, the event gate, and the
// configured purpose catalog. All collaborators are explicit handles.
func NewService(store Store, gate Gate, catalog *domain.PurposeCatalog, log zerolog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:   store,
		gate:    gate,
		catalog: catalog,
		log:     log.With().Str("component", "consent").Logger(),
		metrics: m,
		tracer:  otel.Tracer("neonpro/consent"),
		now:     time.Now,
		denials: make(chan denial, denialBuffer),
	}
	s.locks.m = make(map[string]*sync.Mutex)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(subject domain.SubjectID, purpose domain.ConsentPurpose) *sync.Mutex {
	key := subject.String() + "\x00" + purpose.String()
	s.locks.mu.Lock()
	defer s.locks.mu.Unlock()
	mu, ok := s.locks.m[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks.m[key] = mu
	}
	return mu
}

// Check decides whether processing for the given purpose may proceed. It
// reads only the committed current version and never blocks on transition
// locks: a withdrawal takes effect for every check issued after its append
// completed.
//
// Denials are audited asynchronously; the decision does not wait for the
// audit append.
func (s *Service) Check(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Check", trace.WithAttributes(
		attribute.String("purpose", purpose.String()),
	))
	defer span.End()

	if _, ok := s.catalog.Policy(purpose); !ok {
		return Decision{}, dErrors.Newf(dErrors.CodeConsentUnknownPurpose, "purpose %q is not configured", purpose)
	}
	current, ok, err := s.store.Current(ctx, subject, purpose)
	if err != nil {
		return Decision{}, translateStoreErr(err, "read current consent")
	}

	decision := allow()
	if !ok {
		decision = deny(ReasonNoConsent)
	} else {
		switch current.EffectiveStatus(s.now()) {
		case StatusGranted:
		case StatusWithdrawn:
			decision = deny(ReasonWithdrawn)
		case StatusExpired:
			decision = deny(ReasonExpired)
		}
	}

	s.metrics.RecordConsentDecision(decisionLabel(decision), purpose.String())
	if !decision.Allowed {
		s.enqueueDenial(subject, purpose, decision.Reason)
	}
	return decision, nil
}

// GrantRequest carries the caller-supplied parts of a grant.
type GrantRequest struct {
	// LegalBasis defaults to the purpose policy's configured basis.
	LegalBasis domain.LegalBasis
	// ExpiresAt defaults to now + the policy's DefaultTTL (no expiry
	// when the policy has none).
	ExpiresAt *time.Time
	ActorID   string
	ActorRole domain.ActorRole
	// CorrelationID groups the transition with the operation that
	// triggered it.
	CorrelationID string
}

// Grant installs a new granted version. Legal transitions: no current
// record, or current effectively withdrawn/expired (re-consent). Granting
// over an active grant is a conflict.
//
// Ordering: the consent.granted event is appended to the ledger first;
// only then is the current-version pointer swapped. If the append fails
// the consent state does not change.
func (s *Service) Grant(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, req GrantRequest) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Grant", trace.WithAttributes(
		attribute.String("purpose", purpose.String()),
	))
	defer span.End()

	policy, ok := s.catalog.Policy(purpose)
	if !ok {
		return Record{}, dErrors.Newf(dErrors.CodeConsentUnknownPurpose, "purpose %q is not configured", purpose)
	}

	mu := s.lock(subject, purpose)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	current, exists, err := s.store.Current(ctx, subject, purpose)
	if err != nil {
		return Record{}, translateStoreErr(err, "read current consent")
	}
	if exists && current.EffectiveStatus(now) == StatusGranted {
		return Record{}, dErrors.Newf(dErrors.CodeConsentConflict,
			"purpose %s already has an active grant for this subject", purpose)
	}

	basis := req.LegalBasis
	if basis == "" {
		basis = policy.LegalBasis
	}
	expiresAt := req.ExpiresAt
	if expiresAt == nil && policy.DefaultTTL > 0 {
		t := now.Add(policy.DefaultTTL)
		expiresAt = &t
	}

	next := Record{
		SubjectID:  subject,
		Purpose:    purpose,
		Status:     StatusGranted,
		LegalBasis: basis,
		GrantedAt:  now,
		ExpiresAt:  expiresAt,
		Version:    current.Version + 1,
	}

	payload, err := json.Marshal(event.ConsentGrantedPayload{
		SubjectID:  subject.String(),
		Purpose:    purpose.String(),
		LegalBasis: string(basis),
		Version:    next.Version,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "marshal grant payload")
	}

	if err := s.appendTransition(ctx, next, event.TypeConsentGranted, payload, now, req.ActorID, req.ActorRole, req.CorrelationID); err != nil {
		return Record{}, err
	}

	expect := Expected{}
	if exists {
		expect = Expected{Version: current.Version, Status: current.Status}
	}
	if err := s.store.CompareAndSwap(ctx, subject, purpose, expect, next); err != nil {
		return Record{}, s.casFailed(err, subject, purpose, "grant")
	}
	s.metrics.RecordConsentTransition("grant")
	return next, nil
}

// Withdraw moves the active grant to withdrawn. Withdrawing without an
// active grant, including a grant that already lapsed, is a conflict.
func (s *Service) Withdraw(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, actorID string, actorRole domain.ActorRole, correlationID string) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Withdraw", trace.WithAttributes(
		attribute.String("purpose", purpose.String()),
	))
	defer span.End()

	if _, ok := s.catalog.Policy(purpose); !ok {
		return Record{}, dErrors.Newf(dErrors.CodeConsentUnknownPurpose, "purpose %q is not configured", purpose)
	}

	mu := s.lock(subject, purpose)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	current, exists, err := s.store.Current(ctx, subject, purpose)
	if err != nil {
		return Record{}, translateStoreErr(err, "read current consent")
	}
	if !exists {
		return Record{}, dErrors.Newf(dErrors.CodeConsentConflict,
			"no grant exists for purpose %s", purpose)
	}
	switch current.EffectiveStatus(now) {
	case StatusWithdrawn:
		return Record{}, dErrors.Newf(dErrors.CodeConsentConflict,
			"purpose %s is already withdrawn", purpose)
	case StatusExpired:
		return Record{}, dErrors.Newf(dErrors.CodeConsentConflict,
			"grant for purpose %s has expired; nothing to withdraw", purpose)
	}

	next := current
	next.Status = StatusWithdrawn
	next.WithdrawnAt = &now

	payload, err := json.Marshal(event.ConsentWithdrawnPayload{
		SubjectID: subject.String(),
		Purpose:   purpose.String(),
		Version:   next.Version,
	})
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "marshal withdraw payload")
	}

	if err := s.appendTransition(ctx, next, event.TypeConsentWithdrawn, payload, now, actorID, actorRole, correlationID); err != nil {
		return Record{}, err
	}
	expect := Expected{Version: current.Version, Status: current.Status}
	if err := s.store.CompareAndSwap(ctx, subject, purpose, expect, next); err != nil {
		return Record{}, s.casFailed(err, subject, purpose, "withdraw")
	}
	s.metrics.RecordConsentTransition("withdraw")
	return next, nil
}

// History returns every retained version for (subject, purpose).
func (s *Service) History(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) ([]Record, error) {
	if _, ok := s.catalog.Policy(purpose); !ok {
		return nil, dErrors.Newf(dErrors.CodeConsentUnknownPurpose, "purpose %q is not configured", purpose)
	}
	records, err := s.store.History(ctx, subject, purpose)
	if err != nil {
		return nil, translateStoreErr(err, "read consent history")
	}
	return records, nil
}

// appendTransition submits the transition event through the gate. The
// deterministic event id ties one logical transition to one ledger entry
// across retries.
func (s *Service) appendTransition(ctx context.Context, rec Record, t event.Type, payload json.RawMessage, now time.Time, actorID string, actorRole domain.ActorRole, correlationID string) error {
	if actorID == "" {
		actorID = "system"
	}
	if actorRole == "" {
		actorRole = domain.RoleSystem
	}
	ev := event.Event{
		ID:            transitionEventID(rec.SubjectID, rec.Purpose, rec.Version, t),
		AggregateID:   rec.SubjectID.String() + "/" + rec.Purpose.String(),
		AggregateType: domain.AggregateConsent,
		Type:          t,
		Payload:       payload,
		OccurredAt:    now,
		ActorID:       actorID,
		ActorRole:     actorRole,
		CorrelationID: correlationID,
	}
	if _, err := s.gate.Submit(ctx, ev); err != nil {
		return err
	}
	return nil
}

func transitionEventID(subject domain.SubjectID, purpose domain.ConsentPurpose, version int64, t event.Type) domain.EventID {
	name := subject.String() + "|" + purpose.String() + "|" + strconv.FormatInt(version, 10) + "|" + t.String()
	return domain.EventID(uuid.NewSHA1(transitionNamespace, []byte(name)))
}

// casFailed translates a lost compare-and-swap. The transition event is
// already in the ledger at this point; the audit trail shows an attempt,
// the state shows the winner.
func (s *Service) casFailed(err error, subject domain.SubjectID, purpose domain.ConsentPurpose, op string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		s.log.Warn().
			Str("purpose", purpose.String()).
			Str("op", op).
			Msg("consent transition lost compare-and-swap")
		return dErrors.Newf(dErrors.CodeConsentConflict,
			"concurrent transition for purpose %s won; re-read and retry", purpose)
	}
	return translateStoreErr(err, op+" consent")
}

func translateStoreErr(err error, op string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, op+": consent store unavailable")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeConsentNotFound, op+": not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
}

func decisionLabel(d Decision) string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}
