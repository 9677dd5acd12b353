package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Query describes an audit-log read. Results are ordered by sequence
// ascending within the partition. Pagination is cursor-based on sequence:
// the snapshot is bounded by the head observed when the page is served, so
// concurrent appends never reorder or skip already-served results.
type Query struct {
	Partition     domain.AggregateType
	ActorID       string
	SubjectID     domain.SubjectID
	EventType     event.Type
	CorrelationID string
	// OccurredFrom/OccurredTo bound Event.OccurredAt (inclusive /
	// exclusive). Zero values disable the bound.
	OccurredFrom, OccurredTo time.Time
	// AfterSequence is the cursor returned by the previous page. Zero
	// starts from the beginning.
	AfterSequence uint64
	Limit         int
}

// Page is one page of query results. NextCursor is non-zero when more
// records may exist; feed it back as AfterSequence.
type Page struct {
	Records    []Record
	NextCursor uint64
}

// QueryRecords serves a filtered page of the audit log. Reads are lock-free
// with respect to writers: the page is bounded by the head sequence
// observed at entry.
func (s *Service) QueryRecords(ctx context.Context, q Query) (Page, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Query", trace.WithAttributes(
		attribute.String("partition", q.Partition.String()),
	))
	defer span.End()

	if !q.Partition.IsValid() {
		return Page{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown partition %q", q.Partition)
	}
	if q.EventType != "" && !event.KnownType(q.EventType) {
		return Page{}, dErrors.Newf(dErrors.CodeEventUnknownType, "unknown event type %q", q.EventType)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	head, _, err := s.head(ctx, q.Partition)
	if err != nil {
		return Page{}, err
	}
	if q.AfterSequence >= head {
		return Page{}, nil
	}

	const batch = 512
	page := Page{}
	cursor := q.AfterSequence
	for lo := q.AfterSequence + 1; lo <= head; lo += batch {
		hi := min(lo+batch-1, head)
		records, err := s.readRange(ctx, q.Partition, lo, hi)
		if err != nil {
			return Page{}, err
		}
		for _, rec := range records {
			cursor = rec.Sequence
			if !matches(rec, q) {
				continue
			}
			page.Records = append(page.Records, rec)
			if len(page.Records) == limit {
				if cursor < head {
					page.NextCursor = cursor
				}
				return page, nil
			}
		}
	}
	return page, nil
}

func matches(rec Record, q Query) bool {
	ev := rec.Event
	if q.ActorID != "" && ev.ActorID != q.ActorID {
		return false
	}
	if q.EventType != "" && ev.Type != q.EventType {
		return false
	}
	if q.CorrelationID != "" && ev.CorrelationID != q.CorrelationID {
		return false
	}
	if q.SubjectID != "" {
		subject, ok := event.SubjectOf(ev)
		if !ok || subject != q.SubjectID {
			return false
		}
	}
	if !q.OccurredFrom.IsZero() && ev.OccurredAt.Before(q.OccurredFrom) {
		return false
	}
	if !q.OccurredTo.IsZero() && !ev.OccurredAt.Before(q.OccurredTo) {
		return false
	}
	return true
}
