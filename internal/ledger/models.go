// Package ledger is the ordered, tamper-evident, append-only store of
// accepted domain events. Each record is chained to its predecessor by a
// SHA-256 hash, per partition, so undetected mutation of any stored byte is
// infeasible without recomputing every subsequent hash.
package ledger

import (
	"time"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// Record wraps one accepted event plus ledger metadata. Records are created
// exclusively by Service.Append, in sequence order, and are immutable and
// undeletable; retention is a read-side redaction concern, never a mutation.
type Record struct {
	// Partition is the independently-chained segment the record belongs
	// to, keyed by aggregate type.
	Partition domain.AggregateType
	// Sequence is monotonic and gapless per partition, starting at 1.
	Sequence uint64
	// PreviousHash is the hash of record Sequence-1, or the partition
	// genesis hash for the first record.
	PreviousHash string
	// Hash = SHA-256(PreviousHash ‖ canonical(Event) ‖ Sequence), hex.
	Hash       string
	Event      event.Event
	RecordedAt time.Time
}
