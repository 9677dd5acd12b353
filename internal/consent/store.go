package consent

import (
	"context"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// Expected is the precondition of a compare-and-swap: the stored current
// record must carry exactly this version and status. The zero value means
// "no current record exists".
type Expected struct {
	Version int64
	Status  Status
}

// Store is the key-value substrate holding current consent pointers plus
// the retained history of superseded versions.
//
// Implementations return sentinel.ErrConflict when a CompareAndSwap loses,
// and sentinel.ErrUnavailable (wrapped) for transient substrate failures.
type Store interface {
	// Current returns the active record for (subject, purpose).
	Current(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (Record, bool, error)
	// CompareAndSwap installs next as current iff the stored state
	// matches expect. The superseded record, if any, is retained in
	// history; history entries are never mutated.
	CompareAndSwap(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, expect Expected, next Record) error
	// History returns every installed version for (subject, purpose) in
	// installation order, the current record last.
	History(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) ([]Record, error)
	// ListCurrent returns every current record across subjects. Used by
	// the expiry sweeper.
	ListCurrent(ctx context.Context) ([]Record, error)
}
