package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and substrate adapters
// return these (optionally wrapped) so services can translate them into
// domain errors at the boundary.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record/pointer does not exist in the store
// - ErrConflict: compare-and-swap lost, or unique constraint hit
// - ErrUnavailable: substrate temporarily unreachable, safe to retry
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
