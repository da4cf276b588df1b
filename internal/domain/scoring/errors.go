package scoring

import "errors"

// Sentinel kinds for scoring errors. The worker classifies on these:
// ErrInvalidEvent is terminal, everything else is retried per policy.
var (
	ErrInvalidEvent          = errors.New("invalid event")
	ErrNoActiveRule          = errors.New("no active rule")
	ErrLeadNotFound          = errors.New("lead not found")
	ErrRecalculationConflict = errors.New("recalculation already in progress")
)
