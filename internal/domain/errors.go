package domain

import "errors"

// Engine error taxonomy. Rule violations are never errors: a denied
// evaluation is a normal Decision with Allowed=false.
var (
	// ErrUnknownRule means a config write referenced a rule code that is
	// not in the catalog. The write is rejected, never silently dropped.
	ErrUnknownRule = errors.New("unknown rule code")

	// ErrContextUnavailable means a collaborator needed for a blocking
	// rule could not be reached. Evaluation fails closed.
	ErrContextUnavailable = errors.New("evaluation context unavailable")

	// ErrInvalidConfig covers malformed parameter payloads, duplicate
	// default tiers, overlapping prime windows, and similar write-time
	// validation failures. Config writes never partially apply.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConflict means a commit-time race was lost: a concurrent
	// reservation took the slot between evaluation and commit.
	ErrConflict = errors.New("reservation conflict")
)
