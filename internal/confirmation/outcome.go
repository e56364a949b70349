// internal/confirmation/outcome.go
package confirmation

import "github.com/google/uuid"

// OutcomeKind is how a handshake ended.
type OutcomeKind string

const (
	AllAccepted  OutcomeKind = "ALL_ACCEPTED"
	Rejected     OutcomeKind = "REJECTED"
	BothTimedOut OutcomeKind = "BOTH_TIMED_OUT"
	// Abandoned means the wait was cancelled from outside; nothing was applied.
	Abandoned OutcomeKind = "ABANDONED"
)

// Outcome is the terminal result of a confirmation.
// Rejecter is set for Rejected. Err is set when applying an
// AllAccepted outcome failed (for example no channel could be allocated).
type Outcome struct {
	Kind     OutcomeKind
	Timeout  bool
	Rejecter uuid.UUID
	Err      error
}
