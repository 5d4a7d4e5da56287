// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrEmptyRequest is returned by Submit for a blank request.
	ErrEmptyRequest = errors.New("agent: request is empty")
	// ErrLoopStopped is returned by Submit after Run has returned.
	ErrLoopStopped = errors.New("agent: loop stopped")
	// ErrPageNotReady ends a request whose page realm never became ready.
	ErrPageNotReady = errors.New("page realm not ready")
)

// TickOutcome classifies a single tick for logs and metrics.
type TickOutcome string

const (
	TickIdle     TickOutcome = "idle"      // nothing to do, state is done
	TickSkipped  TickOutcome = "skipped"   // another tick or a submit held the slot
	TickNotReady TickOutcome = "not_ready" // page realm has not signalled readiness
	TickAdvanced TickOutcome = "advanced"  // a step was recorded and, if any, executed
	TickFinished TickOutcome = "finished"  // the service reported done
	TickFailed   TickOutcome = "failed"    // snapshot, generation or execution failed
	TickGaveUp   TickOutcome = "gave_up"   // failure cutoff reached
	TickPanicked TickOutcome = "panicked"
)
