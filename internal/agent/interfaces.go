// File: internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/generator"
	"github.com/xkilldash9x/domrelay/internal/snapshot"
)

// StateStore is the part of store.Store the loop needs.
type StateStore interface {
	LoadState(ctx context.Context) (schemas.ActionLoopState, error)
	SaveState(ctx context.Context, state schemas.ActionLoopState) error
}

// Generator produces the next action for a page. *generator.Adapter
// satisfies it.
type Generator interface {
	GenerateAction(ctx context.Context, snap snapshot.Snapshot, state schemas.ActionLoopState) generator.Outcome
}

// Page is the privileged side of the bridge: snapshots are captured and
// generated code is executed through it. *bridge.Bridge satisfies it.
type Page interface {
	snapshot.Requester
}

// Readiness reports whether the page realm can take requests yet.
type Readiness interface {
	Ready() <-chan struct{}
}
