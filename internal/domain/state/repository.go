package state

import (
	"context"

	"github.com/meterbridge/meterbridge/internal/types"
)

// Repository persists ServiceState documents. The document is rewritten
// wholesale on every save; read-modify-write is not lock-protected because
// a single active processor per ServiceKey is a stated assumption of the
// design, not an enforced invariant.
type Repository interface {
	// Load returns the key's state, or an empty state when none exists.
	// A load failure is fatal for that key's run.
	Load(ctx context.Context, key types.ServiceKey) (*ServiceState, error)

	// Save persists the key's full state document. A failed save may be
	// retried at the next checkpoint; callers keep the in-memory state.
	Save(ctx context.Context, key types.ServiceKey, state *ServiceState) error

	// ValidateAccess verifies the backing store is readable and writable
	// before any submission work starts.
	ValidateAccess(ctx context.Context, key types.ServiceKey) error
}
