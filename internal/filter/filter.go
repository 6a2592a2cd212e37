package filter

import "github.com/rezkam/jobcore/internal/storage"

// ElectionFilter rewrites (or leaves alone) the candidate state during
// election. Implementations must be safe for concurrent use: a single
// filter instance is shared across every worker host (§5).
type ElectionFilter interface {
	OnStateElection(ctx *ElectStateContext)
}

// ApplyFilter is invoked when its state is being entered, after the
// primary state write, so it can issue auxiliary writes on the same
// transaction.
type ApplyFilter interface {
	OnStateApplied(ctx *ApplyStateContext, tx storage.Transaction)
}

// UnapplyFilter is invoked when its state is being left, before the
// primary state write, so it can undo side effects applied earlier.
type UnapplyFilter interface {
	OnStateUnapplied(ctx *ApplyStateContext, tx storage.Transaction)
}

// ElectionFunc adapts a plain function to an ElectionFilter.
type ElectionFunc func(ctx *ElectStateContext)

func (f ElectionFunc) OnStateElection(ctx *ElectStateContext) { f(ctx) }
