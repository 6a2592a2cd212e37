package pipeline

import (
	"context"
	"fmt"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/storage"
)

// Apply persists the elected state via tx, invoking application filters so
// they can piggy-back writes onto the same transaction (§4.4). It does not
// call tx.Commit -- that is the orchestrator's job, so it can run its own
// checks (e.g. a last cancellation check) before commit.
func Apply(ctx context.Context, entries []filter.Entry, job *core.Job, old, elected core.State, pending map[string][]byte, tx storage.Transaction) error {
	actx := &filter.ApplyStateContext{Ctx: ctx, Job: job, Old: old, New: elected}

	for _, e := range entries {
		if uf, ok := e.Filter.(filter.UnapplyFilter); ok {
			uf.OnStateUnapplied(actx, tx)
		}
	}

	if err := tx.SetJobState(job.ID, elected); err != nil {
		return fmt.Errorf("set job state: %w", err)
	}

	for _, e := range entries {
		if af, ok := e.Filter.(filter.ApplyFilter); ok {
			af.OnStateApplied(actx, tx)
		}
	}

	for name, value := range pending {
		if err := tx.SetJobParameter(job.ID, name, value); err != nil {
			return fmt.Errorf("set job parameter %q: %w", name, err)
		}
	}

	return nil
}
