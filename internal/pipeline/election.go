// Package pipeline implements the election and application algorithms of
// spec §4.3/§4.4: the two-phase process that turns a worker's proposed
// state into a committed one.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/storage"
)

// Elect runs the election filters over proposed in order, returning the
// final candidate state (§4.3).
//
// A filter that panics is treated as spec's "filter throws": the panic is
// recovered, logged, and the candidate is replaced with a Failed state
// wrapping the panic value -- but only once per election, so a filter that
// panics after that replacement is logged and otherwise ignored (step 3).
// Iteration always continues so a later filter (typically the retry
// policy) can react to the failure.
func Elect(ctx context.Context, reader storage.Reader, entries []filter.Entry, job *core.Job, proposed core.State, log *slog.Logger) *filter.ElectStateContext {
	ectx := filter.NewElectStateContext(ctx, job, proposed, reader)

	for _, e := range entries {
		ef, ok := e.Filter.(filter.ElectionFilter)
		if !ok {
			continue
		}
		runElectionFilter(ectx, ef, log)
	}

	return ectx
}

func runElectionFilter(ectx *filter.ElectStateContext, ef filter.ElectionFilter, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.ErrorContext(ectx.Ctx, "election filter panicked",
					"job_id", ectx.Job.ID, "panic", r)
			}
			ectx.ReplaceOnce(core.FailedState(&core.ExceptionInfo{
				Type:    "panic",
				Message: fmt.Sprint(r),
			}, time.Now()))
		}
	}()
	ef.OnStateElection(ectx)
}
