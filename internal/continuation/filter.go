// Package continuation implements the built-in election filter that
// resolves an Awaiting candidate once its parent job has succeeded.
package continuation

import (
	"errors"
	"log/slog"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
)

// Order is the pipeline position the continuation filter runs at, ahead
// of the retry policy's Order = 20 so a continuation that gets enqueued
// and immediately fails is still eligible for retry.
const Order = 10

// Filter rewrites an Awaiting(parentJobID) candidate to Enqueued once the
// parent job's current state is observed to be Succeeded. Any other
// candidate, or a parent job that isn't yet Succeeded, passes through
// unchanged.
type Filter struct {
	log *slog.Logger
}

// NewFilter returns a continuation filter. log may be nil.
func NewFilter(log *slog.Logger) *Filter {
	return &Filter{log: log}
}

func (f *Filter) OnStateElection(ctx *filter.ElectStateContext) {
	if !ctx.CandidateState.Is(core.NameAwaiting) {
		return
	}

	parentID := ctx.CandidateState.ParentJobID
	if parentID == "" {
		return
	}

	parentState, err := f.parentState(ctx, parentID)
	if err != nil {
		if f.log != nil {
			f.log.WarnContext(ctx.Ctx, "continuation: could not read parent job state",
				"job_id", ctx.Job.ID, "parent_job_id", parentID, "error", err)
		}
		return
	}

	if parentState.Is(core.NameSucceeded) {
		ctx.CandidateState = core.EnqueuedState()
	}
}

func (f *Filter) parentState(ctx *filter.ElectStateContext, parentID string) (core.State, error) {
	reader := ctx.Reader()
	if reader == nil {
		return core.State{}, errNoReader
	}
	return reader.GetCurrentState(ctx.Ctx, parentID)
}

var errNoReader = errors.New("continuation: no storage reader available during election")
