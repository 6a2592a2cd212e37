package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/storage"
)

var tracer = otel.Tracer("github.com/rezkam/jobcore/internal/pipeline")

// Transition is the single entry point a worker calls once it has a
// candidate next state for a job (§9 "exposed as a single awaitable
// operation that suspends only on I/O"). It runs election, then commits
// the elected state through the application pipeline in one storage
// transaction, and returns the elected state.
//
// On any error the transaction is discarded and no partial writes are
// visible. A context cancelled before Commit aborts the transition
// entirely (ctx.Err() is returned); cancellation observed after a
// successful Commit is ignored -- the transition has already taken effect.
func Transition(ctx context.Context, store storage.Store, registry *filter.Registry, job *core.Job, proposed core.State, log *slog.Logger, methodFilters ...filter.Entry) (core.State, error) {
	spanCtx, span := tracer.Start(ctx, "pipeline.Transition",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.proposed_state", string(proposed.Name)),
		),
	)
	defer span.End()

	entries := registry.Resolve(methodFilters...)

	ectx := Elect(spanCtx, store, entries, job, proposed, log)
	elected := ectx.CandidateState
	span.SetAttributes(attribute.String("job.elected_state", string(elected.Name)))

	if err := spanCtx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled before commit")
		return elected, err
	}

	old := job.CurrentState

	// A job with a non-zero current state was loaded from storage earlier;
	// confirm nothing else committed a transition in the meantime before we
	// stake our own write on it (§4.7 ErrConflict: the loser re-reads and
	// retries the whole election+application).
	if old.Name != "" {
		current, err := store.GetCurrentState(spanCtx, job.ID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, core.ErrJobNotFound) {
				return elected, core.ErrConflict
			}
			return elected, fmt.Errorf("check current state before commit: %w", err)
		}
		if !current.Is(old.Name) {
			span.SetStatus(codes.Error, "conflict")
			return elected, core.ErrConflict
		}
	}

	tx, err := store.BeginTransaction(spanCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return elected, fmt.Errorf("begin transaction: %w", err)
	}

	if err := Apply(spanCtx, entries, job, old, elected, ectx.PendingParameters(), tx); err != nil {
		_ = tx.Discard(spanCtx)
		span.SetStatus(codes.Error, err.Error())
		return elected, err
	}

	if err := spanCtx.Err(); err != nil {
		_ = tx.Discard(spanCtx)
		span.SetStatus(codes.Error, "cancelled before commit")
		return elected, err
	}

	if err := tx.Commit(spanCtx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return elected, fmt.Errorf("commit transition: %w", err)
	}

	job.CurrentState = elected
	if job.Parameters == nil {
		job.Parameters = core.Parameters{}
	}
	for name, value := range ectx.PendingParameters() {
		job.Parameters[name] = value
	}
	return elected, nil
}
