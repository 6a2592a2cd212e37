package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/storage/memory"
)

func TestWorker_ProcessesEnqueuedJobToSucceeded(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetJobState("job-1", core.EnqueuedState()))
	require.NoError(t, tx.Commit(ctx))

	handler := func(ctx context.Context, job *core.Job) core.State {
		return core.SucceededState([]byte("ok"), time.Millisecond, time.Millisecond)
	}

	w := New(store, filter.NewRegistry(), handler, slog.Default(), WithConcurrency(1))

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = w.Start(runCtx)
		close(done)
	}()

	require.NoError(t, w.Enqueue(ctx, "job-1"))

	require.Eventually(t, func() bool {
		state, err := store.GetCurrentState(ctx, "job-1")
		return err == nil && state.Is(core.NameSucceeded)
	}, time.Second, 10*time.Millisecond)

	runCancel()
	<-done
}

func TestWorker_HandlerFailureTransitionsToFailed(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetJobState("job-2", core.EnqueuedState()))
	require.NoError(t, tx.Commit(ctx))

	handler := func(ctx context.Context, job *core.Job) core.State {
		return core.FailedState(&core.ExceptionInfo{Type: "boom", Message: "nope"}, time.Now())
	}

	w := New(store, filter.NewRegistry(), handler, slog.Default(), WithConcurrency(1))

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = w.Start(runCtx)
		close(done)
	}()

	require.NoError(t, w.Enqueue(ctx, "job-2"))

	require.Eventually(t, func() bool {
		state, err := store.GetCurrentState(ctx, "job-2")
		return err == nil && state.Is(core.NameFailed)
	}, time.Second, 10*time.Millisecond)

	runCancel()
	<-done
	assert.True(t, true)
}
