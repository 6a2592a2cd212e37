// Package compliance holds a driver-agnostic test suite for storage.Store
// implementations. Any driver -- the SQL repository, the in-memory
// reference store -- can run it against setup/teardown funcs of its own.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/storage"
)

// RunStorageComplianceTest exercises the storage.Store contract (§4.7).
// setup returns a fresh, empty store and a teardown func.
func RunStorageComplianceTest(t *testing.T, setup func() (storage.Store, func())) {
	t.Run("CommitMakesStateVisible", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		jobID := uuid.New().String()
		tx, err := store.BeginTransaction(ctx)
		require.NoError(t, err)

		state := core.EnqueuedState()
		require.NoError(t, tx.SetJobState(jobID, state))
		require.NoError(t, tx.Commit(ctx))

		got, err := store.GetCurrentState(ctx, jobID)
		require.NoError(t, err)
		assert.True(t, got.Is(core.NameEnqueued))
	})

	t.Run("DiscardLeavesNoTrace", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		jobID := uuid.New().String()
		tx, err := store.BeginTransaction(ctx)
		require.NoError(t, err)

		require.NoError(t, tx.SetJobState(jobID, core.EnqueuedState()))
		require.NoError(t, tx.Discard(ctx))

		_, err = store.GetCurrentState(ctx, jobID)
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("ParametersRoundTrip", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		jobID := uuid.New().String()
		tx, err := store.BeginTransaction(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.SetJobState(jobID, core.EnqueuedState()))
		require.NoError(t, tx.SetJobParameter(jobID, "RetryCount", []byte("3")))
		require.NoError(t, tx.Commit(ctx))

		value, err := store.GetJobParameter(ctx, jobID, "RetryCount")
		require.NoError(t, err)
		assert.Equal(t, "3", string(value))

		missing, err := store.GetJobParameter(ctx, jobID, "NoSuchParam")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("SetMembership", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		jobID := uuid.New().String()
		tx, err := store.BeginTransaction(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.AddToSet("retries", jobID))
		require.NoError(t, tx.Commit(ctx))

		isMember, err := store.IsMember(ctx, "retries", jobID)
		require.NoError(t, err)
		assert.True(t, isMember)

		tx, err = store.BeginTransaction(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.RemoveFromSet("retries", jobID))
		require.NoError(t, tx.Commit(ctx))

		isMember, err = store.IsMember(ctx, "retries", jobID)
		require.NoError(t, err)
		assert.False(t, isMember)
	})

	t.Run("RemoveFromSetIsIdempotent", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		tx, err := store.BeginTransaction(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.RemoveFromSet("retries", "never-added"))
		require.NoError(t, tx.Commit(ctx))
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		_, err := store.GetJob(ctx, uuid.New().String())
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("LatestStateWinsAfterMultipleTransitions", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		jobID := uuid.New().String()
		tx, err := store.BeginTransaction(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.SetJobState(jobID, core.EnqueuedState()))
		require.NoError(t, tx.Commit(ctx))

		tx, err = store.BeginTransaction(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.SetJobState(jobID, core.ProcessingState("srv-1", "w-1", time.Now())))
		require.NoError(t, tx.Commit(ctx))

		got, err := store.GetCurrentState(ctx, jobID)
		require.NoError(t, err)
		assert.True(t, got.Is(core.NameProcessing))
	})
}
