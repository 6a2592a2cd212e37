package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/storage"
	"github.com/rezkam/jobcore/internal/storage/compliance"
	"github.com/rezkam/jobcore/internal/storage/memory"
)

func TestStore_Compliance(t *testing.T) {
	compliance.RunStorageComplianceTest(t, func() (storage.Store, func()) {
		return memory.NewStore(), func() {}
	})
}

func TestStore_GetJobHistoryRecordsEveryTransition(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetJobState("job-1", core.EnqueuedState()))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetJobState("job-1", core.ProcessingState("srv-1", "w-1", time.Now())))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetJobState("job-1", core.SucceededState(nil, time.Second, time.Second)))
	require.NoError(t, tx.Commit(ctx))

	hist, err := store.GetJobHistory(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.True(t, hist[0].Is(core.NameEnqueued))
	assert.True(t, hist[1].Is(core.NameProcessing))
	assert.True(t, hist[2].Is(core.NameSucceeded))
}

func TestStore_GetJobHistoryNotFound(t *testing.T) {
	store := memory.NewStore()

	_, err := store.GetJobHistory(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}
