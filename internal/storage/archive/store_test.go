package archive

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
)

type fakeTx struct {
	params map[string][]byte
}

func (f *fakeTx) SetJobState(jobID string, state core.State) error { return nil }
func (f *fakeTx) SetJobParameter(jobID, name string, value []byte) error {
	if f.params == nil {
		f.params = make(map[string][]byte)
	}
	f.params[name] = value
	return nil
}
func (f *fakeTx) AddToSet(setName, value string) error          { return nil }
func (f *fakeTx) RemoveFromSet(setName, value string) error     { return nil }
func (f *fakeTx) AddToList(listName string, value []byte) error { return nil }
func (f *fakeTx) TrimList(listName string, start, end int) error { return nil }
func (f *fakeTx) Commit(ctx context.Context) error               { return nil }
func (f *fakeTx) Discard(ctx context.Context) error              { return nil }

func TestResultArchiveFilter_ArchivesOversizedResult(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS-backed archive test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f, err := NewResultArchiveFilter(ctx, bucket, 10, slog.Default())
	require.NoError(t, err)
	defer func() {
		_ = f.client.Bucket(bucket).Object(f.objectName("job-1")).Delete(context.Background())
	}()

	job := &core.Job{ID: "job-1"}
	actx := &filter.ApplyStateContext{
		Ctx: ctx,
		Job: job,
		Old: core.ProcessingState("s", "w", time.Now()),
		New: core.SucceededState([]byte("this result is definitely over ten bytes"), time.Second, time.Second),
	}
	tx := &fakeTx{}
	f.OnStateApplied(actx, tx)

	require.Contains(t, tx.params, ParamResultLocation)

	fetched, err := f.FetchResult(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, actx.New.Result, fetched)
}

func TestResultArchiveFilter_SkipsSmallResult(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS-backed archive test")
	}

	ctx := context.Background()
	f, err := NewResultArchiveFilter(ctx, bucket, 1000, slog.Default())
	require.NoError(t, err)

	job := &core.Job{ID: "job-2"}
	actx := &filter.ApplyStateContext{
		Ctx: ctx,
		Job: job,
		New: core.SucceededState([]byte("tiny"), time.Second, time.Second),
	}
	tx := &fakeTx{}
	f.OnStateApplied(actx, tx)

	assert.Empty(t, tx.params)
}

func TestResultArchiveFilter_IgnoresNonSucceededState(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS-backed archive test")
	}

	ctx := context.Background()
	f, err := NewResultArchiveFilter(ctx, bucket, 1, slog.Default())
	require.NoError(t, err)

	job := &core.Job{ID: "job-3"}
	actx := &filter.ApplyStateContext{
		Ctx: ctx,
		Job: job,
		New: core.FailedState(nil, time.Now()),
	}
	tx := &fakeTx{}
	f.OnStateApplied(actx, tx)

	assert.Empty(t, tx.params)
}
