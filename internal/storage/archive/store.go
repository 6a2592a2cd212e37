// Package archive implements the result-archive filter: large Succeeded
// results get copied to GCS and their object location recorded as a job
// parameter. The Succeeded state written by the pipeline still carries the
// Result inline; this filter does not remove it. Grounded on the teacher's GCS-backed store -- the bucket/object
// plumbing is the same, repurposed here as a side-effect of the apply
// pipeline rather than a primary Storage implementation.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	storagecontract "github.com/rezkam/jobcore/internal/storage"
)

// ParamResultLocation is the job parameter the filter writes once a result
// has been archived, so the succeeded payload can be retrieved later.
const ParamResultLocation = "ResultArchiveLocation"

// ResultArchiveFilter uploads a copy of a Succeeded job's Result payload to
// GCS when it exceeds thresholdBytes, and writes back the object location as
// a job parameter. The Result stays in the committed state as well. It never rewrites the candidate state -- it is an ApplyFilter
// only, for a side effect that runs alongside the committed state write.
type ResultArchiveFilter struct {
	client         *storage.Client
	bucket         string
	thresholdBytes int
	log            *slog.Logger
}

// NewResultArchiveFilter creates a filter backed by bucketName. The client
// is assumed to already be authenticated (GOOGLE_APPLICATION_CREDENTIALS or
// workload identity), matching how the rest of the pack wires GCS access.
func NewResultArchiveFilter(ctx context.Context, bucketName string, thresholdBytes int, log *slog.Logger) (*ResultArchiveFilter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &ResultArchiveFilter{
		client:         client,
		bucket:         bucketName,
		thresholdBytes: thresholdBytes,
		log:            log,
	}, nil
}

func (f *ResultArchiveFilter) objectName(jobID string) string {
	return fmt.Sprintf("results/%s.bin", jobID)
}

// OnStateApplied uploads the result to GCS when the job just succeeded
// with a payload over the configured threshold. Upload failures are logged
// and swallowed: archiving is a best-effort optimization, not part of the
// transactional contract, so it must never fail the transition.
func (f *ResultArchiveFilter) OnStateApplied(ctx *filter.ApplyStateContext, tx storagecontract.Transaction) {
	if !ctx.New.Is(core.NameSucceeded) {
		return
	}
	if len(ctx.New.Result) <= f.thresholdBytes {
		return
	}

	name := f.objectName(ctx.Job.ID)
	w := f.client.Bucket(f.bucket).Object(name).NewWriter(ctx.Ctx)
	if _, err := w.Write(ctx.New.Result); err != nil {
		f.log.ErrorContext(ctx.Ctx, "archive result: write failed", "job_id", ctx.Job.ID, "error", err)
		_ = w.Close()
		return
	}
	if err := w.Close(); err != nil {
		f.log.ErrorContext(ctx.Ctx, "archive result: close failed", "job_id", ctx.Job.ID, "error", err)
		return
	}

	location := fmt.Sprintf("gs://%s/%s", f.bucket, name)
	if err := tx.SetJobParameter(ctx.Job.ID, ParamResultLocation, []byte(location)); err != nil {
		f.log.ErrorContext(ctx.Ctx, "archive result: record location failed", "job_id", ctx.Job.ID, "error", err)
	}
}

// FetchResult reads back the archived result for jobID from this filter's
// bucket (object "results/<jobID>.bin").
func (f *ResultArchiveFilter) FetchResult(ctx context.Context, jobID string) ([]byte, error) {
	name := f.objectName(jobID)
	r, err := f.client.Bucket(f.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open archived result for job %s: %w", jobID, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read archived result for job %s: %w", jobID, err)
	}
	return data, nil
}
