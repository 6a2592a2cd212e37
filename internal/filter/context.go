package filter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/storage"
)

// SerializationError wraps a malformed job parameter value, per spec §4.6:
// GetJobParameter must propagate a typed error rather than silently
// returning a zero value when the stored bytes don't decode as T.
type SerializationError struct {
	Name string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("job parameter %q: malformed value: %v", e.Name, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ElectStateContext is passed to every election filter in turn. Filters
// rewrite CandidateState directly and stage parameter writes through
// SetJobParameter; nothing is persisted until the application pipeline
// flushes the pending writes inside its transaction (§4.3/§4.4).
type ElectStateContext struct {
	Ctx            context.Context
	Job            *core.Job
	CandidateState core.State

	reader  storage.Reader
	pending map[string][]byte

	// replaced tracks whether a filter panic/error has already caused one
	// candidate replacement in this election (§4.3 step 3: "at most once
	// per election").
	replaced bool
}

// NewElectStateContext builds a context for a single election run.
func NewElectStateContext(ctx context.Context, job *core.Job, proposed core.State, reader storage.Reader) *ElectStateContext {
	return &ElectStateContext{
		Ctx:            ctx,
		Job:            job,
		CandidateState: proposed,
		reader:         reader,
		pending:        make(map[string][]byte),
	}
}

// PendingParameters returns the buffered writes queued during election, to
// be flushed by the application pipeline as the final transactional step.
func (c *ElectStateContext) PendingParameters() map[string][]byte {
	return c.pending
}

// Reader exposes the storage reader backing this election, for filters
// that need to look up state other than the job under election (e.g. a
// parent job's current state). Nil when the context was built without a
// reader, as some tests do.
func (c *ElectStateContext) Reader() storage.Reader {
	return c.reader
}

// SetJobParameter stages a parameter write. It is not visible to storage
// until the application pipeline commits.
func (c *ElectStateContext) SetJobParameter(name string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal job parameter %q: %w", name, err)
	}
	c.pending[name] = b
	return nil
}

// GetJobParameter reads the currently-known value of a job parameter.
//
// If a write to name was already staged earlier in this same election, that
// buffered value always wins, regardless of allowStale. Otherwise, when
// allowStale is true the job's already-loaded Parameters snapshot is used;
// when false, the reader is consulted for a fresh value. A missing
// parameter returns the zero value of T with no error; a malformed stored
// value returns a *SerializationError.
func GetJobParameter[T any](c *ElectStateContext, name string, allowStale bool) (T, error) {
	var zero T

	if b, ok := c.pending[name]; ok {
		return decodeParam[T](name, b)
	}

	var raw []byte
	var ok bool
	if allowStale {
		raw, ok = c.Job.Parameters[name]
	} else if c.reader != nil {
		v, err := c.reader.GetJobParameter(c.Ctx, c.Job.ID, name)
		if err != nil {
			return zero, err
		}
		raw, ok = v, v != nil
	} else {
		raw, ok = c.Job.Parameters[name]
	}
	if !ok || raw == nil {
		return zero, nil
	}
	return decodeParam[T](name, raw)
}

func decodeParam[T any](name string, raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &SerializationError{Name: name, Err: err}
	}
	return v, nil
}

// ReplaceOnce rewrites CandidateState to replacement if no filter has yet
// done so in this election, and reports whether it applied. Used by the
// election pipeline when a filter errors (§4.3 step 3).
func (c *ElectStateContext) ReplaceOnce(replacement core.State) bool {
	if c.replaced {
		return false
	}
	c.replaced = true
	c.CandidateState = replacement
	return true
}

// ApplyStateContext is passed to application filters for both the
// unapplying (old state leaving) and applying (new state entering) half of
// a transition.
type ApplyStateContext struct {
	Ctx context.Context
	Job *core.Job
	Old core.State // the state being left; zero Name on a brand-new job
	New core.State // the elected state being entered
}
