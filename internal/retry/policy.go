// Package retry implements the built-in automatic-retry election+
// application filter described in spec §4.5: it turns a Failed candidate
// into a Scheduled retry or a terminal Deleted/Failed give-up, with
// exponential backoff and exception-type allow/deny lists.
package retry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/storage"
)

// Order is the pipeline position the retry policy runs at (§4.3
// "Ordering and tie-breaks"). User filters typically register above this
// so they can react to the retry decision.
const Order = 20

// ParamRetryCount is the job parameter name the policy reads and writes
// (§6 "Special storage keys used by the retry core").
const ParamRetryCount = "RetryCount"

// SetRetries is the storage set name holding job ids currently scheduled
// for a retry (§6).
const SetRetries = "retries"

// Action is what happens once a job has exhausted its retry attempts.
type Action string

const (
	ActionFail   Action = "Fail"
	ActionDelete Action = "Delete"
)

// Configuration errors, returned synchronously at setter time so the
// pipeline never runs with an invalid value (§7 ConfigurationError).
var (
	ErrNegativeAttempts = errors.New("retry: attempts must be >= 0")
	ErrEmptyDelays      = errors.New("retry: delays in seconds must not be empty (use nil to unset)")
	ErrNegativeDelay    = errors.New("retry: delays in seconds must not contain negative values")
	ErrNilDelayFunc     = errors.New("retry: delay function must not be nil")
	ErrInvalidAction    = errors.New("retry: on-attempts-exceeded must be Fail or Delete")
)

// Filter is the automatic retry policy. All configuration reads/writes are
// serialized by mu so runtime reconfiguration is safe across worker
// threads (§5 "Shared-resource policy").
type Filter struct {
	mu sync.Mutex

	attempts   int
	delays     []int
	delayFunc  func(n int) time.Duration
	onExceeded Action
	logEvents  bool
	onlyOn     []string
	exceptOn   []string

	types *TypeRegistry
	log   *slog.Logger
}

// Option configures a Filter at construction time; the same validation
// runs as the matching Set method.
type Option func(*Filter) error

func WithAttempts(n int) Option            { return func(f *Filter) error { return f.SetAttempts(n) } }
func WithDelaysInSeconds(d []int) Option   { return func(f *Filter) error { return f.SetDelaysInSeconds(d) } }
func WithDelayFunc(fn func(int) time.Duration) Option {
	return func(f *Filter) error { return f.SetDelayFunc(fn) }
}
func WithOnAttemptsExceeded(a Action) Option {
	return func(f *Filter) error { return f.SetOnAttemptsExceeded(a) }
}
func WithLogEvents(b bool) Option { return func(f *Filter) error { f.SetLogEvents(b); return nil } }
func WithOnlyOn(types ...string) Option {
	return func(f *Filter) error { f.SetOnlyOn(types...); return nil }
}
func WithExceptOn(types ...string) Option {
	return func(f *Filter) error { f.SetExceptOn(types...); return nil }
}

// NewFilter builds a retry filter with the defaults from §6
// ("Attempts=10, LogEvents=true, OnAttemptsExceeded=Fail, default backoff
// function, no allow/deny lists"), then applies opts in order.
func NewFilter(types *TypeRegistry, log *slog.Logger, opts ...Option) (*Filter, error) {
	f := &Filter{
		attempts:   10,
		delayFunc:  DefaultDelay,
		onExceeded: ActionFail,
		logEvents:  true,
		types:      types,
		log:        log,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Filter) SetAttempts(n int) error {
	if n < 0 {
		return ErrNegativeAttempts
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = n
	return nil
}

func (f *Filter) SetDelaysInSeconds(delays []int) error {
	if delays != nil {
		if len(delays) == 0 {
			return ErrEmptyDelays
		}
		for _, d := range delays {
			if d < 0 {
				return ErrNegativeDelay
			}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = delays
	return nil
}

func (f *Filter) SetDelayFunc(fn func(n int) time.Duration) error {
	if fn == nil {
		return ErrNilDelayFunc
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayFunc = fn
	return nil
}

func (f *Filter) SetOnAttemptsExceeded(a Action) error {
	if a != ActionFail && a != ActionDelete {
		return ErrInvalidAction
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExceeded = a
	return nil
}

func (f *Filter) SetLogEvents(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logEvents = b
}

func (f *Filter) SetOnlyOn(types ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlyOn = append([]string(nil), types...)
}

func (f *Filter) SetExceptOn(types ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exceptOn = append([]string(nil), types...)
}

func (f *Filter) snapshot() (attempts int, delays []int, delayFunc func(int) time.Duration, onExceeded Action, logEvents bool, onlyOn, exceptOn []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, f.delays, f.delayFunc, f.onExceeded, f.logEvents, f.onlyOn, f.exceptOn
}

// delayForAttempt computes the delay for retry attempt n per §4.5: the
// explicit schedule wins when configured, otherwise the delay function.
func delayForAttempt(delays []int, delayFunc func(int) time.Duration, n int) time.Duration {
	if len(delays) > 0 {
		return DelayFromSchedule(delays, n)
	}
	return delayFunc(n)
}

// truncateMessage truncates an exception message to 49 characters plus a
// single ellipsis when it is strictly longer than 50 characters (§4.5,
// §8 boundary behaviors).
func truncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= 50 {
		return msg
	}
	return string(runes[:49]) + "…"
}

// OnStateElection implements §4.5's election algorithm. It only acts when
// the candidate is Failed.
func (f *Filter) OnStateElection(ctx *filter.ElectStateContext) {
	if !ctx.CandidateState.Is(core.NameFailed) {
		return
	}

	attempts, delays, delayFunc, onExceeded, logEvents, onlyOn, exceptOn := f.snapshot()

	exc := ctx.CandidateState.Exception
	excType := ""
	excMsg := ""
	if exc != nil {
		excType = exc.Type
		excMsg = exc.Message
	}

	if len(onlyOn) > 0 && !anyAssignable(f.types, excType, onlyOn) {
		return
	}
	if len(exceptOn) > 0 && anyAssignable(f.types, excType, exceptOn) {
		return
	}

	retryCount, err := filter.GetJobParameter[int](ctx, ParamRetryCount, true)
	if err != nil {
		// A malformed RetryCount is a storage inconsistency the worker's
		// outer loop should surface; leave the candidate as Failed rather
		// than guess at a count.
		return
	}
	n := retryCount + 1

	if n <= attempts {
		if err := ctx.SetJobParameter(ParamRetryCount, n); err != nil {
			return
		}
		delay := delayForAttempt(delays, delayFunc, n)
		reason := fmt.Sprintf("Retry attempt %d of %d: %s", n, attempts, truncateMessage(excMsg))
		if delay > 0 {
			ctx.CandidateState = core.ScheduledState(time.Now().Add(delay)).WithReason(reason)
		} else {
			ctx.CandidateState = core.EnqueuedState().WithReason(reason)
		}
		if logEvents && f.log != nil {
			f.log.WarnContext(ctx.Ctx, "job failed, scheduling retry",
				"job_id", ctx.Job.ID, "attempt", n, "attempts", attempts,
				"delay", delay, "exception", excMsg)
		}
		return
	}

	// n > attempts: preserved exactly as "otherwise" per §9 Open Questions
	// -- no tighter guard than the one already evaluated above.
	if onExceeded == ActionDelete {
		reason := "Exceeded the maximum number of retry attempts."
		if attempts == 0 {
			reason = "Retries were disabled for this job."
		}
		ctx.CandidateState = core.DeletedState(exc).WithReason(reason)
		if logEvents && f.log != nil {
			f.log.WarnContext(ctx.Ctx, "job exceeded retry attempts, deleting",
				"job_id", ctx.Job.ID, "attempts", attempts, "exception", excMsg)
		}
		return
	}

	if logEvents && f.log != nil {
		f.log.ErrorContext(ctx.Ctx, "job exceeded retry attempts, leaving failed",
			"job_id", ctx.Job.ID, "attempts", attempts, "exception", excMsg)
	}
}

// OnStateApplied adds the job to the retries set when the elected state is
// a retry-scheduled Scheduled state (§4.5 Application behavior).
func (f *Filter) OnStateApplied(ctx *filter.ApplyStateContext, tx storage.Transaction) {
	if ctx.New.Is(core.NameScheduled) && strings.HasPrefix(strings.ToLower(ctx.New.Reason), "retry attempt") {
		tx.AddToSet(SetRetries, ctx.Job.ID)
	}
}

// OnStateUnapplied removes the job from the retries set when leaving
// Scheduled or Failed. The Failed case is defensive cleanup for jobs that
// were never added to the set; Remove is idempotent, so this asymmetry is
// safe and deliberate (§4.5, §9 Open Questions).
func (f *Filter) OnStateUnapplied(ctx *filter.ApplyStateContext, tx storage.Transaction) {
	if ctx.Old.Is(core.NameScheduled) || ctx.Old.Is(core.NameFailed) {
		tx.RemoveFromSet(SetRetries, ctx.Job.ID)
	}
}
