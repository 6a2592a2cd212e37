package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// sharedRnd is one process-wide, mutex-guarded generator used by
// DefaultDelay. The spec notes the source creates a fresh unseeded
// generator per call, calling the resulting jitter "weak", and explicitly
// allows implementations to use a shared thread-safe RNG instead as a
// behavioral improvement rather than a compatibility break (§9 Open
// Questions). A single seeded generator gives every worker host actual
// jitter spread instead of tightly correlated first-draws.
var (
	randMu    sync.Mutex
	sharedRnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitter(n int) float64 {
	randMu.Lock()
	defer randMu.Unlock()
	return sharedRnd.Float64() * 30 * float64(n)
}

// DefaultDelay computes the backoff for retry attempt n (1-based) using the
// default formula from spec §4.5:
//
//	round(pow(n-1, 4) + 15 + rand[0,30) * n) seconds
func DefaultDelay(n int) time.Duration {
	seconds := math.Pow(float64(n-1), 4) + 15 + jitter(n)
	return time.Duration(math.Round(seconds)) * time.Second
}

// DelayFromSchedule returns the configured delay for attempt n (1-based)
// given an explicit schedule, clamping to the last entry once n exceeds
// the schedule's length (§4.5: "delay for attempt n is
// delays[min(n-1, len(delays)-1)]").
func DelayFromSchedule(delays []int, n int) time.Duration {
	idx := n - 1
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return time.Duration(delays[idx]) * time.Second
}
