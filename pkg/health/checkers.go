package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// CountCheck returns a CheckFunc that reports unhealthy when count() exceeds
// threshold. what names the counted thing in the failure message.
func CountCheck(what string, count func() int, threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := count(); n > threshold {
			return errors.Errorf("%s count %d exceeds threshold %d", what, n, threshold)
		}
		return nil
	}
}

// GoroutineCountCheck returns a CheckFunc that reports unhealthy when the
// number of goroutines exceeds the given threshold. This is useful as a
// liveness check to detect goroutine leaks.
func GoroutineCountCheck(threshold int) CheckFunc {
	return CountCheck("goroutine", runtime.NumGoroutine, threshold)
}

// GCMaxPauseCheck returns a CheckFunc that reports unhealthy when the most
// recent GC stop-the-world pause exceeds threshold. Older pauses are ignored
// so the check recovers once the heap settles.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		if len(stats.Pause) == 0 {
			return nil
		}
		if last := stats.Pause[0]; last > threshold {
			return errors.Errorf("GC pause %s exceeds threshold %s", last, threshold)
		}
		return nil
	}
}
