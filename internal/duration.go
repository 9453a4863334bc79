package internal

import (
	"fmt"
	"time"
)

const (
	millisPerSecond = 1000
	millisPerMinute = 60 * millisPerSecond
	millisPerHour   = 60 * millisPerMinute
)

// FormatCompact renders a millisecond duration as H:MM:SS. Hours are
// unpadded, minutes and seconds are zero padded. Negative input clamps to 0.
func FormatCompact(ms int64) string {
	if ms < 0 {
		ms = 0
	}

	hours := ms / millisPerHour
	minutes := (ms % millisPerHour) / millisPerMinute
	seconds := (ms % millisPerMinute) / millisPerSecond

	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

// FormatVerbose renders a millisecond duration as "{h}h {m}m {s}s".
// Negative input clamps to 0.
func FormatVerbose(ms int64) string {
	if ms < 0 {
		ms = 0
	}

	hours := ms / millisPerHour
	minutes := (ms % millisPerHour) / millisPerMinute
	seconds := (ms % millisPerMinute) / millisPerSecond

	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

// ActivityProgress describes the elapsed/total state of a timed activity at
// a given instant. Elapsed freezes at Total once the activity has run past
// its end timestamp.
type ActivityProgress struct {
	Elapsed int64
	Total   int64
	Percent int
	Paused  bool
}

// ProgressAt computes progress for an activity spanning start..end at the
// passed instant. Both timestamps are epoch milliseconds. The percentage is
// clamped to 0..100 and the progress is marked paused once now passes end.
func ProgressAt(start, end, now int64) (progress ActivityProgress, ok bool) {
	if end <= start {
		return progress, false
	}

	total := end - start
	elapsed := now - start

	if elapsed < 0 {
		elapsed = 0
	}

	if elapsed >= total {
		// Ran past the end: the elapsed display freezes at the total and
		// must not advance on later ticks.
		elapsed = total
		progress.Paused = true
	}

	percent := int(elapsed * 100 / total)
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	progress.Elapsed = elapsed
	progress.Total = total
	progress.Percent = percent

	return progress, true
}

// ElapsedSince returns the milliseconds elapsed since an epoch-ms start,
// clamped to 0.
func ElapsedSince(start, now int64) int64 {
	elapsed := now - start
	if elapsed < 0 {
		return 0
	}

	return elapsed
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
