package observability

import (
	"log/slog"

	"golang.org/x/time/rate"
)

// DebugThrottle rate-limits a verbose, per-request debug log line so a
// sustained attack doesn't flood the log at one line per request. It logs
// the first few occurrences, then falls off to a sparse sample — the usage
// rate.Sometimes was built for.
type DebugThrottle struct {
	sometimes *rate.Sometimes
}

// NewDebugThrottle returns a throttle that logs immediately a handful of
// times, then at most once per interval calls thereafter.
func NewDebugThrottle(first int, every int) *DebugThrottle {
	return &DebugThrottle{sometimes: &rate.Sometimes{First: first, Every: every}}
}

// Log runs fn (a slog.Debug call) only when the throttle's schedule allows it.
func (t *DebugThrottle) Log(fn func()) {
	t.sometimes.Do(fn)
}

// LogMazeHop is a convenience wrapper for the maze engine's per-hop debug
// trace, the noisiest source of log volume under a sustained tarpit crawl.
func (t *DebugThrottle) LogMazeHop(flowID string, depth int, style string) {
	t.Log(func() {
		slog.Debug("maze hop", "flow_id", flowID, "depth", depth, "style", style)
	})
}
