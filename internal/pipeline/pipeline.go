// Package pipeline is the traffic-shaping and message-buffering core:
// the mix sender, loop-cover emitter, out-queue shaper, provider
// poller, and received-messages buffer, joined by typed channels and
// started by the supervisor. See spec §2–§5.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nugget/mixclient/internal/logging"
	"github.com/nugget/mixclient/internal/stats"
)

// traceLevel is used for per-packet / per-poll forensic logging, below
// the operational debug tier.
const traceLevel = logging.LevelTrace

// Recorder persists operational counters. It is satisfied by
// *stats.Store; pipeline components accept nil to run without a stats
// sink, since stats are diagnostic, never load-bearing.
type Recorder interface {
	Record(ctx context.Context, kind stats.EventKind, duration time.Duration) error
}

// record is a nil-safe, best-effort counter increment: a stats write
// failure is logged and otherwise ignored, since losing a counter is
// never grounds for treating the client session as unhealthy.
func record(ctx context.Context, r Recorder, logger *slog.Logger, kind stats.EventKind, duration time.Duration) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, kind, duration); err != nil {
		logger.Debug("stats record failed", "kind", kind, "error", err)
	}
}

// samplePoisson draws a delay from Exp(1/mean), the inverse-CDF method:
// for U uniform on (0,1), -mean*ln(1-U) is exponentially distributed
// with the given mean. Used by the loop-cover emitter and out-queue
// shaper so successive emissions form a Poisson process (spec §4.2,
// §4.3), independent of whether the payload sent is real or cover.
func samplePoisson(mean time.Duration) time.Duration {
	if mean <= 0 {
		return 0
	}
	u := rand.Float64()
	// rand.Float64 is in [0,1), so 1-u is never 0 for math.Log; redraw
	// the degenerate u==0 case, which would yield a zero delay.
	for u == 0 {
		u = rand.Float64()
	}
	d := -math.Log(1-u) * float64(mean)
	return time.Duration(d)
}

// FatalError reports which pipeline task observed a session-ending
// condition (spec §7): a closed application input channel, a packet
// construction failure, a provider fetch failure, or an unfulfillable
// BufferResponse. The
// supervisor surfaces this as a diagnostic and exits non-zero.
type FatalError struct {
	Task string
	Err  error
}

func (e *FatalError) Error() string {
	return e.Task + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(task string, err error) *FatalError {
	return &FatalError{Task: task, Err: err}
}
