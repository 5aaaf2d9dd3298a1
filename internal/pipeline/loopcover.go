package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/sphinx"
	"github.com/nugget/mixclient/internal/stats"
)

// LoopCoverEmitter repeatedly sleeps for an Exp(1/mean) delay, builds a
// loop-cover packet addressed to self, and pushes it to the mix sender
// (spec §4.2). The emitter does not itself detect a terminated mix
// sender; the supervisor treats the mix sender's exit as fatal to the
// client session.
type LoopCoverEmitter struct {
	self     mixtypes.Destination
	topo     mixtypes.Topology
	mean     time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// NewLoopCoverEmitter builds a Loop-Cover Emitter for self, routed
// through the given topology snapshot, sampling delays with the given
// Poisson mean (default 500ms per spec §6). recorder may be nil.
func NewLoopCoverEmitter(self mixtypes.Destination, topo mixtypes.Topology, mean time.Duration, logger *slog.Logger, recorder Recorder) *LoopCoverEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopCoverEmitter{self: self, topo: topo, mean: mean, logger: logger, recorder: recorder}
}

// Run pushes cover packets to out until ctx is cancelled, returning nil
// on a clean shutdown, or a *FatalError if a loop-cover packet cannot be
// built. The supervisor never closes the mix channel, so a send here
// cannot panic on a closed channel; see pipeline/supervisor.go.
func (l *LoopCoverEmitter) Run(ctx context.Context, out chan<- mixtypes.MixMessage) error {
	for {
		d := samplePoisson(l.mean)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		hop, packet, err := sphinx.LoopCover(l.self, l.topo)
		if err != nil {
			l.logger.Error("loop cover construction failed", "error", err)
			return fatal("loop-cover-emitter", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case out <- (mixtypes.MixMessage{NextHop: hop, Packet: packet}):
			l.logger.Log(ctx, traceLevel, "loop cover emitted", "delay", d)
			record(ctx, l.recorder, l.logger, stats.EventLoopCoverSent, 0)
		}
	}
}
