package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/sphinx"
	"github.com/nugget/mixclient/internal/stats"
)

// errInputClosed is returned by OutQueueShaper.tick when the
// application input channel has been closed, per spec §4.3.
var errInputClosed = errors.New("application input channel closed")

// OutQueueShaper sends on a Poisson clock with loop-cover fill (spec
// §4.3). Each tick it performs a non-blocking, single-shot selection
// between "an InputMessage is immediately available" and "nothing is
// available right now" — a try-receive, never an await-receive, so the
// emission cadence never depends on whether real traffic exists. If the
// application input channel is observed closed, that is fatal: the
// client is being torn down.
type OutQueueShaper struct {
	self     mixtypes.Destination
	topo     mixtypes.Topology
	mean     time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// NewOutQueueShaper builds an Out-Queue Shaper for self, routed through
// the given topology snapshot, sampling delays with the given Poisson
// mean (default 500ms per spec §6). recorder may be nil.
func NewOutQueueShaper(self mixtypes.Destination, topo mixtypes.Topology, mean time.Duration, logger *slog.Logger, recorder Recorder) *OutQueueShaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutQueueShaper{self: self, topo: topo, mean: mean, logger: logger, recorder: recorder}
}

// Run reads from in (try-receive only) and pushes exactly one
// MixMessage per tick to out, until ctx is cancelled. Returns a
// *FatalError if in is observed closed.
func (o *OutQueueShaper) Run(ctx context.Context, in <-chan mixtypes.InputMessage, out chan<- mixtypes.MixMessage) error {
	for {
		hop, packet, err := o.tick(ctx, in)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case out <- (mixtypes.MixMessage{NextHop: hop, Packet: packet}):
		}

		d := samplePoisson(o.mean)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// tick performs the single non-blocking selection described in spec
// §4.3 step 1 and returns the packet to emit this tick: a real
// encapsulation if an InputMessage was immediately available, a
// loop-cover packet otherwise.
func (o *OutQueueShaper) tick(ctx context.Context, in <-chan mixtypes.InputMessage) (net.Addr, []byte, error) {
	select {
	case real, ok := <-in:
		if !ok {
			o.logger.Error("application input channel closed")
			return nil, nil, fatal("out-queue-shaper", errInputClosed)
		}
		hop, pkt, err := sphinx.Encapsulate(real.Destination, real.Payload, o.topo)
		if err != nil {
			o.logger.Error("encapsulation failed", "error", err)
			return nil, nil, fatal("out-queue-shaper", err)
		}
		o.logger.Log(ctx, traceLevel, "real message encapsulated", "next_hop", hop)
		record(ctx, o.recorder, o.logger, stats.EventRealSent, 0)
		return hop, pkt, nil
	default:
		hop, pkt, err := sphinx.LoopCover(o.self, o.topo)
		if err != nil {
			o.logger.Error("loop cover construction failed", "error", err)
			return nil, nil, fatal("out-queue-shaper", err)
		}
		o.logger.Log(ctx, traceLevel, "no input available, sending loop cover", "next_hop", hop)
		record(ctx, o.recorder, o.logger, stats.EventLoopCoverSent, 0)
		return hop, pkt, nil
	}
}
