package pipeline

import (
	"context"
	"log/slog"

	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/stats"
	"github.com/nugget/mixclient/internal/wire"
)

// MixSender drains a queue of MixMessages and emits each one to its
// next-hop address via the wire sender. Per-message send failures are
// logged and do not abort the task (spec §4.1): a single failed hop
// must not stall cover-traffic generation.
type MixSender struct {
	sender   wire.Sender
	logger   *slog.Logger
	recorder Recorder
}

// NewMixSender builds a Mix Sender over the given wire sender. recorder
// may be nil to run without operational counters.
func NewMixSender(sender wire.Sender, logger *slog.Logger, recorder Recorder) *MixSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &MixSender{sender: sender, logger: logger, recorder: recorder}
}

// Run drains in, strictly in arrival order, until ctx is cancelled or in
// is closed. There is no per-destination fairness; producers are
// responsible for their own cadences.
func (m *MixSender) Run(ctx context.Context, in <-chan mixtypes.MixMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := m.sender.Send(ctx, msg.Packet, msg.NextHop); err != nil {
				m.logger.Warn("mix send failed", "next_hop", msg.NextHop, "error", err)
				record(ctx, m.recorder, m.logger, stats.EventSendFailed, 0)
				continue
			}
			m.logger.Log(ctx, traceLevel, "mix packet sent", "next_hop", msg.NextHop, "bytes", len(msg.Packet))
		}
	}
}
