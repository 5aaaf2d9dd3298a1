package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/stats"
)

// errUnfulfilledResponse marks the invariant violation of a
// BufferResponse that could not be fulfilled (spec §4.5).
var errUnfulfilledResponse = errors.New("buffer response was not fulfilled")

// ReceivedBuffer is the append-only sequence of received payloads,
// owned exclusively by the single actor goroutine started by Run. This
// is the §9-documented alternative to a lock-guarded buffer: a small
// actor with two inbound mailboxes (append, drain-request) instead of a
// mutex, which makes the append/drain interleaving explicit in the
// select statement rather than implicit in lock acquisition order.
type ReceivedBuffer struct {
	logger   *slog.Logger
	recorder Recorder
}

// NewReceivedBuffer builds a Received Messages Buffer actor. recorder
// may be nil.
func NewReceivedBuffer(logger *slog.Logger, recorder Recorder) *ReceivedBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceivedBuffer{logger: logger, recorder: recorder}
}

// Run owns the buffer's state for its entire lifetime: it is the only
// goroutine that ever touches the underlying slice. appends receives
// batches from the provider poller and extends the sequence (§4.5
// Input Controller); drains receives BufferResponse reply slots and
// atomically takes and returns the current contents, resetting the
// buffer to empty (§4.5 Query Controller). Both controllers are
// implemented in this single select loop rather than as two separate
// goroutines contending for a lock, because a single owning goroutine
// makes the atomicity invariant ("no payload appears in two responses,
// none appended before a drain is omitted") structural instead of
// something a lock discipline has to maintain.
//
// Run blocks until ctx is cancelled. An unfulfillable BufferResponse —
// one nobody is left to receive from — is a bug and is fatal, per
// spec §4.5.
func (b *ReceivedBuffer) Run(ctx context.Context, appends <-chan [][]byte, drains <-chan mixtypes.BufferResponse) error {
	var buf [][]byte

	for {
		select {
		case <-ctx.Done():
			return nil

		case batch, ok := <-appends:
			if !ok {
				return nil
			}
			buf = append(buf, batch...)
			b.logger.Log(ctx, traceLevel, "buffer extended", "added", len(batch), "total", len(buf))

		case resp, ok := <-drains:
			if !ok {
				return nil
			}
			taken := buf
			buf = nil
			select {
			case resp <- taken:
				b.logger.Log(ctx, traceLevel, "buffer drained", "count", len(taken))
				record(ctx, b.recorder, b.logger, stats.EventBufferDrained, 0)
			default:
				// BufferResponse is created with capacity 1 specifically
				// so this send never blocks; reaching default means the
				// reply slot was already used or never had a reader —
				// an invariant violation, fatal per spec §4.5.
				b.logger.Error("buffer response unfulfillable")
				return fatal("received-buffer", errUnfulfilledResponse)
			}
		}
	}
}
