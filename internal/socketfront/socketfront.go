// Package socketfront provides application front-ends that plug into
// the mixnet client core's two channel endpoints: submitting outbound
// application payloads and draining received ones. Exactly one front-
// end is active per client session, selected by config.SocketConfig.
package socketfront

import (
	"context"
	"log/slog"

	"github.com/nugget/mixclient/internal/mixtypes"
)

// Front is implemented by every front-end. Serve blocks, feeding in and
// reading from query, until ctx is cancelled or an unrecoverable error
// occurs.
type Front interface {
	Serve(ctx context.Context, in chan<- mixtypes.InputMessage, query chan<- mixtypes.BufferResponse) error
}

// drainBuffer issues one query against the received-messages buffer and
// waits for its reply, bridging the front-end's request/response model
// onto the core's channel-based query protocol.
func drainBuffer(ctx context.Context, query chan<- mixtypes.BufferResponse, logger *slog.Logger) ([][]byte, error) {
	resp := mixtypes.NewBufferResponse()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case query <- resp:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case messages := <-resp:
		logger.Debug("drained received buffer", "count", len(messages))
		return messages, nil
	}
}
