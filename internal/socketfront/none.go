package socketfront

import (
	"context"

	"github.com/nugget/mixclient/internal/mixtypes"
)

// None is the front-end used when socket_type is "none": Serve does
// nothing but wait for shutdown. The supervisor's input and query
// channels are not exposed outside it, so with this front-end no
// application submits or drains messages; the core emits cover traffic
// and polls the provider only.
type None struct{}

// Serve blocks until ctx is cancelled.
func (None) Serve(ctx context.Context, _ chan<- mixtypes.InputMessage, _ chan<- mixtypes.BufferResponse) error {
	<-ctx.Done()
	return nil
}
