package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/nugget/mixclient/internal/sphinx"
	"github.com/nugget/mixclient/internal/stats"
)

// RetrieveMessagesFunc is the provider collaborator's message-retrieval
// call. Bound to provider.Client.RetrieveMessages in the supervisor.
type RetrieveMessagesFunc func(ctx context.Context) ([][]byte, error)

// ProviderPoller fetches pending messages from the provider on a fixed
// cadence, filters out loop-cover and dummy payloads, and publishes the
// remainder (even if empty) to the received-messages buffer's input
// (spec §4.4). Fixed, non-Poisson polling is acceptable here: it is a
// local observation, not a mix emission, so it does not contribute to
// the traffic pattern visible on the mix side. Failures from retrieval
// are fatal — the provider is essential for correctness of receive.
type ProviderPoller struct {
	retrieve RetrieveMessagesFunc
	interval time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// NewProviderPoller builds a Provider Poller over retrieve, polling
// every interval (default 1s per spec §6). recorder may be nil.
func NewProviderPoller(retrieve RetrieveMessagesFunc, interval time.Duration, logger *slog.Logger, recorder Recorder) *ProviderPoller {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderPoller{retrieve: retrieve, interval: interval, logger: logger, recorder: recorder}
}

// Run polls and pushes filtered batches to out until ctx is cancelled.
// Returns a *FatalError if retrieve fails.
func (p *ProviderPoller) Run(ctx context.Context, out chan<- [][]byte) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		start := time.Now()
		messages, err := p.retrieve(ctx)
		elapsed := time.Since(start)
		if err != nil {
			p.logger.Error("provider poll failed", "error", err)
			record(ctx, p.recorder, p.logger, stats.EventProviderFailed, elapsed)
			return fatal("provider-poller", err)
		}
		record(ctx, p.recorder, p.logger, stats.EventProviderPoll, elapsed)

		good := filterCoverAndDummy(messages)
		p.logger.Log(ctx, traceLevel, "provider poll complete", "fetched", len(messages), "delivered", len(good))

		select {
		case <-ctx.Done():
			return nil
		case out <- good:
		}
	}
}

// filterCoverAndDummy removes any payload equal (by byte comparison) to
// the well-known loop-cover or dummy payload, per spec §4.4 step 3 and
// invariant "a payload delivered out of RMB is never equal to the
// designated loop-cover payload or the designated dummy-message
// payload." Always returns a non-nil slice, even if empty, so an empty
// poll result is still published.
func filterCoverAndDummy(messages [][]byte) [][]byte {
	good := make([][]byte, 0, len(messages))
	for _, m := range messages {
		if bytes.Equal(m, sphinx.LoopCoverPayload) || bytes.Equal(m, sphinx.DummyPayload) {
			continue
		}
		good = append(good, m)
	}
	return good
}
