package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/wire"
)

// channelCapacity sizes the mix, buffer-input, and query channels. The
// spec calls for unbounded channels so LCE/OQS never block on send and
// PP never stalls; a large, fixed capacity is the documented bounded
// substitute (spec §5, "Shared-resource policy") and is never exceeded
// under nominal load since MS/RMB drain continuously.
const channelCapacity = 4096

// ProviderClient is the subset of provider.Client the supervisor needs.
// Declared as an interface so tests can substitute a fake provider.
type ProviderClient interface {
	Register(ctx context.Context) (mixtypes.AuthToken, error)
	UpdateToken(mixtypes.AuthToken)
	RetrieveMessages(ctx context.Context) ([][]byte, error)
}

// SocketFront is an optional application front-end plugged into the
// core's channel endpoints (spec §4.6 step 6). TCP, WebSocket, and "no
// front-end" implementations live in internal/socketfront.
type SocketFront interface {
	Serve(ctx context.Context, in chan<- mixtypes.InputMessage, query chan<- mixtypes.BufferResponse) error
}

// Config parameterizes a Supervisor session.
type Config struct {
	Self          mixtypes.Destination
	Topology      mixtypes.Topology
	AuthToken     mixtypes.AuthToken // zero value means "register at boot"
	LoopCoverMean time.Duration
	SendMean      time.Duration
	FetchInterval time.Duration
}

// Supervisor is the Client Supervisor (spec §4.6): it performs
// registration, creates the channels, spawns the runtime tasks, and
// joins them. State machine: Booting → Registering? → Running →
// Terminated, with no transition back from Terminated.
type Supervisor struct {
	cfg      Config
	provider ProviderClient
	sender   wire.Sender
	front    SocketFront
	recorder Recorder
	logger   *slog.Logger
}

// New builds a Supervisor. provider and sender are the external
// collaborators described in spec §1; front is optional (pass nil for
// socket_type = none); recorder is optional (pass nil to run without
// operational counters).
func New(cfg Config, providerClient ProviderClient, sender wire.Sender, front SocketFront, recorder Recorder, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, provider: providerClient, sender: sender, front: front, recorder: recorder, logger: logger}
}

// Boot performs spec §4.6 step 4: registration if no token was
// supplied, otherwise reuse of the supplied token. Topology fetch and
// provider-address resolution happen before New is called (the
// supervisor is handed an already-bound provider client and an
// already-fetched topology, per its constructor dependencies), so Boot
// is responsible only for the registration decision, matching the
// resolved Open Question in DESIGN.md.
func (s *Supervisor) Boot(ctx context.Context) error {
	if s.cfg.AuthToken.Zero() {
		token, err := s.provider.Register(ctx)
		if err != nil {
			return fmt.Errorf("supervisor: register with provider: %w", err)
		}
		s.cfg.AuthToken = token
		s.logger.Info("registered with provider", "token", token)
	} else {
		s.logger.Info("reusing supplied auth token", "token", s.cfg.AuthToken)
	}
	s.provider.UpdateToken(s.cfg.AuthToken)
	return nil
}

// Run creates the channels and shared buffer, spawns every runtime
// task, and blocks until one of them reports a fatal condition or ctx
// is cancelled. The expected steady state is indefinite blocking; any
// task completing on its own (successfully or otherwise) is an anomaly
// and Run returns that task's error.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mixCh := make(chan mixtypes.MixMessage, channelCapacity)
	inputCh := make(chan mixtypes.InputMessage, channelCapacity)
	bufferInCh := make(chan [][]byte, channelCapacity)
	queryCh := make(chan mixtypes.BufferResponse, channelCapacity)

	ms := NewMixSender(s.sender, s.logger.With("task", "mix-sender"), s.recorder)
	lce := NewLoopCoverEmitter(s.cfg.Self, s.cfg.Topology, s.cfg.LoopCoverMean, s.logger.With("task", "loop-cover-emitter"), s.recorder)
	oqs := NewOutQueueShaper(s.cfg.Self, s.cfg.Topology, s.cfg.SendMean, s.logger.With("task", "out-queue-shaper"), s.recorder)
	pp := NewProviderPoller(s.provider.RetrieveMessages, s.cfg.FetchInterval, s.logger.With("task", "provider-poller"), s.recorder)
	rmb := NewReceivedBuffer(s.logger.With("task", "received-buffer"), s.recorder)

	type result struct {
		task string
		err  error
	}
	results := make(chan result, 6)

	var wg sync.WaitGroup
	run := func(task string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- result{task: task, err: fn()}
		}()
	}

	run("mix-sender", func() error { ms.Run(ctx, mixCh); return nil })
	run("loop-cover-emitter", func() error { return lce.Run(ctx, mixCh) })
	run("out-queue-shaper", func() error { return oqs.Run(ctx, inputCh, mixCh) })
	run("provider-poller", func() error { return pp.Run(ctx, bufferInCh) })
	run("received-buffer", func() error { return rmb.Run(ctx, bufferInCh, queryCh) })

	if s.front != nil {
		run("socket-front", func() error { return s.front.Serve(ctx, inputCh, queryCh) })
	}

	// Steady state: wait for the first task to finish, which is always
	// an anomaly (§4.6 step 7) unless it's a response to our own ctx
	// cancellation.
	first := <-results
	// Read before our own cancel() below, which would otherwise make
	// ctx.Err() non-nil unconditionally.
	cancelledFromOutside := ctx.Err() != nil
	cancel()
	wg.Wait()
	close(results)
	for r := range results {
		if r.err != nil && first.err == nil {
			first.err = r.err
		}
	}

	if first.err != nil {
		return fmt.Errorf("supervisor: task %q terminated: %w", first.task, first.err)
	}
	if !cancelledFromOutside {
		return fmt.Errorf("supervisor: task %q terminated unexpectedly with no error", first.task)
	}
	return nil
}
