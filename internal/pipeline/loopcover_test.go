package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/sphinx"
)

func TestLoopCoverEmitter_EmitsFixedSizePackets(t *testing.T) {
	self := testDestination(0x05)
	topo := testTopology(t)
	l := NewLoopCoverEmitter(self, topo, 5*time.Millisecond, nil, nil)

	out := make(chan mixtypes.MixMessage, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go l.Run(ctx, out)
	<-ctx.Done()

	if len(out) == 0 {
		t.Fatal("no loop-cover packets emitted within the test window")
	}
	for len(out) > 0 {
		msg := <-out
		if len(msg.Packet) != sphinx.PacketSize {
			t.Errorf("emitted packet length = %d, want %d", len(msg.Packet), sphinx.PacketSize)
		}
	}
}

func TestLoopCoverEmitter_StopsOnCancellation(t *testing.T) {
	self := testDestination(0x05)
	topo := testTopology(t)
	l := NewLoopCoverEmitter(self, topo, time.Hour, nil, nil) // long mean so only cancellation ends it

	out := make(chan mixtypes.MixMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, out) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}
