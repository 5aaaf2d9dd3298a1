package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nugget/mixclient/internal/mixtypes"
)

func TestReceivedBuffer_AppendThenDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rmb := NewReceivedBuffer(nil, nil)
	appends := make(chan [][]byte, 4)
	drains := make(chan mixtypes.BufferResponse, 4)

	done := make(chan error, 1)
	go func() { done <- rmb.Run(ctx, appends, drains) }()

	appends <- [][]byte{[]byte("a"), []byte("b")}
	appends <- [][]byte{[]byte("c")}

	// Give the actor a moment to process both appends before draining.
	time.Sleep(20 * time.Millisecond)

	resp := mixtypes.NewBufferResponse()
	drains <- resp

	select {
	case got := <-resp:
		if len(got) != 3 {
			t.Fatalf("drained %d messages, want 3", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("drain response timed out")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil after cancellation", err)
	}
}

func TestReceivedBuffer_DrainResetsToEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rmb := NewReceivedBuffer(nil, nil)
	appends := make(chan [][]byte, 4)
	drains := make(chan mixtypes.BufferResponse, 4)

	go rmb.Run(ctx, appends, drains)

	appends <- [][]byte{[]byte("only")}
	time.Sleep(20 * time.Millisecond)

	first := mixtypes.NewBufferResponse()
	drains <- first
	if got := <-first; len(got) != 1 {
		t.Fatalf("first drain = %d messages, want 1", len(got))
	}

	second := mixtypes.NewBufferResponse()
	drains <- second
	select {
	case got := <-second:
		if len(got) != 0 {
			t.Fatalf("second drain = %d messages, want 0 (buffer should have reset)", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("second drain response timed out")
	}
}

func TestReceivedBuffer_ClosedAppendsEndsRun(t *testing.T) {
	rmb := NewReceivedBuffer(nil, nil)
	appends := make(chan [][]byte)
	drains := make(chan mixtypes.BufferResponse)

	close(appends)

	err := rmb.Run(context.Background(), appends, drains)
	if err != nil {
		t.Fatalf("Run returned %v, want nil on closed appends channel", err)
	}
}

func TestReceivedBuffer_UnfulfillableDrainIsFatal(t *testing.T) {
	rmb := NewReceivedBuffer(nil, nil)
	appends := make(chan [][]byte)
	drains := make(chan mixtypes.BufferResponse, 1)

	// An unbuffered BufferResponse with no reader can never be fulfilled
	// by the actor's non-blocking send.
	drains <- make(chan [][]byte)

	err := rmb.Run(context.Background(), appends, drains)
	var fatalErr *FatalError
	if !errors.As(err, &fatalErr) {
		t.Fatalf("Run returned %v, want a *FatalError", err)
	}
	if fatalErr.Task != "received-buffer" {
		t.Errorf("FatalError.Task = %q, want %q", fatalErr.Task, "received-buffer")
	}
}
