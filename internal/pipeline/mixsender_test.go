package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nugget/mixclient/internal/mixtypes"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func (f *fakeSender) Send(_ context.Context, packet []byte, _ net.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, packet)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestMixSender_DrainsInOrder(t *testing.T) {
	fs := &fakeSender{}
	ms := NewMixSender(fs, nil, nil)

	in := make(chan mixtypes.MixMessage, 2)
	in <- mixtypes.MixMessage{Packet: []byte("one")}
	in <- mixtypes.MixMessage{Packet: []byte("two")}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ms.Run(ctx, in)

	if fs.count() != 2 {
		t.Fatalf("sender received %d packets, want 2", fs.count())
	}
	if string(fs.sent[0]) != "one" || string(fs.sent[1]) != "two" {
		t.Errorf("sender received %q, want [one two] in arrival order", fs.sent)
	}
}

func TestMixSender_SendFailureDoesNotAbort(t *testing.T) {
	fs := &fakeSender{fail: true}
	ms := NewMixSender(fs, nil, nil)

	in := make(chan mixtypes.MixMessage, 3)
	in <- mixtypes.MixMessage{Packet: []byte("one")}
	in <- mixtypes.MixMessage{Packet: []byte("two")}
	in <- mixtypes.MixMessage{Packet: []byte("three")}
	close(in)

	done := make(chan struct{})
	go func() {
		ms.Run(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after draining a closed channel of all-failing sends")
	}
	if len(in) != 0 {
		t.Fatalf("Run stopped with %d messages undrained, want all three attempted", len(in))
	}
}
