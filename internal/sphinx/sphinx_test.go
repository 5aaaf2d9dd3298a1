package sphinx

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nugget/mixclient/internal/mixtypes"
)

func testTopology() mixtypes.Topology {
	var a, b mixtypes.DestinationAddress
	a[0] = 0x11
	b[0] = 0x22
	return mixtypes.Topology{
		MixNodes: []mixtypes.MixNode{
			{Address: a, Host: "10.0.0.1:1789"},
			{Address: b, Host: "10.0.0.2:1789"},
		},
	}
}

func testDestination(b byte) mixtypes.Destination {
	var addr mixtypes.DestinationAddress
	addr[0] = b
	return mixtypes.Destination{Address: addr, Identifier: uuid.New()}
}

func TestEncapsulate_FixedPacketSize(t *testing.T) {
	topo := testTopology()
	dest := testDestination(0x01)

	_, packet, err := Encapsulate(dest, []byte("a real application payload"), topo)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if len(packet) != PacketSize {
		t.Errorf("packet length = %d, want %d", len(packet), PacketSize)
	}
}

func TestLoopCover_FixedPacketSize(t *testing.T) {
	topo := testTopology()
	self := testDestination(0x01)

	_, packet, err := LoopCover(self, topo)
	if err != nil {
		t.Fatalf("LoopCover: %v", err)
	}
	if len(packet) != PacketSize {
		t.Errorf("packet length = %d, want %d", len(packet), PacketSize)
	}
}

func TestEncapsulate_FirstHopIsFirstMixNode(t *testing.T) {
	topo := testTopology()
	dest := testDestination(0x01)

	hop, _, err := Encapsulate(dest, []byte("payload"), topo)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if hop.String() != "10.0.0.1:1789" {
		t.Errorf("first hop = %s, want 10.0.0.1:1789", hop.String())
	}
}

func TestEncapsulate_EmptyTopologyFails(t *testing.T) {
	dest := testDestination(0x01)
	_, _, err := Encapsulate(dest, []byte("payload"), mixtypes.Topology{})
	if !errors.Is(err, ErrEmptyTopology) {
		t.Fatalf("Encapsulate with empty topology returned %v, want ErrEmptyTopology", err)
	}
}

func TestEncapsulate_OversizedPayloadFails(t *testing.T) {
	topo := testTopology()
	dest := testDestination(0x01)

	_, _, err := Encapsulate(dest, make([]byte, PacketSize), topo)
	if err == nil {
		t.Fatal("Encapsulate with an oversized payload succeeded, want an error")
	}
}

func TestLoopCover_DistinctFromDummyPayload(t *testing.T) {
	if string(LoopCoverPayload) == string(DummyPayload) {
		t.Fatal("LoopCoverPayload and DummyPayload must be distinct so the poller can tell them apart in logs")
	}
}
