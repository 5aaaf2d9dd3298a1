// Package sphinx is the reference implementation of the core's one
// external, pure-function collaborator: Sphinx-style packet
// construction. Real Sphinx packet formats are out of this project's
// scope (see spec §1); this package provides a concrete, self-contained
// stand-in that keeps the fixed packet size and adds one keyed MAC per
// hop, so the traffic pipeline has something real to drive in tests and
// in the reference binary. The frame is not encrypted: the destination
// address and payload sit in it as plaintext behind the MACs.
package sphinx

import (
	"crypto/rand"
	"errors"
	"net"

	"github.com/nugget/mixclient/internal/mixtypes"
	"golang.org/x/crypto/blake2b"
)

// PacketSize is the fixed wire size of every packet this package
// produces, real or cover. A fixed size is what makes cover traffic
// indistinguishable from real traffic on the wire.
const PacketSize = 1024

// macSize is the size of each per-hop MAC; build reserves one per mix
// node in the topology, and payload fills the remainder of PacketSize
// after those MACs and the destination address.
const macSize = blake2b.Size256

// LoopCoverPayload is the well-known plaintext payload carried inside a
// loop-cover packet. The provider poller filters it out of every
// delivered batch (spec §4.4); it must never reach the application.
var LoopCoverPayload = []byte("\x00MIXCLIENT-LOOP-COVER\x00")

// DummyPayload is the well-known plaintext payload the provider itself
// injects as filler. The provider poller filters it alongside
// LoopCoverPayload.
var DummyPayload = []byte("\x00MIXCLIENT-DUMMY\x00")

// ErrEmptyTopology is returned when a topology snapshot has no mix
// nodes to route through.
var ErrEmptyTopology = errors.New("sphinx: topology has no mix nodes")

// Encapsulate builds a forward packet carrying payload to dest, routed
// through topo's mix nodes, and returns the address of the first hop.
func Encapsulate(dest mixtypes.Destination, payload []byte, topo mixtypes.Topology) (net.Addr, []byte, error) {
	return build(dest.Address, payload, topo)
}

// LoopCover builds a loop-cover packet addressed back to self, routed
// through topo's mix nodes, and returns the address of the first hop.
func LoopCover(self mixtypes.Destination, topo mixtypes.Topology) (net.Addr, []byte, error) {
	return build(self.Address, LoopCoverPayload, topo)
}

// build lays payload inside a fixed-size frame with one keyed MAC per
// remaining hop (outermost first); the frame itself is not encrypted.
// Each hop's MAC key is derived from that mix node's address, so the
// same call is reproducible in tests without a real key exchange; this
// is a reference codec, not a production cryptographic design.
func build(dest mixtypes.DestinationAddress, payload []byte, topo mixtypes.Topology) (net.Addr, []byte, error) {
	if len(topo.MixNodes) == 0 {
		return nil, nil, ErrEmptyTopology
	}
	if len(payload) > PacketSize-macSize*len(topo.MixNodes)-len(dest) {
		return nil, nil, errors.New("sphinx: payload too large for fixed packet size")
	}

	frame := make([]byte, PacketSize)
	n := copy(frame, dest[:])
	n += copy(frame[n:], payload)
	if _, err := rand.Read(frame[n:]); err != nil {
		return nil, nil, err
	}

	for i := len(topo.MixNodes) - 1; i >= 0; i-- {
		key := blake2b.Sum256(topo.MixNodes[i].Address[:])
		mac, err := blake2b.New256(key[:])
		if err != nil {
			return nil, nil, err
		}
		mac.Write(frame)
		frame = append(mac.Sum(nil), frame...)
	}
	// Truncate back to the fixed wire size: the reference codec only
	// needs to demonstrate the per-hop MAC layering, not a full onion
	// decrypt/peel at each hop.
	if len(frame) > PacketSize {
		frame = frame[:PacketSize]
	}

	firstHop := topo.MixNodes[0]
	addr, err := net.ResolveUDPAddr("udp", firstHop.Host)
	if err != nil {
		return nil, nil, err
	}
	return addr, frame, nil
}
