// Package mixtypes holds the data types shared across the traffic
// pipeline: the packets handed between tasks, the destination naming a
// mixnet endpoint, the topology snapshot captured once at boot, and the
// one-shot reply slot used by the received-messages query controller.
package mixtypes

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
)

// AddressSize is the fixed byte length of a Sphinx destination address.
const AddressSize = 32

// DestinationAddress is a client's Sphinx routing address.
type DestinationAddress [AddressSize]byte

// String returns a short hex form suitable for logging.
func (a DestinationAddress) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 0; i < 4; i++ {
		buf[i*2] = hextable[a[i]>>4]
		buf[i*2+1] = hextable[a[i]&0xf]
	}
	return string(buf) + "…"
}

// ParseDestinationAddress decodes a hex-encoded Sphinx address, the
// format used by the "self_address" config field.
func ParseDestinationAddress(s string) (DestinationAddress, error) {
	var addr DestinationAddress
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("decode hex address %q: %w", s, err)
	}
	if len(raw) != AddressSize {
		return addr, fmt.Errorf("address %q decodes to %d bytes, want %d", s, len(raw), AddressSize)
	}
	copy(addr[:], raw)
	return addr, nil
}

// Destination names a mixnet endpoint: a routing address plus the
// surb/session identifier distinguishing this client's streams from
// another client's at the same address.
type Destination struct {
	Address    DestinationAddress
	Identifier uuid.UUID
}

// AuthToken is an opaque credential issued by the provider at
// registration, presented on every poll. Only one exists per session.
type AuthToken struct {
	raw []byte
}

// NewAuthToken wraps raw provider-issued credential bytes.
func NewAuthToken(raw []byte) AuthToken {
	return AuthToken{raw: append([]byte(nil), raw...)}
}

// Bytes returns the raw credential.
func (t AuthToken) Bytes() []byte { return t.raw }

// Zero reports whether no token has been set.
func (t AuthToken) Zero() bool { return len(t.raw) == 0 }

// LogValue gives AuthToken a deterministic, non-sensitive slog
// representation (a stable UUID derived from the token bytes, never the
// token itself), satisfying slog.LogValuer so "token", token arguments
// never leak the raw credential into logs.
func (t AuthToken) LogValue() slog.Value {
	if t.Zero() {
		return slog.StringValue("<none>")
	}
	return slog.StringValue(uuid.NewSHA1(uuid.NameSpaceOID, t.raw).String())
}

// MixNode is a single relay in the topology snapshot.
type MixNode struct {
	Address DestinationAddress
	Host    string
}

// ProviderNode is a store-and-forward node in the topology snapshot.
type ProviderNode struct {
	Address DestinationAddress
	Host    string
}

// Topology is the immutable snapshot captured once at boot and cloned
// by value into every task. Non-goal: no mid-session refresh.
type Topology struct {
	MixNodes      []MixNode
	ProviderNodes []ProviderNode
}

// MixMessage is a single Sphinx packet addressed to its next hop. Every
// MixMessage handed to the mix sender originated from either the
// loop-cover emitter or the out-queue shaper, so its emission was
// already shaped by a Poisson delay.
type MixMessage struct {
	NextHop net.Addr
	Packet  []byte
}

// InputMessage is a real application payload awaiting encapsulation,
// created by a socket front-end and consumed by the out-queue shaper.
type InputMessage struct {
	Destination Destination
	Payload     []byte
}

// BufferResponse is a single-shot reply slot for a received-messages
// drain request. The query controller fulfills it exactly once by
// sending on the channel. Buffered with capacity 1 so the fulfilling
// send never blocks on a reader that has not yet reached its receive.
type BufferResponse chan [][]byte

// NewBufferResponse creates a reply slot for one drain request.
func NewBufferResponse() BufferResponse {
	return make(BufferResponse, 1)
}
