// Package wire is the reference implementation of the core's mix wire
// sender collaborator: send a Sphinx packet to a next-hop address. Real
// mixnet transports are out of this project's scope (spec §1); this
// package gives the reference binary a concrete default (UDP), with an
// optional SOCKS5-proxied mode for operating over Tor.
package wire

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// Sender sends Sphinx packets to their next hop.
type Sender interface {
	Send(ctx context.Context, packet []byte, addr net.Addr) error
}

// UDPSender sends packets over plain UDP. It is the default sender: a
// single socket is reused across sends.
type UDPSender struct {
	conn *net.UDPConn
}

// NewUDPSender opens an unconnected UDP socket for sending.
func NewUDPSender() (*UDPSender, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("wire: open udp socket: %w", err)
	}
	return &UDPSender{conn: conn}, nil
}

// Send writes packet to addr. Per-message failures are the caller's
// concern: the mix sender (spec §4.1) logs and continues rather than
// aborting.
func (s *UDPSender) Send(_ context.Context, packet []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("wire: next-hop address %v is not a UDP address", addr)
	}
	_, err := s.conn.WriteTo(packet, udpAddr)
	return err
}

// Close releases the underlying socket.
func (s *UDPSender) Close() error {
	return s.conn.Close()
}

// SOCKS5Sender sends packets over a TCP connection dialed through a
// SOCKS5 proxy, opening one connection per send. Mixnet traffic is
// commonly tunneled this way to hide the client's real network
// location from the first-hop mix node.
type SOCKS5Sender struct {
	dialer proxy.Dialer
}

// NewSOCKS5Sender builds a sender that dials next hops through the
// SOCKS5 proxy at proxyAddr.
func NewSOCKS5Sender(proxyAddr string) (*SOCKS5Sender, error) {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("wire: build socks5 dialer: %w", err)
	}
	return &SOCKS5Sender{dialer: dialer}, nil
}

// Send dials addr through the proxy and writes packet, closing the
// connection once the write completes.
func (s *SOCKS5Sender) Send(ctx context.Context, packet []byte, addr net.Addr) error {
	var conn net.Conn
	var err error
	if ctxDialer, ok := s.dialer.(proxy.ContextDialer); ok {
		conn, err = ctxDialer.DialContext(ctx, "tcp", addr.String())
	} else {
		conn, err = s.dialer.Dial("tcp", addr.String())
	}
	if err != nil {
		return fmt.Errorf("wire: dial %s via proxy: %w", addr, err)
	}
	defer conn.Close()
	_, err = conn.Write(packet)
	return err
}
