package socketfront

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/mixclient/internal/mixtypes"
)

func TestParseIdentifier_EmptyIsNil(t *testing.T) {
	id, err := parseIdentifier("")
	if err != nil {
		t.Fatalf("parseIdentifier: %v", err)
	}
	if id != uuid.Nil {
		t.Errorf("parseIdentifier(\"\") = %v, want uuid.Nil", id)
	}
}

func TestParseIdentifier_InvalidFails(t *testing.T) {
	if _, err := parseIdentifier("not-a-uuid"); err == nil {
		t.Fatal("parseIdentifier with an invalid string succeeded, want an error")
	}
}

func TestTCP_SubmissionReachesInChannel(t *testing.T) {
	tcp := NewTCP("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ResolveTCPAddr: %v", err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	listenAddr := ln.Addr().String()
	ln.Close()
	tcp.listenAddr = listenAddr

	in := make(chan mixtypes.InputMessage, 1)
	query := make(chan mixtypes.BufferResponse, 1)

	serveErr := make(chan error, 1)
	go func() { serveErr <- tcp.Serve(ctx, in, query) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", listenAddr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var destHex string
	{
		var addr mixtypes.DestinationAddress
		addr[0] = 0x07
		destHex = hexEncode(addr)
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(struct {
		Destination string `json:"destination"`
		Payload     []byte `json:"payload"`
	}{Destination: destHex, Payload: []byte("payload-bytes")}); err != nil {
		t.Fatalf("encode submission: %v", err)
	}

	select {
	case msg := <-in:
		if string(msg.Payload) != "payload-bytes" {
			t.Errorf("payload = %q, want payload-bytes", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not reach the in channel")
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestTCP_PushesDeliveriesFromBuffer(t *testing.T) {
	tcp := NewTCP("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ResolveTCPAddr: %v", err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	listenAddr := ln.Addr().String()
	ln.Close()
	tcp.listenAddr = listenAddr

	in := make(chan mixtypes.InputMessage, 1)
	query := make(chan mixtypes.BufferResponse, 1)

	go tcp.Serve(ctx, in, query)

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", listenAddr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case resp := <-query:
				resp <- [][]byte{[]byte("inbound-message")}
			}
		}
	}()

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var line []byte
	line, err = reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read delivery: %v", err)
	}

	var got tcpDelivery
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("unmarshal delivery: %v", err)
	}
	if string(got.Payload) != "inbound-message" {
		t.Errorf("delivery payload = %q, want inbound-message", got.Payload)
	}
}

func hexEncode(a mixtypes.DestinationAddress) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(a)*2)
	for i, b := range a {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0xf]
	}
	return string(buf)
}
