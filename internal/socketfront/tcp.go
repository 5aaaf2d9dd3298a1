package socketfront

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/mixclient/internal/mixtypes"
)

// parseIdentifier parses s as a UUID, or returns uuid.Nil if s is empty.
func parseIdentifier(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// drainInterval is how often a connected TCP client is polled against
// the received buffer and handed any newly available messages.
const drainInterval = 500 * time.Millisecond

// tcpSubmission is the newline-delimited JSON an application sends to
// submit outbound traffic.
type tcpSubmission struct {
	Destination string `json:"destination"`
	Identifier  string `json:"identifier,omitempty"`
	Payload     []byte `json:"payload"`
}

// tcpDelivery is the newline-delimited JSON pushed to an application
// for each payload drained from the received buffer.
type tcpDelivery struct {
	Payload []byte `json:"payload"`
}

// TCP is a raw, line-oriented TCP front-end: each connected client may
// submit outbound payloads as JSON lines and receives inbound payloads
// pushed back as JSON lines on the same connection, polled against the
// received buffer every drainInterval.
type TCP struct {
	listenAddr string
	logger     *slog.Logger
}

// NewTCP builds a TCP front-end listening on addr.
func NewTCP(addr string, logger *slog.Logger) *TCP {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCP{listenAddr: addr, logger: logger}
}

// Serve accepts connections until ctx is cancelled.
func (t *TCP) Serve(ctx context.Context, in chan<- mixtypes.InputMessage, query chan<- mixtypes.BufferResponse) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", t.listenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	t.logger.Info("tcp front-end listening", "address", t.listenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("tcp accept failed", "error", err)
			continue
		}
		go t.handle(ctx, conn, in, query)
	}
}

func (t *TCP) handle(ctx context.Context, conn net.Conn, in chan<- mixtypes.InputMessage, query chan<- mixtypes.BufferResponse) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go t.pushDeliveries(connCtx, conn, query)

	dec := json.NewDecoder(bufio.NewReader(conn))
	for {
		var sub tcpSubmission
		if err := dec.Decode(&sub); err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Debug("tcp connection closed", "error", err)
			}
			return
		}

		addr, err := mixtypes.ParseDestinationAddress(sub.Destination)
		if err != nil {
			t.logger.Warn("tcp submission with invalid destination", "error", err)
			continue
		}
		id, err := parseIdentifier(sub.Identifier)
		if err != nil {
			t.logger.Warn("tcp submission with invalid identifier", "error", err)
			continue
		}

		msg := mixtypes.InputMessage{
			Destination: mixtypes.Destination{Address: addr, Identifier: id},
			Payload:     sub.Payload,
		}

		select {
		case <-connCtx.Done():
			return
		case in <- msg:
		}
	}
}

// pushDeliveries polls the received buffer on behalf of a single
// connection and writes each payload back as a JSON line.
func (t *TCP) pushDeliveries(ctx context.Context, conn net.Conn, query chan<- mixtypes.BufferResponse) {
	enc := json.NewEncoder(conn)
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		messages, err := drainBuffer(ctx, query, t.logger)
		if err != nil {
			return
		}
		for _, m := range messages {
			if err := enc.Encode(tcpDelivery{Payload: m}); err != nil {
				t.logger.Debug("tcp delivery write failed", "error", err)
				return
			}
		}
	}
}
