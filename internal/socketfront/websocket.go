package socketfront

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/mixclient/internal/mixtypes"
)

// wsSubmission and wsDelivery mirror tcpSubmission/tcpDelivery but are
// framed as individual WebSocket text messages rather than newline-
// delimited JSON, since the WebSocket transport already frames
// messages.
type wsSubmission struct {
	Destination string `json:"destination"`
	Identifier  string `json:"identifier,omitempty"`
	Payload     []byte `json:"payload"`
}

type wsDelivery struct {
	Payload []byte `json:"payload"`
}

// WebSocket is an application front-end accepting gorilla/websocket
// connections. It mirrors the submit/push model of the TCP front-end:
// clients send submissions as JSON text frames and receive delivered
// payloads pushed as JSON text frames.
type WebSocket struct {
	listenAddr string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	server     *http.Server
}

// NewWebSocket builds a WebSocket front-end listening on addr.
func NewWebSocket(addr string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		listenAddr: addr,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Single-client, loopback-style usage; origin checking is
			// the embedding deployment's responsibility if this front-
			// end is exposed beyond localhost.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve starts the HTTP/WebSocket listener and blocks until ctx is
// cancelled.
func (w *WebSocket) Serve(ctx context.Context, in chan<- mixtypes.InputMessage, query chan<- mixtypes.BufferResponse) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		w.handle(ctx, rw, r, in, query)
	})

	w.server = &http.Server{
		Addr:         w.listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("websocket front-end listening", "address", w.listenAddr)
		errCh <- w.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (w *WebSocket) handle(ctx context.Context, rw http.ResponseWriter, r *http.Request, in chan<- mixtypes.InputMessage, query chan<- mixtypes.BufferResponse) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.pushDeliveries(connCtx, conn, query)

	for {
		var sub wsSubmission
		if err := conn.ReadJSON(&sub); err != nil {
			w.logger.Debug("websocket connection closed", "error", err)
			return
		}

		addr, err := mixtypes.ParseDestinationAddress(sub.Destination)
		if err != nil {
			w.logger.Warn("websocket submission with invalid destination", "error", err)
			continue
		}
		id, err := parseIdentifier(sub.Identifier)
		if err != nil {
			w.logger.Warn("websocket submission with invalid identifier", "error", err)
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

func (w *WebSocket) pushDeliveries(ctx context.Context, conn *websocket.Conn, query chan<- mixtypes.BufferResponse) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		messages, err := drainBuffer(ctx, query, w.logger)
		if err != nil {
			return
		}
		for _, m := range messages {
			if err := conn.WriteJSON(wsDelivery{Payload: m}); err != nil {
				w.logger.Debug("websocket delivery write failed", "error", err)
				return
			}
		}
	}
}
