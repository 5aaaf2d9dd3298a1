// Package telemetry optionally mirrors operational counters to an MQTT
// broker so an external monitoring system can observe client health
// (emission cadence, send failures, provider poll latency) without
// scraping the local SQLite counters store directly. It never publishes
// payload content, destinations, or auth tokens.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/mixclient/internal/stats"
)

// Source provides the counter snapshot telemetry publishes. The
// concrete adapter is *stats.Store, wired in cmd/mixclient.
type Source interface {
	Summarize(ctx context.Context) (stats.Counts, error)
}

// snapshot is the JSON payload published on every interval tick.
type snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Counts    map[string]int64 `json:"counts"`
}

// Publisher connects to an MQTT broker and periodically publishes a
// snapshot of operational counters to a fixed topic, using Eclipse
// Paho's autopaho for connection management and automatic reconnection.
type Publisher struct {
	broker   string
	clientID string
	topic    string
	interval time.Duration
	source   Source
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
}

// New builds a telemetry Publisher. It does not connect until Run is
// called.
func New(broker, clientID, topic string, interval time.Duration, source Source, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{broker: broker, clientID: clientID, topic: topic, interval: interval, source: source, logger: logger}
}

// Run connects to the broker and publishes a counters snapshot every
// interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(p.broker)
	if err != nil {
		return fmt.Errorf("telemetry: parse broker url: %w", err)
	}

	availTopic := p.topic + "/availability"

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("telemetry connected to broker", "broker", p.broker)
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = cm.Publish(pubCtx, &paho.Publish{
				Topic:   availTopic,
				QoS:     1,
				Retain:  true,
				Payload: []byte("online"),
			})
		},
		OnConnectError: func(err error) {
			p.logger.Warn("telemetry connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("telemetry: connect: %w", err)
	}
	p.cm = cm
	defer cm.Disconnect(context.Background())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publishSnapshot(ctx)
		}
	}
}

func (p *Publisher) publishSnapshot(ctx context.Context) {
	counts, err := p.source.Summarize(ctx)
	if err != nil {
		p.logger.Warn("telemetry snapshot failed", "error", err)
		return
	}

	plain := make(map[string]int64, len(counts))
	for k, v := range counts {
		plain[string(k)] = v
	}

	body, err := json.Marshal(snapshot{Timestamp: time.Now().UTC(), Counts: plain})
	if err != nil {
		p.logger.Warn("telemetry snapshot marshal failed", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.cm.Publish(pubCtx, &paho.Publish{
		Topic:   p.topic,
		QoS:     0,
		Payload: body,
	}); err != nil {
		p.logger.Warn("telemetry publish failed", "error", err)
	}
}
