// Package main is the entry point for the mixclient binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/nugget/mixclient/internal/buildinfo"
	"github.com/nugget/mixclient/internal/config"
	"github.com/nugget/mixclient/internal/httpkit"
	"github.com/nugget/mixclient/internal/logging"
	"github.com/nugget/mixclient/internal/mixtypes"
	"github.com/nugget/mixclient/internal/pipeline"
	"github.com/nugget/mixclient/internal/provider"
	"github.com/nugget/mixclient/internal/socketfront"
	"github.com/nugget/mixclient/internal/stats"
	"github.com/nugget/mixclient/internal/telemetry"
	"github.com/nugget/mixclient/internal/topology"
	"github.com/nugget/mixclient/internal/wire"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "run":
			runClient(logger, *configPath)
			return
		case "identity":
			runIdentity(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("mixclient - mixnet traffic-shaping client")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       Start the client")
	fmt.Println("  identity  Print this client's destination address as a QR code")
	fmt.Println("  version   Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// loadConfig resolves and parses the config file, reconfiguring logger
// to the config-driven level on success.
func loadConfig(logger *slog.Logger, configPath string) (*config.Config, *slog.Logger) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: logging.ReplaceAttr,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "self_address", cfg.SelfAddress)
	return cfg, logger
}

// loadOrCreateIdentifier reads this client's session identifier from a
// file in dataDir, or generates and persists a new UUIDv7.
func loadOrCreateIdentifier(dataDir string) (uuid.UUID, error) {
	path := filepath.Join(dataDir, "identifier")

	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate identifier: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return uuid.Nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0644); err != nil {
		return uuid.Nil, fmt.Errorf("persist identifier: %w", err)
	}
	return id, nil
}

func buildSelf(cfg *config.Config) (mixtypes.Destination, error) {
	addr, err := mixtypes.ParseDestinationAddress(cfg.SelfAddress)
	if err != nil {
		return mixtypes.Destination{}, err
	}
	id, err := loadOrCreateIdentifier(cfg.DataDir)
	if err != nil {
		return mixtypes.Destination{}, err
	}
	return mixtypes.Destination{Address: addr, Identifier: id}, nil
}

func runIdentity(logger *slog.Logger, configPath string) {
	cfg, logger := loadConfig(logger, configPath)
	self, err := buildSelf(cfg)
	if err != nil {
		logger.Error("failed to resolve identity", "error", err)
		os.Exit(1)
	}

	payload := fmt.Sprintf("mixnet:%x:%s", self.Address, self.Identifier)
	art, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		logger.Error("failed to render QR code", "error", err)
		os.Exit(1)
	}

	fmt.Println(art.ToString(false))
	fmt.Println(payload)
}

func runClient(logger *slog.Logger, configPath string) {
	logger.Info("starting mixclient", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfg, logger := loadConfig(logger, configPath)

	self, err := buildSelf(cfg)
	if err != nil {
		logger.Error("failed to resolve identity", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topo, err := topology.Fetch(ctx, cfg.Topology)
	if err != nil {
		logger.Error("failed to fetch topology", "error", err)
		os.Exit(1)
	}
	if len(topo.ProviderNodes) == 0 {
		logger.Error("topology contains no provider nodes")
		os.Exit(1)
	}
	chosenProvider := topo.ProviderNodes[0]
	logger.Info("topology fetched", "mix_nodes", len(topo.MixNodes), "provider_nodes", len(topo.ProviderNodes), "provider", chosenProvider.Host)

	var providerOpts []httpkit.ClientOption
	if cfg.Proxy.Enabled {
		providerOpts = append(providerOpts, httpkit.WithSOCKS5Proxy(cfg.Proxy.Address))
	}
	providerClient := provider.New(chosenProvider.Host, self, providerOpts...)

	var sender wire.Sender
	if cfg.Proxy.Enabled {
		sender, err = wire.NewSOCKS5Sender(cfg.Proxy.Address)
	} else {
		sender, err = wire.NewUDPSender()
	}
	if err != nil {
		logger.Error("failed to create wire sender", "error", err)
		os.Exit(1)
	}
	if closer, ok := sender.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var recorder pipeline.Recorder
	var statsStore *stats.Store
	if cfg.Stats.Enabled {
		statsStore, err = stats.Open(cfg.Stats.DBPath)
		if err != nil {
			logger.Error("failed to open stats store", "error", err)
			os.Exit(1)
		}
		defer statsStore.Close()
		recorder = statsStore
		logger.Info("stats store opened", "path", cfg.Stats.DBPath)
	}

	if cfg.Telemetry.Enabled {
		if statsStore == nil {
			logger.Error("telemetry.enabled requires stats.enabled")
			os.Exit(1)
		}
		clientID := cfg.Telemetry.ClientID
		if clientID == "" {
			clientID = "mixclient-" + self.Identifier.String()[:8]
		}
		pub := telemetry.New(cfg.Telemetry.Broker, clientID, cfg.Telemetry.Topic, cfg.Telemetry.Interval, statsStore, logger.With("component", "telemetry"))
		go func() {
			if err := pub.Run(ctx); err != nil {
				logger.Warn("telemetry publisher stopped", "error", err)
			}
		}()
	}

	var front pipeline.SocketFront
	switch cfg.Socket.Type {
	case config.SocketTCP:
		front = socketfront.NewTCP(cfg.Socket.ListeningAddress, logger.With("component", "socketfront"))
	case config.SocketWebSocket:
		front = socketfront.NewWebSocket(cfg.Socket.ListeningAddress, logger.With("component", "socketfront"))
	case config.SocketNone:
		front = socketfront.None{}
	}

	var authToken mixtypes.AuthToken
	if cfg.AuthToken != "" {
		authToken = mixtypes.NewAuthToken([]byte(cfg.AuthToken))
	}

	sup := pipeline.New(pipeline.Config{
		Self:          self,
		Topology:      topo,
		AuthToken:     authToken,
		LoopCoverMean: cfg.Timing.LoopCoverMean,
		SendMean:      cfg.Timing.SendMean,
		FetchInterval: cfg.Timing.FetchInterval,
	}, providerClient, sender, front, recorder, logger.With("component", "supervisor"))

	if err := sup.Boot(ctx); err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}

	logger.Info("mixclient running", "self", self.Address)
	if err := sup.Run(ctx); err != nil {
		logger.Error("client terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("mixclient shut down cleanly", "uptime", buildinfo.Uptime())
}
