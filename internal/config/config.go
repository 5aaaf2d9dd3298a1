// Package config handles mixclient configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/mixclient/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mixclient/config.yaml, /config/config.yaml,
// /etc/mixclient/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mixclient", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/mixclient/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mixclient configuration.
type Config struct {
	// SelfAddress is this client's Sphinx destination address, hex-encoded.
	SelfAddress string `yaml:"self_address"`

	Socket   SocketConfig   `yaml:"socket"`
	Topology TopologyConfig `yaml:"topology"`
	Timing   TimingConfig   `yaml:"timing"`

	// AuthToken is an optional pre-provisioned provider credential. If
	// empty, the supervisor registers with the provider at boot.
	AuthToken string `yaml:"auth_token"`

	Stats     StatsConfig     `yaml:"stats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Proxy     ProxyConfig     `yaml:"proxy"`

	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// SocketKind enumerates the supported application front-ends.
type SocketKind string

const (
	SocketTCP       SocketKind = "tcp"
	SocketWebSocket SocketKind = "websocket"
	SocketNone      SocketKind = "none"
)

// SocketConfig configures the application-facing front-end.
type SocketConfig struct {
	// Type selects the front-end. One of "tcp", "websocket", "none".
	Type SocketKind `yaml:"type"`
	// ListeningAddress is where the front-end listens (host:port).
	// Opaque to the traffic pipeline.
	ListeningAddress string `yaml:"listening_address"`
}

// TopologyBackend enumerates the supported topology-directory backends.
type TopologyBackend string

const (
	TopologyHTTP   TopologyBackend = "http"
	TopologyGitHub TopologyBackend = "github"
)

// TopologyConfig configures the one-shot, boot-time topology fetch.
type TopologyConfig struct {
	// Backend selects how the directory snapshot is retrieved.
	Backend TopologyBackend `yaml:"backend"`
	// URL is the directory endpoint for the "http" backend.
	URL string `yaml:"url"`
	// GitHub holds the repo coordinates for the "github" backend.
	GitHub GitHubTopologyConfig `yaml:"github"`
}

// GitHubTopologyConfig names a git-hosted JSON directory snapshot.
type GitHubTopologyConfig struct {
	// Repo is "owner/repo".
	Repo string `yaml:"repo"`
	// Path is the file path within the repo (e.g. "directory/topology.json").
	Path string `yaml:"path"`
	// Ref is the branch, tag, or commit SHA to fetch. Empty means the
	// repo's default branch.
	Ref string `yaml:"ref"`
	// Token is an optional GitHub API token, for private directories or
	// to raise the unauthenticated rate limit.
	Token string `yaml:"token"`
	// BaseURL overrides the API base URL for GitHub Enterprise.
	BaseURL string `yaml:"base_url"`
}

// TimingConfig holds the three timing constants named in the spec.
// LoopCoverMean and SendMean are Poisson means; FetchInterval is a
// fixed, non-Poisson polling cadence.
type TimingConfig struct {
	LoopCoverMean time.Duration `yaml:"loop_cover_mean"`
	SendMean      time.Duration `yaml:"send_mean"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
}

// StatsConfig configures the local operational-counters store. This
// never holds received-message payloads, only counts and timestamps.
type StatsConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// TelemetryConfig configures the optional MQTT mirror of stats counters.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
}

// ProxyConfig configures an optional SOCKS5 proxy used by the provider
// client and mix wire sender (e.g. to tunnel over Tor).
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults to the unset fields that have one, and
// validates the result. Optional fields without a default (AuthToken,
// Telemetry.ClientID, Proxy.Address and others) may still be empty.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${AUTH_TOKEN}). Convenience
	// for container deployments; putting values directly in the config
	// file remains the recommended approach.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with the timing constants
// and paths named in the spec. Called automatically by Load.
func (c *Config) applyDefaults() {
	if c.Socket.Type == "" {
		c.Socket.Type = SocketNone
	}
	if c.Topology.Backend == "" {
		c.Topology.Backend = TopologyHTTP
	}
	if c.Timing.LoopCoverMean == 0 {
		c.Timing.LoopCoverMean = 500 * time.Millisecond
	}
	if c.Timing.SendMean == 0 {
		c.Timing.SendMean = 500 * time.Millisecond
	}
	if c.Timing.FetchInterval == 0 {
		c.Timing.FetchInterval = 1 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Stats.DBPath == "" {
		c.Stats.DBPath = filepath.Join(c.DataDir, "stats.db")
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = 30 * time.Second
	}
	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = "mixclient/stats"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.SelfAddress == "" {
		return fmt.Errorf("self_address must be set")
	}
	switch c.Socket.Type {
	case SocketTCP, SocketWebSocket, SocketNone:
	default:
		return fmt.Errorf("socket.type %q must be one of tcp, websocket, none", c.Socket.Type)
	}
	if c.Socket.Type != SocketNone && c.Socket.ListeningAddress == "" {
		return fmt.Errorf("socket.listening_address required when socket.type is %q", c.Socket.Type)
	}
	switch c.Topology.Backend {
	case TopologyHTTP:
		if c.Topology.URL == "" {
			return fmt.Errorf("topology.url required for backend %q", c.Topology.Backend)
		}
	case TopologyGitHub:
		if c.Topology.GitHub.Repo == "" || c.Topology.GitHub.Path == "" {
			return fmt.Errorf("topology.github.repo and topology.github.path required for backend %q", c.Topology.Backend)
		}
	default:
		return fmt.Errorf("topology.backend %q must be one of http, github", c.Topology.Backend)
	}
	if c.Telemetry.Enabled && c.Telemetry.Broker == "" {
		return fmt.Errorf("telemetry.broker required when telemetry.enabled")
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}
