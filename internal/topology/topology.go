// Package topology performs the core's one-shot, boot-time topology
// fetch (spec §4.6 step 1). Two backends are supported: a plain HTTP
// directory endpoint, and a JSON directory snapshot committed to a
// GitHub repository, fetched via the GitHub contents API. Non-goal: no
// mid-session refresh — the snapshot returned here is cloned by value
// into every task and never mutated.
package topology

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-github/v69/github"
	"github.com/nugget/mixclient/internal/config"
	"github.com/nugget/mixclient/internal/httpkit"
	"github.com/nugget/mixclient/internal/mixtypes"
)

// directoryDoc is the wire format both backends decode into before
// normalizing to mixtypes.Topology.
type directoryDoc struct {
	MixNodes []struct {
		Address string `json:"address"` // hex-encoded, AddressSize bytes
		Host    string `json:"host"`
	} `json:"mix_nodes"`
	ProviderNodes []struct {
		Address string `json:"address"`
		Host    string `json:"host"`
	} `json:"provider_nodes"`
}

// Fetch retrieves the topology snapshot using the backend named in cfg.
func Fetch(ctx context.Context, cfg config.TopologyConfig) (mixtypes.Topology, error) {
	switch cfg.Backend {
	case config.TopologyHTTP:
		return fetchHTTP(ctx, cfg.URL)
	case config.TopologyGitHub:
		return fetchGitHub(ctx, cfg.GitHub)
	default:
		return mixtypes.Topology{}, fmt.Errorf("topology: unknown backend %q", cfg.Backend)
	}
}

func fetchHTTP(ctx context.Context, url string) (mixtypes.Topology, error) {
	client := httpkit.NewClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: fetch %s: %w", url, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return mixtypes.Topology{}, fmt.Errorf("topology: fetch %s: status %s: %s", url, resp.Status, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var doc directoryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: decode directory: %w", err)
	}
	return normalize(doc)
}

func fetchGitHub(ctx context.Context, cfg config.GitHubTopologyConfig) (mixtypes.Topology, error) {
	client := github.NewClient(httpkit.NewClient())
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return mixtypes.Topology{}, fmt.Errorf("topology: configure github base url: %w", err)
		}
	}

	owner, repo, err := splitRepo(cfg.Repo)
	if err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: %w", err)
	}

	var opts *github.RepositoryContentGetOptions
	if cfg.Ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: cfg.Ref}
	}

	content, _, _, err := client.Repositories.GetContents(ctx, owner, repo, cfg.Path, opts)
	if err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: fetch %s/%s@%s: %w", cfg.Repo, cfg.Path, cfg.Ref, err)
	}
	if content == nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: %s/%s is a directory, not a file", cfg.Repo, cfg.Path)
	}

	raw, err := content.GetContent()
	if err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: decode %s/%s content: %w", cfg.Repo, cfg.Path, err)
	}
	// go-github's GetContent already decodes base64 content and returns
	// an error for an unsupported encoding. The second decode below only
	// replaces raw when it succeeds, so already-decoded JSON (never valid
	// base64) passes through unchanged.
	if content.GetEncoding() == "base64" {
		decoded, decErr := base64.StdEncoding.DecodeString(raw)
		if decErr == nil {
			raw = string(decoded)
		}
	}

	var doc directoryDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return mixtypes.Topology{}, fmt.Errorf("topology: decode directory: %w", err)
	}
	return normalize(doc)
}

func normalize(doc directoryDoc) (mixtypes.Topology, error) {
	topo := mixtypes.Topology{
		MixNodes:      make([]mixtypes.MixNode, 0, len(doc.MixNodes)),
		ProviderNodes: make([]mixtypes.ProviderNode, 0, len(doc.ProviderNodes)),
	}
	for _, n := range doc.MixNodes {
		addr, err := mixtypes.ParseDestinationAddress(n.Address)
		if err != nil {
			return mixtypes.Topology{}, fmt.Errorf("topology: mix node %q: %w", n.Host, err)
		}
		topo.MixNodes = append(topo.MixNodes, mixtypes.MixNode{Address: addr, Host: n.Host})
	}
	for _, n := range doc.ProviderNodes {
		addr, err := mixtypes.ParseDestinationAddress(n.Address)
		if err != nil {
			return mixtypes.Topology{}, fmt.Errorf("topology: provider node %q: %w", n.Host, err)
		}
		topo.ProviderNodes = append(topo.ProviderNodes, mixtypes.ProviderNode{Address: addr, Host: n.Host})
	}
	return topo, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			if i == 0 || i == len(repo)-1 {
				break
			}
			return repo[:i], repo[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid repo format %q, expected owner/repo", repo)
}
