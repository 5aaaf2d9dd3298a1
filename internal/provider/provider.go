// Package provider is the reference implementation of the core's
// store-and-forward provider collaborator: register, update the held
// auth token, and retrieve pending messages. Real provider wire
// protocols are out of this project's scope (spec §1); this package
// gives the reference binary something real to talk to over HTTP.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nugget/mixclient/internal/httpkit"
	"github.com/nugget/mixclient/internal/mixtypes"
)

// Client talks to a single provider node bound at construction. It
// holds at most one AuthToken, matching the "only one auth token exists
// per session" invariant (spec §3).
type Client struct {
	httpClient *http.Client
	baseURL    string
	self       mixtypes.Destination
	token      mixtypes.AuthToken
}

// New binds a provider client to addr for the given client destination.
func New(addr string, self mixtypes.Destination, opts ...httpkit.ClientOption) *Client {
	return &Client{
		httpClient: httpkit.NewClient(opts...),
		baseURL:    "http://" + addr,
		self:       self,
	}
}

// UpdateToken sets the credential presented on every subsequent call.
func (c *Client) UpdateToken(token mixtypes.AuthToken) {
	c.token = token
}

type registerRequest struct {
	Address    mixtypes.DestinationAddress `json:"address"`
	Identifier string                      `json:"identifier"`
}

type registerResponse struct {
	Token []byte `json:"token"`
}

// Register obtains a new auth token from the provider for this
// client's destination. Called at most once per session (spec §6).
func (c *Client) Register(ctx context.Context) (mixtypes.AuthToken, error) {
	body, err := json.Marshal(registerRequest{
		Address:    c.self.Address,
		Identifier: c.self.Identifier.String(),
	})
	if err != nil {
		return mixtypes.AuthToken{}, fmt.Errorf("provider: marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return mixtypes.AuthToken{}, fmt.Errorf("provider: build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mixtypes.AuthToken{}, fmt.Errorf("provider: register: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return mixtypes.AuthToken{}, fmt.Errorf("provider: register: status %s: %s", resp.Status, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return mixtypes.AuthToken{}, fmt.Errorf("provider: decode register response: %w", err)
	}
	return mixtypes.NewAuthToken(out.Token), nil
}

type retrieveResponse struct {
	Messages [][]byte `json:"messages"`
}

// RetrieveMessages fetches pending messages for this client's
// destination, authenticated with the held token. Failures here are
// fatal to the client session (spec §7 item 4): the provider is
// essential for correctness of receive.
func (c *Client) RetrieveMessages(ctx context.Context) ([][]byte, error) {
	if c.token.Zero() {
		return nil, fmt.Errorf("provider: retrieve messages: no auth token set")
	}

	url := fmt.Sprintf("%s/messages?identifier=%s", c.baseURL, c.self.Identifier.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build retrieve request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(c.token.Bytes()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: retrieve messages: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: retrieve messages: status %s: %s", resp.Status, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var out retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider: decode retrieve response: %w", err)
	}
	return out.Messages, nil
}
