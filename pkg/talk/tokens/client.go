// Package tokens fetches session credentials from the token broker.
package tokens

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-talk/pkg/broker/apierror"
	"github.com/vango-go/vai-talk/pkg/core"
	"github.com/vango-go/vai-talk/pkg/talk/session"
)

// DefaultBrokerURL is where the broker listens in local development.
const DefaultBrokerURL = "http://localhost:3003"

const (
	tokenPath           = "/api/token"
	maxBodyBytes        = 1 << 20
	tokenMissingMessage = "Token or Agent ID not received from server"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client for the broker at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	Token   string `json:"token"`
	AgentID string `json:"agentId"`
}

// FetchToken performs one GET /api/token.
func (c *Client) FetchToken(ctx context.Context) (session.Credentials, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBrokerURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+tokenPath, nil)
	if err != nil {
		return session.Credentials{}, core.NewTransportError("build token request", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return session.Credentials{}, core.NewTransportError("fetch token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return session.Credentials{}, core.NewTransportError("read token response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session.Credentials{}, apierror.ToError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return session.Credentials{}, core.NewUpstreamError("invalid token response", resp.StatusCode, err.Error())
	}
	if tr.Token == "" || tr.AgentID == "" {
		return session.Credentials{}, core.NewConfigurationError(tokenMissingMessage, "")
	}
	return session.Credentials{Token: tr.Token, AgentID: tr.AgentID}, nil
}
