package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-talk/pkg/broker/config"
	"github.com/vango-go/vai-talk/pkg/core"
)

// maxResponseBytes bounds how much of an upstream authorize response is read.
const maxResponseBytes = 1 << 20

// Response is a completed upstream exchange, whatever its status.
type Response struct {
	StatusCode int
	Body       []byte
}

// Authorizer exchanges agent credentials for a session token.
type Authorizer interface {
	Authorize(ctx context.Context, agentID, authKey string) (*Response, error)
}

// Client calls POST {BaseURL}/v1/agents/{agentID}/authorize.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPClient builds the upstream HTTP client from the broker timeouts.
func NewHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}
}

// AuthorizeURL returns the authorize endpoint for agentID.
func (c *Client) AuthorizeURL(agentID string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = config.DefaultUpstreamBaseURL
	}
	return base + "/v1/agents/" + url.PathEscape(agentID) + "/authorize"
}

// Authorize issues exactly one POST with the auth key in the Authorization
// header and no body. Any received status is returned as a Response; only a
// failure to get a response at all is an error, always of kind transport.
func (c *Client) Authorize(ctx context.Context, agentID, authKey string) (*Response, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	endpoint := c.AuthorizeURL(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return nil, core.NewTransportError("build authorize request", err)
	}
	req.Header.Set("Authorization", authKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, core.NewTransportError("authorize request failed", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return nil, core.NewTransportError(fmt.Sprintf("read authorize response (status %d)", resp.StatusCode), err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: buf.Bytes()}, nil
}
