package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUpstreamBaseURL is the agent authorization API host.
const DefaultUpstreamBaseURL = "https://web.bland.ai"

// DefaultDevOrigin is allowed when no CORS origin is configured, so a local
// browser UI works out of the box.
const DefaultDevOrigin = "http://localhost:3000"

type Config struct {
	Addr string

	// Agent credentials. Either may be empty at startup; the token endpoint
	// reports a configuration error per request instead of refusing to boot.
	AgentID string
	AuthKey string

	UpstreamBaseURL string

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the broker is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// CORSAllowedOrigins are the origins allowed to call the broker with
	// credentials. Empty means no browser origin is allowed.
	CORSAllowedOrigins map[string]struct{}

	// In-memory limits (per client) on the token endpoint.
	LimitRPS   float64
	LimitBurst int
	// LimitConcurrent caps in-flight token requests per client; 0 disables it.
	LimitConcurrent int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

// HasCredentials reports whether both the agent id and auth key are set.
func (c Config) HasCredentials() bool {
	return c.AgentID != "" && c.AuthKey != ""
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("TOKEN_BROKER_ADDR", ":"+envOr("PORT", "3003")),
		AgentID:                       strings.TrimSpace(os.Getenv("BLAND_AGENT_ID")),
		AuthKey:                       strings.TrimSpace(os.Getenv("BLAND_AUTH_KEY")),
		UpstreamBaseURL:               strings.TrimRight(envOr("TOKEN_BROKER_UPSTREAM_BASE_URL", DefaultUpstreamBaseURL), "/"),
		TrustProxyHeaders:             envBoolOr("TOKEN_BROKER_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:            make(map[string]struct{}),
		LimitRPS:                      envFloat64Or("TOKEN_BROKER_RATE_LIMIT_RPS", 1.0),
		LimitBurst:                    envIntOr("TOKEN_BROKER_RATE_LIMIT_BURST", 5),
		LimitConcurrent:               envIntOr("TOKEN_BROKER_MAX_CONCURRENT", 2),
		ReadHeaderTimeout:             envDurationOr("TOKEN_BROKER_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("TOKEN_BROKER_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("TOKEN_BROKER_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		UpstreamConnectTimeout:        envDurationOr("TOKEN_BROKER_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("TOKEN_BROKER_RESPONSE_HEADER_TIMEOUT", 15*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("CORS_ORIGIN")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("TOKEN_BROKER_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins[DefaultDevOrigin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks operational settings. Missing agent credentials are not a
// validation failure.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("TOKEN_BROKER_ADDR must not be empty")
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("TOKEN_BROKER_UPSTREAM_BASE_URL must be an absolute http(s) URL")
	}
	if c.LimitRPS < 0 {
		return fmt.Errorf("TOKEN_BROKER_RATE_LIMIT_RPS must be >= 0")
	}
	if c.LimitBurst < 0 {
		return fmt.Errorf("TOKEN_BROKER_RATE_LIMIT_BURST must be >= 0")
	}
	if c.LimitConcurrent < 0 {
		return fmt.Errorf("TOKEN_BROKER_MAX_CONCURRENT must be >= 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("TOKEN_BROKER_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("TOKEN_BROKER_READ_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("TOKEN_BROKER_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if c.UpstreamConnectTimeout <= 0 {
		return fmt.Errorf("TOKEN_BROKER_CONNECT_TIMEOUT must be > 0")
	}
	if c.UpstreamResponseHeaderTimeout <= 0 {
		return fmt.Errorf("TOKEN_BROKER_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
