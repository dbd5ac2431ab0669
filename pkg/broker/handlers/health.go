package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-talk/pkg/broker/config"
)

// RootHandler answers the liveness banner on "/".
type RootHandler struct{}

func (h RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("API is running"))
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
	// Draining reports whether the server is shutting down. Optional.
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		CredentialsSet bool     `json:"credentials_set"`
		LimitsEnabled  bool     `json:"limits_enabled"`
		CORSOrigins    int      `json:"cors_origins"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 3)
	if h.Config.AgentID == "" {
		issues = append(issues, "BLAND_AGENT_ID is not set")
	}
	if h.Config.AuthKey == "" {
		issues = append(issues, "BLAND_AUTH_KEY is not set")
	}
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	draining := h.Draining != nil && h.Draining()

	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case len(issues) > 0:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             status == http.StatusOK,
		Draining:       draining,
		CredentialsSet: h.Config.HasCredentials(),
		LimitsEnabled:  (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) || h.Config.LimitConcurrent > 0,
		CORSOrigins:    len(h.Config.CORSAllowedOrigins),
		Issues:         issues,
	})
}
