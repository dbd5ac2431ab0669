package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-talk/pkg/broker/apierror"
	"github.com/vango-go/vai-talk/pkg/broker/config"
	"github.com/vango-go/vai-talk/pkg/broker/metrics"
	"github.com/vango-go/vai-talk/pkg/broker/mw"
	"github.com/vango-go/vai-talk/pkg/broker/upstream"
	"github.com/vango-go/vai-talk/pkg/core"
)

const (
	errFetchToken     = "Failed to fetch token"
	detailsMissingEnv = "Missing required environment variables"
)

// TokenHandler exchanges the configured agent credentials for a session token.
// Every request performs one fresh upstream authorization.
type TokenHandler struct {
	Config     config.Config
	Authorizer upstream.Authorizer
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.logger().With("request_id", reqID)

	logger.Info("token request",
		"agent_id", h.Config.AgentID,
		"auth_key_set", h.Config.AuthKey != "",
	)

	if !h.Config.HasCredentials() {
		logger.Error("missing required environment variables",
			"agent_id_set", h.Config.AgentID != "",
			"auth_key_set", h.Config.AuthKey != "",
		)
		h.Metrics.RecordTokenOutcome(metrics.OutcomeConfigError)
		apierror.WriteError(w, core.NewConfigurationError(apierror.MsgServerConfiguration, detailsMissingEnv))
		return
	}

	start := time.Now()
	resp, err := h.Authorizer.Authorize(r.Context(), h.Config.AgentID, h.Config.AuthKey)
	if err != nil {
		h.Metrics.RecordUpstream(0, time.Since(start))
		h.Metrics.RecordTokenOutcome(metrics.OutcomeTransportError)
		logger.Error("authorize request failed", "error", err)
		transportErr := core.NewTransportError(errFetchToken, err)
		transportErr.Details = transportDetails(err)
		apierror.WriteError(w, transportErr)
		return
	}
	h.Metrics.RecordUpstream(resp.StatusCode, time.Since(start))
	logger.Info("authorize response", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		h.Metrics.RecordTokenOutcome(metrics.OutcomeUpstreamError)
		logger.Error("authorize rejected", "status", resp.StatusCode, "body_bytes", len(resp.Body))
		apierror.WriteError(w, core.NewUpstreamError(errFetchToken, resp.StatusCode, string(resp.Body)))
		return
	}

	out, err := withAgentID(resp.Body, h.Config.AgentID)
	if err != nil {
		h.Metrics.RecordTokenOutcome(metrics.OutcomeInvalidUpstream)
		logger.Error("invalid authorize response", "error", err)
		apierror.WriteError(w, core.NewUpstreamError(errFetchToken, 0, "invalid upstream response: "+err.Error()))
		return
	}

	h.Metrics.RecordTokenOutcome(metrics.OutcomeOK)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h TokenHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// withAgentID decodes an upstream JSON object and re-encodes it with agentId
// set to the configured agent, overriding any upstream value.
func withAgentID(body []byte, agentID string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("expected a JSON object")
	}
	id, err := json.Marshal(agentID)
	if err != nil {
		return nil, err
	}
	fields["agentId"] = id
	return json.Marshal(fields)
}

func transportDetails(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Details != "" {
		return coreErr.Details
	}
	return err.Error()
}
