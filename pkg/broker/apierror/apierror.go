package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vango-go/vai-talk/pkg/core"
)

// MsgServerConfiguration is the error text for missing broker credentials.
// Clients key on it to tell configuration failures from upstream ones.
const MsgServerConfiguration = "Server configuration error"

// Body is the JSON error shape returned by every broker endpoint.
type Body struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// FromError maps err to a response body and HTTP status. Upstream errors
// keep the upstream status, or 502 when there is none; every other kind is 500.
func FromError(err error) (Body, int) {
	if err == nil {
		return Body{}, http.StatusOK
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		body := Body{Error: coreErr.Message, Details: coreErr.Details}
		if coreErr.Kind == core.ErrUpstream {
			if coreErr.Status >= 100 && coreErr.Status <= 999 {
				return body, coreErr.Status
			}
			return body, http.StatusBadGateway
		}
		return body, http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Body{Error: "request timeout", Details: err.Error()}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return Body{Error: "request cancelled", Details: err.Error()}, http.StatusRequestTimeout
	}

	// Unknown errors: do not leak details.
	return Body{Error: "internal error", Details: ""}, http.StatusInternalServerError
}

// ToError turns a non-2xx broker response back into a *core.Error. It is the
// client-side inverse of FromError.
func ToError(status int, raw []byte) *core.Error {
	var body Body
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		return core.NewUpstreamError(
			fmt.Sprintf("request failed with status %d", status),
			status,
			strings.TrimSpace(string(raw)),
		)
	}
	if body.Error == MsgServerConfiguration {
		e := core.NewConfigurationError(body.Error, body.Details)
		e.Status = status
		return e
	}
	return core.NewUpstreamError(body.Error, status, body.Details)
}

// Write writes body as JSON with the given status.
func Write(w http.ResponseWriter, status int, body Body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps err with FromError and writes the result.
func WriteError(w http.ResponseWriter, err error) {
	body, status := FromError(err)
	Write(w, status, body)
}
