package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-talk/pkg/broker/config"
)

func readyConfig() config.Config {
	return config.Config{
		Addr:                          ":3003",
		AgentID:                       "A1",
		AuthKey:                       "K1",
		UpstreamBaseURL:               config.DefaultUpstreamBaseURL,
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		ShutdownGracePeriod:           time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func TestRootHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	RootHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "API is running" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestNotFoundHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound || rr.Body.String() != "Sorry, that route doesn't exist." {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type=%q", ct)
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: readyConfig()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_MissingCredentials_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.AuthKey = ""

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["ok"] != false || resp["credentials_set"] != false {
		t.Fatalf("resp=%v", resp)
	}
	issues, _ := resp["issues"].([]any)
	if len(issues) != 1 || !strings.Contains(issues[0].(string), "BLAND_AUTH_KEY") {
		t.Fatalf("issues=%v", resp["issues"])
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	rr := httptest.NewRecorder()
	h := ReadyHandler{Config: readyConfig(), Draining: func() bool { return true }}
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
