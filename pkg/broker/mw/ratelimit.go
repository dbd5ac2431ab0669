package mw

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-talk/pkg/broker/apierror"
	"github.com/vango-go/vai-talk/pkg/broker/config"
	"github.com/vango-go/vai-talk/pkg/broker/metrics"
	"github.com/vango-go/vai-talk/pkg/broker/ratelimit"
)

// RateLimit guards a single handler (the token route) with a per-client limiter.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		client := ClientKey(r, cfg.TrustProxyHeaders)
		dec := limiter.AcquireRequest(client, time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit()
			m.RecordTokenOutcome(metrics.OutcomeRateLimited)
			if logger != nil {
				reqID, _ := RequestIDFrom(r.Context())
				logger.Warn("token request rate limited", "request_id", reqID, "client", client, "retry_after", dec.RetryAfter)
			}
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			apierror.Write(w, http.StatusTooManyRequests, apierror.Body{
				Error:   "Too many token requests",
				Details: "rate limit exceeded, retry after " + strconv.Itoa(dec.RetryAfter) + "s",
			})
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
