// Package httputil builds the Scraper-facing HTTP client: bounded retries
// with full-jitter exponential backoff and a per-request timeout, wired through github.com/hashicorp/go-retryablehttp.
package httputil

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"condoreconcile/config"
)

// NewScraperClient returns a *http.Client whose Transport retries
// NetworkTransient failures (timeouts, 5xx) up to cfg.HTTPRetries times with
// exponential backoff 1s -> 2s -> 4s and full jitter, and otherwise behaves
// like a normal client. 404s and other 4xx are not retried — the caller classifies those itself.
func NewScraperClient(cfg *config.Config, log zerolog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.HTTPRetries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 4 * time.Second
	rc.HTTPClient.Timeout = cfg.HTTPTimeout
	rc.Logger = nil
	rc.Backoff = fullJitterBackoff
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Warn().Str("url", req.URL.String()).Int("attempt", attempt).Msg("retrying request")
		}
	}
	return rc.StandardClient()
}

// fullJitterBackoff implements 1s->2s->4s exponential backoff with full
// jitter: wait = random(0, min(max, base*2^attempt)).
func fullJitterBackoff(minDur, maxDur time.Duration, attemptNum int, _ *http.Response) time.Duration {
	base := minDur
	for i := 0; i < attemptNum; i++ {
		base *= 2
		if base > maxDur {
			base = maxDur
			break
		}
	}
	if base <= 0 {
		return minDur
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// WithTimeout is a convenience wrapper for scrapers issuing one-off requests
// outside the shared client (e.g. HEAD checks), giving them the same
// per-request timeout the rest of the system uses.
func WithTimeout(parent context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, cfg.HTTPTimeout)
}
