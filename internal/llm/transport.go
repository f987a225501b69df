package llm

import (
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// endpointURL joins the configured base URL and the dialect path. A base URL
// that already ends with the path is used unchanged.
func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

// newLimiter paces outgoing requests. Zero or negative rps disables pacing.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
