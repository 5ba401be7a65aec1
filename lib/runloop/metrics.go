package runloop

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/onkernel/swebench-blueprints/lib/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics holds the OTel metrics for outgoing API requests.
type HTTPMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewHTTPMetrics creates new HTTP metrics instruments.
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"runloop_http_requests_total",
		metric.WithDescription("Total number of Runloop API requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"runloop_http_request_duration_seconds",
		metric.WithDescription("Runloop API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
	}, nil
}

// Transport wraps next so every request is counted, timed and logged at
// debug level through the logger carried by the request context.
func (m *HTTPMetrics) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		route := routePattern(r.URL.Path)

		attrs := []attribute.KeyValue{
			attribute.String("method", r.Method),
			attribute.String("path", route),
			attribute.Int("status", status),
		}
		m.requestsTotal.Add(r.Context(), 1, metric.WithAttributes(attrs...))
		m.requestDuration.Record(r.Context(), duration.Seconds(), metric.WithAttributes(attrs...))

		logger.FromContext(r.Context()).DebugContext(r.Context(),
			fmt.Sprintf("%s %s %d %dms", r.Method, route, status, duration.Milliseconds()),
			"method", r.Method,
			"path", route,
			"status", status,
			"duration_ms", duration.Milliseconds(),
		)
		return resp, err
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// routePattern collapses blueprint ids so the path attribute stays low-cardinality
func routePattern(p string) string {
	const prefix = "/v1/blueprints/"
	if rest, ok := strings.CutPrefix(p, prefix); ok && rest != "" {
		return prefix + "{id}"
	}
	return strings.TrimRight(p, "/")
}

// WithMetrics records request metrics on the client's transport
func WithMetrics(m *HTTPMetrics) Option {
	return func(c *Client) {
		if m == nil {
			return
		}
		c.httpClient.Transport = m.Transport(c.httpClient.Transport)
	}
}
