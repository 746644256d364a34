package client

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

const (
	// DefaultPollTimeout bounds each wait of the driver loop
	DefaultPollTimeout = time.Second
)

type ClientOption func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPollTimeout sets how long the driver loop waits for I/O per iteration
func WithPollTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollTimeout = d
	}
}

// WithCABundle sets a PEM file whose certificates replace the system roots
func WithCABundle(path string) ClientOption {
	return func(c *Client) {
		c.caBundle = path
	}
}

func WithFollowRedirects(follow bool) ClientOption {
	return func(c *Client) {
		c.followRedirects = follow
	}
}

func WithMaxRedirects(max int) ClientOption {
	return func(c *Client) {
		c.maxRedirects = max
	}
}

// WithProgressInterval sets how often a running request checks for
// cancellation through the transport progress callback
func WithProgressInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.progressInterval = d
	}
}

// WithConnectTimeout bounds dialing and the TLS handshake
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithDefaultHeaders adds headers to every request that does not already
// set them
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithMetrics records the outcome of every completed request
func WithMetrics(collector *metrics.Collector) ClientOption {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithTracerProvider sets the provider of the tracer used for batch spans
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

var _ transport.Backend = (*transport.API)(nil)
