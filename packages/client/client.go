package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

const tracerName = "github.com/abdul-hamid-achik/hitbatch/packages/client"

// Client is an hhttp.Client on top of a transport.Backend. The backend
// must outlive the client, and the client every handle it produced.
type Client struct {
	backend          transport.Backend
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *metrics.Collector
	pollTimeout      time.Duration
	progressInterval time.Duration
	connectTimeout   time.Duration
	caBundle         string
	followRedirects  bool
	maxRedirects     int
	defaultHeaders   map[string]string
}

var _ hhttp.Client = (*Client)(nil)

func NewClient(backend transport.Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:          backend,
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
		pollTimeout:      DefaultPollTimeout,
		progressInterval: transport.DefaultProgressInterval,
		connectTimeout:   transport.DefaultConnectTimeout,
		followRedirects:  true,
		maxRedirects:     transport.DefaultMaxRedirects,
		defaultHeaders:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// EnqueueRequest wraps req in a RequestHandle bound to a new connection.
// No I/O happens until PerformRequests.
func (c *Client) EnqueueRequest(req hhttp.Request) (hhttp.RequestHandle, error) {
	headers := req.ExtraHeaders()
	keys := make([]string, 0, len(headers))
	for _, h := range headers {
		keys = append(keys, h.Key)
	}
	c.logger.Debug("enqueueing request",
		"method", req.Method().String(),
		"uri", req.URI(),
		"body", req.HasBody(),
		"headers", keys)

	conn, err := c.backend.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: creating connection: %v", hhttp.ErrInternal, err)
	}
	return newRequestHandle(c, req, conn), nil
}

// PerformRequests executes every request concurrently and returns once all
// of them completed. Cancelling ctx cancels every handle; the call still
// waits for the transfers to stop. A non-nil error means the driver itself
// failed and the batch as a whole is lost.
func (c *Client) PerformRequests(ctx context.Context, requests []hhttp.HandleCallback) (err error) {
	ctx, span := c.tracer.Start(ctx, "client.PerformRequests",
		trace.WithAttributes(attribute.Int("hitbatch.requests", len(requests))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.logger.Debug("performing requests", "count", len(requests))

	multi, err := c.backend.NewMulti()
	if err != nil {
		return fmt.Errorf("%w: creating multi: %v", hhttp.ErrInternal, err)
	}
	defer multi.Close()

	handles := make(map[transport.Conn]*RequestHandle, len(requests))
	for _, rc := range requests {
		h, ok := rc.Handle.(*RequestHandle)
		if !ok || h.client != c {
			return fmt.Errorf("%w: handle was not created by this client", hhttp.ErrInvalidArgument)
		}
		if rc.Callback == nil {
			return fmt.Errorf("%w: missing callback for request %s", hhttp.ErrInvalidArgument, h.ID())
		}
		added, err := h.addToMulti(multi, rc.Callback)
		if err != nil {
			return err
		}
		if added {
			handles[h.conn] = h
		}
	}

	stop := context.AfterFunc(ctx, func() {
		c.logger.Warn("batch context done, cancelling requests", "error", ctx.Err())
		for _, rc := range requests {
			rc.Handle.Cancel()
		}
	})
	defer stop()

	return c.performBlocked(multi, handles)
}

func (c *Client) performBlocked(multi transport.Multi, handles map[transport.Conn]*RequestHandle) error {
	running := -1
	for running != 0 {
		var err error
		running, err = multi.Perform()
		if err != nil {
			c.logger.Error("multi perform failed", "error", err)
			return fmt.Errorf("%w: multi perform failed: %v", hhttp.ErrInternal, err)
		}

		c.readCompleted(multi, handles)

		if running > 0 {
			if err := multi.Poll(c.pollTimeout); err != nil {
				c.logger.Error("multi poll failed", "error", err)
				return fmt.Errorf("%w: multi poll failed: %v", hhttp.ErrInternal, err)
			}
		}
	}
	return nil
}

func (c *Client) readCompleted(multi transport.Multi, handles map[transport.Conn]*RequestHandle) {
	for msg, ok := multi.InfoRead(); ok; msg, ok = multi.InfoRead() {
		h, found := handles[msg.Conn]
		if !found {
			continue
		}
		delete(handles, msg.Conn)

		outcome := h.markCompleted(msg.Err)
		_ = multi.Remove(msg.Conn)

		usage := h.TotalSentReceivedBytes()
		c.logger.Info("request finished",
			"id", h.ID(),
			"uri", h.request.URI(),
			"status", h.parser.StatusCode(),
			"sent", usage.Sent,
			"received", usage.Received,
			"error", outcome)

		if c.metrics != nil {
			c.metrics.Record(metrics.Sample{
				Name:     h.request.Method().String() + " " + h.request.URI(),
				Duration: time.Since(h.addedAt),
				Err:      outcome,
				Sent:     usage.Sent,
				Received: usage.Received,
			})
		}
	}
}

// mergeHeaders appends default headers the request does not set itself.
func (c *Client) mergeHeaders(headers hhttp.HeaderList) hhttp.HeaderList {
	merged := headers.Clone()
	for _, h := range hhttp.FromMap(c.defaultHeaders) {
		if !merged.Has(h.Key) {
			merged = append(merged, h)
		}
	}
	return merged
}
