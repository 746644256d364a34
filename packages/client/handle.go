package client

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

// State is the lifecycle of a RequestHandle.
type State int

const (
	StateCreated State = iota
	StateAddedToBatch
	StateExecuting
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAddedToBatch:
		return "added-to-batch"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RequestHandle binds one request to its transport connection.
type RequestHandle struct {
	id      uuid.UUID
	client  *Client
	request hhttp.Request
	conn    transport.Conn
	parser  *hhttp.HeaderParser

	mu        sync.Mutex
	state     State
	performed bool
	cancelled bool
	callback  hhttp.Callback

	// Owned by the driver goroutine once performed.
	response *hhttp.ParsedResponse
	started  bool
	failed   error
	addedAt  time.Time
}

func newRequestHandle(c *Client, req hhttp.Request, conn transport.Conn) *RequestHandle {
	return &RequestHandle{
		id:      uuid.New(),
		client:  c,
		request: req,
		conn:    conn,
		parser:  hhttp.NewHeaderParser(),
	}
}

// ID returns the unique identifier of the handle
func (h *RequestHandle) ID() string {
	return h.id.String()
}

// Request returns the wrapped request
func (h *RequestHandle) Request() hhttp.Request {
	return h.request
}

// State returns the current lifecycle state
func (h *RequestHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// TotalSentReceivedBytes returns the raw bytes moved by the connection so
// far. It may be called while the request is running.
func (h *RequestHandle) TotalSentReceivedBytes() hhttp.SentReceivedBytes {
	sent, received := h.conn.SentReceivedBytes()
	return hhttp.SentReceivedBytes{Sent: sent, Received: received}
}

// Cancel stops the request. It is a no-op once the request completed or
// was already cancelled.
func (h *RequestHandle) Cancel() {
	h.mu.Lock()
	if h.state == StateCompleted || h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	h.state = StateCancelled
	h.mu.Unlock()

	h.client.logger.Debug("cancelling request", "id", h.ID(), "uri", h.request.URI())
	h.conn.Cancel()
}

// Close releases the transport connection.
func (h *RequestHandle) Close() error {
	return h.conn.Close()
}

func (h *RequestHandle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// addToMulti configures the connection and adds it to multi. It reports
// false when the handle was cancelled before being added; the callback has
// then already received its error.
func (h *RequestHandle) addToMulti(multi transport.Multi, callback hhttp.Callback) (bool, error) {
	h.mu.Lock()
	if h.performed {
		h.mu.Unlock()
		return false, fmt.Errorf("%w: request %s was already performed", hhttp.ErrInvalidArgument, h.ID())
	}
	h.performed = true
	h.callback = callback
	cancelled := h.cancelled
	if cancelled {
		h.state = StateCompleted
	} else {
		h.state = StateAddedToBatch
	}
	h.mu.Unlock()

	if cancelled {
		callback.OnResponseError(h.request, fmt.Errorf("%w: request cancelled before it was sent", hhttp.ErrCancelled))
		return false, nil
	}

	if err := h.conn.Configure(h.connConfig()); err != nil {
		return false, fmt.Errorf("configuring request to %s: %w", h.request.URI(), err)
	}
	if err := multi.Add(h.conn); err != nil {
		return false, fmt.Errorf("%w: adding request to batch: %v", hhttp.ErrInternal, err)
	}
	h.addedAt = time.Now()
	return true, nil
}

func (h *RequestHandle) connConfig() transport.ConnConfig {
	c := h.client
	headers := c.mergeHeaders(h.request.ExtraHeaders())

	// Without an explicit Accept-Encoding the transport negotiates and
	// decodes the encoding itself.
	decode := !headers.Has(hhttp.HeaderAcceptEncoding)
	if decode {
		h.parser.SuppressEncodingHeaders()
	}

	cfg := transport.ConnConfig{
		Method:           h.request.Method().String(),
		URL:              h.request.URI(),
		Headers:          headers,
		ContentLength:    -1,
		DecodeContent:    decode,
		FollowRedirects:  c.followRedirects,
		MaxRedirects:     c.maxRedirects,
		CABundle:         c.caBundle,
		ConnectTimeout:   c.connectTimeout,
		ProgressInterval: c.progressInterval,
		OnHeaderLine:     h.onHeaderLine,
		OnBody:           h.onBody,
		OnProgress:       h.onProgress,
	}
	if h.request.HasBody() {
		cfg.ReadBody = h.readBody
		if v, ok := hhttp.FindHeader(headers, hhttp.HeaderContentLength); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.ContentLength = n
			}
		}
	}
	return cfg
}

func (h *RequestHandle) readBody(p []byte) (int, error) {
	n, err := h.request.ReadBody(p)
	if errors.Is(err, hhttp.ErrOutOfRange) {
		return n, io.EOF
	}
	return n, err
}

func (h *RequestHandle) onHeaderLine(line string) {
	h.mu.Lock()
	if h.state == StateAddedToBatch {
		h.state = StateExecuting
	}
	h.mu.Unlock()

	h.parser.ParseLine(line)
}

func (h *RequestHandle) onBody(data []byte) error {
	if err := h.ensureStarted(); err != nil {
		return err
	}
	if err := h.callback.OnResponseBody(h.request, h.response, data); err != nil {
		h.failed = err
		return err
	}
	return nil
}

// onProgress aborts the transfer once the handle is cancelled.
func (h *RequestHandle) onProgress(transport.Progress) bool {
	return h.isCancelled()
}

// ensureStarted fires OnResponseStarted with the final header block. It is
// deferred until body data or completion because interim redirect blocks
// may precede the final one.
func (h *RequestHandle) ensureStarted() error {
	if h.started {
		return h.failed
	}
	h.started = true
	h.response = hhttp.NewResponse(h.parser.StatusCode(), h.parser.Headers())

	if err := h.callback.OnResponseStarted(h.request, h.response); err != nil {
		h.failed = err
		return err
	}
	return nil
}

// markCompleted delivers the final callback for the transfer outcome and
// returns the error the request ended with. Only the first call has an
// effect.
func (h *RequestHandle) markCompleted(transportErr error) error {
	h.mu.Lock()
	if h.state == StateCompleted {
		h.mu.Unlock()
		return nil
	}
	h.state = StateCompleted
	cancelled := h.cancelled
	h.mu.Unlock()

	// A callback that rejected the response already knows why.
	if h.failed != nil {
		return h.failed
	}

	var terr *transport.Error
	if errors.As(transportErr, &terr) && terr.Kind == transport.KindCallback {
		return transportErr
	}

	if transportErr == nil {
		if h.parser.StatusCode() < 0 {
			err := fmt.Errorf("%w: no response headers received", hhttp.ErrUnavailable)
			h.callback.OnResponseError(h.request, err)
			return err
		}
		if err := h.ensureStarted(); err != nil {
			return err
		}
		h.callback.OnResponseCompleted(h.request, h.response)
		return nil
	}

	err := transportErr
	if cancelled && !errors.Is(err, hhttp.ErrCancelled) {
		err = fmt.Errorf("%w: %v", hhttp.ErrCancelled, transportErr)
	}
	if h.started {
		h.callback.OnResponseBodyError(h.request, h.response, err)
	} else {
		h.callback.OnResponseError(h.request, err)
	}
	return err
}
