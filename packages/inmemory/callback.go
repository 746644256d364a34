package inmemory

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

// Response is a fully buffered response.
type Response struct {
	Code int
	// ContentEncoding is empty unless the request asked for an encoding
	// itself and the server applied one.
	ContentEncoding string
	ContentType     string
	Body            []byte
}

// JSON returns the value at path in a JSON body
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// IsJSON reports whether the Content-Type is JSON
func (r *Response) IsJSON() bool {
	return strings.Contains(r.ContentType, "json")
}

// Callback buffers one response and checks it for protocol violations.
// Until a response completes, Response reports that none was received.
type Callback struct {
	mu              sync.Mutex
	err             error
	code            int
	contentEncoding string
	contentType     string
	expectedLength  int64
	body            bytes.Buffer
}

var _ hhttp.Callback = (*Callback)(nil)

func NewCallback() *Callback {
	return &Callback{
		err:            fmt.Errorf("%w: no response received", hhttp.ErrUnavailable),
		code:           -1,
		expectedLength: -1,
	}
}

func (c *Callback) OnResponseStarted(req hhttp.Request, resp hhttp.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.code = resp.Code()
	headers := resp.Headers()

	// The client decodes responses itself unless the caller asked for an
	// encoding explicitly.
	if encoding, ok := hhttp.FindHeader(headers, hhttp.HeaderContentEncoding); ok {
		if !req.ExtraHeaders().Has(hhttp.HeaderAcceptEncoding) {
			return c.fail(fmt.Errorf("%w: unexpected header: %s", hhttp.ErrInvalidArgument, hhttp.HeaderContentEncoding))
		}
		c.contentEncoding = encoding
	}

	c.contentType = headers.Get(hhttp.HeaderContentType)

	// The transport undoes chunking and never reports it.
	if te, ok := hhttp.FindHeader(headers, hhttp.HeaderTransferEncoding); ok {
		switch strings.ToLower(strings.TrimSpace(te)) {
		case "identity":
		default:
			return c.fail(fmt.Errorf("%w: unexpected header: %s", hhttp.ErrInvalidArgument, hhttp.HeaderTransferEncoding))
		}
	}

	if !expectsBody(req, c.code) {
		return nil
	}
	cl, ok := hhttp.FindHeader(headers, hhttp.HeaderContentLength)
	if !ok {
		return nil
	}
	length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil {
		return c.fail(fmt.Errorf("%w: could not parse Content-Length response header", hhttp.ErrInvalidArgument))
	}
	if length < 0 {
		return c.fail(fmt.Errorf("%w: invalid Content-Length response header: %d", hhttp.ErrOutOfRange, length))
	}
	c.expectedLength = length
	return nil
}

// expectsBody reports whether Content-Length describes the body that follows.
// HEAD responses and 204 or 304 codes carry no body whatever the header says.
func expectsBody(req hhttp.Request, code int) bool {
	if req.Method() == hhttp.MethodHead {
		return false
	}
	return code != 204 && code != 304
}

func (c *Callback) OnResponseError(_ hhttp.Request, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = fmt.Errorf("error receiving response headers: %w", err)
}

func (c *Callback) OnResponseBody(_ hhttp.Request, _ hhttp.Response, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expectedLength >= 0 && int64(c.body.Len()+len(data)) > c.expectedLength {
		return c.fail(fmt.Errorf("%w: too much response body data received (rcvd: %d, new: %d, max: %d)",
			hhttp.ErrOutOfRange, c.body.Len(), len(data), c.expectedLength))
	}
	c.body.Write(data)
	return nil
}

func (c *Callback) OnResponseBodyError(_ hhttp.Request, resp hhttp.Response, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = fmt.Errorf("error receiving response body (response code: %d): %w", resp.Code(), err)
}

func (c *Callback) OnResponseCompleted(hhttp.Request, hhttp.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expectedLength >= 0 && int64(c.body.Len()) != c.expectedLength {
		c.err = fmt.Errorf("%w: too little response body data received (rcvd: %d, expected: %d)",
			hhttp.ErrInvalidArgument, c.body.Len(), c.expectedLength)
		return
	}
	c.err = hhttp.ConvertHTTPCodeToError(c.code)
}

// Response returns the buffered response, or the error the request ended
// with. Non-2xx codes are reported as errors.
func (c *Callback) Response() (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	return &Response{
		Code:            c.code,
		ContentEncoding: c.contentEncoding,
		ContentType:     c.contentType,
		Body:            bytes.Clone(c.body.Bytes()),
	}, nil
}

// Code returns the status code seen, or -1. Unlike Response it is set for
// requests that failed after their headers arrived.
func (c *Callback) Code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Callback) fail(err error) error {
	c.err = err
	return err
}
