// Package inmemory runs requests whose bodies and responses live entirely in
// memory, one batch at a time, under an interruptible.Runner.
package inmemory

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"strconv"
	"strings"
	"sync"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

const (
	httpsScheme = "https://"
	// Plain http is only accepted for local test servers.
	localhostURI = "http://localhost:"
	loopbackURI  = "http://127.0.0.1:"
)

// ErrEndOfStream is returned by Request.ReadBody once the body is exhausted.
var ErrEndOfStream = fmt.Errorf("%w: end of stream reached", hhttp.ErrOutOfRange)

// Request is an hhttp.Request with an in-memory body.
type Request struct {
	uri     string
	method  hhttp.Method
	headers hhttp.HeaderList
	body    []byte

	mu     sync.Mutex
	cursor int
}

var _ hhttp.Request = (*Request)(nil)

// Create validates and builds a Request. It is the only way to construct
// one.
//
// A Content-Length header is computed from the body and must not be passed
// in headers. With useCompression the body is gzip-compressed, a
// Content-Encoding header is added and Content-Length is the compressed
// size.
func Create(uri string, method hhttp.Method, headers hhttp.HeaderList, body []byte, useCompression bool) (*Request, error) {
	if !hasPrefixFold(uri, httpsScheme) && !hasPrefixFold(uri, localhostURI) && !hasPrefixFold(uri, loopbackURI) {
		return nil, fmt.Errorf("%w: non-HTTPS URIs are not supported: %s", hhttp.ErrInvalidArgument, uri)
	}
	if headers.Has(hhttp.HeaderContentLength) {
		return nil, fmt.Errorf("%w: Content-Length header should not be provided", hhttp.ErrInvalidArgument)
	}

	headers = headers.Clone()
	if len(body) > 0 {
		if !method.AllowsBody() {
			return nil, fmt.Errorf("%w: request method does not allow request body: %s", hhttp.ErrInvalidArgument, method)
		}

		if useCompression {
			compressed, err := compress(body)
			if err != nil {
				return nil, fmt.Errorf("%w: compressing request body: %v", hhttp.ErrInternal, err)
			}
			body = compressed
			headers = append(headers, hhttp.Header{Key: hhttp.HeaderContentEncoding, Value: "gzip"})
		}

		headers = append(headers, hhttp.Header{Key: hhttp.HeaderContentLength, Value: strconv.Itoa(len(body))})
	}

	return &Request{
		uri:     uri,
		method:  method,
		headers: headers,
		body:    body,
	}, nil
}

func (r *Request) URI() string {
	return r.uri
}

func (r *Request) Method() hhttp.Method {
	return r.method
}

func (r *Request) ExtraHeaders() hhttp.HeaderList {
	return r.headers
}

func (r *Request) HasBody() bool {
	return len(r.body) > 0
}

// ReadBody copies the next part of the body into p.
func (r *Request) ReadBody(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor >= len(r.body) {
		return 0, ErrEndOfStream
	}
	n := copy(p, r.body[r.cursor:])
	r.cursor += n
	return n, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
