package transport

import (
	"compress/gzip"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

const (
	readChunkSize = 32 * 1024
	// maxDrain bounds how much of a redirect body is read before the next
	// hop.
	maxDrain = 64 * 1024
)

// run is the I/O goroutine of a transfer.
func (t *transfer) run() {
	defer t.multi.wg.Done()
	t.postDone(t.perform())
}

func (t *transfer) perform() error {
	if t.ctx.Err() != nil {
		return newError(KindAborted, errCancelled)
	}

	hasBody := t.cfg.ReadBody != nil
	req, err := t.newRequest(t.cfg.Method, t.cfg.URL, hasBody)
	if err != nil {
		return newError(KindConfig, err)
	}

	for hops := 0; ; hops++ {
		resp, err := t.transport.RoundTrip(req)
		if err != nil {
			return t.classify(err)
		}

		if !t.emitHeaders(resp) {
			resp.Body.Close()
			return newError(KindAborted, errCancelled)
		}

		next, err := t.nextRequest(req, resp, hops, hasBody)
		if err != nil {
			resp.Body.Close()
			return err
		}
		if next == nil {
			return t.readBody(resp)
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		resp.Body.Close()

		req = next
		hasBody = false
	}
}

func (t *transfer) newRequest(method, url string, withBody bool) (*http.Request, error) {
	var body io.Reader
	if withBody {
		body = &uploadReader{t: t}
	}

	req, err := http.NewRequestWithContext(t.ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if withBody {
		req.ContentLength = t.cfg.ContentLength
	}

	for _, h := range t.cfg.Headers {
		if strings.EqualFold(h.Key, "Host") {
			req.Host = h.Value
			continue
		}
		req.Header.Add(h.Key, h.Value)
	}
	if t.cfg.DecodeContent && req.Header.Get(hhttp.HeaderAcceptEncoding) == "" {
		req.Header.Set(hhttp.HeaderAcceptEncoding, "gzip")
	}

	return req, nil
}

// nextRequest returns the request for the next redirect hop, or nil if the
// response is final.
func (t *transfer) nextRequest(req *http.Request, resp *http.Response, hops int, hasBody bool) (*http.Request, error) {
	if !t.cfg.FollowRedirects {
		return nil, nil
	}

	method := req.Method
	switch resp.StatusCode {
	case http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
		hasBody = false
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			method = http.MethodGet
			hasBody = false
		}
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, nil
	}

	location := resp.Header.Get(hhttp.HeaderLocation)
	if location == "" {
		return nil, nil
	}
	// The body was streamed once and cannot be replayed.
	if hasBody {
		return nil, nil
	}
	if hops >= t.cfg.MaxRedirects {
		return nil, newError(KindRedirect, fmt.Errorf("stopped after %d redirects", hops))
	}

	target, err := req.URL.Parse(location)
	if err != nil {
		return nil, newError(KindRedirect, fmt.Errorf("invalid Location %q: %w", location, err))
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, newError(KindRedirect, fmt.Errorf("unsupported redirect scheme: %s", target.Scheme))
	}

	next, err := http.NewRequestWithContext(t.ctx, method, target.String(), nil)
	if err != nil {
		return nil, newError(KindRedirect, err)
	}
	next.Header = req.Header.Clone()
	next.Header.Del(hhttp.HeaderContentLength)
	next.Header.Del(hhttp.HeaderContentEncoding)
	next.Header.Del(hhttp.HeaderContentType)
	if target.Host != req.URL.Host {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	} else {
		next.Host = req.Host
	}

	return next, nil
}

// emitHeaders posts the status line, header fields and terminating CRLF
// of resp. Fields come in sorted key order since net/http does not keep
// wire order. Transfer-Encoding is never posted because chunking is
// undone here. It reports false if the transfer was aborted meanwhile.
func (t *transfer) emitHeaders(resp *http.Response) bool {
	lines := []string{fmt.Sprintf("HTTP/%d.%d %s\r\n", resp.ProtoMajor, resp.ProtoMinor, resp.Status)}

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			lines = append(lines, k+": "+v+"\r\n")
		}
	}
	lines = append(lines, "\r\n")

	for _, line := range lines {
		if !t.post(event{kind: evHeader, line: line}) {
			return false
		}
	}
	return true
}

func (t *transfer) readBody(resp *http.Response) error {
	defer resp.Body.Close()

	t.downloadTotal.Store(resp.ContentLength)

	var body io.Reader = resp.Body
	if t.cfg.DecodeContent && strings.EqualFold(strings.TrimSpace(resp.Header.Get(hhttp.HeaderContentEncoding)), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return t.classifyRead(err)
		}
		defer zr.Close()
		body = zr
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !t.post(event{kind: evBody, data: chunk}) {
				return newError(KindAborted, errCancelled)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return t.classifyRead(err)
		}
	}
}

func (t *transfer) classifyRead(err error) error {
	if t.ctx.Err() != nil {
		return newError(KindAborted, errCancelled)
	}
	return newError(KindReceive, err)
}

func (t *transfer) classify(err error) error {
	if t.ctx.Err() != nil {
		return newError(KindAborted, errCancelled)
	}

	var (
		opErr       *net.OpError
		dnsErr      *net.DNSError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certErr     *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostnameErr),
		errors.As(err, &certErr):
		return newError(KindConnect, err)
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return newError(KindConnect, err)
	default:
		return newError(KindSend, err)
	}
}

// uploadReader pulls the request body through the driver goroutine so
// ConnConfig.ReadBody is only ever called from Perform.
type uploadReader struct {
	t *transfer
}

func (r *uploadReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	reply := make(chan readReply, 1)
	if !r.t.post(event{kind: evRead, size: len(p), reply: reply}) {
		return 0, errCancelled
	}

	select {
	case rep := <-reply:
		n := copy(p, rep.data)
		return n, rep.err
	case <-r.t.ctx.Done():
		return 0, errCancelled
	}
}
