package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// netConn is a Conn backed by its own http.Transport. Keep-alives are
// disabled so each transfer uses a fresh connection whose bytes are counted
// by the dialer.
type netConn struct {
	api *API

	sent     atomic.Int64
	received atomic.Int64

	mu        sync.Mutex
	cfg       *ConnConfig
	transport *http.Transport
	active    *transfer
	cancelled bool
	closed    bool
}

func newNetConn(api *API) *netConn {
	return &netConn{api: api}
}

func (c *netConn) Configure(cfg ConnConfig) error {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return newError(KindConfig, fmt.Errorf("invalid URL: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newError(KindConfig, fmt.Errorf("unsupported URL scheme: %s", u.Scheme))
	}
	if u.Host == "" {
		return newError(KindConfig, fmt.Errorf("URL must have a host"))
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadBody == nil {
		cfg.ContentLength = 0
	}

	roots := c.api.rootCAs()
	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return newError(KindConfig, fmt.Errorf("reading CA bundle: %w", err))
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return newError(KindConfig, fmt.Errorf("no certificates found in %s", cfg.CABundle))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return newError(KindConfig, fmt.Errorf("conn is in use"))
	}
	c.cfg = &cfg
	c.transport = c.newTransport(&cfg, roots)
	return nil
}

func (c *netConn) newTransport(cfg *ConnConfig, roots *x509.CertPool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &countingConn{Conn: conn, owner: c}, nil
		},
		TLSClientConfig: &tls.Config{
			RootCAs:    roots,
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		DisableKeepAlives:   true,
		DisableCompression:  true,
		// A non-nil empty map keeps the transport on HTTP/1.1.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
}

func (c *netConn) SentReceivedBytes() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

func (c *netConn) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	t := c.active
	c.mu.Unlock()

	if t != nil {
		t.abort(newError(KindAborted, errCancelled))
	}
}

func (c *netConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := c.active
	tr := c.transport
	c.mu.Unlock()

	if t != nil {
		t.abort(newError(KindAborted, errCancelled))
	}
	if tr != nil {
		tr.CloseIdleConnections()
	}
	c.api.release()
	return nil
}

// attach binds a new transfer to the conn. A conn cancelled before being
// added starts with an aborted transfer.
func (c *netConn) attach(m *netMulti) (*transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, newError(KindConfig, fmt.Errorf("conn is closed"))
	}
	if c.cfg == nil {
		return nil, newError(KindConfig, fmt.Errorf("conn is not configured"))
	}
	if c.active != nil {
		return nil, newError(KindConfig, fmt.Errorf("conn is already added"))
	}

	t := newTransfer(m, c, *c.cfg, c.transport)
	if c.cancelled {
		t.abort(newError(KindAborted, errCancelled))
	}
	c.active = t
	return t, nil
}

func (c *netConn) detach(t *transfer) {
	c.mu.Lock()
	if c.active == t {
		c.active = nil
	}
	c.mu.Unlock()
}

// countingConn counts the bytes that cross the socket, TLS records
// included.
type countingConn struct {
	net.Conn
	owner *netConn
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.owner.received.Add(int64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.owner.sent.Add(int64(n))
	return n, err
}
