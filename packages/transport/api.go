package transport

import (
	"crypto/x509"
	"errors"
	"log/slog"
	"sync"
)

// ErrAPIClosed is returned when creating objects from a closed API.
var ErrAPIClosed = errors.New("transport API is closed")

// global is the process-wide state shared by every API. It is set up by the
// first Acquire and torn down by the last Close.
var global struct {
	mu    sync.Mutex
	refs  int
	roots *x509.CertPool
}

// API is a reference to the process-wide transport state and the factory
// for Conns and Multis. It must outlive every object it created.
type API struct {
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	live   int
	roots  *x509.CertPool
}

// Option configures an API
type Option func(*API)

// WithLogger sets the API logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithRootCAs replaces the system root pool for every Conn of this API.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(a *API) {
		a.roots = pool
	}
}

// Acquire takes a reference on the process-wide transport state. The
// first reference loads the system certificate pool.
func Acquire(opts ...Option) *API {
	a := &API{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.refs == 0 {
		roots, err := x509.SystemCertPool()
		if err != nil {
			a.logger.Warn("system certificate pool unavailable", "error", err)
			roots = x509.NewCertPool()
		}
		global.roots = roots
	}
	global.refs++

	if a.roots == nil {
		a.roots = global.roots
	}

	return a
}

// References returns how many APIs are currently acquired.
func References() int {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.refs
}

// Close releases the reference. Further calls are no-ops.
func (a *API) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	live := a.live
	a.mu.Unlock()

	if live > 0 {
		a.logger.Warn("transport API closed with live objects", "live", live)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	global.refs--
	if global.refs == 0 {
		global.roots = nil
	}
	return nil
}

// NewConn creates an unconfigured Conn.
func (a *API) NewConn() (Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAPIClosed
	}
	a.live++
	return newNetConn(a), nil
}

// NewMulti creates an empty Multi.
func (a *API) NewMulti() (Multi, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAPIClosed
	}
	a.live++
	return newNetMulti(a), nil
}

func (a *API) release() {
	a.mu.Lock()
	a.live--
	a.mu.Unlock()
}

func (a *API) rootCAs() *x509.CertPool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roots
}
