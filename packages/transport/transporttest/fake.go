// Package transporttest provides a scripted transport.Backend for tests.
//
// Each Conn plays a Script keyed by its URL, one Step per Perform call, so
// tests control exactly which header lines and body chunks a request sees
// and can hold a transfer open until it is cancelled.
package transporttest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

// Step is one unit of a Script.
type Step struct {
	// HeaderLines are passed to OnHeaderLine in order.
	HeaderLines []string
	// Body is passed to OnBody when non-empty.
	Body []byte
	// Err fails the transfer. Errors that are not a *transport.Error are
	// reported with KindReceive.
	Err error
	// Block keeps the transfer running until it is cancelled.
	Block bool
	// Sent and Received are added to the byte counters of the Conn.
	Sent     int64
	Received int64
}

// Script is played by a Conn once it is added to a Multi.
type Script []Step

// Respond builds a script that sends a complete response.
func Respond(code int, headers hhttp.HeaderList, body string) Script {
	lines := HeaderBlock(code, headers)
	var size int64
	for _, line := range lines {
		size += int64(len(line))
	}

	script := Script{{HeaderLines: lines, Received: size}}
	if body != "" {
		script = append(script, Step{Body: []byte(body), Received: int64(len(body))})
	}
	return script
}

// HeaderBlock returns the raw header lines of one status+header block.
func HeaderBlock(code int, headers hhttp.HeaderList) []string {
	lines := []string{fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, http.StatusText(code))}
	for _, h := range headers {
		lines = append(lines, h.Key+": "+h.Value+"\r\n")
	}
	return append(lines, "\r\n")
}

// Backend is a scripted transport.Backend.
type Backend struct {
	mu          sync.Mutex
	scripts     map[string]Script
	conns       []*Conn
	performErr  error
	pollTimeout time.Duration
}

// NewBackend returns a Backend without scripts. Unscripted URLs fail with
// a connect error.
func NewBackend() *Backend {
	return &Backend{
		scripts:     make(map[string]Script),
		pollTimeout: 5 * time.Millisecond,
	}
}

// Handle sets the script played for url.
func (b *Backend) Handle(url string, script Script) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[url] = script
}

// FailPerform makes every Multi.Perform return err.
func (b *Backend) FailPerform(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.performErr = err
}

// Conns returns every Conn created so far
func (b *Backend) Conns() []*Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Conn(nil), b.conns...)
}

func (b *Backend) NewConn() (transport.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &Conn{backend: b}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *Backend) NewMulti() (transport.Multi, error) {
	return &Multi{
		backend: b,
		wake:    make(chan struct{}, 1),
	}, nil
}

func (b *Backend) script(url string) (Script, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.scripts[url]
	return s, ok
}

func (b *Backend) performError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.performErr
}

// Conn is a scripted transport.Conn.
type Conn struct {
	backend *Backend

	sent      atomic.Int64
	received  atomic.Int64
	cancels   atomic.Int32
	cancelled atomic.Bool

	mu     sync.Mutex
	cfg    *transport.ConnConfig
	multi  *Multi
	closed bool
}

func (c *Conn) Configure(cfg transport.ConnConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = &cfg
	return nil
}

// Config returns the configuration passed to Configure
func (c *Conn) Config() transport.ConnConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return transport.ConnConfig{}
	}
	return *c.cfg
}

func (c *Conn) SentReceivedBytes() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

func (c *Conn) Cancel() {
	c.cancels.Add(1)
	c.cancelled.Store(true)

	c.mu.Lock()
	m := c.multi
	c.mu.Unlock()
	if m != nil {
		m.Wakeup()
	}
}

// Cancels returns how many times Cancel was called
func (c *Conn) Cancels() int {
	return int(c.cancels.Load())
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransfer struct {
	conn     *Conn
	cfg      transport.ConnConfig
	script   Script
	next     int
	uploaded bool
	finished bool
}

// Multi plays the scripts of its Conns from Perform.
type Multi struct {
	backend   *Backend
	wake      chan struct{}
	transfers []*fakeTransfer
	done      []transport.Message
	closed    bool
}

func (m *Multi) Add(c transport.Conn) error {
	conn, ok := c.(*Conn)
	if !ok {
		return fmt.Errorf("conn %T does not belong to this backend", c)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.cfg == nil {
		return errors.New("conn is not configured")
	}
	conn.multi = m

	script, ok := m.backend.script(conn.cfg.URL)
	if !ok {
		script = Script{{Err: &transport.Error{Kind: transport.KindConnect, Err: fmt.Errorf("no script for %s", conn.cfg.URL)}}}
	}
	m.transfers = append(m.transfers, &fakeTransfer{conn: conn, cfg: *conn.cfg, script: script})
	return nil
}

func (m *Multi) Remove(c transport.Conn) error {
	for i, t := range m.transfers {
		if transport.Conn(t.conn) == c {
			m.transfers = append(m.transfers[:i], m.transfers[i+1:]...)
			t.conn.mu.Lock()
			t.conn.multi = nil
			t.conn.mu.Unlock()
			return nil
		}
	}
	return nil
}

func (m *Multi) Perform() (int, error) {
	if err := m.backend.performError(); err != nil {
		return 0, err
	}

	running := 0
	for _, t := range m.transfers {
		if t.finished {
			continue
		}
		m.step(t)
		if !t.finished {
			running++
		}
	}
	return running, nil
}

func (m *Multi) step(t *fakeTransfer) {
	if t.conn.cancelled.Load() {
		m.finish(t, &transport.Error{Kind: transport.KindAborted, Err: hhttp.ErrCancelled})
		return
	}
	if t.cfg.OnProgress != nil && t.cfg.OnProgress(transport.Progress{}) {
		m.finish(t, &transport.Error{Kind: transport.KindAborted, Err: hhttp.ErrCancelled})
		return
	}

	if !t.uploaded {
		t.uploaded = true
		if err := m.upload(t); err != nil {
			m.finish(t, &transport.Error{Kind: transport.KindSend, Err: err})
			return
		}
	}

	if t.next >= len(t.script) {
		m.finish(t, nil)
		return
	}

	s := t.script[t.next]
	if s.Block {
		return
	}
	t.next++

	t.conn.sent.Add(s.Sent)
	t.conn.received.Add(s.Received)

	for _, line := range s.HeaderLines {
		if t.cfg.OnHeaderLine != nil {
			t.cfg.OnHeaderLine(line)
		}
	}
	if len(s.Body) > 0 && t.cfg.OnBody != nil {
		if err := t.cfg.OnBody(s.Body); err != nil {
			m.finish(t, &transport.Error{Kind: transport.KindCallback, Err: err})
			return
		}
	}
	if s.Err != nil {
		var terr *transport.Error
		if !errors.As(s.Err, &terr) {
			terr = &transport.Error{Kind: transport.KindReceive, Err: s.Err}
		}
		m.finish(t, terr)
	}
}

func (m *Multi) upload(t *fakeTransfer) error {
	if t.cfg.ReadBody == nil {
		return nil
	}
	buf := make([]byte, 512)
	for {
		n, err := t.cfg.ReadBody(buf)
		t.conn.sent.Add(int64(n))
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *Multi) finish(t *fakeTransfer, err error) {
	t.finished = true
	m.done = append(m.done, transport.Message{Conn: t.conn, Err: err})
}

func (m *Multi) InfoRead() (transport.Message, bool) {
	if len(m.done) == 0 {
		return transport.Message{}, false
	}
	msg := m.done[0]
	m.done = m.done[1:]
	return msg, true
}

func (m *Multi) Poll(timeout time.Duration) error {
	wait := m.backend.pollTimeout
	if timeout < wait {
		wait = timeout
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-m.wake:
	case <-timer.C:
	}
	return nil
}

func (m *Multi) Wakeup() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Multi) Close() error {
	m.closed = true
	m.transfers = nil
	return nil
}
