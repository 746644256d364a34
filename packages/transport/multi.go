package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

var errCancelled = fmt.Errorf("%w: transfer cancelled", hhttp.ErrCancelled)

// ErrMultiClosed is returned by a Multi after Close.
var ErrMultiClosed = errors.New("multi is closed")

const eventBuffer = 256

type eventKind int

const (
	evHeader eventKind = iota
	evBody
	evRead
	evDone
)

// event is posted by a transfer's I/O goroutine and handled by Perform.
type event struct {
	t     *transfer
	kind  eventKind
	line  string
	data  []byte
	size  int
	reply chan readReply
	err   error
}

type readReply struct {
	data []byte
	err  error
}

// transfer is one running request of a netConn inside a netMulti.
type transfer struct {
	multi     *netMulti
	conn      *netConn
	cfg       ConnConfig
	transport *http.Transport
	ctx       context.Context
	cancel    context.CancelFunc

	downloadTotal atomic.Int64

	mu       sync.Mutex
	abortErr *Error

	// Owned by the driver goroutine.
	finished   bool
	removed    bool
	progress   rate.Sometimes
	uploaded   int64
	downloaded int64
}

func newTransfer(m *netMulti, c *netConn, cfg ConnConfig, tr *http.Transport) *transfer {
	ctx, cancel := context.WithCancel(m.ctx)
	t := &transfer{
		multi:     m,
		conn:      c,
		cfg:       cfg,
		transport: tr,
		ctx:       ctx,
		cancel:    cancel,
		progress:  rate.Sometimes{Interval: cfg.ProgressInterval},
	}
	t.downloadTotal.Store(-1)
	return t
}

// abort stops the transfer. The first reason wins.
func (t *transfer) abort(reason *Error) {
	t.mu.Lock()
	if t.abortErr == nil {
		t.abortErr = reason
	}
	t.mu.Unlock()

	t.cancel()
	t.multi.Wakeup()
}

func (t *transfer) aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortErr != nil
}

func (t *transfer) result(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.abortErr != nil {
		return t.abortErr
	}
	return err
}

// post delivers an event unless the transfer was aborted.
func (t *transfer) post(ev event) bool {
	ev.t = t
	select {
	case t.multi.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// postDone delivers the final event. Only closing the multi drops it.
func (t *transfer) postDone(err error) {
	select {
	case t.multi.events <- event{t: t, kind: evDone, err: err}:
	case <-t.multi.ctx.Done():
	}
}

// netMulti is the Multi of the net/http backend.
type netMulti struct {
	api    *API
	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	wake   chan struct{}
	wg     sync.WaitGroup

	// Owned by the driver goroutine.
	transfers map[*netConn]*transfer
	pending   []event
	done      []Message
	closed    bool
}

func newNetMulti(api *API) *netMulti {
	ctx, cancel := context.WithCancel(context.Background())
	return &netMulti{
		api:       api,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, eventBuffer),
		wake:      make(chan struct{}, 1),
		transfers: make(map[*netConn]*transfer),
	}
}

func (m *netMulti) Add(c Conn) error {
	if m.closed {
		return ErrMultiClosed
	}
	nc, ok := c.(*netConn)
	if !ok {
		return newError(KindConfig, fmt.Errorf("conn %T does not belong to this backend", c))
	}
	if _, ok := m.transfers[nc]; ok {
		return newError(KindConfig, fmt.Errorf("conn is already added"))
	}

	t, err := nc.attach(m)
	if err != nil {
		return err
	}
	m.transfers[nc] = t

	m.wg.Add(1)
	go t.run()
	return nil
}

func (m *netMulti) Remove(c Conn) error {
	nc, ok := c.(*netConn)
	if !ok {
		return nil
	}
	t, ok := m.transfers[nc]
	if !ok {
		return nil
	}
	delete(m.transfers, nc)

	t.removed = true
	if !t.finished {
		t.abort(newError(KindAborted, errCancelled))
	}
	nc.detach(t)
	return nil
}

func (m *netMulti) Perform() (int, error) {
	if m.closed {
		return 0, ErrMultiClosed
	}

	events := m.pending
	m.pending = nil
	for n := len(m.events); n > 0; n-- {
		events = append(events, <-m.events)
	}
	for _, ev := range events {
		m.dispatch(ev)
	}

	running := 0
	for _, t := range m.transfers {
		if t.finished {
			continue
		}
		running++
		m.reportProgress(t)
	}
	return running, nil
}

func (m *netMulti) dispatch(ev event) {
	t := ev.t

	switch ev.kind {
	case evRead:
		if t.removed || t.finished || t.aborted() {
			ev.reply <- readReply{err: errCancelled}
			return
		}
		buf := make([]byte, ev.size)
		n, err := t.cfg.ReadBody(buf)
		t.uploaded += int64(n)
		ev.reply <- readReply{data: buf[:n], err: err}

	case evHeader:
		if t.removed || t.aborted() || t.cfg.OnHeaderLine == nil {
			return
		}
		t.cfg.OnHeaderLine(ev.line)

	case evBody:
		if t.removed || t.aborted() {
			return
		}
		t.downloaded += int64(len(ev.data))
		if t.cfg.OnBody == nil {
			return
		}
		if err := t.cfg.OnBody(ev.data); err != nil {
			t.abort(newError(KindCallback, err))
		}

	case evDone:
		if t.removed {
			return
		}
		t.finished = true
		m.done = append(m.done, Message{Conn: t.conn, Err: t.result(ev.err)})
	}
}

func (m *netMulti) reportProgress(t *transfer) {
	if t.cfg.OnProgress == nil || t.aborted() {
		return
	}
	t.progress.Do(func() {
		p := Progress{
			DownloadTotal: t.downloadTotal.Load(),
			DownloadNow:   t.downloaded,
			UploadTotal:   t.cfg.ContentLength,
			UploadNow:     t.uploaded,
		}
		if t.cfg.OnProgress(p) {
			t.abort(newError(KindAborted, errCancelled))
		}
	})
}

func (m *netMulti) InfoRead() (Message, bool) {
	if len(m.done) == 0 {
		return Message{}, false
	}
	msg := m.done[0]
	m.done[0] = Message{}
	m.done = m.done[1:]
	return msg, true
}

func (m *netMulti) Poll(timeout time.Duration) error {
	if m.closed {
		return ErrMultiClosed
	}
	if len(m.pending) > 0 || len(m.events) > 0 {
		return nil
	}
	if timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-m.events:
		m.pending = append(m.pending, ev)
	case <-m.wake:
	case <-timer.C:
	}
	return nil
}

func (m *netMulti) Wakeup() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close aborts every transfer still attached and waits for their
// goroutines to exit.
func (m *netMulti) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	m.cancel()
	m.wg.Wait()

	for nc, t := range m.transfers {
		nc.detach(t)
	}
	m.transfers = nil
	m.api.release()
	return nil
}
