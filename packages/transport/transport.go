package transport

import (
	"time"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

const (
	// DefaultMaxRedirects limits how many redirects a Conn follows
	DefaultMaxRedirects = 10
	// DefaultProgressInterval is the minimum time between two progress
	// callbacks of one Conn
	DefaultProgressInterval = 100 * time.Millisecond
	// DefaultConnectTimeout bounds dialing and the TLS handshake
	DefaultConnectTimeout = 30 * time.Second
)

// Progress is passed to ConnConfig.OnProgress.
type Progress struct {
	DownloadTotal int64
	DownloadNow   int64
	UploadTotal   int64
	UploadNow     int64
}

// ConnConfig describes one request and the callbacks that observe it.
// Callbacks are invoked from Multi.Perform only.
type ConnConfig struct {
	Method  string
	URL     string
	Headers hhttp.HeaderList

	// ReadBody supplies the request body. It returns io.EOF at the end.
	// A nil ReadBody sends no body.
	ReadBody func(p []byte) (int, error)
	// ContentLength of the body, or -1 if unknown.
	ContentLength int64

	// DecodeContent makes the Conn advertise gzip and decode the response
	// body. Header lines still carry the encoding headers of the wire.
	DecodeContent bool

	FollowRedirects bool
	MaxRedirects    int

	// CABundle is a PEM file whose certificates replace the system roots.
	CABundle       string
	ConnectTimeout time.Duration

	// OnHeaderLine receives every raw header line, CRLF included. A status
	// line starts each block and a bare CRLF ends it. Fields arrive sorted
	// by key rather than in wire order, and Transfer-Encoding is omitted
	// since the body is already dechunked.
	OnHeaderLine func(line string)
	// OnBody receives body chunks. A non-nil error aborts the transfer
	// with a KindCallback error.
	OnBody func(data []byte) error
	// OnProgress is called at most every ProgressInterval while the
	// transfer runs. Returning true aborts the transfer.
	OnProgress       func(p Progress) bool
	ProgressInterval time.Duration
}

// Message reports a finished transfer.
type Message struct {
	Conn Conn
	// Err is nil on success, otherwise an *Error.
	Err error
}

// Conn is one configurable connection object.
type Conn interface {
	Configure(cfg ConnConfig) error
	// SentReceivedBytes returns the raw bytes moved so far, TLS included.
	SentReceivedBytes() (sent, received int64)
	// Cancel interrupts a running transfer. Safe from any goroutine.
	Cancel()
	Close() error
}

// Multi drives many Conns from one goroutine.
type Multi interface {
	Add(c Conn) error
	Remove(c Conn) error
	// Perform runs the callbacks of all pending events and returns the
	// number of transfers still running.
	Perform() (running int, err error)
	// InfoRead returns the next finished transfer, if any.
	InfoRead() (Message, bool)
	// Poll blocks until an event is ready, Wakeup is called or timeout
	// elapses.
	Poll(timeout time.Duration) error
	// Wakeup interrupts a blocking Poll. Safe from any goroutine.
	Wakeup()
	Close() error
}

// Backend creates Conns and Multis.
type Backend interface {
	NewConn() (Conn, error)
	NewMulti() (Multi, error)
}
