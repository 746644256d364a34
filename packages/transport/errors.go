package transport

import (
	"fmt"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

// Kind classifies a transport failure.
type Kind int

const (
	KindConnect Kind = iota
	KindSend
	KindReceive
	KindCallback
	KindAborted
	KindRedirect
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindSend:
		return "send"
	case KindReceive:
		return "receive"
	case KindCallback:
		return "callback"
	case KindAborted:
		return "aborted"
	case KindRedirect:
		return "redirect"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned for every failed transfer.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
}

// Unwrap exposes both the cause and the error category of the kind.
func (e *Error) Unwrap() []error {
	return []error{e.Err, e.category()}
}

func (e *Error) category() error {
	switch e.Kind {
	case KindConnect, KindSend, KindReceive:
		return hhttp.ErrUnavailable
	case KindCallback:
		return hhttp.ErrAborted
	case KindAborted:
		return hhttp.ErrCancelled
	case KindRedirect:
		return hhttp.ErrOutOfRange
	case KindConfig:
		return hhttp.ErrInvalidArgument
	default:
		return hhttp.ErrUnknown
	}
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
