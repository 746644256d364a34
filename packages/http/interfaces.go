package http

import "context"

// Request is an HTTP request as seen by a transport.
type Request interface {
	URI() string
	Method() Method
	// ExtraHeaders returns headers to send in addition to the ones the
	// transport adds itself.
	ExtraHeaders() HeaderList
	HasBody() bool
	// ReadBody copies the next part of the body into p. Once the body is
	// exhausted it returns an error wrapping ErrOutOfRange.
	ReadBody(p []byte) (int, error)
}

// Response is the status code and final header list of a response.
type Response interface {
	Code() int
	Headers() HeaderList
}

// Callback receives the progress of one request. Methods are called
// sequentially from the goroutine driving the transport, in this order:
//
//	OnResponseStarted, OnResponseBody*, OnResponseCompleted
//
// or OnResponseError / OnResponseBodyError once the transport fails, which
// ends the sequence. Returning an error from OnResponseStarted or
// OnResponseBody aborts the request; no error method is called afterwards.
type Callback interface {
	OnResponseStarted(req Request, resp Response) error
	OnResponseError(req Request, err error)
	OnResponseBody(req Request, resp Response, data []byte) error
	OnResponseBodyError(req Request, resp Response, err error)
	OnResponseCompleted(req Request, resp Response)
}

// SentReceivedBytes counts bytes moved over the network for one request.
type SentReceivedBytes struct {
	Sent     int64
	Received int64
}

// RequestHandle tracks one enqueued request.
type RequestHandle interface {
	// TotalSentReceivedBytes returns the best available snapshot of the
	// bytes moved so far, including for requests that never completed.
	TotalSentReceivedBytes() SentReceivedBytes
	// Cancel stops the request. It is safe to call concurrently, more than
	// once and after completion.
	Cancel()
}

// HandleCallback pairs a handle with the callback that receives its events.
// The callback must stay valid until PerformRequests returns.
type HandleCallback struct {
	Handle   RequestHandle
	Callback Callback
}

// Client executes requests.
type Client interface {
	// EnqueueRequest prepares a request without starting any I/O.
	EnqueueRequest(req Request) (RequestHandle, error)
	// PerformRequests executes all given requests concurrently and returns
	// once each of them finished. A non-nil error means the batch as a
	// whole failed; per-request failures are reported to the callbacks.
	PerformRequests(ctx context.Context, requests []HandleCallback) error
}
