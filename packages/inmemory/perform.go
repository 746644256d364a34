package inmemory

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

// Result is the outcome of one request of a batch.
type Result struct {
	Response *Response
	Err      error
}

// PerformRequestInMemory performs a single request. See
// PerformRequestsInMemory.
func PerformRequestInMemory(ctx context.Context, client hhttp.Client, runner *interruptible.Runner, req hhttp.Request, usage *hhttp.SentReceivedBytes) (*Response, error) {
	results, err := PerformRequestsInMemory(ctx, client, runner, []hhttp.Request{req}, usage)
	if err != nil {
		return nil, err
	}
	return results[0].Response, results[0].Err
}

// PerformRequestsInMemory performs requests as one concurrent batch under
// runner and returns one Result per request, in input order.
//
// When the runner aborts, every handle is cancelled and the
// *interruptible.CancelledError is returned. The bytes moved by every
// request are added to usage, if non-nil, before any error is returned.
// A returned error means the batch as a whole failed; failures of single
// requests only show in their Result.
func PerformRequestsInMemory(ctx context.Context, client hhttp.Client, runner *interruptible.Runner, requests []hhttp.Request, usage *hhttp.SentReceivedBytes) ([]Result, error) {
	handles := make([]hhttp.RequestHandle, 0, len(requests))
	callbacks := make([]*Callback, 0, len(requests))
	batch := make([]hhttp.HandleCallback, 0, len(requests))

	for _, req := range requests {
		h, err := client.EnqueueRequest(req)
		if err != nil {
			closeHandles(handles)
			return nil, fmt.Errorf("enqueueing request to %s: %w", req.URI(), err)
		}
		cb := NewCallback()
		handles = append(handles, h)
		callbacks = append(callbacks, cb)
		batch = append(batch, hhttp.HandleCallback{Handle: h, Callback: cb})
	}

	err := runner.Run(func(token *interruptible.Token) error {
		opCtx, cancel := token.Context(ctx)
		defer cancel()
		return client.PerformRequests(opCtx, batch)
	}, func() {
		for _, h := range handles {
			h.Cancel()
		}
	})

	// Traffic is accounted even when the batch failed.
	if usage != nil {
		for _, h := range handles {
			b := h.TotalSentReceivedBytes()
			usage.Sent += b.Sent
			usage.Received += b.Received
		}
	}

	// After a fatal escalation the batch may still be running.
	var cancelled *interruptible.CancelledError
	if !errors.As(err, &cancelled) || cancelled.Stage != interruptible.StageFatal {
		closeHandles(handles)
	}

	if err != nil {
		return nil, err
	}

	results := make([]Result, len(callbacks))
	for i, cb := range callbacks {
		results[i].Response, results[i].Err = cb.Response()
	}
	return results, nil
}

func closeHandles(handles []hhttp.RequestHandle) {
	for _, h := range handles {
		if c, ok := h.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
