// Package client drives batches of requests over a transport.Backend.
//
// EnqueueRequest wraps a request and a fresh transport connection in a
// RequestHandle without starting any I/O. PerformRequests adds every handle
// to one transport.Multi and runs the Perform / InfoRead / Poll loop on the
// calling goroutine until all of them completed. All callbacks of a batch
// run on that goroutine.
package client
