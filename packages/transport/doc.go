// Package transport is the boundary between the request engine and the code
// that moves bytes over the network.
//
// The model is a multi-handle one: a Conn is configured for one request and
// added to a Multi; the goroutine that owns the Multi repeatedly calls
// Perform, drains finished transfers with InfoRead and blocks in Poll until
// more work is ready. Every callback configured on a Conn runs inside
// Perform, so callbacks of one batch never run concurrently.
//
// The package ships a net/http based implementation behind a
// reference-counted API object. transporttest provides a scripted fake.
package transport
