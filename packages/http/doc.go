// Package http defines the protocol types shared by the request engine.
//
// It provides:
//   - Method and HeaderList, the request vocabulary
//   - Request, Response, Callback, RequestHandle and Client, the boundary
//     between callers and a transport
//   - HeaderParser, which turns raw header lines into a status code and the
//     final header list of a response
//   - A small error taxonomy and the mapping from HTTP status codes to it
package http
