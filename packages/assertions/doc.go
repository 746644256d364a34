// Package assertions checks batch responses against expectations.
//
// Supported subjects:
//   - status: the response status code, also for non-2xx responses
//   - contentType, contentEncoding: response headers kept in memory
//   - bodySize: length of the buffered body in bytes
//   - body: the whole body, parsed as JSON when possible
//   - body.<path>: a gjson path into a JSON body (items[0].id works too)
//   - schema: JSON Schema validation of the body, inline or from a file
//
// Operators: ==, !=, >, >=, <, <=, contains, startsWith, endsWith, matches,
// exists, notExists, length, type, in.
package assertions
