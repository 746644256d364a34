// Package builtin provides the functions callable from batch file
// templates, e.g. {{uuid()}} or {{date("2006-01")}}.
//
// Available functions:
//   - now(): current UTC time in RFC 3339
//   - timestamp(), timestampMs(): current Unix time
//   - uuid(): random UUID v4
//   - random(min, max): random integer in range, inclusive
//   - randomString(length): random alphanumeric string
//   - base64(value), base64Decode(value)
//   - sha256(value): hex digest
//   - urlEncode(value), urlDecode(value)
//   - date(layout): current UTC date, Go layout, default 2006-01-02
package builtin
