// Package future provides a single-shot channel: a move-once Writer paired
// with a move-once Reader.
//
// A Writer that is abandoned (released without a value) delivers an absent
// value to its Reader. Absence is not an error by itself; it only tells the
// reader that no value will ever arrive. Writing twice or taking twice are
// programming errors and panic.
package future
