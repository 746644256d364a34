package http

import (
	"slices"
	"strings"
)

// Header names the engine treats specially. Lookups are case-insensitive.
const (
	HeaderContentLength    = "Content-Length"
	HeaderContentEncoding  = "Content-Encoding"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderContentType      = "Content-Type"
	HeaderAcceptEncoding   = "Accept-Encoding"
	HeaderLocation         = "Location"
)

// Header is a single header field.
type Header struct {
	Key   string
	Value string
}

// HeaderList is an ordered list of header fields. Keys may repeat.
type HeaderList []Header

// FindHeader returns the value of the first header whose key matches
// name case-insensitively.
func FindHeader(headers HeaderList, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Get returns the first value for name, or "" if there is none
func (l HeaderList) Get(name string) string {
	v, _ := FindHeader(l, name)
	return v
}

// Has reports whether any header matches name
func (l HeaderList) Has(name string) bool {
	_, ok := FindHeader(l, name)
	return ok
}

// Values returns every value for name in order
func (l HeaderList) Values(name string) []string {
	var values []string
	for _, h := range l {
		if strings.EqualFold(h.Key, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Clone returns a copy that does not share storage with l
func (l HeaderList) Clone() HeaderList {
	if l == nil {
		return nil
	}
	out := make(HeaderList, len(l))
	copy(out, l)
	return out
}

// FromMap builds a HeaderList from a map. Keys are sorted so the result is
// deterministic.
func FromMap(m map[string]string) HeaderList {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make(HeaderList, 0, len(m))
	for _, k := range keys {
		out = append(out, Header{Key: k, Value: m[k]})
	}
	return out
}
