package http

import (
	nethttp "net/http"
	"strconv"
	"strings"
)

// HeaderParser accumulates the raw header lines of one response, in the
// order they were received. A response may contain several status+header
// blocks when redirects are followed; only the last block is kept.
type HeaderParser struct {
	statusCode       int
	headers          HeaderList
	lastHeader       bool
	suppressEncoding bool
}

// NewHeaderParser returns a parser with no status code (-1).
func NewHeaderParser() *HeaderParser {
	return &HeaderParser{statusCode: -1}
}

// SuppressEncodingHeaders drops Content-Encoding, Content-Length and
// Transfer-Encoding from the parsed list. Use it when the transport
// decodes the body, since those headers then describe bytes the caller
// never sees.
func (p *HeaderParser) SuppressEncodingHeaders() {
	p.suppressEncoding = true
}

// ParseLine feeds one raw header line, including its trailing CRLF.
func (p *HeaderParser) ParseLine(line string) {
	if p.parseStatus(line) {
		return
	}
	if p.parseHeader(line) {
		return
	}
	p.parseLastLine(line)
}

func (p *HeaderParser) parseStatus(line string) bool {
	if !strings.HasPrefix(line, "HTTP/") {
		return false
	}

	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return false
	}
	code := fields[1]
	if len(code) > 3 {
		code = code[:3]
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		return false
	}

	p.statusCode = status
	p.headers = nil
	return true
}

func (p *HeaderParser) parseHeader(line string) bool {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)

	if p.suppressEncoding && isEncodingHeader(key) {
		return true
	}
	p.headers = append(p.headers, Header{Key: key, Value: value})
	return true
}

func (p *HeaderParser) parseLastLine(line string) {
	// A 301 is always followed by another status+header block.
	if line == "\r\n" && p.statusCode != nethttp.StatusMovedPermanently {
		p.lastHeader = true
	}
}

func isEncodingHeader(key string) bool {
	return strings.EqualFold(key, HeaderContentEncoding) ||
		strings.EqualFold(key, HeaderContentLength) ||
		strings.EqualFold(key, HeaderTransferEncoding)
}

// IsLastHeader reports whether the end of the final header block was seen.
func (p *HeaderParser) IsLastHeader() bool {
	return p.lastHeader
}

// StatusCode returns the code of the most recent status line, or -1.
func (p *HeaderParser) StatusCode() int {
	return p.statusCode
}

// Headers returns a copy of the header list of the most recent block.
func (p *HeaderParser) Headers() HeaderList {
	return p.headers.Clone()
}
