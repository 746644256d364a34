package http

import "strings"

// ParsedResponse is a Response built from a status code and header list.
type ParsedResponse struct {
	StatusCode int
	HeaderList HeaderList
}

// NewResponse creates a ParsedResponse. The header list is copied.
func NewResponse(code int, headers HeaderList) *ParsedResponse {
	return &ParsedResponse{
		StatusCode: code,
		HeaderList: headers.Clone(),
	}
}

func (r *ParsedResponse) Code() int {
	return r.StatusCode
}

func (r *ParsedResponse) Headers() HeaderList {
	return r.HeaderList
}

func (r *ParsedResponse) Header(key string) string {
	return r.HeaderList.Get(key)
}

func (r *ParsedResponse) ContentType() string {
	return r.Header(HeaderContentType)
}

func (r *ParsedResponse) IsJSON() bool {
	return strings.Contains(r.ContentType(), "application/json")
}

func (r *ParsedResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *ParsedResponse) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

func (r *ParsedResponse) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *ParsedResponse) IsServerError() bool {
	return r.StatusCode >= 500
}
