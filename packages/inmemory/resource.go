package inmemory

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

const octetStream = "application/octet-stream"

// CompressionFormat is the encoding of inline resource data.
type CompressionFormat int

const (
	Uncompressed CompressionFormat = iota
	Gzip
)

// InlineData is resource data that is already available.
type InlineData struct {
	Data        []byte
	Compression CompressionFormat
}

// URIResource is resource data that has to be fetched with a GET request.
// A resource is only cached when both ClientCacheID and MaxAge are set.
type URIResource struct {
	URI           string
	ClientCacheID string
	MaxAge        time.Duration
}

// URIOrInlineData is either a URI to fetch or inline data. When both are
// empty the resource is empty and nothing is fetched.
type URIOrInlineData struct {
	uri    URIResource
	inline InlineData
}

// NewURIResource creates a resource fetched from uri.
func NewURIResource(uri, clientCacheID string, maxAge time.Duration) URIOrInlineData {
	return URIOrInlineData{uri: URIResource{URI: uri, ClientCacheID: clientCacheID, MaxAge: maxAge}}
}

// NewInlineResource creates a resource backed by data.
func NewInlineResource(data []byte, format CompressionFormat) URIOrInlineData {
	return URIOrInlineData{inline: InlineData{Data: data, Compression: format}}
}

func (r URIOrInlineData) URI() URIResource {
	return r.uri
}

func (r URIOrInlineData) InlineData() InlineData {
	return r.inline
}

func (r URIOrInlineData) cacheable() bool {
	return r.uri.ClientCacheID != "" && r.uri.MaxAge > 0
}

// ResourceCache stores fetched resources by client cache id.
type ResourceCache interface {
	// Get returns the data stored under id. A hit extends the expiry to
	// maxAge from now.
	Get(id string, maxAge time.Duration) ([]byte, bool, error)
	Put(id string, data []byte, maxAge time.Duration) error
}

// FetchOptions configures FetchResourcesInMemory.
type FetchOptions struct {
	// Cache is optional.
	Cache  ResourceCache
	Usage  *hhttp.SentReceivedBytes
	Logger *slog.Logger
}

// FetchResourcesInMemory returns the data of every resource, in input
// order. Inline data is returned directly, gzip inline data decompressed,
// cached URIs are served from opts.Cache and all remaining URIs are fetched
// in one batch. A returned error means the batch as a whole failed.
func FetchResourcesInMemory(ctx context.Context, client hhttp.Client, runner *interruptible.Runner, resources []URIOrInlineData, opts FetchOptions) ([]Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]Result, len(resources))
	var (
		requests []hhttp.Request
		slots    []int
	)

	for i, res := range resources {
		if res.uri.URI == "" {
			results[i] = inlineResult(res.inline)
			continue
		}

		if opts.Cache != nil && res.cacheable() {
			data, ok, err := opts.Cache.Get(res.uri.ClientCacheID, res.uri.MaxAge)
			if err != nil {
				logger.Warn("resource cache lookup failed", "id", res.uri.ClientCacheID, "error", err)
			} else if ok {
				logger.Debug("resource served from cache", "id", res.uri.ClientCacheID)
				results[i] = Result{Response: &Response{Code: 200, ContentType: octetStream, Body: data}}
				continue
			}
		}

		req, err := Create(res.uri.URI, hhttp.MethodGet, nil, nil, false)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		requests = append(requests, req)
		slots = append(slots, i)
	}

	if len(requests) == 0 {
		return results, nil
	}

	fetched, err := PerformRequestsInMemory(ctx, client, runner, requests, opts.Usage)
	if err != nil {
		return nil, err
	}

	for j, r := range fetched {
		i := slots[j]
		results[i] = r
		res := resources[i]
		if r.Err != nil || opts.Cache == nil || !res.cacheable() {
			continue
		}
		if err := opts.Cache.Put(res.uri.ClientCacheID, r.Response.Body, res.uri.MaxAge); err != nil {
			logger.Warn("storing resource in cache failed", "id", res.uri.ClientCacheID, "error", err)
		}
	}

	return results, nil
}

func inlineResult(inline InlineData) Result {
	body := inline.Data
	if inline.Compression == Gzip {
		decoded, err := gunzip(body)
		if err != nil {
			return Result{Err: fmt.Errorf("%w: decompressing inline data: %v", hhttp.ErrInternal, err)}
		}
		body = decoded
	}
	return Result{Response: &Response{Code: 200, ContentType: octetStream, Body: body}}
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
