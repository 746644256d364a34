package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/assertions"
	"github.com/abdul-hamid-achik/hitbatch/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
	"github.com/abdul-hamid-achik/hitbatch/packages/snapshot"
)

// RunResult is the outcome of one batch file.
type RunResult struct {
	File     string
	Name     string
	Results  []*RequestResult
	Duration time.Duration
	Usage    hhttp.SentReceivedBytes
	Passed   int
	Failed   int
}

// RequestResult is the outcome of one entry.
type RequestResult struct {
	Name   string
	Method string
	URL    string
	Passed bool
	// Code is the status code received, or -1.
	Code       int
	Response   *inmemory.Response
	Assertions []*assertions.Result
	Error      error
}

// Runner executes batch files through a client under an interruptible
// runner.
type Runner struct {
	client    hhttp.Client
	runner    *interruptible.Runner
	resolver  *env.Resolver
	snapshots *snapshot.Manager
	tokens    *oauth2.TokenCache
	provider  *oauth2.Provider
	logger    *slog.Logger
}

type RunnerOption func(*Runner)

func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithResolver sets the resolver templates are expanded with. Its variables
// take precedence over those of the file.
func WithResolver(resolver *env.Resolver) RunnerOption {
	return func(r *Runner) {
		r.resolver = resolver
	}
}

// WithSnapshots sets the manager snapshot expectations are checked with
func WithSnapshots(m *snapshot.Manager) RunnerOption {
	return func(r *Runner) {
		r.snapshots = m
	}
}

// WithTokenCache shares OAuth2 tokens across runners
func WithTokenCache(c *oauth2.TokenCache) RunnerOption {
	return func(r *Runner) {
		r.tokens = c
	}
}

func NewRunner(client hhttp.Client, runner *interruptible.Runner, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:    client,
		runner:    runner,
		resolver:  env.NewResolver(),
		snapshots: snapshot.NewManager(false),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.provider = oauth2.NewProvider(client, runner, r.tokens)
	return r
}

// RunFile parses and runs the batch file at path
func (r *Runner) RunFile(ctx context.Context, path string) (*RunResult, error) {
	f, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing file: %w", err)
	}
	return r.Run(ctx, f)
}

// Run performs every buildable entry of f as one batch and evaluates the
// expectations. The returned error is only set when the batch as a whole
// failed, including when it was cancelled; single request failures are
// reported in the result.
func (r *Runner) Run(ctx context.Context, f *File) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		File:    f.Path,
		Name:    f.Name,
		Results: make([]*RequestResult, len(f.Requests)),
	}

	resolved, resolveErrs := f.Resolve(r.resolver)
	authErr := r.authorize(ctx, resolved, resolveErrs)
	reqs, buildErrs := BuildRequests(resolved)
	for i, err := range resolveErrs {
		if err != nil {
			reqs[i], buildErrs[i] = nil, err
		}
	}

	var (
		batch []hhttp.Request
		slots []int
	)
	for i := range resolved.Requests {
		e := &resolved.Requests[i]
		result.Results[i] = &RequestResult{
			Name:   e.Name,
			Method: methodName(e.Method),
			URL:    e.URL,
			Code:   -1,
			Error:  buildErrs[i],
		}
		if buildErrs[i] != nil {
			r.logger.Debug("request not built", "name", e.Name, "error", buildErrs[i])
			continue
		}
		batch = append(batch, reqs[i])
		slots = append(slots, i)
	}

	var cancelled *interruptible.CancelledError
	if errors.As(authErr, &cancelled) {
		result.Duration = time.Since(start)
		return result, authErr
	}

	if len(batch) > 0 {
		r.logger.Debug("running batch", "name", f.Name, "requests", len(batch))
		fetched, err := inmemory.PerformRequestsInMemory(ctx, r.client, r.runner, batch, &result.Usage)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		for j, res := range fetched {
			rr := result.Results[slots[j]]
			rr.Response, rr.Error = res.Response, res.Err
			if res.Response != nil {
				rr.Code = res.Response.Code
			}
		}
	}

	for i := range resolved.Requests {
		r.evaluate(&resolved.Requests[i], result.Results[i], f)
		if result.Results[i].Passed {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// authorize applies the auth section of f to its entries. When no header
// can be obtained the error is recorded in every entry still buildable.
func (r *Runner) authorize(ctx context.Context, f *File, errs []error) error {
	if f.Auth == nil {
		return nil
	}
	pending := false
	for _, err := range errs {
		if err == nil {
			pending = true
			break
		}
	}
	if !pending {
		return nil
	}

	value, err := f.Auth.header(ctx, r.provider)
	if err != nil {
		r.logger.Warn("authorization failed", "name", f.Name, "error", err)
		for i := range errs {
			if errs[i] == nil {
				errs[i] = err
			}
		}
		return err
	}
	applyAuthorization(f, value)
	return nil
}

// evaluate decides whether rr passed. A non-2xx status only fails the entry
// when it does not match an explicit status expectation.
func (r *Runner) evaluate(e *Entry, rr *RequestResult, f *File) {
	var statusErr *hhttp.StatusError
	if errors.As(rr.Error, &statusErr) {
		rr.Code = statusErr.Code
		if e.Expect != nil && e.Expect.Status == statusErr.Code {
			rr.Error = nil
		}
	}
	if rr.Error != nil {
		return
	}

	rr.Assertions = assertions.EvaluateAll(rr.Response, rr.Code, e.Assertions(), f.BaseDir())
	if e.Expect != nil && e.Expect.Snapshot != "" {
		rr.Assertions = append(rr.Assertions, r.compareSnapshot(e, rr, f))
	}
	rr.Passed = true
	for _, a := range rr.Assertions {
		if !a.Passed {
			rr.Passed = false
			break
		}
	}
}

func (r *Runner) compareSnapshot(e *Entry, rr *RequestResult, f *File) *assertions.Result {
	var actual any
	if rr.Response != nil {
		if err := json.Unmarshal(rr.Response.Body, &actual); err != nil {
			actual = string(rr.Response.Body)
		}
	}

	res := r.snapshots.Compare(f.snapshotFile(), e.Name, e.Expect.Snapshot, actual)
	if res.Created || res.Updated {
		r.logger.Info(res.Message, "request", e.Name, "snapshot", e.Expect.Snapshot)
	}
	return &assertions.Result{
		Passed:   res.Passed,
		Message:  res.Message,
		Expected: res.Expected,
		Actual:   res.Actual,
		Subject:  "body",
		Operator: "snapshot",
	}
}

func methodName(m string) string {
	if m == "" {
		return hhttp.MethodGet.String()
	}
	return strings.ToUpper(m)
}
