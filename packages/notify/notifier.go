// Package notify posts run summaries to chat webhooks. Notifications are
// sent as one in-memory batch through the same client as the run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	NotifyAlways  NotifyOn = "always"
	NotifyFailure NotifyOn = "failure"
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery notifies on failure and on the first success after one
	NotifyRecovery NotifyOn = "recovery"
)

// ParseNotifyOn validates a policy name
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch n := NotifyOn(s); n {
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return n, nil
	}
	return "", fmt.Errorf("unknown notify policy %q", s)
}

// RunSummary is what a notification reports.
type RunSummary struct {
	Files     int
	Requests  int
	Passed    int
	Failed    int
	Duration  time.Duration
	Cancelled bool
	Failures  []Failure

	IsRecovery bool
}

// Failure is a failed request of a run.
type Failure struct {
	Batch   string
	Request string
	Reasons []string
}

// Success reports whether nothing failed
func (s *RunSummary) Success() bool {
	return s.Failed == 0 && !s.Cancelled
}

// Summarize builds the summary of a run from its batch results.
func Summarize(results []*batch.RunResult, duration time.Duration, cancelled bool) *RunSummary {
	s := &RunSummary{Files: len(results), Duration: duration, Cancelled: cancelled}
	for _, r := range results {
		s.Passed += r.Passed
		s.Failed += r.Failed
		for _, rr := range r.Results {
			if rr.Passed {
				continue
			}
			f := Failure{Batch: r.Name, Request: rr.Name}
			if rr.Error != nil {
				f.Reasons = append(f.Reasons, rr.Error.Error())
			}
			for _, a := range rr.Assertions {
				if !a.Passed {
					f.Reasons = append(f.Reasons, a.Message)
				}
			}
			s.Failures = append(s.Failures, f)
		}
	}
	s.Requests = s.Passed + s.Failed
	return s
}

// Notifier formats summaries for one webhook.
type Notifier interface {
	Name() string
	WebhookURL() string
	// Message returns the JSON payload posted to the webhook
	Message(summary *RunSummary) ([]byte, error)
}

// Manager decides when to notify and delivers the messages.
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool
	logger    *slog.Logger
}

// NewManager creates a new notification manager
func NewManager(notifyOn NotifyOn, logger *slog.Logger, notifiers ...Notifier) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true,
		logger:    logger,
	}
}

func (m *Manager) shouldNotify(summary *RunSummary) bool {
	success := summary.Success()
	defer func() { m.lastState = success }()

	switch m.notifyOn {
	case NotifyAlways:
		return true
	case NotifyFailure:
		return !success
	case NotifySuccess:
		return success
	case NotifyRecovery:
		if !m.lastState && success {
			summary.IsRecovery = true
			return true
		}
		return !success
	}
	return false
}

// Notify posts summary to every notifier when the policy asks for it.
// Delivery failures of single webhooks are joined into the returned error.
func (m *Manager) Notify(ctx context.Context, client hhttp.Client, runner *interruptible.Runner, summary *RunSummary) error {
	if len(m.notifiers) == 0 || !m.shouldNotify(summary) {
		return nil
	}

	headers := hhttp.HeaderList{{Key: hhttp.HeaderContentType, Value: "application/json"}}

	var (
		errs  []error
		reqs  []hhttp.Request
		names []string
	)
	for _, n := range m.notifiers {
		payload, err := n.Message(summary)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		req, err := inmemory.Create(n.WebhookURL(), hhttp.MethodPost, headers, payload, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		reqs = append(reqs, req)
		names = append(names, n.Name())
	}

	if len(reqs) > 0 {
		results, err := inmemory.PerformRequestsInMemory(ctx, client, runner, reqs, nil)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("sending notifications: %w", err))...)
		}
		for i, r := range results {
			if r.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", names[i], r.Err))
				continue
			}
			m.logger.Debug("notification sent", "notifier", names[i], "status", r.Response.Code)
		}
	}
	return errors.Join(errs...)
}

func title(summary *RunSummary) string {
	switch {
	case summary.Cancelled:
		return "Run cancelled"
	case summary.Failed > 0:
		return fmt.Sprintf("%d request(s) failed", summary.Failed)
	case summary.IsRecovery:
		return "Requests recovered"
	}
	return "All requests passed"
}
