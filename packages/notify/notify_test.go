package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/hitbatch/packages/assertions"
	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/client"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSummarize(t *testing.T) {
	results := []*batch.RunResult{
		{
			Name:   "smoke",
			Passed: 1,
			Failed: 2,
			Results: []*batch.RequestResult{
				{Name: "ok", Passed: true},
				{Name: "broken", Error: errors.New("connection refused")},
				{Name: "wrong", Assertions: []*assertions.Result{
					{Passed: true},
					{Passed: false, Message: "expected 200, got 500"},
				}},
			},
		},
		{Name: "empty"},
	}

	s := Summarize(results, time.Second, false)
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, 3, s.Requests)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.False(t, s.Success())
	require.Len(t, s.Failures, 2)
	assert.Equal(t, Failure{Batch: "smoke", Request: "broken", Reasons: []string{"connection refused"}}, s.Failures[0])
	assert.Equal(t, []string{"expected 200, got 500"}, s.Failures[1].Reasons)
}

func TestManager_ShouldNotify(t *testing.T) {
	pass := func() *RunSummary { return &RunSummary{Passed: 1} }
	fail := func() *RunSummary { return &RunSummary{Failed: 1} }

	tests := []struct {
		policy NotifyOn
		runs   []*RunSummary
		want   []bool
	}{
		{NotifyAlways, []*RunSummary{pass(), fail()}, []bool{true, true}},
		{NotifyFailure, []*RunSummary{pass(), fail(), {Cancelled: true}}, []bool{false, true, true}},
		{NotifySuccess, []*RunSummary{pass(), fail()}, []bool{true, false}},
		{NotifyRecovery, []*RunSummary{pass(), fail(), pass(), pass()}, []bool{false, true, true, false}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			m := NewManager(tt.policy, quietLogger())
			for i, run := range tt.runs {
				assert.Equal(t, tt.want[i], m.shouldNotify(run), "run %d", i)
			}
		})
	}

	m := NewManager(NotifyRecovery, quietLogger())
	m.shouldNotify(fail())
	recovered := pass()
	m.shouldNotify(recovered)
	assert.True(t, recovered.IsRecovery)
}

func TestParseNotifyOn(t *testing.T) {
	n, err := ParseNotifyOn("recovery")
	require.NoError(t, err)
	assert.Equal(t, NotifyRecovery, n)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSlackMessage(t *testing.T) {
	s := NewSlackNotifier("https://hooks.slack.test/x", WithSlackChannel("#ci"))
	s.now = fixedNow

	data, err := s.Message(&RunSummary{Files: 1, Requests: 2, Passed: 1, Failed: 1,
		Failures: []Failure{{Batch: "smoke", Request: "health", Reasons: []string{"expected 200, got 503"}}}})
	require.NoError(t, err)

	msg := gjson.ParseBytes(data)
	assert.Equal(t, "#ci", msg.Get("channel").String())
	assert.Equal(t, "hitbatch", msg.Get("username").String())
	assert.Equal(t, "danger", msg.Get("attachments.0.color").String())
	assert.Equal(t, "1 request(s) failed", msg.Get("attachments.0.title").String())
	assert.Contains(t, msg.Get("attachments.0.text").String(), "`health` (smoke)")
	assert.Equal(t, fixedNow().Unix(), msg.Get("attachments.0.ts").Int())

	data, err = s.Message(&RunSummary{Cancelled: true})
	require.NoError(t, err)
	assert.Equal(t, "warning", gjson.GetBytes(data, "attachments.0.color").String())
	assert.Equal(t, "Run cancelled", gjson.GetBytes(data, "attachments.0.title").String())
}

func TestTeamsMessage(t *testing.T) {
	tn := NewTeamsNotifier("https://teams.test/hook")
	tn.now = fixedNow

	data, err := tn.Message(&RunSummary{Files: 1, Requests: 3, Passed: 3, IsRecovery: true})
	require.NoError(t, err)

	card := gjson.GetBytes(data, "attachments.0.content")
	assert.Equal(t, "AdaptiveCard", card.Get("type").String())
	assert.Equal(t, "Requests recovered", card.Get("body.0.text").String())
	assert.Equal(t, "good", card.Get("body.0.color").String())
	assert.Equal(t, "3", card.Get(`body.1.facts.#(title=="Passed").value`).String())
	assert.Contains(t, card.Get("body.2.text").String(), "2026-03-01T12:00:00Z")
}

// webhook is a notifier posting a fixed payload to a test server.
type webhook struct {
	name string
	url  string
}

func (w webhook) Name() string { return w.name }
func (w webhook) WebhookURL() string { return w.url }
func (w webhook) Message(*RunSummary) ([]byte, error) {
	return []byte(`{"text":"` + w.name + `"}`), nil
}

func TestManager_Notify(t *testing.T) {
	var (
		mu       sync.Mutex
		received = map[string]string{}
	)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received[r.URL.Path] = string(body)
		mu.Unlock()
		if r.URL.Path == "/broken" {
			w.WriteHeader(nethttp.StatusInternalServerError)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(nethttp.StatusOK)
	}))
	t.Cleanup(server.Close)

	api := transport.Acquire(transport.WithLogger(quietLogger()))
	t.Cleanup(func() { _ = api.Close() })
	ir := interruptible.NewRunner(nil, interruptible.TimingConfig{
		PollingPeriod:          5 * time.Millisecond,
		GracefulShutdownPeriod: 500 * time.Millisecond,
		ExtendedShutdownPeriod: time.Second,
	}, interruptible.WithLogger(quietLogger()), interruptible.WithExitFunc(func(int) {}))
	t.Cleanup(ir.Close)
	c := client.NewClient(api, client.WithLogger(quietLogger()), client.WithPollTimeout(10*time.Millisecond))

	m := NewManager(NotifyAlways, quietLogger(),
		webhook{name: "first", url: server.URL + "/first"},
		webhook{name: "broken", url: server.URL + "/broken"},
		webhook{name: "plain", url: "http://example.com/hook"},
	)

	err := m.Notify(context.Background(), c, ir, &RunSummary{Passed: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, hhttp.ErrInvalidArgument, "non-https webhook is rejected")
	assert.ErrorIs(t, err, hhttp.ErrInternal, "500 from the webhook")
	assert.Contains(t, err.Error(), "broken:")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, `{"text":"first"}`, received["/first"])
	assert.Contains(t, received, "/broken")
}

func TestManager_Notify_Skipped(t *testing.T) {
	m := NewManager(NotifyFailure, quietLogger(), webhook{name: "x", url: "https://example.com"})
	assert.NoError(t, m.Notify(context.Background(), nil, nil, &RunSummary{Passed: 1}))
}
