package metrics

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

const (
	// Latencies are recorded in microseconds between 1us and 60s
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
	sigFigs      = 3
)

// Sample is the outcome of one request.
type Sample struct {
	Name     string
	Duration time.Duration
	Err      error
	Sent     int64
	Received int64
}

// Collector aggregates samples. It is safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cancelled atomic.Int64

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64

	histogram *hdrhistogram.Histogram
	requests  map[string]*requestMetrics
	order     []string

	startTime time.Time
	endTime   time.Time
}

type requestMetrics struct {
	mu        sync.Mutex
	total     int64
	success   int64
	errors    int64
	histogram *hdrhistogram.Histogram
}

// NewCollector creates an empty Collector
func NewCollector() *Collector {
	return &Collector{
		histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs),
		requests:  make(map[string]*requestMetrics),
	}
}

// Start marks the beginning of a run
func (c *Collector) Start() {
	c.mu.Lock()
	c.startTime = time.Now()
	c.endTime = time.Time{}
	c.mu.Unlock()
}

// Stop marks the end of a run
func (c *Collector) Stop() {
	c.mu.Lock()
	c.endTime = time.Now()
	c.mu.Unlock()
}

// Record adds one sample. Errors wrapping http.ErrCancelled are counted as
// cancelled rather than failed.
func (c *Collector) Record(s Sample) {
	c.total.Add(1)
	switch {
	case s.Err == nil:
		c.success.Add(1)
	case errors.Is(s.Err, hhttp.ErrCancelled):
		c.cancelled.Add(1)
	default:
		c.errors.Add(1)
	}
	c.bytesSent.Add(s.Sent)
	c.bytesReceived.Add(s.Received)

	latency := clampLatency(s.Duration)

	c.mu.Lock()
	_ = c.histogram.RecordValue(latency)
	var rm *requestMetrics
	if s.Name != "" {
		var ok bool
		rm, ok = c.requests[s.Name]
		if !ok {
			rm = &requestMetrics{histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)}
			c.requests[s.Name] = rm
			c.order = append(c.order, s.Name)
		}
	}
	c.mu.Unlock()

	if rm == nil {
		return
	}
	rm.mu.Lock()
	rm.total++
	if s.Err == nil {
		rm.success++
	} else {
		rm.errors++
	}
	_ = rm.histogram.RecordValue(latency)
	rm.mu.Unlock()
}

// AddBytes accounts network usage that is not tied to a recorded sample.
func (c *Collector) AddBytes(sent, received int64) {
	c.bytesSent.Add(sent)
	c.bytesReceived.Add(received)
}

func clampLatency(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}
	return us
}

// Summary is a point-in-time view of a Collector.
type Summary struct {
	Duration      time.Duration
	Total         int64
	Success       int64
	Errors        int64
	Cancelled     int64
	BytesSent     int64
	BytesReceived int64
	SuccessRate   float64

	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration

	Requests []RequestSummary
}

// RequestSummary is the breakdown of one named request.
type RequestSummary struct {
	Name    string
	Total   int64
	Success int64
	Errors  int64
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
}

// Summary returns the aggregated metrics. Named requests keep the order in
// which they were first recorded.
func (c *Collector) Summary() *Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	duration := c.endTime.Sub(c.startTime)
	if c.startTime.IsZero() {
		duration = 0
	} else if c.endTime.IsZero() {
		duration = time.Since(c.startTime)
	}

	total := c.total.Load()
	success := c.success.Load()
	successRate := float64(0)
	if total > 0 {
		successRate = float64(success) / float64(total)
	}

	s := &Summary{
		Duration:      duration,
		Total:         total,
		Success:       success,
		Errors:        c.errors.Load(),
		Cancelled:     c.cancelled.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		SuccessRate:   successRate,
	}
	if c.histogram.TotalCount() > 0 {
		s.P50 = usToDuration(c.histogram.ValueAtQuantile(50))
		s.P95 = usToDuration(c.histogram.ValueAtQuantile(95))
		s.P99 = usToDuration(c.histogram.ValueAtQuantile(99))
		s.Min = usToDuration(c.histogram.Min())
		s.Max = usToDuration(c.histogram.Max())
		s.Mean = usToDuration(int64(c.histogram.Mean()))
	}

	for _, name := range c.order {
		rm := c.requests[name]
		rm.mu.Lock()
		s.Requests = append(s.Requests, RequestSummary{
			Name:    name,
			Total:   rm.total,
			Success: rm.success,
			Errors:  rm.errors,
			P50:     usToDuration(rm.histogram.ValueAtQuantile(50)),
			P95:     usToDuration(rm.histogram.ValueAtQuantile(95)),
			Max:     usToDuration(rm.histogram.Max()),
		})
		rm.mu.Unlock()
	}

	return s
}

func usToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
