// Package stats provides a goroutine-safe collector that aggregates results
// from many simulated players and prints a summary report with percentile
// distributions.
package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
	"time"
)

// Op names a timed API call.
type Op string

const (
	OpToggle  Op = "toggle"
	OpLookup  Op = "lookup"
	OpVoting  Op = "voting"
	OpVote    Op = "vote"
	OpMatched Op = "time_to_match"
)

var reportOrder = []Op{OpToggle, OpMatched, OpLookup, OpVoting, OpVote}

// Collector aggregates latencies and outcome counters. All methods are
// goroutine-safe.
type Collector struct {
	mu          sync.Mutex
	latencies   map[Op][]time.Duration
	errors      int
	rateLimited int
	matches     int
	resolved    int
	disputed    int
	announced   int
	startTime   time.Time
	scraper     *Scraper
	out         io.Writer
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[Op][]time.Duration),
		startTime: time.Now(),
		out:       os.Stdout,
	}
}

// SetScraper attaches a server metrics scraper. When set, Report also prints
// the server-side view.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// SetOutput redirects the report.
func (c *Collector) SetOutput(w io.Writer) {
	c.mu.Lock()
	c.out = w
	c.mu.Unlock()
}

// Observe records one latency sample for op.
func (c *Collector) Observe(op Op, d time.Duration) {
	c.mu.Lock()
	c.latencies[op] = append(c.latencies[op], d)
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddRateLimited counts a toggle rejected with 429.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddMatch counts a match seen from the side of the player who formed it.
func (c *Collector) AddMatch() {
	c.mu.Lock()
	c.matches++
	c.mu.Unlock()
}

// AddResolution counts an archived match.
func (c *Collector) AddResolution(disputed bool) {
	c.mu.Lock()
	c.resolved++
	if disputed {
		c.disputed++
	}
	c.mu.Unlock()
}

// AddAnnounced counts a resolution event received from the broker.
func (c *Collector) AddAnnounced() {
	c.mu.Lock()
	c.announced++
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Errors      int
	RateLimited int
	Matches     int
	Resolved    int
	Disputed    int
	Announced   int
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Errors:      c.errors,
		RateLimited: c.rateLimited,
		Matches:     c.matches,
		Resolved:    c.resolved,
		Disputed:    c.disputed,
		Announced:   c.announced,
	}
}

// Report prints the collected counters and a percentile line per op.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.out
	elapsed := time.Since(c.startTime)

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Matches:       %d\n", c.matches)
	fmt.Fprintf(w, "Resolved:      %d (%d disputed)\n", c.resolved, c.disputed)
	if c.announced > 0 {
		fmt.Fprintf(w, "Announced:     %d resolution events\n", c.announced)
	}
	fmt.Fprintf(w, "Rate limited:  %d\n", c.rateLimited)
	fmt.Fprintf(w, "Errors:        %d\n", c.errors)

	for _, op := range reportOrder {
		samples := c.latencies[op]
		if len(samples) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s latency ---\n", op)
		fmt.Fprintln(w, "  "+Summarize(samples).String())
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}
	fmt.Fprintln(w)
}

// Summary is a percentile digest of a latency sample.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize sorts durations in place and computes its digest. An empty slice
// yields the zero Summary.
func Summarize(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		s.Avg.Round(time.Microsecond),
		s.P50.Round(time.Microsecond),
		s.P95.Round(time.Microsecond),
		s.P99.Round(time.Microsecond),
		s.Max.Round(time.Microsecond),
		s.N,
	)
}
