package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// metricSnapshot holds the tracked server metrics at a point in time.
type metricSnapshot struct {
	timestamp    time.Time
	queueSize    float64
	pairings     float64
	resolutions  float64
	disputed     float64
	httpRequests float64
	// histogram _sum and _count, summed across op labels
	txSum   float64
	txCount float64
}

// Scraper periodically fetches the matcher's Prometheus endpoint and keeps
// snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start takes an initial snapshot and then scrapes at the configured interval
// until ctx is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// The server may not be up yet.
		return
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch() (metricSnapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return metricSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return metricSnapshot{}, fmt.Errorf("scrape %s: status %d", s.metricsURL, resp.StatusCode)
	}
	return parseSnapshot(resp.Body, time.Now())
}

// parseSnapshot reads a Prometheus text exposition and picks out the arena
// series. Labeled counters are summed.
func parseSnapshot(r io.Reader, at time.Time) (metricSnapshot, error) {
	snap := metricSnapshot{timestamp: at}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, labels, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "arena_queue_size":
			snap.queueSize = value
		case "arena_pairings_total":
			snap.pairings = value
		case "arena_resolutions_total":
			snap.resolutions += value
			if strings.Contains(labels, `outcome="disputed"`) {
				snap.disputed += value
			}
		case "arena_http_requests_total":
			snap.httpRequests += value
		case "arena_tx_duration_seconds_sum":
			snap.txSum += value
		case "arena_tx_duration_seconds_count":
			snap.txCount += value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine splits an exposition line of the form
//
//	name{label="value",...} 1.23
//
// into its name, raw label block and value.
func parseMetricLine(line string) (name, labels string, value float64, ok bool) {
	rest := line
	if open := strings.IndexByte(line, '{'); open != -1 {
		closing := strings.IndexByte(line[open:], '}')
		if closing == -1 {
			return "", "", 0, false
		}
		name = line[:open]
		labels = line[open+1 : open+closing]
		rest = line[open+closing+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", "", 0, false
		}
		name = fields[0]
		rest = strings.Join(fields[1:], " ")
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", 0, false
	}
	// An optional timestamp may follow the value.
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", "", 0, false
	}
	return name, labels, v, true
}

// Report writes the initial, final, delta and peak value of each tracked
// series collected during the run.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	type series struct {
		label   string
		extract func(metricSnapshot) float64
	}
	tracked := []series{
		{"Queue Size", func(m metricSnapshot) float64 { return m.queueSize }},
		{"Pairings", func(m metricSnapshot) float64 { return m.pairings }},
		{"Resolutions", func(m metricSnapshot) float64 { return m.resolutions }},
		{"Disputed", func(m metricSnapshot) float64 { return m.disputed }},
		{"HTTP Requests", func(m metricSnapshot) float64 { return m.httpRequests }},
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, t := range tracked {
		initial, final := t.extract(first), t.extract(last)
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			t.label, initial, final, final-initial, peakValue(snaps, t.extract))
	}

	fmt.Fprintln(w)
	deltaSum := last.txSum - first.txSum
	deltaCount := last.txCount - first.txCount
	if deltaCount > 0 {
		fmt.Fprintf(w, "  %-16s avg: %.4fs  (%.0f observations)\n", "Tx Duration", deltaSum/deltaCount, deltaCount)
	} else {
		fmt.Fprintf(w, "  %-16s avg: N/A  (no observations)\n", "Tx Duration")
	}
}

func peakValue(snaps []metricSnapshot, extract func(metricSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}
