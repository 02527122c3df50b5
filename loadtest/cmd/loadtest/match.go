package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/arena/internal/messaging"
	"github.com/whisper/arena/loadtest/client"
	"github.com/whisper/arena/loadtest/stats"
)

var errMatchTimeout = errors.New("timed out waiting for a match")

// runMatch queues 2*pairs players, waits for each to be paired, then has both
// sides of every match vote. A fraction of matches is deliberately disputed.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "Arena API base URL")
	pairs := fs.Int("pairs", 200, "Number of player pairs")
	firstUser := fs.Int64("first-user", 1_000_000, "User id of the first simulated player")
	rampUp := fs.Duration("ramp", 5*time.Second, "Ramp-up duration for queue joins")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Timeout waiting to be paired")
	disputeRate := fs.Float64("dispute-rate", 0.1, "Fraction of players who vote against the agreed winner")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous players in flight")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	natsURL := fs.String("nats-url", "", "NATS URL for match events (empty = poll only)")
	fs.Parse(args)

	players := *pairs * 2
	fmt.Printf("Match test: %d pairs (%d players) against %s (ramp=%s, match-timeout=%s, dispute-rate=%.2f, concurrency=%d)\n",
		*pairs, players, *baseURL, *rampUp, *matchTimeout, *disputeRate, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*baseURL, 10*time.Second)
	collector := stats.NewCollector()

	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var events *messaging.NATSClient
	if *natsURL != "" {
		cfg := messaging.DefaultNATSConfig()
		cfg.URL = *natsURL
		cfg.Name = "arena-loadtest"
		nc, err := messaging.NewNATSClient(cfg)
		if err != nil {
			fmt.Printf("NATS unavailable, polling only: %v\n", err)
		} else {
			defer nc.Close()
			if err := nc.SubscribeMatchResolved(func([]byte) { collector.AddAnnounced() }); err != nil {
				fmt.Printf("subscribe to resolutions: %v\n", err)
			}
			events = nc
		}
	}

	interval := *rampUp / time.Duration(players)
	if interval <= 0 {
		interval = time.Millisecond
	}

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := collector.Snapshot()
				fmt.Printf("  [match] matches: %d/%d  resolved: %d  limited: %d  errors: %d\n",
					snap.Matches, *pairs, snap.Resolved, snap.RateLimited, snap.Errors)
			case <-progressStop:
				return
			}
		}
	}()

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	ticker := time.NewTicker(interval)

launch:
	for i := 0; i < players; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break launch
		case <-ticker.C:
		}

		userID := *firstUser + int64(i)
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			playerCtx, cancel := context.WithTimeout(ctx, *matchTimeout+30*time.Second)
			defer cancel()
			if err := playMatch(playerCtx, api, events, collector, userID, *matchTimeout, *disputeRate); err != nil {
				collector.AddError()
			}
		}()
	}

	ticker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	scraper.Stop()
	collector.Report()
}

// playMatch runs one player through join, pairing, voting and resolution.
// With events set, the player wakes on its formed notification instead of
// waiting for the next poll.
func playMatch(ctx context.Context, api *client.Client, events *messaging.NATSClient, c *stats.Collector, userID int64, matchTimeout time.Duration, disputeRate float64) error {
	var formed chan struct{}
	if events != nil {
		formed = make(chan struct{}, 1)
		err := events.SubscribeMatchFormed(userID, func([]byte) {
			select {
			case formed <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return err
		}
		defer events.Unsubscribe(messaging.MatchFormedSubject(userID))
	}

	queuedAt := time.Now()
	res, err := toggleWithBackoff(ctx, api, c, userID)
	if err != nil {
		return err
	}

	var m *client.Match
	switch res.Action {
	case client.ActionMatched:
		m, err = lookupMatch(ctx, api, c, userID)
	case client.ActionJoined:
		m, err = waitForMatch(ctx, api, c, userID, matchTimeout, formed)
	default:
		return fmt.Errorf("user %d: unexpected toggle action %q", userID, res.Action)
	}
	if err != nil {
		return err
	}
	c.Observe(stats.OpMatched, time.Since(queuedAt))
	if m.Player1ID == userID {
		c.AddMatch()
	}

	d, err := api.StartVoting(ctx, m.MatchID, userID)
	if err != nil {
		return err
	}
	c.Observe(stats.OpVoting, d)

	winner := pickWinner(m, rand.Float64() < disputeRate)
	vote, d, err := api.SubmitVote(ctx, m.MatchID, userID, winner)
	if err != nil {
		return err
	}
	c.Observe(stats.OpVote, d)
	if vote.Resolved {
		c.AddResolution(vote.Disputed)
	}
	return nil
}

// pickWinner votes for player1 unless the player disputes, in which case it
// votes for player2. Only one disputing side turns a match into a dispute.
func pickWinner(m *client.Match, dispute bool) int64 {
	if dispute {
		return m.Player2ID
	}
	return m.Player1ID
}

func toggleWithBackoff(ctx context.Context, api *client.Client, c *stats.Collector, userID int64) (client.ToggleResult, error) {
	backoff := 100 * time.Millisecond
	for {
		res, d, err := api.Toggle(ctx, userID)
		if err == nil {
			c.Observe(stats.OpToggle, d)
			return res, nil
		}
		if !client.IsRateLimited(err) {
			return res, err
		}
		c.AddRateLimited()
		if err := sleep(ctx, backoff); err != nil {
			return res, err
		}
		backoff = min(backoff*2, 5*time.Second)
	}
}

func lookupMatch(ctx context.Context, api *client.Client, c *stats.Collector, userID int64) (*client.Match, error) {
	m, d, err := api.CurrentMatch(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.Observe(stats.OpLookup, d)
	return m, nil
}

// waitForMatch polls the current match until the server's background sweep
// or another player's join pairs userID. A signal on formed cuts the current
// poll interval short; a nil channel means poll only.
func waitForMatch(ctx context.Context, api *client.Client, c *stats.Collector, userID int64, timeout time.Duration, formed <-chan struct{}) (*client.Match, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m, d, err := api.CurrentMatch(ctx, userID)
		if err == nil {
			c.Observe(stats.OpLookup, d)
			return m, nil
		}
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-formed:
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil, errMatchTimeout
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
