package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/arena/loadtest/client"
	"github.com/whisper/arena/loadtest/stats"
)

// runChurn has a fixed set of players toggle in and out of the queue for a
// duration. Players who get paired abandon the match by never voting, so the
// run also leaves ongoing matches behind for inspection.
func runChurn(args []string) {
	fs := flag.NewFlagSet("churn", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "Arena API base URL")
	players := fs.Int("players", 100, "Number of simulated players")
	firstUser := fs.Int64("first-user", 2_000_000, "User id of the first simulated player")
	duration := fs.Duration("duration", 30*time.Second, "How long to churn")
	pause := fs.Duration("pause", 50*time.Millisecond, "Pause between a player's toggles")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Churn test: %d players against %s for %s (pause=%s)\n",
		*players, *baseURL, *duration, *pause)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	api := client.New(*baseURL, 10*time.Second)
	collector := stats.NewCollector()

	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < *players; i++ {
		userID := *firstUser + int64(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			churn(ctx, api, collector, userID, *pause)
		}()
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := api.QueueCount(ctx)
				if err != nil {
					continue
				}
				snap := collector.Snapshot()
				fmt.Printf("  [churn] queued: %d  matches: %d  limited: %d  errors: %d\n",
					n, snap.Matches, snap.RateLimited, snap.Errors)
			}
		}
	}()

	wg.Wait()
	scraper.Stop()
	collector.Report()
}

func churn(ctx context.Context, api *client.Client, c *stats.Collector, userID int64, pause time.Duration) {
	for ctx.Err() == nil {
		res, d, err := api.Toggle(ctx, userID)
		if err == nil {
			c.Observe(stats.OpToggle, d)
		}
		switch classifyToggle(res, err) {
		case toggleLimited:
			c.AddRateLimited()
		case toggleFailed:
			if ctx.Err() != nil {
				return
			}
			c.AddError()
		case togglePaired:
			// Count each match once, from player1's side.
			if m, _, err := api.CurrentMatch(ctx, userID); err == nil && m.Player1ID == userID {
				c.AddMatch()
			}
			return
		}

		if err := sleep(ctx, pause); err != nil {
			return
		}
	}
}

type toggleStep int

const (
	toggleAgain toggleStep = iota
	toggleLimited
	togglePaired
	toggleFailed
)

// classifyToggle decides what a churning player does after a toggle. A 409
// means the player was paired by someone else's join or the background sweep.
func classifyToggle(res client.ToggleResult, err error) toggleStep {
	var apiErr *client.APIError
	switch {
	case err == nil && res.Action == client.ActionMatched:
		return togglePaired
	case err == nil:
		return toggleAgain
	case client.IsRateLimited(err):
		return toggleLimited
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
		return togglePaired
	default:
		return toggleFailed
	}
}
