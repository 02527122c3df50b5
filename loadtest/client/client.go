// Package client provides a small HTTP client for the arena API used by the
// load test. Every call records its round-trip latency so the caller can feed
// it into a stats collector.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Toggle actions reported by the server.
const (
	ActionLeft    = "left"
	ActionJoined  = "joined"
	ActionMatched = "matched"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arena api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsRateLimited reports whether err is a 429 from the toggle limiter.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// ToggleResult mirrors the toggle response body.
type ToggleResult struct {
	Action   string `json:"action"`
	Redirect bool   `json:"redirect"`
	MatchID  int64  `json:"matchId"`
}

// Match mirrors the current-match response body.
type Match struct {
	MatchID   int64  `json:"matchId"`
	Player1ID int64  `json:"player1Id"`
	Player2ID int64  `json:"player2Id"`
	Status    string `json:"status"`
}

// VoteResult mirrors the vote response body.
type VoteResult struct {
	Success  bool  `json:"success"`
	Resolved bool  `json:"resolved"`
	WinnerID int64 `json:"winnerId"`
	LoserID  int64 `json:"loserId"`
	Disputed bool  `json:"disputed"`
}

// Client talks to one arena server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        1024,
				MaxIdleConnsPerHost: 1024,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Toggle joins or leaves the queue for userID.
func (c *Client) Toggle(ctx context.Context, userID int64) (ToggleResult, time.Duration, error) {
	var res ToggleResult
	d, err := c.do(ctx, http.MethodPost, "/api/v1/queue/toggle", map[string]int64{"userId": userID}, &res)
	return res, d, err
}

// CurrentMatch returns the ongoing match for userID.
func (c *Client) CurrentMatch(ctx context.Context, userID int64) (*Match, time.Duration, error) {
	var m Match
	d, err := c.do(ctx, http.MethodGet, "/api/v1/users/"+strconv.FormatInt(userID, 10)+"/match", nil, &m)
	if err != nil {
		return nil, d, err
	}
	return &m, d, nil
}

// StartVoting moves a match into the voting phase.
func (c *Client) StartVoting(ctx context.Context, matchID, userID int64) (time.Duration, error) {
	path := "/api/v1/matches/" + strconv.FormatInt(matchID, 10) + "/voting"
	return c.do(ctx, http.MethodPost, path, map[string]int64{"userId": userID}, nil)
}

// SubmitVote records userID's pick for the winner of matchID.
func (c *Client) SubmitVote(ctx context.Context, matchID, userID, winnerID int64) (VoteResult, time.Duration, error) {
	var res VoteResult
	path := "/api/v1/matches/" + strconv.FormatInt(matchID, 10) + "/votes"
	d, err := c.do(ctx, http.MethodPost, path, map[string]int64{"userId": userID, "winnerId": winnerID}, &res)
	return res, d, err
}

// QueueCount returns the number of waiting users.
func (c *Client) QueueCount(ctx context.Context) (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	_, err := c.do(ctx, http.MethodGet, "/api/v1/queue/count", nil, &body)
	return body.Count, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (time.Duration, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return time.Since(start), err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return elapsed, apiErr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return elapsed, fmt.Errorf("arena api: decode %s: %w", path, err)
		}
	}
	return elapsed, nil
}
