package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second)
}

func TestToggle(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/queue/toggle" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"userId":42}` {
			t.Errorf("body = %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"action":"matched","redirect":true,"matchId":7}`)
	})

	res, d, err := c.Toggle(context.Background(), 42)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if res.Action != ActionMatched || !res.Redirect || res.MatchID != 7 {
		t.Errorf("Toggle() = %+v", res)
	}
	if d <= 0 {
		t.Errorf("latency = %v, want > 0", d)
	}
}

func TestRateLimitedError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"too many queue toggles","code":"RATE_LIMITED"}`)
	})

	_, _, err := c.Toggle(context.Background(), 1)
	if !IsRateLimited(err) {
		t.Fatalf("IsRateLimited(%v) = false", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if apiErr.Code != "RATE_LIMITED" || apiErr.Message != "too many queue toggles" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestCurrentMatchNotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/9/match" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"no match","code":"NOT_FOUND"}`)
	})

	m, _, err := c.CurrentMatch(context.Background(), 9)
	if m != nil {
		t.Errorf("CurrentMatch() match = %+v, want nil", m)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("CurrentMatch() error = %v, want 404", err)
	}
	if IsRateLimited(err) {
		t.Error("404 reported as rate limited")
	}
}

func TestSubmitVote(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/matches/3/votes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"winnerId":11`) || !strings.Contains(string(body), `"userId":10`) {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, `{"success":true,"resolved":true,"winnerId":11,"loserId":10,"disputed":true}`)
	})

	res, _, err := c.SubmitVote(context.Background(), 3, 10, 11)
	if err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	want := VoteResult{Success: true, Resolved: true, WinnerID: 11, LoserID: 10, Disputed: true}
	if res != want {
		t.Errorf("SubmitVote() = %+v, want %+v", res, want)
	}
}

func TestDecodeError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	})

	if _, err := c.QueueCount(context.Background()); err == nil {
		t.Fatal("QueueCount() error = nil, want decode error")
	}
}
