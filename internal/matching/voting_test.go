package matching

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// pairTestUsers queues a and b and pairs them, returning the match id.
func pairTestUsers(t *testing.T, db *sql.DB, ctx context.Context, a, b int64) int64 {
	t.Helper()
	q := NewQueue(db)
	enqueueTestUser(t, q, ctx, a)
	enqueueTestUser(t, q, ctx, b)
	res, err := NewPairer(db).PairOldest(ctx)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if !res.Matched {
		t.Fatal("expected a match")
	}
	return res.MatchID
}

func startTestVoting(t *testing.T, l *Ledger, ctx context.Context, matchID, userID int64) {
	t.Helper()
	if _, _, err := l.StartVoting(ctx, matchID, userID); err != nil {
		t.Fatalf("start voting: %v", err)
	}
}

func countRows(t *testing.T, db *sql.DB, ctx context.Context, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestStartVoting(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)
	matchID := pairTestUsers(t, db, ctx, 1, 2)

	if _, _, err := l.StartVoting(ctx, matchID, 3); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider: expected ErrNotParticipant, got %v", err)
	}
	if _, _, err := l.StartVoting(ctx, matchID+100, 1); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("unknown match: expected ErrMatchNotFound, got %v", err)
	}

	m, changed, err := l.StartVoting(ctx, matchID, 2)
	if err != nil {
		t.Fatalf("start voting: %v", err)
	}
	if !changed || m.Status != StatusVoting {
		t.Errorf("expected transition to voting, changed=%v status=%s", changed, m.Status)
	}

	// Second call is a no-op.
	m, changed, err = l.StartVoting(ctx, matchID, 1)
	if err != nil {
		t.Fatalf("start voting again: %v", err)
	}
	if changed || m.Status != StatusVoting {
		t.Errorf("expected idempotent call, changed=%v status=%s", changed, m.Status)
	}
}

func TestSubmitVote_RequiresVotingPhase(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)
	matchID := pairTestUsers(t, db, ctx, 1, 2)

	if _, err := l.SubmitVote(ctx, matchID, 1, 1); !errors.Is(err, ErrNotVoting) {
		t.Fatalf("expected ErrNotVoting, got %v", err)
	}
}

func TestSubmitVote_Validation(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)
	matchID := pairTestUsers(t, db, ctx, 1, 2)
	startTestVoting(t, l, ctx, matchID, 1)

	if _, err := l.SubmitVote(ctx, matchID, 3, 1); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider vote: expected ErrNotParticipant, got %v", err)
	}
	if _, err := l.SubmitVote(ctx, matchID, 1, 3); !errors.Is(err, ErrInvalidVote) {
		t.Errorf("outsider winner: expected ErrInvalidVote, got %v", err)
	}
	if _, err := l.SubmitVote(ctx, matchID+100, 1, 1); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("unknown match: expected ErrMatchNotFound, got %v", err)
	}
	if _, err := l.SubmitVote(ctx, matchID, 0, 1); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("zero user: expected ErrInvalidUser, got %v", err)
	}
}

func TestSubmitVote_Agreed(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)
	matchID := pairTestUsers(t, db, ctx, 1, 2)
	startTestVoting(t, l, ctx, matchID, 1)

	out, err := l.SubmitVote(ctx, matchID, 1, 2)
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if out.Resolved {
		t.Fatal("one vote must not resolve the match")
	}
	m, err := l.CurrentMatch(ctx, 1)
	if err != nil {
		t.Fatalf("current match: %v", err)
	}
	if !m.HasVoted(1) || m.HasVoted(2) {
		t.Errorf("expected only player 1 to have voted: %+v", m)
	}

	out, err = l.SubmitVote(ctx, matchID, 2, 2)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if !out.Resolved || out.Disputed || out.WinnerID != 2 || out.LoserID != 1 {
		t.Fatalf("expected 2 to win undisputed, got %+v", out)
	}

	if countRows(t, db, ctx, "ongoing_matches") != 0 {
		t.Error("resolved match must leave ongoing_matches")
	}
	if _, err := l.CurrentMatch(ctx, 1); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch after resolution, got %v", err)
	}

	hist, err := l.History(ctx, 1, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}
	h := hist[0]
	if h.MatchID != matchID || h.WinnerID != 2 || h.LoserID != 1 || h.Disputed {
		t.Errorf("unexpected history row %+v", h)
	}
	if h.CompletedAt.Before(h.PlayedAt) {
		t.Errorf("completed_at %v before played_at %v", h.CompletedAt, h.PlayedAt)
	}
}

func TestSubmitVote_DisputedUsesTieBreaker(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db, WithTieBreaker(func(a, b int64) int64 { return b }))
	matchID := pairTestUsers(t, db, ctx, 5, 3)
	startTestVoting(t, l, ctx, matchID, 5)

	if _, err := l.SubmitVote(ctx, matchID, 5, 5); err != nil {
		t.Fatalf("vote 5: %v", err)
	}
	out, err := l.SubmitVote(ctx, matchID, 3, 3)
	if err != nil {
		t.Fatalf("vote 3: %v", err)
	}

	// player2 is the larger id.
	if !out.Resolved || !out.Disputed || out.WinnerID != 5 || out.LoserID != 3 {
		t.Fatalf("expected disputed win for 5, got %+v", out)
	}

	hist, err := l.History(ctx, 3, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || !hist[0].Disputed {
		t.Errorf("expected one disputed history row, got %+v", hist)
	}
}

func TestSubmitVote_ResubmissionOverwrites(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db, WithTieBreaker(func(a, b int64) int64 {
		t.Error("tie breaker must not run when final votes agree")
		return a
	}))
	matchID := pairTestUsers(t, db, ctx, 1, 2)
	startTestVoting(t, l, ctx, matchID, 2)

	if _, err := l.SubmitVote(ctx, matchID, 1, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := l.SubmitVote(ctx, matchID, 1, 2); err != nil {
		t.Fatalf("revote: %v", err)
	}
	m, err := l.CurrentMatch(ctx, 2)
	if err != nil {
		t.Fatalf("current match: %v", err)
	}
	if m.Player1Vote == nil || *m.Player1Vote != 2 {
		t.Fatalf("expected overwritten vote for 2, got %v", m.Player1Vote)
	}

	out, err := l.SubmitVote(ctx, matchID, 2, 2)
	if err != nil {
		t.Fatalf("final vote: %v", err)
	}
	if out.Disputed || out.WinnerID != 2 {
		t.Errorf("expected undisputed win for 2, got %+v", out)
	}
}

func TestSubmitVote_ResolvedMatchIsGone(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)
	matchID := pairTestUsers(t, db, ctx, 1, 2)
	startTestVoting(t, l, ctx, matchID, 1)

	for _, uid := range []int64{1, 2} {
		if _, err := l.SubmitVote(ctx, matchID, uid, 1); err != nil {
			t.Fatalf("vote %d: %v", uid, err)
		}
	}
	if _, err := l.SubmitVote(ctx, matchID, 1, 1); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("late vote: expected ErrMatchNotFound, got %v", err)
	}
	if countRows(t, db, ctx, "match_history") != 1 {
		t.Error("expected exactly one history row")
	}
}

func TestHistory_NewestFirstAndLimit(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)

	var ids []int64
	for i := 0; i < 3; i++ {
		matchID := pairTestUsers(t, db, ctx, 1, 2)
		startTestVoting(t, l, ctx, matchID, 1)
		for _, uid := range []int64{1, 2} {
			if _, err := l.SubmitVote(ctx, matchID, uid, 1); err != nil {
				t.Fatalf("vote: %v", err)
			}
		}
		ids = append(ids, matchID)
	}

	hist, err := l.History(ctx, 2, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 rows with limit 2, got %d", len(hist))
	}
	if hist[0].MatchID != ids[2] || hist[1].MatchID != ids[1] {
		t.Errorf("expected newest first (%d, %d), got (%d, %d)",
			ids[2], ids[1], hist[0].MatchID, hist[1].MatchID)
	}

	hist, err = l.History(ctx, 99, 0)
	if err != nil {
		t.Fatalf("history 99: %v", err)
	}
	if hist == nil || len(hist) != 0 {
		t.Errorf("expected empty non-nil history, got %v", hist)
	}
}

func TestCurrentMatch_NoMatch(t *testing.T) {
	db, ctx := setupTestDB(t)
	l := NewLedger(db)

	if _, err := l.CurrentMatch(ctx, 1); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if _, err := l.CurrentMatch(ctx, 0); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}
