package matching

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/whisper/arena/internal/testinfra"
)

// setupTestDB returns a migrated, empty database. Tests are skipped when no
// Postgres is available.
func setupTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	return testinfra.OpenPostgres(t), context.Background()
}

func enqueueTestUser(t *testing.T, q *Queue, ctx context.Context, userID int64) *QueueEntry {
	t.Helper()
	e, err := q.Enqueue(ctx, userID)
	if err != nil {
		t.Fatalf("failed to enqueue %d: %v", userID, err)
	}
	return e
}

// insertTestMatch creates an ongoing match directly, bypassing the queue.
func insertTestMatch(t *testing.T, db *sql.DB, ctx context.Context, p1, p2 int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO ongoing_matches (player1_id, player2_id) VALUES ($1, $2) RETURNING match_id`,
		p1, p2).Scan(&id)
	if err != nil {
		t.Fatalf("insert match: %v", err)
	}
	return id
}

func TestQueue_EnqueueAndCount(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	n, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}

	e := enqueueTestUser(t, q, ctx, 1)
	if e.UserID != 1 || e.IsMatched || e.QueueID == 0 || e.JoinTime.IsZero() {
		t.Errorf("unexpected entry: %+v", e)
	}
	enqueueTestUser(t, q, ctx, 2)

	if n, _ := q.Count(ctx); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}

	queued, err := q.IsQueued(ctx, 1)
	if err != nil || !queued {
		t.Errorf("user 1 should be queued (err=%v)", err)
	}
	queued, err = q.IsQueued(ctx, 3)
	if err != nil || queued {
		t.Errorf("user 3 should not be queued (err=%v)", err)
	}
}

func TestQueue_EnqueueTwiceFails(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	enqueueTestUser(t, q, ctx, 1)
	if _, err := q.Enqueue(ctx, 1); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if n, _ := q.Count(ctx); n != 1 {
		t.Errorf("duplicate enqueue must not add a row, count=%d", n)
	}
}

func TestQueue_EnqueueWithOpenMatchFails(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	insertTestMatch(t, db, ctx, 4, 8)
	if _, err := q.Enqueue(ctx, 8); !errors.Is(err, ErrHasOpenMatch) {
		t.Fatalf("expected ErrHasOpenMatch, got %v", err)
	}
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("queue should stay empty, count=%d", n)
	}
}

func TestQueue_RejectsInvalidUser(t *testing.T) {
	// Validation happens before any query, so a nil pool is fine.
	q := NewQueue(nil)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, 0); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("Enqueue(0): expected ErrInvalidUser, got %v", err)
	}
	if _, err := q.Dequeue(ctx, -1); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("Dequeue(-1): expected ErrInvalidUser, got %v", err)
	}
	if _, err := q.IsQueued(ctx, 0); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("IsQueued(0): expected ErrInvalidUser, got %v", err)
	}
	if _, err := q.Status(ctx, 0); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("Status(0): expected ErrInvalidUser, got %v", err)
	}
}

func TestQueue_Dequeue(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	enqueueTestUser(t, q, ctx, 1)

	removed, err := q.Dequeue(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	if queued, _ := q.IsQueued(ctx, 1); queued {
		t.Error("user 1 should no longer be queued")
	}

	removed, err = q.Dequeue(ctx, 1)
	if err != nil || removed {
		t.Errorf("second dequeue should report nothing removed, got removed=%v err=%v", removed, err)
	}

	// Leaving and rejoining is allowed.
	enqueueTestUser(t, q, ctx, 1)
}

func TestQueue_DequeueKeepsMatchedRows(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	enqueueTestUser(t, q, ctx, 1)
	enqueueTestUser(t, q, ctx, 2)
	if _, err := NewPairer(db).PairOldest(ctx); err != nil {
		t.Fatalf("pair: %v", err)
	}

	removed, err := q.Dequeue(ctx, 1)
	if err != nil || removed {
		t.Errorf("matched entry must not be dequeued, removed=%v err=%v", removed, err)
	}

	var rows int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM match_queue WHERE is_matched`).Scan(&rows); err != nil {
		t.Fatalf("count matched: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected 2 matched rows kept, got %d", rows)
	}
}

func TestQueue_Status(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	for _, id := range []int64{10, 20, 30} {
		enqueueTestUser(t, q, ctx, id)
	}

	for want, id := range []int64{10, 20, 30} {
		st, err := q.Status(ctx, id)
		if err != nil {
			t.Fatalf("status %d: %v", id, err)
		}
		if !st.Queued || st.JoinTime == nil || st.Position != int64(want+1) {
			t.Errorf("user %d: unexpected status %+v", id, st)
		}
	}

	if _, err := q.Dequeue(ctx, 10); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	st, _ := q.Status(ctx, 30)
	if st.Position != 2 {
		t.Errorf("expected user 30 to move up to 2, got %d", st.Position)
	}

	st, err := q.Status(ctx, 99)
	if err != nil {
		t.Fatalf("status 99: %v", err)
	}
	if st.Queued || st.Position != 0 || st.JoinTime != nil {
		t.Errorf("unqueued user should have empty status, got %+v", st)
	}
}

func TestQueue_PruneMatched(t *testing.T) {
	db, ctx := setupTestDB(t)
	q := NewQueue(db)

	for _, id := range []int64{1, 2, 3, 4, 5} {
		enqueueTestUser(t, q, ctx, id)
	}
	p := NewPairer(db)
	for i := 0; i < 2; i++ {
		if _, err := p.PairOldest(ctx); err != nil {
			t.Fatalf("pair: %v", err)
		}
	}

	// Age the first pair past the retention window.
	if _, err := db.ExecContext(ctx,
		`UPDATE match_queue SET matched_at = now() - interval '2 hours' WHERE user_id IN (1, 2)`); err != nil {
		t.Fatalf("age rows: %v", err)
	}

	removed, err := q.PruneMatched(ctx, time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 pruned rows, got %d", removed)
	}

	var left int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM match_queue`).Scan(&left); err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 3 {
		t.Errorf("expected 3 rows left (2 recent matched, 1 waiting), got %d", left)
	}
	if n, _ := q.Count(ctx); n != 1 {
		t.Errorf("waiting entry must survive pruning, count=%d", n)
	}
}
