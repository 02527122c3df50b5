package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/whisper/arena/internal/storage"
)

// Queue is the Postgres-backed matchmaking queue. Every read goes to the
// database; nothing is cached in process.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a queue store over the shared pool.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Count returns the number of users waiting to be matched.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM match_queue WHERE NOT is_matched`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("matching: count queue: %w", err)
	}
	return n, nil
}

// IsQueued reports whether userID has an unmatched entry.
func (q *Queue) IsQueued(ctx context.Context, userID int64) (bool, error) {
	if userID <= 0 {
		return false, ErrInvalidUser
	}
	var queued bool
	err := q.db.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM match_queue WHERE user_id = $1 AND NOT is_matched
)`, userID).Scan(&queued)
	if err != nil {
		return false, fmt.Errorf("matching: is queued %d: %w", userID, err)
	}
	return queued, nil
}

// Enqueue adds userID to the back of the queue. A user with an unmatched entry
// gets ErrAlreadyQueued and a user with an open match gets ErrHasOpenMatch.
// The insert runs under the user's lock, which a pairing transaction also
// holds for both players, so a match committed concurrently is always seen.
func (q *Queue) Enqueue(ctx context.Context, userID int64) (*QueueEntry, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	var e QueueEntry
	err := storage.WithTx(ctx, q.db, nil, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
INSERT INTO match_queue (user_id)
SELECT $1::bigint
 WHERE NOT EXISTS (
   SELECT 1 FROM ongoing_matches
    WHERE player1_id = $1::bigint OR player2_id = $1::bigint
 )
RETURNING queue_id, user_id, join_time, is_matched
`, userID).Scan(&e.QueueID, &e.UserID, &e.JoinTime, &e.IsMatched)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrHasOpenMatch
	case storage.IsUniqueViolation(err):
		return nil, ErrAlreadyQueued
	case err != nil:
		return nil, fmt.Errorf("matching: enqueue %d: %w", userID, err)
	}
	return &e, nil
}

// Dequeue removes the user's unmatched entry. It returns false when there was
// nothing to remove. Matched entries are never touched.
func (q *Queue) Dequeue(ctx context.Context, userID int64) (bool, error) {
	if userID <= 0 {
		return false, ErrInvalidUser
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM match_queue WHERE user_id = $1 AND NOT is_matched`, userID)
	if err != nil {
		return false, fmt.Errorf("matching: dequeue %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Status returns the user's join time and FIFO position.
func (q *Queue) Status(ctx context.Context, userID int64) (QueueStatus, error) {
	if userID <= 0 {
		return QueueStatus{}, ErrInvalidUser
	}

	var (
		joined time.Time
		pos    int64
	)
	err := q.db.QueryRowContext(ctx, `
SELECT q.join_time,
       (SELECT count(*) FROM match_queue o
         WHERE NOT o.is_matched
           AND (o.join_time, o.queue_id) <= (q.join_time, q.queue_id))
  FROM match_queue q
 WHERE q.user_id = $1 AND NOT q.is_matched
`, userID).Scan(&joined, &pos)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueStatus{}, nil
	}
	if err != nil {
		return QueueStatus{}, fmt.Errorf("matching: queue status %d: %w", userID, err)
	}
	return QueueStatus{Queued: true, JoinTime: &joined, Position: pos}, nil
}

// PruneMatched deletes matched entries older than retention and returns how
// many were removed.
func (q *Queue) PruneMatched(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM match_queue
 WHERE is_matched
   AND matched_at < now() - $1::interval
`, durToInterval(retention))
	if err != nil {
		return 0, fmt.Errorf("matching: prune matched: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func durToInterval(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs <= 0 {
		return "0 seconds"
	}
	return fmt.Sprintf("%d seconds", secs)
}
