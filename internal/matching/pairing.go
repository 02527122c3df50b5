package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/whisper/arena/internal/metrics"
	"github.com/whisper/arena/internal/storage"
)

// Pairer forms matches from the head of the queue.
type Pairer struct {
	db *sql.DB
}

// NewPairer creates a pairing engine over the shared pool.
func NewPairer(db *sql.DB) *Pairer {
	return &Pairer{db: db}
}

// PairOldest pairs the two longest-waiting users, if there are two. Both queue
// rows are claimed with FOR UPDATE SKIP LOCKED so concurrent callers never
// claim the same entry; the rows are marked matched and the match row is
// inserted in a single transaction. Any failure rolls everything back.
func (p *Pairer) PairOldest(ctx context.Context) (PairResult, error) {
	start := time.Now()
	defer metrics.ObserveTx("pair", start)

	var res PairResult
	err := storage.WithTx(ctx, p.db, nil, func(tx *sql.Tx) error {
		var err error
		res, err = formMatch(ctx, tx)
		return err
	})
	if err != nil {
		return PairResult{}, err
	}
	return res, nil
}

// formMatch claims the two queue heads and records their match inside tx.
// Both users' locks are held until tx ends, so an Enqueue for either of them
// waits and then sees the committed match.
func formMatch(ctx context.Context, tx *sql.Tx) (PairResult, error) {
	heads, err := claimHeads(ctx, tx)
	if err != nil {
		return PairResult{}, err
	}
	if len(heads) < 2 {
		return PairResult{}, nil
	}
	a, b := heads[0], heads[1]

	p1, p2 := a.UserID, b.UserID
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	// Ascending order keeps two pairers from deadlocking on the same users.
	if err := lockUser(ctx, tx, p1); err != nil {
		return PairResult{}, err
	}
	if err := lockUser(ctx, tx, p2); err != nil {
		return PairResult{}, err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE match_queue
   SET is_matched = true, matched_at = now()
 WHERE queue_id IN ($1, $2)
`, a.QueueID, b.QueueID); err != nil {
		return PairResult{}, fmt.Errorf("matching: mark matched: %w", err)
	}

	facility, err := randomFacility(ctx, tx)
	if err != nil {
		return PairResult{}, err
	}

	var matchID int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO ongoing_matches (player1_id, player2_id, facility_id)
VALUES ($1, $2, $3)
RETURNING match_id
`, p1, p2, facility).Scan(&matchID)
	if err != nil {
		return PairResult{}, fmt.Errorf("matching: insert match: %w", err)
	}

	return PairResult{Matched: true, MatchID: matchID, Users: [2]int64{a.UserID, b.UserID}}, nil
}

// lockUser takes the per-user transaction lock shared by Enqueue and
// formMatch. It is released at commit or rollback.
func lockUser(ctx context.Context, tx *sql.Tx, userID int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("matching: lock user %d: %w", userID, err)
	}
	return nil
}

// claimHeads locks up to two unmatched entries in FIFO order, skipping rows
// another transaction already holds.
func claimHeads(ctx context.Context, tx *sql.Tx) ([]QueueEntry, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT queue_id, user_id, join_time
  FROM match_queue
 WHERE NOT is_matched
 ORDER BY join_time, queue_id
 LIMIT 2
 FOR UPDATE SKIP LOCKED
`)
	if err != nil {
		return nil, fmt.Errorf("matching: claim heads: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.QueueID, &e.UserID, &e.JoinTime); err != nil {
			return nil, fmt.Errorf("matching: scan head: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("matching: claim heads: %w", err)
	}
	return out, nil
}

// randomFacility picks one active facility uniformly at random. No active
// facility yields a NULL id.
func randomFacility(ctx context.Context, tx *sql.Tx) (sql.NullInt64, error) {
	var id sql.NullInt64
	err := tx.QueryRowContext(ctx, `
SELECT facility_id FROM facilities
 WHERE is_active
 ORDER BY random()
 LIMIT 1
`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullInt64{}, nil
	}
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("matching: pick facility: %w", err)
	}
	return id, nil
}
