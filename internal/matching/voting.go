package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/whisper/arena/internal/metrics"
	"github.com/whisper/arena/internal/storage"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// TieBreaker picks the winner of a disputed match from its two participants.
type TieBreaker func(a, b int64) int64

// CoinFlip picks a or b with equal probability.
func CoinFlip(a, b int64) int64 {
	if rand.Intn(2) == 0 {
		return a
	}
	return b
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithTieBreaker replaces the coin flip used for disputed matches.
func WithTieBreaker(tb TieBreaker) LedgerOption {
	return func(l *Ledger) { l.tieBreak = tb }
}

// Ledger drives ongoing matches through voting into the match history.
type Ledger struct {
	db       *sql.DB
	tieBreak TieBreaker
}

// NewLedger creates a match ledger over the shared pool.
func NewLedger(db *sql.DB, opts ...LedgerOption) *Ledger {
	l := &Ledger{db: db, tieBreak: CoinFlip}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const matchColumns = `match_id, player1_id, player2_id, facility_id, status,
       player1_vote_winner, player2_vote_winner, started_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*Match, error) {
	var (
		m        Match
		facility sql.NullInt64
		v1, v2   sql.NullInt64
		status   string
	)
	if err := row.Scan(&m.MatchID, &m.Player1ID, &m.Player2ID, &facility, &status, &v1, &v2, &m.StartedAt); err != nil {
		return nil, err
	}
	m.Status = MatchStatus(status)
	if facility.Valid {
		m.FacilityID = &facility.Int64
	}
	if v1.Valid {
		m.Player1Vote = &v1.Int64
	}
	if v2.Valid {
		m.Player2Vote = &v2.Int64
	}
	return &m, nil
}

// lockMatch loads a match and holds its row lock until tx ends.
func lockMatch(ctx context.Context, tx *sql.Tx, matchID int64) (*Match, error) {
	m, err := scanMatch(tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM ongoing_matches WHERE match_id = $1 FOR UPDATE`, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("matching: load match %d: %w", matchID, err)
	}
	return m, nil
}

// StartVoting moves a match from in progress to voting. Only a participant
// may do this. Calling it on a match that is already voting is a no-op; the
// returned bool reports whether the status actually changed.
func (l *Ledger) StartVoting(ctx context.Context, matchID, userID int64) (*Match, bool, error) {
	if userID <= 0 {
		return nil, false, ErrInvalidUser
	}

	start := time.Now()
	defer metrics.ObserveTx("start_voting", start)

	var (
		m       *Match
		changed bool
	)
	err := storage.WithTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		var err error
		m, err = lockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsParticipant(userID) {
			return ErrNotParticipant
		}
		if m.Status == StatusVoting {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ongoing_matches SET status = 'voting' WHERE match_id = $1`, matchID); err != nil {
			return fmt.Errorf("matching: start voting %d: %w", matchID, err)
		}
		m.Status = StatusVoting
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return m, changed, nil
}

// SubmitVote records userID's choice of winner, overwriting any earlier vote.
// Once both participants have voted the match is resolved in the same
// transaction: a history row is written and the ongoing row deleted.
func (l *Ledger) SubmitVote(ctx context.Context, matchID, userID, winnerID int64) (VoteOutcome, error) {
	if userID <= 0 {
		return VoteOutcome{}, ErrInvalidUser
	}

	start := time.Now()
	defer metrics.ObserveTx("vote", start)

	var out VoteOutcome
	err := storage.WithTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		m, err := lockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsParticipant(userID) {
			return ErrNotParticipant
		}
		if !m.IsParticipant(winnerID) {
			return ErrInvalidVote
		}
		if m.Status != StatusVoting {
			return ErrNotVoting
		}

		if err := recordVote(ctx, tx, m, userID, winnerID); err != nil {
			return err
		}
		if m.Player1Vote == nil || m.Player2Vote == nil {
			return nil
		}

		out = resolveWinner(m, l.tieBreak)
		return archive(ctx, tx, m, out)
	})
	if err != nil {
		return VoteOutcome{}, err
	}
	return out, nil
}

func recordVote(ctx context.Context, tx *sql.Tx, m *Match, userID, winnerID int64) error {
	query := `UPDATE ongoing_matches SET player1_voted = true, player1_vote_winner = $2 WHERE match_id = $1`
	if userID == m.Player2ID {
		query = `UPDATE ongoing_matches SET player2_voted = true, player2_vote_winner = $2 WHERE match_id = $1`
	}
	if _, err := tx.ExecContext(ctx, query, m.MatchID, winnerID); err != nil {
		return fmt.Errorf("matching: record vote %d: %w", m.MatchID, err)
	}

	w := winnerID
	if userID == m.Player1ID {
		m.Player1Vote = &w
	} else {
		m.Player2Vote = &w
	}
	return nil
}

// resolveWinner decides a fully voted match. Matching votes win outright;
// conflicting votes are settled by tieBreak.
func resolveWinner(m *Match, tieBreak TieBreaker) VoteOutcome {
	if *m.Player1Vote == *m.Player2Vote {
		w := *m.Player1Vote
		return VoteOutcome{Resolved: true, WinnerID: w, LoserID: m.Opponent(w)}
	}
	w := tieBreak(m.Player1ID, m.Player2ID)
	if !m.IsParticipant(w) {
		w = m.Player1ID
	}
	return VoteOutcome{Resolved: true, Disputed: true, WinnerID: w, LoserID: m.Opponent(w)}
}

func archive(ctx context.Context, tx *sql.Tx, m *Match, out VoteOutcome) error {
	var facility sql.NullInt64
	if m.FacilityID != nil {
		facility = sql.NullInt64{Int64: *m.FacilityID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO match_history (match_id, facility_id, winner_id, loser_id, disputed, played_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, m.MatchID, facility, out.WinnerID, out.LoserID, out.Disputed, m.StartedAt); err != nil {
		return fmt.Errorf("matching: archive match %d: %w", m.MatchID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ongoing_matches WHERE match_id = $1`, m.MatchID); err != nil {
		return fmt.Errorf("matching: delete match %d: %w", m.MatchID, err)
	}
	return nil
}

// CurrentMatch returns the user's open match, or ErrNoMatch.
func (l *Ledger) CurrentMatch(ctx context.Context, userID int64) (*Match, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	m, err := scanMatch(l.db.QueryRowContext(ctx, `
SELECT `+matchColumns+`
  FROM ongoing_matches
 WHERE player1_id = $1 OR player2_id = $1
 ORDER BY started_at DESC, match_id DESC
 LIMIT 1
`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("matching: current match %d: %w", userID, err)
	}
	return m, nil
}

// History returns the user's resolved matches, newest first. A limit outside
// (0, MaxHistoryLimit] is clamped.
func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]HistoryEntry, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT match_id, facility_id, winner_id, loser_id, disputed, played_at, completed_at
  FROM match_history
 WHERE winner_id = $1 OR loser_id = $1
 ORDER BY completed_at DESC, history_id DESC
 LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("matching: history %d: %w", userID, err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			h        HistoryEntry
			facility sql.NullInt64
		)
		if err := rows.Scan(&h.MatchID, &facility, &h.WinnerID, &h.LoserID, &h.Disputed, &h.PlayedAt, &h.CompletedAt); err != nil {
			return nil, fmt.Errorf("matching: scan history: %w", err)
		}
		if facility.Valid {
			id := facility.Int64
			h.FacilityID = &id
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("matching: history %d: %w", userID, err)
	}
	return out, nil
}
