package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/arena/internal/logging"
	"github.com/whisper/arena/internal/metrics"
)

// ServiceConfig holds the intervals of the background loops.
type ServiceConfig struct {
	MatchInterval    time.Duration
	JanitorInterval  time.Duration
	MatchedRetention time.Duration
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MatchInterval:    2 * time.Second,
		JanitorInterval:  5 * time.Minute,
		MatchedRetention: 7 * 24 * time.Hour,
	}
}

// Service ties the queue, the pairing engine and the match ledger together and
// announces what they commit.
type Service struct {
	queue  *Queue
	pairer *Pairer
	ledger *Ledger
	events Publisher
	cfg    ServiceConfig
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a matching service over the shared pool. A nil publisher
// drops events.
func NewService(db *sql.DB, events Publisher, cfg ServiceConfig, opts ...LedgerOption) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		queue:  NewQueue(db),
		pairer: NewPairer(db),
		ledger: NewLedger(db, opts...),
		events: events,
		cfg:    cfg,
		log:    logging.With("matcher"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the pairing sweep and the janitor in the background.
func (s *Service) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.matchLoop()
	}()
	go func() {
		defer s.wg.Done()
		StartJanitor(s.ctx, s.queue, s.cfg.JanitorInterval, s.cfg.MatchedRetention)
	}()
	s.log.Info().
		Dur("match_interval", s.cfg.MatchInterval).
		Dur("janitor_interval", s.cfg.JanitorInterval).
		Msg("service started")
}

// Stop cancels the background loops and waits for any pairing or sweep in
// flight to finish, so the pool can be closed right after.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("service stopped")
}

// QueueCount returns the number of waiting users.
func (s *Service) QueueCount(ctx context.Context) (int64, error) {
	return s.queue.Count(ctx)
}

// QueueStatus returns the user's place in the queue.
func (s *Service) QueueStatus(ctx context.Context, userID int64) (QueueStatus, error) {
	return s.queue.Status(ctx, userID)
}

// Toggle flips the user's queue membership. A queued user leaves. Anyone else
// joins, after which one pairing attempt runs; if it pairs the caller the
// result is ActionMatched. Users with an open match get ErrHasOpenMatch.
func (s *Service) Toggle(ctx context.Context, userID int64) (ToggleResult, error) {
	queued, err := s.queue.IsQueued(ctx, userID)
	if err != nil {
		return ToggleResult{}, err
	}

	if queued {
		removed, err := s.queue.Dequeue(ctx, userID)
		if err != nil {
			return ToggleResult{}, err
		}
		if removed {
			logging.Ctx(ctx).Info().Int64("user_id", userID).Msg("left queue")
			s.refreshQueueGauge(ctx)
			return ToggleResult{Action: ActionLeft}, nil
		}
		// Paired between the check and the delete.
		m, err := s.ledger.CurrentMatch(ctx, userID)
		if errors.Is(err, ErrNoMatch) {
			return ToggleResult{}, ErrNotQueued
		}
		if err != nil {
			return ToggleResult{}, err
		}
		return ToggleResult{Action: ActionMatched, MatchID: m.MatchID}, nil
	}

	entry, err := s.queue.Enqueue(ctx, userID)
	if err != nil {
		return ToggleResult{}, err
	}
	logging.Ctx(ctx).Info().
		Int64("user_id", userID).
		Int64("queue_id", entry.QueueID).
		Msg("joined queue")

	res, err := s.Pair(ctx)
	if err != nil {
		return ToggleResult{}, fmt.Errorf("matching: pair after join: %w", err)
	}
	if res.Contains(userID) {
		return ToggleResult{Action: ActionMatched, MatchID: res.MatchID}, nil
	}
	return ToggleResult{Action: ActionJoined}, nil
}

// Pair runs one pairing attempt and announces the match if one was formed.
func (s *Service) Pair(ctx context.Context) (PairResult, error) {
	res, err := s.pairer.PairOldest(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("pairing failed")
		return PairResult{}, err
	}
	if res.Matched {
		metrics.PairingsTotal.Inc()
		logging.Ctx(ctx).Info().
			Int64("match_id", res.MatchID).
			Int64("user_a", res.Users[0]).
			Int64("user_b", res.Users[1]).
			Msg("match formed")
		if err := s.events.MatchFormed(res); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("match_id", res.MatchID).Msg("publish match formed")
		}
	}
	s.refreshQueueGauge(ctx)
	return res, nil
}

// StartVoting opens voting on a match.
func (s *Service) StartVoting(ctx context.Context, matchID, userID int64) (*Match, error) {
	m, changed, err := s.ledger.StartVoting(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if changed {
		logging.Ctx(ctx).Info().Int64("match_id", matchID).Int64("user_id", userID).Msg("voting started")
		if err := s.events.VotingStarted(matchID, userID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("match_id", matchID).Msg("publish voting started")
		}
	}
	return m, nil
}

// SubmitVote records a vote and reports whether it resolved the match.
func (s *Service) SubmitVote(ctx context.Context, matchID, userID, winnerID int64) (VoteOutcome, error) {
	out, err := s.ledger.SubmitVote(ctx, matchID, userID, winnerID)
	if err != nil {
		return VoteOutcome{}, err
	}
	if !out.Resolved {
		logging.Ctx(ctx).Debug().Int64("match_id", matchID).Int64("user_id", userID).Msg("vote recorded")
		return out, nil
	}

	outcome := "agreed"
	if out.Disputed {
		outcome = "disputed"
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	logging.Ctx(ctx).Info().
		Int64("match_id", matchID).
		Int64("winner_id", out.WinnerID).
		Int64("loser_id", out.LoserID).
		Str("outcome", outcome).
		Msg("match resolved")
	if err := s.events.MatchResolved(matchID, out); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("match_id", matchID).Msg("publish match resolved")
	}
	return out, nil
}

// CurrentMatch returns the user's open match, or ErrNoMatch.
func (s *Service) CurrentMatch(ctx context.Context, userID int64) (*Match, error) {
	return s.ledger.CurrentMatch(ctx, userID)
}

// History returns the user's resolved matches, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]HistoryEntry, error) {
	return s.ledger.History(ctx, userID, limit)
}

// matchLoop pairs whoever is still waiting at every tick, so a pairing that
// failed during a toggle is retried without the user acting again.
func (s *Service) matchLoop() {
	ticker := time.NewTicker(s.cfg.MatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("match loop stopped")
			return
		case <-ticker.C:
			s.processQueue()
		}
	}
}

// processQueue drains the queue two at a time until fewer than two remain.
func (s *Service) processQueue() {
	for s.ctx.Err() == nil {
		res, err := s.Pair(s.ctx)
		if err != nil || !res.Matched {
			return
		}
	}
}

func (s *Service) refreshQueueGauge(ctx context.Context) {
	n, err := s.queue.Count(ctx)
	if err != nil {
		return
	}
	metrics.QueueSize.Set(float64(n))
}
