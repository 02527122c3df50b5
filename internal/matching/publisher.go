package matching

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/whisper/arena/internal/messaging"
)

// MatchFormedEvent is published to each paired user on
// arena.match.formed.<user_id>.
type MatchFormedEvent struct {
	MatchID    int64 `json:"matchId"`
	OpponentID int64 `json:"opponentId"`
}

// VotingStartedEvent is published on arena.match.voting.<match_id>.
type VotingStartedEvent struct {
	MatchID   int64 `json:"matchId"`
	StartedBy int64 `json:"startedBy"`
}

// MatchResolvedEvent is published on arena.match.resolved.<match_id> once a
// match has been archived.
type MatchResolvedEvent struct {
	MatchID  int64 `json:"matchId"`
	WinnerID int64 `json:"winnerId"`
	LoserID  int64 `json:"loserId"`
	Disputed bool  `json:"disputed"`
}

// Publisher announces committed match lifecycle changes. Events are sent
// after the transaction commits, so a failed publish never undoes state.
type Publisher interface {
	MatchFormed(res PairResult) error
	VotingStarted(matchID, startedBy int64) error
	MatchResolved(matchID int64, out VoteOutcome) error
}

// NopPublisher drops every event. It is used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) MatchFormed(PairResult) error { return nil }
func (NopPublisher) VotingStarted(int64, int64) error { return nil }
func (NopPublisher) MatchResolved(int64, VoteOutcome) error { return nil }

// NATSPublisher sends events as JSON over NATS.
type NATSPublisher struct {
	nats *messaging.NATSClient
}

func NewNATSPublisher(nc *messaging.NATSClient) *NATSPublisher {
	return &NATSPublisher{nats: nc}
}

// MatchFormed notifies both users, each with the other as opponent.
func (p *NATSPublisher) MatchFormed(res PairResult) error {
	for i, userID := range res.Users {
		data, err := json.Marshal(MatchFormedEvent{MatchID: res.MatchID, OpponentID: res.Users[1-i]})
		if err != nil {
			return fmt.Errorf("matching: marshal match formed: %w", err)
		}
		if err := p.nats.PublishMatchFormed(userID, data); err != nil {
			return fmt.Errorf("matching: publish match formed for %d: %w", userID, err)
		}
	}
	return nil
}

func (p *NATSPublisher) VotingStarted(matchID, startedBy int64) error {
	data, err := json.Marshal(VotingStartedEvent{MatchID: matchID, StartedBy: startedBy})
	if err != nil {
		return fmt.Errorf("matching: marshal voting started: %w", err)
	}
	if err := p.nats.PublishVotingStarted(matchID, data); err != nil {
		return fmt.Errorf("matching: publish voting started for %d: %w", matchID, err)
	}
	return nil
}

func (p *NATSPublisher) MatchResolved(matchID int64, out VoteOutcome) error {
	data, err := json.Marshal(MatchResolvedEvent{
		MatchID:  matchID,
		WinnerID: out.WinnerID,
		LoserID:  out.LoserID,
		Disputed: out.Disputed,
	})
	if err != nil {
		return fmt.Errorf("matching: marshal match resolved: %w", err)
	}
	if err := p.nats.PublishMatchResolved(matchID, data); err != nil {
		return fmt.Errorf("matching: publish match resolved for %d: %w", matchID, err)
	}
	return nil
}
