package matching

import "time"

// QueueEntry is one row of the matchmaking queue. Matched rows are kept as a
// record of who was paired and are pruned later by the janitor.
type QueueEntry struct {
	QueueID   int64     `json:"queueId"`
	UserID    int64     `json:"userId"`
	JoinTime  time.Time `json:"joinTime"`
	IsMatched bool      `json:"isMatched"`
}

// QueueStatus describes a user's place in the queue. Position is the 1-based
// FIFO rank among unmatched entries and is zero when the user is not queued.
type QueueStatus struct {
	Queued   bool       `json:"queued"`
	JoinTime *time.Time `json:"joinTime,omitempty"`
	Position int64      `json:"position"`
}

// MatchStatus is the lifecycle state of an ongoing match. Archived matches
// live in match_history and have no status of their own.
type MatchStatus string

const (
	StatusInProgress MatchStatus = "in_progress"
	StatusVoting     MatchStatus = "voting"
)

// Match is an ongoing match. Player1ID is always the smaller user id.
type Match struct {
	MatchID     int64       `json:"matchId"`
	Player1ID   int64       `json:"player1Id"`
	Player2ID   int64       `json:"player2Id"`
	FacilityID  *int64      `json:"facilityId"`
	Status      MatchStatus `json:"status"`
	Player1Vote *int64      `json:"player1Vote,omitempty"`
	Player2Vote *int64      `json:"player2Vote,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
}

// IsParticipant reports whether userID plays in m.
func (m *Match) IsParticipant(userID int64) bool {
	return userID == m.Player1ID || userID == m.Player2ID
}

// Opponent returns the other participant. The result is meaningless when
// userID is not a participant.
func (m *Match) Opponent(userID int64) int64 {
	if userID == m.Player1ID {
		return m.Player2ID
	}
	return m.Player1ID
}

// HasVoted reports whether the participant userID has a recorded vote.
func (m *Match) HasVoted(userID int64) bool {
	switch userID {
	case m.Player1ID:
		return m.Player1Vote != nil
	case m.Player2ID:
		return m.Player2Vote != nil
	}
	return false
}

// HistoryEntry is an archived, resolved match.
type HistoryEntry struct {
	MatchID     int64     `json:"matchId"`
	FacilityID  *int64    `json:"facilityId"`
	WinnerID    int64     `json:"winnerId"`
	LoserID     int64     `json:"loserId"`
	Disputed    bool      `json:"disputed"`
	PlayedAt    time.Time `json:"playedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// PairResult is the outcome of one pairing attempt. Users holds the two
// paired user ids in join order when Matched is true.
type PairResult struct {
	Matched bool
	MatchID int64
	Users   [2]int64
}

// Contains reports whether userID is one of the paired users.
func (r PairResult) Contains(userID int64) bool {
	return r.Matched && (r.Users[0] == userID || r.Users[1] == userID)
}

// VoteOutcome is the result of a vote submission. When Resolved is false only
// the caller's vote was recorded.
type VoteOutcome struct {
	Resolved bool
	Disputed bool
	WinnerID int64
	LoserID  int64
}

// ToggleAction is what a queue toggle did.
type ToggleAction string

const (
	ActionLeft    ToggleAction = "left"
	ActionJoined  ToggleAction = "joined"
	ActionMatched ToggleAction = "matched"
)

// ToggleResult is returned by Service.Toggle. MatchID is set only when the
// caller was paired.
type ToggleResult struct {
	Action  ToggleAction
	MatchID int64
}

// Redirect reports whether the client should navigate to its new match.
func (r ToggleResult) Redirect() bool {
	return r.Action == ActionMatched
}
