package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/whisper/arena/internal/logging"
	"github.com/whisper/arena/internal/matching"
	"github.com/whisper/arena/internal/ratelimit"
	"github.com/whisper/arena/internal/validation"
)

// Arena is the matchmaking service as seen by the HTTP layer.
type Arena interface {
	QueueCount(ctx context.Context) (int64, error)
	QueueStatus(ctx context.Context, userID int64) (matching.QueueStatus, error)
	Toggle(ctx context.Context, userID int64) (matching.ToggleResult, error)
	StartVoting(ctx context.Context, matchID, userID int64) (*matching.Match, error)
	SubmitVote(ctx context.Context, matchID, userID, winnerID int64) (matching.VoteOutcome, error)
	CurrentMatch(ctx context.Context, userID int64) (*matching.Match, error)
	History(ctx context.Context, userID int64, limit int) ([]matching.HistoryEntry, error)
}

// Limiter throttles queue toggles per user.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// HeaderRateLimitRemaining carries the toggles a user has left in the window.
const HeaderRateLimitRemaining = "X-RateLimit-Remaining"

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler serves the API routes.
type Handler struct {
	arena      Arena
	limiter    Limiter
	toggleRule ratelimit.Rule
	db         Pinger
}

type userRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

type voteRequest struct {
	UserID   int64 `json:"userId" validate:"required,gt=0"`
	WinnerID int64 `json:"winnerId" validate:"required,gt=0"`
}

type historyQuery struct {
	Limit int `json:"limit" validate:"min=0,max=100"`
}

type toggleResponse struct {
	Action   matching.ToggleAction `json:"action"`
	Redirect bool                  `json:"redirect"`
	MatchID  int64                 `json:"matchId,omitempty"`
}

type currentMatchResponse struct {
	*matching.Match
	Player1Voted bool `json:"player1Voted"`
	Player2Voted bool `json:"player2Voted"`
}

type voteResponse struct {
	Success  bool  `json:"success"`
	Resolved bool  `json:"resolved"`
	WinnerID int64 `json:"winnerId,omitempty"`
	LoserID  int64 `json:"loserId,omitempty"`
	Disputed bool  `json:"disputed,omitempty"`
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// QueueCount handles GET /api/v1/queue/count.
func (h *Handler) QueueCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.arena.QueueCount(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// QueueStatus handles GET /api/v1/queue/{userID}.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	st, err := h.arena.QueueStatus(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// ToggleQueue handles POST /api/v1/queue/toggle.
func (h *Handler) ToggleQueue(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if h.limiter != nil {
		// Limiter errors fail open.
		id := strconv.FormatInt(req.UserID, 10)
		allowed, _ := h.limiter.Allow(r.Context(), id, h.toggleRule)
		if left, err := h.limiter.Remaining(r.Context(), id, h.toggleRule); err == nil {
			w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(left))
		}
		if !allowed {
			respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many queue toggles", Code: CodeRateLimited})
			return
		}
	}

	res, err := h.arena.Toggle(r.Context(), req.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toggleResponse{
		Action:   res.Action,
		Redirect: res.Redirect(),
		MatchID:  res.MatchID,
	})
}

// StartVoting handles POST /api/v1/matches/{matchID}/voting.
func (h *Handler) StartVoting(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchID")
	if !ok {
		return
	}
	var req userRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.arena.StartVoting(r.Context(), matchID, req.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "match": m})
}

// SubmitVote handles POST /api/v1/matches/{matchID}/votes.
func (h *Handler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r, "matchID")
	if !ok {
		return
	}
	var req voteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	out, err := h.arena.SubmitVote(r.Context(), matchID, req.UserID, req.WinnerID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, voteResponse{
		Success:  true,
		Resolved: out.Resolved,
		WinnerID: out.WinnerID,
		LoserID:  out.LoserID,
		Disputed: out.Disputed,
	})
}

// CurrentMatch handles GET /api/v1/users/{userID}/match.
func (h *Handler) CurrentMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	m, err := h.arena.CurrentMatch(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, currentMatchResponse{
		Match:        m,
		Player1Voted: m.HasVoted(m.Player1ID),
		Player2Voted: m.HasVoted(m.Player2ID),
	})
}

// History handles GET /api/v1/users/{userID}/history?limit=n.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var q historyQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondBadRequest(w, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		respondValidation(w, verr)
		return
	}

	entries, err := h.arena.History(r.Context(), userID, q.Limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": entries})
}
