package matching

import "errors"

// Validation errors: the request itself is malformed.
var (
	ErrInvalidUser = errors.New("matching: user id must be positive")
	ErrInvalidVote = errors.New("matching: winner must be a participant of the match")
)

// State conflicts: the request is well formed but the current state forbids it.
var (
	ErrAlreadyQueued  = errors.New("matching: user is already queued")
	ErrHasOpenMatch   = errors.New("matching: user already has an open match")
	ErrNotParticipant = errors.New("matching: user is not a participant of the match")
	ErrNotVoting      = errors.New("matching: match is not in the voting phase")
)

// Not found.
var (
	ErrNotQueued     = errors.New("matching: user is not in the queue")
	ErrMatchNotFound = errors.New("matching: match not found")
	ErrNoMatch       = errors.New("matching: no match")
)

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Kind classifies err. Wrapped sentinels are recognised; anything unknown,
// including driver and transaction failures, is KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidVote):
		return KindValidation
	case errors.Is(err, ErrAlreadyQueued), errors.Is(err, ErrHasOpenMatch),
		errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotVoting):
		return KindConflict
	case errors.Is(err, ErrNotQueued), errors.Is(err, ErrMatchNotFound), errors.Is(err, ErrNoMatch):
		return KindNotFound
	default:
		return KindInternal
	}
}
