package session

import (
	"context"
	"errors"

	"github.com/quizrun/quizrun/internal/authority"
)

// Authority defines what the state machine needs from the contest
// authority. The HTTP client and the in-process app both satisfy it.
type Authority interface {
	StartRun(ctx context.Context, req authority.StartRequest) (*authority.StartReply, error)
	SubmitAnswers(ctx context.Context, req authority.SubmitRequest) (*authority.SubmitReply, error)
}

// State is the lifecycle position of one participant's run.
type State int

const (
	StateNoSession State = iota
	StateStarting
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Local validation errors, raised before any network call.
var (
	// ErrEmptySubmission means no slot is both selected and unlocked.
	ErrEmptySubmission = errors.New("no eligible answers to submit")

	// ErrSubmitInFlight means a submission for this run is still
	// outstanding. At most one is allowed at a time.
	ErrSubmitInFlight = errors.New("submission already in flight")

	// ErrNotActive rejects an operation that needs an active run.
	ErrNotActive = errors.New("no active run")

	// ErrAlreadyStarted rejects Start while a run is active or starting.
	ErrAlreadyStarted = errors.New("run already started")
)

// StartOutcome is the non-error result of Start.
type StartOutcome struct {
	// ReclaimRequired asks the caller to collect a reclaim code and retry.
	// The state machine is back at NoSession and nothing was created.
	ReclaimRequired bool
	// Resumed is true when an existing run was reclaimed rather than a new
	// one created.
	Resumed bool
}

// SubmitOutcome is the non-error result of Submit.
type SubmitOutcome struct {
	Score       int
	Rank        int
	IsWinner    bool
	Finished    bool
	LockedNow   int // slots locked by this verdict
	StaleIgnore int // stale wrong verdicts discarded for already-locked slots
}
