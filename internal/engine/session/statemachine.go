package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/models"
)

// StateMachine owns one participant's run on the client side: lifecycle
// transitions, the draft answer buffer and per-slot lock state.
//
// Selections live in a client draft until submitted; locks, elapsed time and
// rank only ever flow from the authority into the draft, never the reverse,
// and only for unlocked slots. The machine is safe for concurrent use but is
// designed as a single logical actor: at most one submission is in flight
// per run.
type StateMachine struct {
	mu        sync.Mutex
	authority Authority
	clock     clockwork.Clock
	partition models.Partition

	state          State
	run            *models.Run
	slots          []models.QuestionSlot
	submitInFlight bool
	frozenElapsed  time.Duration
}

// New creates a state machine for one partition in the NoSession state.
func New(auth Authority, partition models.Partition, clock clockwork.Clock) *StateMachine {
	return &StateMachine{
		authority: auth,
		clock:     clock,
		partition: partition,
		state:     StateNoSession,
	}
}

// Start claims or resumes a run for name.
//
// A structurally invalid name is rejected before any network call. If the
// authority reports an existing active run and no reclaim code was given,
// the outcome carries ReclaimRequired and the machine stays at NoSession
// with no partial state. With a valid code the existing run is resumed:
// every slot the authority reports as already correct comes back locked and
// pre-filled before the machine becomes Active.
func (m *StateMachine) Start(ctx context.Context, name, email, reclaimCode string) (*StartOutcome, error) {
	normalized, err := authority.NormalizeName(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != StateNoSession {
		m.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	m.state = StateStarting
	m.mu.Unlock()

	reply, err := m.authority.StartRun(ctx, authority.StartRequest{
		Partition:   m.partition,
		Name:        normalized,
		Email:       email,
		ReclaimCode: reclaimCode,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateNoSession

	if err != nil {
		if authority.IsReclaimRequired(err) {
			return &StartOutcome{ReclaimRequired: true}, nil
		}
		return nil, fmt.Errorf("start run: %w", err)
	}

	run := reply.Run
	m.run = &run
	m.slots = cloneSlots(reply.Questions)
	if run.Finished() {
		m.state = StateFinished
		m.frozenElapsed = run.FinishedAt.Sub(run.StartedAt)
	} else {
		m.state = StateActive
	}

	resumed := reclaimCode != ""
	log.Info().
		Str("run_id", run.ID.String()).
		Str("partition", string(m.partition)).
		Str("participant", run.Participant).
		Bool("resumed", resumed).
		Msg("run started")

	return &StartOutcome{Resumed: resumed}, nil
}

// SelectOption records a draft selection for one slot. It is a silent no-op
// unless the run is Active, the slot exists, the option is within range and
// the slot is not locked: a locked slot ignores reselection by design of
// the lock protocol, not as an error.
func (m *StateMachine) SelectOption(slotIndex, optionIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return
	}
	if slotIndex < 0 || slotIndex >= len(m.slots) {
		return
	}
	slot := &m.slots[slotIndex]
	if slot.Locked {
		return
	}
	if optionIndex < 0 || optionIndex >= len(slot.Options) {
		return
	}
	sel := optionIndex
	slot.Selected = &sel
}

// Submit sends every slot with a selection and no lock as one batch and
// applies the verdict. It rejects locally with ErrEmptySubmission when no
// slot is eligible, and with ErrSubmitInFlight while an earlier submission
// is outstanding. A reply carrying a finish time transitions the run to
// Finished and freezes elapsed time at the authority's instant, never the
// local clock's.
func (m *StateMachine) Submit(ctx context.Context) (*SubmitOutcome, error) {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return nil, ErrNotActive
	}
	if m.submitInFlight {
		m.mu.Unlock()
		return nil, ErrSubmitInFlight
	}

	var answers []authority.Answer
	var submitted []uuid.UUID
	for i := range m.slots {
		slot := &m.slots[i]
		if slot.Selected == nil || slot.Locked {
			continue
		}
		answers = append(answers, authority.Answer{
			QuestionID:     slot.QuestionID,
			SelectedOption: *slot.Selected,
		})
		submitted = append(submitted, slot.QuestionID)
	}
	if len(answers) == 0 {
		m.mu.Unlock()
		return nil, ErrEmptySubmission
	}

	req := authority.SubmitRequest{
		RunID:       m.run.ID,
		ReclaimCode: m.run.ReclaimCode,
		Answers:     answers,
	}
	m.submitInFlight = true
	m.mu.Unlock()

	reply, err := m.authority.SubmitAnswers(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitInFlight = false

	if err != nil {
		// Rejected or failed calls leave lock state untouched.
		return nil, fmt.Errorf("submit answers: %w", err)
	}

	locked, ignored := ApplyVerdict(m.slots, submitted, reply.WrongIDs)
	if len(ignored) > 0 {
		log.Debug().
			Str("run_id", m.run.ID.String()).
			Int("count", len(ignored)).
			Msg("discarded stale wrong verdicts for locked slots")
	}

	m.run.Score = reply.Score
	m.run.IsWinner = reply.IsWinner
	if reply.FinishedAt != nil && m.run.FinishedAt == nil {
		t := *reply.FinishedAt
		m.run.FinishedAt = &t
		m.frozenElapsed = t.Sub(m.run.StartedAt)
		m.state = StateFinished
	}

	return &SubmitOutcome{
		Score:       reply.Score,
		Rank:        reply.Rank,
		IsWinner:    reply.IsWinner,
		Finished:    reply.FinishedAt != nil,
		LockedNow:   len(locked),
		StaleIgnore: len(ignored),
	}, nil
}

// State returns the current lifecycle state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run returns a copy of the run, or nil before a successful Start.
func (m *StateMachine) Run() *models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil {
		return nil
	}
	run := *m.run
	return &run
}

// RunInfo reports the active run id and partition for the sync scheduler.
func (m *StateMachine) RunInfo() (uuid.UUID, models.Partition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil || m.state == StateNoSession || m.state == StateStarting {
		return uuid.Nil, "", false
	}
	return m.run.ID, m.partition, true
}

// Slots returns a copy of the question slots.
func (m *StateMachine) Slots() []models.QuestionSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSlots(m.slots)
}

// Elapsed returns the run's elapsed time: frozen at the authority's finish
// instant once Finished, otherwise measured against the run's server start
// time.
func (m *StateMachine) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil {
		return 0
	}
	if m.state == StateFinished {
		return m.frozenElapsed
	}
	return m.clock.Now().Sub(m.run.StartedAt)
}

func cloneSlots(slots []models.QuestionSlot) []models.QuestionSlot {
	out := make([]models.QuestionSlot, len(slots))
	copy(out, slots)
	for i := range out {
		if slots[i].Selected != nil {
			sel := *slots[i].Selected
			out[i].Selected = &sel
		}
		out[i].Options = append([]string(nil), slots[i].Options...)
	}
	return out
}
