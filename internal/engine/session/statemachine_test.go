package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/models"
)

// fakeAuthority is an in-memory Authority for state machine tests.
type fakeAuthority struct {
	mu          sync.Mutex
	startCalls  int
	submitCalls int

	startReply  *authority.StartReply
	startErr    error
	submitReply *authority.SubmitReply
	submitErr   error

	// blockSubmit, when set, holds SubmitAnswers until released.
	blockSubmit chan struct{}

	lastSubmit authority.SubmitRequest
}

func (f *fakeAuthority) StartRun(ctx context.Context, req authority.StartRequest) (*authority.StartReply, error) {
	f.mu.Lock()
	f.startCalls++
	reply, err := f.startReply, f.startErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (f *fakeAuthority) SubmitAnswers(ctx context.Context, req authority.SubmitRequest) (*authority.SubmitReply, error) {
	f.mu.Lock()
	f.submitCalls++
	f.lastSubmit = req
	block := f.blockSubmit
	reply, err := f.submitReply, f.submitErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func activeStartReply(numQuestions int) *authority.StartReply {
	started := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	run := models.Run{
		ID:          uuid.New(),
		Partition:   models.PartitionMain,
		Participant: "ash",
		ReclaimCode: "428317",
		StartedAt:   started,
	}
	questions := make([]models.QuestionSlot, numQuestions)
	for i := range questions {
		questions[i] = models.QuestionSlot{
			QuestionID: uuid.New(),
			Order:      i,
			Text:       "q",
			Options:    []string{"a", "b", "c", "d"},
		}
	}
	return &authority.StartReply{Run: run, Questions: questions}
}

func TestStartRejectsInvalidNameLocally(t *testing.T) {
	fake := &fakeAuthority{}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())

	if _, err := m.Start(context.Background(), "   ", "", ""); !errors.Is(err, authority.ErrNameRequired) {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
	if fake.startCalls != 0 {
		t.Fatalf("start reached the authority %d times, want 0", fake.startCalls)
	}
	if m.State() != StateNoSession {
		t.Fatalf("state = %v, want no_session", m.State())
	}
}

func TestStartReclaimRequiredCreatesNoState(t *testing.T) {
	fake := &fakeAuthority{startErr: authority.ErrReclaimRequired}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())

	out, err := m.Start(context.Background(), "@Ash", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.ReclaimRequired {
		t.Fatal("outcome should require reclaim")
	}
	if m.State() != StateNoSession {
		t.Fatalf("state = %v, want no_session", m.State())
	}
	if m.Run() != nil {
		t.Fatal("no run should exist after reclaim-required")
	}

	// The machine must accept a retry with a code.
	fake.mu.Lock()
	fake.startErr = nil
	fake.startReply = activeStartReply(3)
	fake.mu.Unlock()
	out, err = m.Start(context.Background(), "@Ash", "", "428317")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !out.Resumed {
		t.Fatal("retry with a code should report resumed")
	}
	if m.State() != StateActive {
		t.Fatalf("state = %v, want active", m.State())
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	reply := activeStartReply(4)
	sel := 2
	reply.Questions[1].Selected = &sel
	reply.Questions[1].Locked = true
	fake := &fakeAuthority{startReply: reply}

	snapshot := func() []models.QuestionSlot {
		m := New(fake, models.PartitionMain, clockwork.NewFakeClock())
		if _, err := m.Start(context.Background(), "ash", "", "428317"); err != nil {
			t.Fatalf("start: %v", err)
		}
		if m.State() != StateActive {
			t.Fatalf("state = %v, want active", m.State())
		}
		return m.Slots()
	}

	first := snapshot()
	second := snapshot()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resume state differs between reclaims (-first +second):\n%s", diff)
	}
	if !first[1].Locked || first[1].Selected == nil || *first[1].Selected != 2 {
		t.Fatal("already-correct slot must come back locked and pre-filled")
	}
}

func TestSelectOptionIgnoresLockedSlots(t *testing.T) {
	reply := activeStartReply(2)
	sel := 1
	reply.Questions[0].Selected = &sel
	reply.Questions[0].Locked = true
	fake := &fakeAuthority{startReply: reply}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())
	if _, err := m.Start(context.Background(), "ash", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.SelectOption(0, 3)         // locked, ignored
	m.SelectOption(1, 9)         // out of range, ignored
	m.SelectOption(7, 0)         // bad index, ignored
	m.SelectOption(1, 2)         // applied
	slots := m.Slots()
	if *slots[0].Selected != 1 {
		t.Fatal("locked slot selection must not change")
	}
	if slots[1].Selected == nil || *slots[1].Selected != 2 {
		t.Fatal("unlocked slot should take the selection")
	}
}

func TestSubmitEmptyIsLocal(t *testing.T) {
	fake := &fakeAuthority{startReply: activeStartReply(2)}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())
	if _, err := m.Start(context.Background(), "ash", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrEmptySubmission) {
		t.Fatalf("err = %v, want ErrEmptySubmission", err)
	}
	if fake.submitCalls != 0 {
		t.Fatalf("empty submission reached the authority %d times", fake.submitCalls)
	}
}

func TestSubmitAppliesVerdictAndFinishes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reply := activeStartReply(15)
	finish := reply.Run.StartedAt.Add(42 * time.Second)
	fake := &fakeAuthority{
		startReply: reply,
		submitReply: &authority.SubmitReply{
			Score:      15,
			Rank:       1,
			IsWinner:   true,
			FinishedAt: &finish,
		},
	}
	m := New(fake, models.PartitionMain, clock)
	if _, err := m.Start(context.Background(), "ash", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 15; i++ {
		m.SelectOption(i, 0)
	}

	out, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Finished || !out.IsWinner || out.Rank != 1 || out.Score != 15 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.LockedNow != 15 {
		t.Fatalf("locked %d slots, want 15", out.LockedNow)
	}
	if m.State() != StateFinished {
		t.Fatalf("state = %v, want finished", m.State())
	}

	// Elapsed time is frozen at the authority's instant, not local time.
	want := 42 * time.Second
	if got := m.Elapsed(); got != want {
		t.Fatalf("elapsed = %v, want %v", got, want)
	}
	clock.Advance(time.Hour)
	if got := m.Elapsed(); got != want {
		t.Fatalf("elapsed moved after finish: %v", got)
	}
}

func TestSubmitSerializesInFlight(t *testing.T) {
	reply := activeStartReply(2)
	block := make(chan struct{})
	fake := &fakeAuthority{
		startReply:  reply,
		submitReply: &authority.SubmitReply{Score: 1},
		blockSubmit: block,
	}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())
	if _, err := m.Start(context.Background(), "ash", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.SelectOption(0, 1)

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background())
		done <- err
	}()

	// Wait until the first submission is in flight.
	deadline := time.After(2 * time.Second)
	for {
		fake.mu.Lock()
		calls := fake.submitCalls
		fake.mu.Unlock()
		if calls == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first submit never reached the authority")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("err = %v, want ErrSubmitInFlight", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// The guard clears after the round trip.
	m.SelectOption(1, 1)
	if _, err := m.Submit(context.Background()); err != nil {
		t.Fatalf("submit after flight: %v", err)
	}
}

func TestRejectedSubmitLeavesLocksUntouched(t *testing.T) {
	reply := activeStartReply(3)
	sel := 0
	reply.Questions[0].Selected = &sel
	reply.Questions[0].Locked = true
	fake := &fakeAuthority{
		startReply: reply,
		submitErr:  authority.ErrRateLimited,
	}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())
	if _, err := m.Start(context.Background(), "ash", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.SelectOption(1, 2)

	before := m.Slots()
	_, err := m.Submit(context.Background())
	if !errors.Is(err, authority.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if diff := cmp.Diff(before, m.Slots()); diff != "" {
		t.Fatalf("rejected submit changed slot state:\n%s", diff)
	}
	if m.State() != StateActive {
		t.Fatalf("state = %v, want active", m.State())
	}
}

func TestSubmitSkipsLockedSlots(t *testing.T) {
	reply := activeStartReply(3)
	sel := 1
	reply.Questions[0].Selected = &sel
	reply.Questions[0].Locked = true
	fake := &fakeAuthority{
		startReply:  reply,
		submitReply: &authority.SubmitReply{Score: 2},
	}
	m := New(fake, models.PartitionMain, clockwork.NewFakeClock())
	if _, err := m.Start(context.Background(), "ash", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.SelectOption(1, 0)
	m.SelectOption(2, 3)

	if _, err := m.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := len(fake.lastSubmit.Answers); got != 2 {
		t.Fatalf("submitted %d answers, want 2 (locked slot excluded)", got)
	}
	for _, a := range fake.lastSubmit.Answers {
		if a.QuestionID == reply.Questions[0].QuestionID {
			t.Fatal("locked slot must never be resubmitted")
		}
	}
}
