package session

import (
	"testing"

	"github.com/google/uuid"

	"github.com/quizrun/quizrun/internal/models"
)

func slotIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func slotsFor(ids []uuid.UUID) []models.QuestionSlot {
	slots := make([]models.QuestionSlot, len(ids))
	for i, id := range ids {
		slots[i] = models.QuestionSlot{QuestionID: id, Order: i, Options: []string{"a", "b", "c", "d"}}
	}
	return slots
}

func lockedSet(slots []models.QuestionSlot) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, s := range slots {
		if s.Locked {
			out[s.QuestionID] = true
		}
	}
	return out
}

func TestApplyVerdictLocksCorrectSubmissions(t *testing.T) {
	ids := slotIDs(3)
	slots := slotsFor(ids)

	locked, ignored := ApplyVerdict(slots, ids, []uuid.UUID{ids[1]})
	if len(locked) != 2 {
		t.Fatalf("locked = %d, want 2", len(locked))
	}
	if len(ignored) != 0 {
		t.Fatalf("ignored = %d, want 0", len(ignored))
	}
	got := lockedSet(slots)
	if !got[ids[0]] || got[ids[1]] || !got[ids[2]] {
		t.Fatalf("unexpected lock state: %v", got)
	}
}

func TestApplyVerdictIsAsymmetric(t *testing.T) {
	// A verdict affects only submitted slots, even if it mentions others.
	ids := slotIDs(2)
	slots := slotsFor(ids)

	ApplyVerdict(slots, []uuid.UUID{ids[0]}, []uuid.UUID{ids[0], ids[1]})
	got := lockedSet(slots)
	if len(got) != 0 {
		t.Fatalf("no slot should be locked, got %v", got)
	}

	// ids[1] was not submitted; a verdict claiming it correct must not lock it.
	ApplyVerdict(slots, []uuid.UUID{ids[0]}, nil)
	got = lockedSet(slots)
	if !got[ids[0]] {
		t.Fatal("submitted correct slot should be locked")
	}
	if got[ids[1]] {
		t.Fatal("unsubmitted slot must stay untouched")
	}
}

func TestApplyVerdictNeverUnlocks(t *testing.T) {
	ids := slotIDs(1)
	slots := slotsFor(ids)

	ApplyVerdict(slots, ids, nil)
	if !slots[0].Locked {
		t.Fatal("slot should be locked")
	}

	// Every subsequent verdict, however hostile, keeps the lock.
	for i := 0; i < 5; i++ {
		_, ignored := ApplyVerdict(slots, ids, ids)
		if !slots[0].Locked {
			t.Fatalf("lock regressed on verdict %d", i)
		}
		if len(ignored) != 1 {
			t.Fatalf("stale wrong verdict should be reported as ignored, got %d", len(ignored))
		}
	}
}

func TestApplyVerdictOverlappingBatches(t *testing.T) {
	// Batches {1,2,3} then {3,4}: slot 3's first verdict survives an
	// unrelated second response unless 3 was resubmitted, in which case the
	// newer verdict wins for locking (but never unlocks).
	ids := slotIDs(5)
	slots := slotsFor(ids)

	first := []uuid.UUID{ids[1], ids[2], ids[3]}
	second := []uuid.UUID{ids[3], ids[4]}

	// First batch: slot 3 correct.
	ApplyVerdict(slots, first, []uuid.UUID{ids[1]})
	if !slots[3].Locked {
		t.Fatal("slot 3 should be locked after first batch")
	}

	// Second batch reports slot 3 wrong; it stays locked.
	_, ignored := ApplyVerdict(slots, second, []uuid.UUID{ids[3]})
	if !slots[3].Locked {
		t.Fatal("slot 3 lock must not be overwritten by later response")
	}
	if len(ignored) != 1 {
		t.Fatalf("ignored = %d, want 1", len(ignored))
	}
	if !slots[4].Locked {
		t.Fatal("slot 4 was submitted and correct, should be locked")
	}
}

func TestApplyVerdictSecondBatchLocksResubmitted(t *testing.T) {
	ids := slotIDs(2)
	slots := slotsFor(ids)

	// First batch: slot 0 wrong.
	ApplyVerdict(slots, []uuid.UUID{ids[0]}, []uuid.UUID{ids[0]})
	if slots[0].Locked {
		t.Fatal("wrong answer must not lock")
	}

	// Resubmitted and now correct: the most recent submission wins.
	ApplyVerdict(slots, []uuid.UUID{ids[0]}, nil)
	if !slots[0].Locked {
		t.Fatal("resubmitted correct answer should lock")
	}
}
