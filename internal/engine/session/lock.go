package session

import (
	"github.com/google/uuid"

	"github.com/quizrun/quizrun/internal/models"
)

// ApplyVerdict applies a grading response to the slots of a run, in place.
//
// For every id in submitted the slot becomes locked unless the id appears in
// wrong. Slots that were not part of this submission are never touched, and
// a slot that is already locked is never unlocked: a stale or reordered
// verdict cannot regress state earned by a newer one.
//
// Returns the ids locked by this verdict and the ids whose stale "wrong"
// verdict was discarded because the slot was already locked.
func ApplyVerdict(slots []models.QuestionSlot, submitted, wrong []uuid.UUID) (locked, ignored []uuid.UUID) {
	wrongSet := make(map[uuid.UUID]bool, len(wrong))
	for _, id := range wrong {
		wrongSet[id] = true
	}

	byID := make(map[uuid.UUID]*models.QuestionSlot, len(slots))
	for i := range slots {
		byID[slots[i].QuestionID] = &slots[i]
	}

	for _, id := range submitted {
		slot, ok := byID[id]
		if !ok {
			continue
		}
		if wrongSet[id] {
			if slot.Locked {
				ignored = append(ignored, id)
			}
			continue
		}
		if !slot.Locked {
			slot.Locked = true
			locked = append(locked, id)
		}
	}
	return locked, ignored
}
