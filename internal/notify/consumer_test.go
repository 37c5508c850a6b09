package notify

import (
	"testing"

	"github.com/quizrun/quizrun/internal/models"
)

func TestPartitionFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    models.Partition
		wantErr bool
	}{
		{"contest.changes.main", models.PartitionMain, false},
		{"contest.changes.practice", models.PartitionPractice, false},
		{"contest.changes.bogus", "", true},
		{"contest.changes.", "", true},
		{"other.changes.main", "", true},
		{"contest.changes", "", true},
	}
	for _, tt := range tests {
		got, err := PartitionFromSubject(tt.subject, "contest.changes")
		if tt.wantErr {
			if err == nil {
				t.Errorf("subject %q: expected error, got %q", tt.subject, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("subject %q: %v", tt.subject, err)
			continue
		}
		if got != tt.want {
			t.Errorf("subject %q: partition = %q, want %q", tt.subject, got, tt.want)
		}
	}
}
