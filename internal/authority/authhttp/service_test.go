package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/models"
)

// stubRepo serves exactly one seeded run and one open partition, enough to
// drive the handler and error-code paths.
type stubRepo struct {
	run   *models.Run
	slots []models.QuestionSlot
	key   map[uuid.UUID]int
}

func (s *stubRepo) RuntimeFlags(ctx context.Context, partition models.Partition) (models.RuntimeFlags, error) {
	return models.RuntimeFlags{Partition: partition, StartEnabled: true}, nil
}

func (s *stubRepo) SetRuntimeFlags(ctx context.Context, flags models.RuntimeFlags) error {
	return nil
}

func (s *stubRepo) ActiveRun(ctx context.Context, partition models.Partition, name string) (*models.Run, error) {
	if s.run != nil && s.run.Participant == name {
		return s.run, nil
	}
	return nil, authority.ErrRunNotFound
}

func (s *stubRepo) CreateRun(ctx context.Context, run *models.Run, questionCount int) ([]models.QuestionSlot, error) {
	s.run = run
	return s.slots, nil
}

func (s *stubRepo) RunByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	if s.run != nil && s.run.ID == runID {
		return s.run, nil
	}
	return nil, authority.ErrRunNotFound
}

func (s *stubRepo) RunSlots(ctx context.Context, runID uuid.UUID) ([]models.QuestionSlot, error) {
	return s.slots, nil
}

func (s *stubRepo) AnswerKey(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]int, error) {
	return s.key, nil
}

func (s *stubRepo) ApplySubmission(ctx context.Context, runID uuid.UUID, partition models.Partition, answers []authority.Answer, correct map[uuid.UUID]bool) (int, int, error) {
	return len(correct), len(s.key), nil
}

func (s *stubRepo) FinishRun(ctx context.Context, runID uuid.UUID, partition models.Partition, finishedAt time.Time) (bool, error) {
	s.run.FinishedAt = &finishedAt
	return true, nil
}

func (s *stubRepo) LeaderboardPage(ctx context.Context, partition models.Partition, limit, offset int) (*models.LeaderboardPage, error) {
	return &models.LeaderboardPage{Partition: partition, PageSize: limit, TotalCount: 1}, nil
}

func (s *stubRepo) RankOf(ctx context.Context, runID uuid.UUID) (int, error) {
	return 1, nil
}

func (s *stubRepo) Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error) {
	return nil, nil
}

func (s *stubRepo) TopContacts(ctx context.Context, partition models.Partition, limit int) ([]models.ContactRow, error) {
	return nil, nil
}

func (s *stubRepo) ResetPartition(ctx context.Context, partition models.Partition) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubRepo) {
	t.Helper()
	questionID := uuid.New()
	repo := &stubRepo{
		slots: []models.QuestionSlot{{QuestionID: questionID, Text: "q0", Options: []string{"a", "b"}}},
		key:   map[uuid.UUID]int{questionID: 0},
	}
	app := authority.NewApp(repo, clockwork.NewFakeClock(), authority.Config{
		MinSubmitInterval: time.Second,
		AdminSecret:       "swordfish",
	})
	mux := http.NewServeMux()
	NewService(app).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestStartEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/runs/start", authority.StartRequest{Name: "ash"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var reply authority.StartReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Run.Participant != "ash" || len(reply.Questions) != 1 {
		t.Fatalf("reply = %+v", reply)
	}

	// Same name again without a code maps to the reclaim-required code.
	resp = postJSON(t, server.URL+"/v1/runs/start", authority.StartRequest{Name: "ash"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != CodeReclaimRequired {
		t.Fatalf("code = %q, want %q", body.Code, CodeReclaimRequired)
	}
}

func TestStartEndpointRejectsBadName(t *testing.T) {
	server, _ := newTestServer(t)
	resp := postJSON(t, server.URL+"/v1/runs/start", authority.StartRequest{Name: "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != CodeUsernameRequired {
		t.Fatalf("code = %q, want %q", body.Code, CodeUsernameRequired)
	}
}

func TestSubmitEndpointRateLimit(t *testing.T) {
	server, repo := newTestServer(t)

	start := postJSON(t, server.URL+"/v1/runs/start", authority.StartRequest{Name: "ash"})
	var started authority.StartReply
	if err := json.NewDecoder(start.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := authority.SubmitRequest{
		RunID:       started.Run.ID,
		ReclaimCode: started.Run.ReclaimCode,
		Answers:     []authority.Answer{{QuestionID: repo.slots[0].QuestionID, SelectedOption: 1}},
	}
	if resp := postJSON(t, server.URL+"/v1/runs/submit", req); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp := postJSON(t, server.URL+"/v1/runs/submit", req)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != CodeRateLimit {
		t.Fatalf("code = %q, want %q", body.Code, CodeRateLimit)
	}
}

func TestAdminEndpointsRequireSecret(t *testing.T) {
	server, _ := newTestServer(t)

	raw, _ := json.Marshal(models.RuntimeFlags{Partition: models.PartitionMain, StartEnabled: true})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/admin/flags", bytes.NewReader(raw))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, server.URL+"/v1/admin/flags", bytes.NewReader(raw))
	req.Header.Set(AdminSecretHeader, "swordfish")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/leaderboard?partition=practice&limit=5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var page models.LeaderboardPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Partition != models.PartitionPractice || page.PageSize != 5 {
		t.Fatalf("page = %+v", page)
	}
}
