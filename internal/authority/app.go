package authority

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/models"
)

// Change event types written to the outbox. Consumers treat the payload as
// advisory; the subject partition is the only contract. The repository
// writes these rows inside the same transaction as the change they
// describe, so a committed change always has its event.
const (
	EventRunStarted       = "run_started"
	EventSubmissionGraded = "submission_graded"
	EventRunFinished      = "run_finished"
	EventPartitionReset   = "partition_reset"
)

// Repository is the persistence surface the authority needs. The pgx
// implementation lives in this package; tests swap in an in-memory one.
type Repository interface {
	RuntimeFlags(ctx context.Context, partition models.Partition) (models.RuntimeFlags, error)
	SetRuntimeFlags(ctx context.Context, flags models.RuntimeFlags) error

	// ActiveRun returns the run registered under a normalized name, finished
	// or not. ErrRunNotFound when the name is free.
	ActiveRun(ctx context.Context, partition models.Partition, name string) (*models.Run, error)
	// CreateRun persists a new run and deals it up to questionCount
	// question slots, each with a per-run option permutation.
	CreateRun(ctx context.Context, run *models.Run, questionCount int) ([]models.QuestionSlot, error)
	RunByID(ctx context.Context, runID uuid.UUID) (*models.Run, error)
	RunSlots(ctx context.Context, runID uuid.UUID) ([]models.QuestionSlot, error)

	// AnswerKey maps each question of the run to the index of its correct
	// option within that run's permutation.
	AnswerKey(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]int, error)
	// ApplySubmission persists the batch's selections, locks the correct
	// ones and refreshes the run's score. Returns the new score and the
	// total slot count.
	ApplySubmission(ctx context.Context, runID uuid.UUID, partition models.Partition, answers []Answer, correct map[uuid.UUID]bool) (score, total int, err error)
	// FinishRun stamps the finish time and atomically elects the run as
	// the partition's winner if no winner exists yet. Reports whether the
	// run won; ErrRunFinished if it was already finished.
	FinishRun(ctx context.Context, runID uuid.UUID, partition models.Partition, finishedAt time.Time) (isWinner bool, err error)

	LeaderboardPage(ctx context.Context, partition models.Partition, limit, offset int) (*models.LeaderboardPage, error)
	RankOf(ctx context.Context, runID uuid.UUID) (int, error)
	Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error)
	TopContacts(ctx context.Context, partition models.Partition, limit int) ([]models.ContactRow, error)
	ResetPartition(ctx context.Context, partition models.Partition) error
}

// Config tunes the authority.
type Config struct {
	// QuestionCount is the number of questions dealt to a new run.
	QuestionCount int
	// MinSubmitInterval is the minimum spacing between submissions per run.
	MinSubmitInterval time.Duration
	// AdminSecret guards the administrative operations. Empty disables them.
	AdminSecret string
}

const (
	defaultQuestionCount  = 15
	defaultSubmitInterval = time.Second
)

// App is the contest authority: the single writer for runs, grading,
// ranking and runtime flags.
type App struct {
	repo   Repository
	clock  clockwork.Clock
	cfg    Config
	limits *submitLimits
}

// NewApp creates the authority on top of a repository.
func NewApp(repo Repository, clock clockwork.Clock, cfg Config) *App {
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	if cfg.MinSubmitInterval <= 0 {
		cfg.MinSubmitInterval = defaultSubmitInterval
	}
	return &App{
		repo:   repo,
		clock:  clock,
		cfg:    cfg,
		limits: newSubmitLimits(cfg.MinSubmitInterval),
	}
}

// StartRun registers a new run for the participant, or resumes the existing
// one when its reclaim code is presented. An existing run without a code
// yields ErrReclaimRequired and creates nothing.
func (a *App) StartRun(ctx context.Context, req StartRequest) (*StartReply, error) {
	name, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	partition := req.Partition
	if partition == "" {
		partition = models.PartitionMain
	}
	if !partition.Valid() {
		return nil, fmt.Errorf("unknown partition %q", partition)
	}

	run, err := a.repo.ActiveRun(ctx, partition, name)
	switch {
	case err == nil:
		return a.resumeRun(ctx, run, req.ReclaimCode)
	case errors.Is(err, ErrRunNotFound):
		return a.createRun(ctx, partition, name, req.Email)
	default:
		return nil, fmt.Errorf("look up run for %q: %w", name, err)
	}
}

func (a *App) resumeRun(ctx context.Context, run *models.Run, code string) (*StartReply, error) {
	if code == "" {
		return nil, ErrReclaimRequired
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(run.ReclaimCode)) != 1 {
		return nil, ErrReclaimInvalid
	}
	slots, err := a.repo.RunSlots(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load slots for run %s: %w", run.ID, err)
	}
	log.Info().
		Str("run_id", run.ID.String()).
		Str("partition", string(run.Partition)).
		Str("participant", run.Participant).
		Msg("run resumed")
	return &StartReply{Run: *run, Questions: slots}, nil
}

func (a *App) createRun(ctx context.Context, partition models.Partition, name, email string) (*StartReply, error) {
	flags, err := a.repo.RuntimeFlags(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("load runtime flags: %w", err)
	}
	now := a.clock.Now()
	if !flags.StartEnabled || (flags.StartAt != nil && now.Before(*flags.StartAt)) {
		if flags.Banner != "" {
			return nil, fmt.Errorf("%w: %s", ErrContestClosed, flags.Banner)
		}
		return nil, ErrContestClosed
	}

	code, err := newReclaimCode()
	if err != nil {
		return nil, fmt.Errorf("generate reclaim code: %w", err)
	}
	run := &models.Run{
		ID:          uuid.New(),
		Partition:   partition,
		Participant: name,
		Email:       email,
		ReclaimCode: code,
		StartedAt:   now,
	}
	slots, err := a.repo.CreateRun(ctx, run, a.cfg.QuestionCount)
	if err != nil {
		return nil, fmt.Errorf("create run for %q: %w", name, err)
	}

	log.Info().
		Str("run_id", run.ID.String()).
		Str("partition", string(partition)).
		Str("participant", name).
		Int("questions", len(slots)).
		Msg("run started")
	return &StartReply{Run: *run, Questions: slots}, nil
}

// SubmitAnswers grades a batch against the run's answer key. Correct
// selections lock; wrong ones come back in WrongIDs and stay editable.
// Questions the run does not contain are ignored. The first submission that
// brings the run to a full score finishes it, and wins if the partition has
// no winner yet.
func (a *App) SubmitAnswers(ctx context.Context, req SubmitRequest) (*SubmitReply, error) {
	run, err := a.repo.RunByID(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(req.ReclaimCode), []byte(run.ReclaimCode)) != 1 {
		return nil, ErrReclaimInvalid
	}
	if run.Finished() {
		return nil, ErrRunFinished
	}
	if len(req.Answers) == 0 {
		return nil, ErrNoAnswers
	}
	if !a.limits.allow(run.ID, a.clock.Now()) {
		return nil, ErrRateLimited
	}

	key, err := a.repo.AnswerKey(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load answer key for run %s: %w", run.ID, err)
	}

	graded := make([]Answer, 0, len(req.Answers))
	correct := make(map[uuid.UUID]bool, len(req.Answers))
	wrongIDs := make([]uuid.UUID, 0)
	for _, answer := range req.Answers {
		want, known := key[answer.QuestionID]
		if !known {
			continue
		}
		graded = append(graded, answer)
		if answer.SelectedOption == want {
			correct[answer.QuestionID] = true
		} else {
			wrongIDs = append(wrongIDs, answer.QuestionID)
		}
	}

	score, total, err := a.repo.ApplySubmission(ctx, run.ID, run.Partition, graded, correct)
	if err != nil {
		return nil, fmt.Errorf("apply submission for run %s: %w", run.ID, err)
	}

	reply := &SubmitReply{
		WrongIDs: wrongIDs,
		Score:    score,
	}
	if score == total {
		finishedAt := a.clock.Now()
		isWinner, err := a.repo.FinishRun(ctx, run.ID, run.Partition, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("finish run %s: %w", run.ID, err)
		}
		a.limits.forget(run.ID)
		reply.FinishedAt = &finishedAt
		reply.IsWinner = isWinner
		log.Info().
			Str("run_id", run.ID.String()).
			Str("partition", string(run.Partition)).
			Bool("winner", isWinner).
			Msg("run finished")
	}

	rank, err := a.repo.RankOf(ctx, run.ID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("rank lookup failed after grading")
	} else {
		reply.Rank = rank
	}

	return reply, nil
}

// RuntimeFlags returns the partition's open/close state.
func (a *App) RuntimeFlags(ctx context.Context, partition models.Partition) (models.RuntimeFlags, error) {
	if !partition.Valid() {
		return models.RuntimeFlags{}, fmt.Errorf("unknown partition %q", partition)
	}
	return a.repo.RuntimeFlags(ctx, partition)
}

// LeaderboardPage returns one page of the partition's ranking.
func (a *App) LeaderboardPage(ctx context.Context, partition models.Partition, limit, offset int) (*models.LeaderboardPage, error) {
	if !partition.Valid() {
		return nil, fmt.Errorf("unknown partition %q", partition)
	}
	return a.repo.LeaderboardPage(ctx, partition, limit, offset)
}

// RankOf returns a run's current 1-based rank in its partition.
func (a *App) RankOf(ctx context.Context, runID uuid.UUID) (int, error) {
	return a.repo.RankOf(ctx, runID)
}

// Search finds participants by name prefix, with their ranks.
func (a *App) Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error) {
	if !partition.Valid() {
		return nil, fmt.Errorf("unknown partition %q", partition)
	}
	return a.repo.Search(ctx, partition, query, limit, offset)
}

// SetRuntimeFlags updates a partition's open/close state. Admin only.
func (a *App) SetRuntimeFlags(ctx context.Context, secret string, flags models.RuntimeFlags) error {
	if err := a.checkAdmin(secret); err != nil {
		return err
	}
	if !flags.Partition.Valid() {
		return fmt.Errorf("unknown partition %q", flags.Partition)
	}
	if err := a.repo.SetRuntimeFlags(ctx, flags); err != nil {
		return err
	}
	log.Info().
		Str("partition", string(flags.Partition)).
		Bool("start_enabled", flags.StartEnabled).
		Msg("runtime flags updated")
	return nil
}

// ResetPartition wipes a partition's runs and leaderboard. Admin only.
func (a *App) ResetPartition(ctx context.Context, secret string, partition models.Partition) error {
	if err := a.checkAdmin(secret); err != nil {
		return err
	}
	if !partition.Valid() {
		return fmt.Errorf("unknown partition %q", partition)
	}
	if err := a.repo.ResetPartition(ctx, partition); err != nil {
		return err
	}
	log.Warn().Str("partition", string(partition)).Msg("partition reset")
	return nil
}

// TopContacts exports the partition's top finishers with their contact
// details. Admin only.
func (a *App) TopContacts(ctx context.Context, secret string, partition models.Partition, limit int) ([]models.ContactRow, error) {
	if err := a.checkAdmin(secret); err != nil {
		return nil, err
	}
	if !partition.Valid() {
		return nil, fmt.Errorf("unknown partition %q", partition)
	}
	return a.repo.TopContacts(ctx, partition, limit)
}

func (a *App) checkAdmin(secret string) error {
	if a.cfg.AdminSecret == "" {
		return ErrAdminForbidden
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(a.cfg.AdminSecret)) != 1 {
		return ErrAdminForbidden
	}
	return nil
}
