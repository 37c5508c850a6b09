package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizrun/quizrun/internal/models"
)

// rankOrder is the single ordering used everywhere a rank is computed:
// winner first, then score, then elapsed time, with the run id as a stable
// tie-break. Unfinished runs count elapsed up to now.
const rankOrder = `is_winner DESC, score DESC,
	EXTRACT(EPOCH FROM (COALESCE(finished_at, now()) - started_at)) ASC,
	id ASC`

// PgRepository implements Repository on a pgx connection pool.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates the postgres-backed repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) RuntimeFlags(ctx context.Context, partition models.Partition) (models.RuntimeFlags, error) {
	flags := models.RuntimeFlags{Partition: partition}
	err := r.pool.QueryRow(ctx,
		`SELECT start_enabled, start_at, banner FROM runtime_flags WHERE partition = $1`,
		string(partition),
	).Scan(&flags.StartEnabled, &flags.StartAt, &flags.Banner)
	if errors.Is(err, pgx.ErrNoRows) {
		// No row yet means the partition has never been opened.
		return flags, nil
	}
	if err != nil {
		return flags, fmt.Errorf("failed to load runtime flags: %w", err)
	}
	return flags, nil
}

func (r *PgRepository) SetRuntimeFlags(ctx context.Context, flags models.RuntimeFlags) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO runtime_flags (partition, start_enabled, start_at, banner)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (partition) DO UPDATE
		 SET start_enabled = EXCLUDED.start_enabled,
		     start_at = EXCLUDED.start_at,
		     banner = EXCLUDED.banner`,
		string(flags.Partition), flags.StartEnabled, flags.StartAt, flags.Banner,
	)
	if err != nil {
		return fmt.Errorf("failed to update runtime flags: %w", err)
	}
	return nil
}

func (r *PgRepository) ActiveRun(ctx context.Context, partition models.Partition, name string) (*models.Run, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, partition, participant, email, reclaim_code, started_at, finished_at, score, is_winner
		 FROM runs WHERE partition = $1 AND participant = $2`,
		string(partition), name,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run by name: %w", err)
	}
	return run, nil
}

func (r *PgRepository) RunByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, partition, participant, email, reclaim_code, started_at, finished_at, score, is_winner
		 FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// CreateRun inserts the run and deals it a random selection of questions,
// each with its own option permutation, in one transaction. The unique
// (partition, participant) constraint is the last line of defense against
// two concurrent starts under the same name.
func (r *PgRepository) CreateRun(ctx context.Context, run *models.Run, questionCount int) ([]models.QuestionSlot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, partition, participant, email, reclaim_code, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Partition), run.Participant, run.Email, run.ReclaimCode, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, text, options, correct_option FROM questions ORDER BY random() LIMIT $1`,
		questionCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to deal questions: %w", err)
	}
	type dealt struct {
		id      uuid.UUID
		text    string
		options []string
		correct int
	}
	var bank []dealt
	for rows.Next() {
		var d dealt
		if err := rows.Scan(&d.id, &d.text, &d.options, &d.correct); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		bank = append(bank, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}

	slots := make([]models.QuestionSlot, 0, len(bank))
	for order, q := range bank {
		perm := rand.Perm(len(q.options))
		options := make([]string, len(q.options))
		correct := 0
		for shown, original := range perm {
			options[shown] = q.options[original]
			if original == q.correct {
				correct = shown
			}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO run_slots (run_id, question_id, ord, options, correct_option)
			 VALUES ($1, $2, $3, $4, $5)`,
			run.ID, q.id, order, options, correct,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert run slot: %w", err)
		}
		slots = append(slots, models.QuestionSlot{
			QuestionID: q.id,
			Order:      order,
			Text:       q.text,
			Options:    options,
		})
	}

	payload, _ := json.Marshal(map[string]any{"run_id": run.ID})
	if err := insertChangeEvent(ctx, tx, run.Partition, EventRunStarted, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return slots, nil
}

func (r *PgRepository) RunSlots(ctx context.Context, runID uuid.UUID) ([]models.QuestionSlot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.question_id, s.ord, q.text, s.options, s.selected, s.locked
		 FROM run_slots s JOIN questions q ON q.id = s.question_id
		 WHERE s.run_id = $1 ORDER BY s.ord`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load run slots: %w", err)
	}
	defer rows.Close()

	var slots []models.QuestionSlot
	for rows.Next() {
		var slot models.QuestionSlot
		if err := rows.Scan(&slot.QuestionID, &slot.Order, &slot.Text, &slot.Options, &slot.Selected, &slot.Locked); err != nil {
			return nil, fmt.Errorf("failed to scan run slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run slots: %w", err)
	}
	return slots, nil
}

func (r *PgRepository) AnswerKey(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, correct_option FROM run_slots WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load answer key: %w", err)
	}
	defer rows.Close()

	key := make(map[uuid.UUID]int)
	for rows.Next() {
		var questionID uuid.UUID
		var correct int
		if err := rows.Scan(&questionID, &correct); err != nil {
			return nil, fmt.Errorf("failed to scan answer key row: %w", err)
		}
		key[questionID] = correct
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read answer key: %w", err)
	}
	return key, nil
}

// ApplySubmission writes the batch's selections and locks the correct ones.
// Locked slots are never touched again, so a stale resubmission cannot
// unlock or overwrite a confirmed answer. The change event commits with
// the submission.
func (r *PgRepository) ApplySubmission(ctx context.Context, runID uuid.UUID, partition models.Partition, answers []Answer, correct map[uuid.UUID]bool) (int, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, answer := range answers {
		_, err = tx.Exec(ctx,
			`UPDATE run_slots SET selected = $3, locked = $4
			 WHERE run_id = $1 AND question_id = $2 AND NOT locked`,
			runID, answer.QuestionID, answer.SelectedOption, correct[answer.QuestionID],
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to update run slot: %w", err)
		}
	}

	var score, total int
	err = tx.QueryRow(ctx,
		`UPDATE runs SET score = (SELECT count(*) FROM run_slots WHERE run_id = $1 AND locked)
		 WHERE id = $1
		 RETURNING score, (SELECT count(*) FROM run_slots WHERE run_id = $1)`,
		runID,
	).Scan(&score, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to refresh run score: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{"run_id": runID, "score": score})
	if err := insertChangeEvent(ctx, tx, partition, EventSubmissionGraded, payload); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit submission: %w", err)
	}
	return score, total, nil
}

// FinishRun stamps the finish time and elects the winner. The advisory
// lock serializes elections per partition; without it two concurrent full
// scores could both observe a winnerless partition and both win.
func (r *PgRepository) FinishRun(ctx context.Context, runID uuid.UUID, partition models.Partition, finishedAt time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('winner:' || $1))`,
		string(partition),
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock partition for winner election: %w", err)
	}

	var isWinner bool
	err = tx.QueryRow(ctx,
		`UPDATE runs
		 SET finished_at = $2,
		     is_winner = NOT EXISTS (SELECT 1 FROM runs w WHERE w.partition = $3 AND w.is_winner)
		 WHERE id = $1 AND finished_at IS NULL
		 RETURNING is_winner`,
		runID, finishedAt, string(partition),
	).Scan(&isWinner)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRunFinished
	}
	if err != nil {
		return false, fmt.Errorf("failed to finish run: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{"run_id": runID, "is_winner": isWinner})
	if err := insertChangeEvent(ctx, tx, partition, EventRunFinished, payload); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit finish: %w", err)
	}
	return isWinner, nil
}

func (r *PgRepository) LeaderboardPage(ctx context.Context, partition models.Partition, limit, offset int) (*models.LeaderboardPage, error) {
	page := &models.LeaderboardPage{
		Partition: partition,
		PageIndex: 0,
		PageSize:  limit,
	}
	if limit > 0 {
		page.PageIndex = offset / limit
	}

	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM runs WHERE partition = $1`,
		string(partition),
	).Scan(&page.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count leaderboard rows: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, participant, score,
		        (EXTRACT(EPOCH FROM (COALESCE(finished_at, now()) - started_at)) * 1000)::bigint,
		        is_winner
		 FROM runs WHERE partition = $1
		 ORDER BY `+rankOrder+`
		 LIMIT $2 OFFSET $3`,
		string(partition), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard page: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.LeaderboardEntry
		if err := rows.Scan(&entry.RunID, &entry.Participant, &entry.Score, &entry.ElapsedMs, &entry.IsWinner); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		page.Entries = append(page.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard page: %w", err)
	}
	return page, nil
}

func (r *PgRepository) RankOf(ctx context.Context, runID uuid.UUID) (int, error) {
	var rank int
	err := r.pool.QueryRow(ctx,
		`WITH ranked AS (
		     SELECT id, ROW_NUMBER() OVER (ORDER BY `+rankOrder+`) AS rank
		     FROM runs WHERE partition = (SELECT partition FROM runs WHERE id = $1)
		 )
		 SELECT rank FROM ranked WHERE id = $1`,
		runID,
	).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRunNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return rank, nil
}

func (r *PgRepository) Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error) {
	rows, err := r.pool.Query(ctx,
		`WITH ranked AS (
		     SELECT id, participant, score,
		            (EXTRACT(EPOCH FROM (COALESCE(finished_at, now()) - started_at)) * 1000)::bigint AS elapsed_ms,
		            is_winner,
		            ROW_NUMBER() OVER (ORDER BY `+rankOrder+`) AS rank
		     FROM runs WHERE partition = $1
		 )
		 SELECT id, participant, score, elapsed_ms, is_winner, rank
		 FROM ranked WHERE participant LIKE $2 || '%'
		 ORDER BY rank LIMIT $3 OFFSET $4`,
		string(partition), likeEscaper.Replace(query), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.RankedEntry
	for rows.Next() {
		var entry models.RankedEntry
		if err := rows.Scan(&entry.RunID, &entry.Participant, &entry.Score, &entry.ElapsedMs, &entry.IsWinner, &entry.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search rows: %w", err)
	}
	return entries, nil
}

func (r *PgRepository) TopContacts(ctx context.Context, partition models.Partition, limit int) ([]models.ContactRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant, email, score,
		        (EXTRACT(EPOCH FROM (finished_at - started_at)) * 1000)::bigint,
		        finished_at
		 FROM runs WHERE partition = $1 AND finished_at IS NOT NULL
		 ORDER BY `+rankOrder+`
		 LIMIT $2`,
		string(partition), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load top contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.ContactRow
	for rows.Next() {
		var row models.ContactRow
		if err := rows.Scan(&row.Participant, &row.Email, &row.Score, &row.ElapsedMs, &row.FirstFullScoreAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contact rows: %w", err)
	}
	return contacts, nil
}

func (r *PgRepository) ResetPartition(ctx context.Context, partition models.Partition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Slots cascade with their runs.
	_, err = tx.Exec(ctx, `DELETE FROM runs WHERE partition = $1`, string(partition))
	if err != nil {
		return fmt.Errorf("failed to reset partition: %w", err)
	}
	if err := insertChangeEvent(ctx, tx, partition, EventPartitionReset, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}

// insertChangeEvent appends to the contest outbox inside the caller's
// transaction; the database trigger notifies the relay on commit.
func insertChangeEvent(ctx context.Context, tx pgx.Tx, partition models.Partition, eventType string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO contest_outbox (id, partition, event_type, payload)
		 VALUES ($1, $2, $3, $4)`,
		uuid.New(), string(partition), eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert change event: %w", err)
	}
	return nil
}

// likeEscaper neutralizes LIKE metacharacters in search input, so a query
// for "_" matches the literal character instead of everything.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func scanRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	var partition string
	err := row.Scan(&run.ID, &partition, &run.Participant, &run.Email, &run.ReclaimCode,
		&run.StartedAt, &run.FinishedAt, &run.Score, &run.IsWinner)
	if err != nil {
		return nil, err
	}
	run.Partition = models.Partition(partition)
	return &run, nil
}
