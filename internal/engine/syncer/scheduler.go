package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/engine/leaderboard"
	"github.com/quizrun/quizrun/internal/models"
)

// Refresher is what the scheduler needs from the contest authority.
type Refresher interface {
	LeaderboardPage(ctx context.Context, partition models.Partition, pageSize, offset int) (*models.LeaderboardPage, error)
	RankOf(ctx context.Context, runID uuid.UUID) (int, error)
}

// DefaultWindow is the coalescing window: the upper bound on backend round
// trips is one per partition per window, and the worst-case staleness bound
// equals it.
const DefaultWindow = time.Second

// Config wires a Scheduler.
type Config struct {
	Window    time.Duration
	Clock     clockwork.Clock
	Authority Refresher
	Cache     *leaderboard.Cache
	Locator   *leaderboard.Locator

	// RunInfo reports the active run, so a refresh of its partition also
	// refreshes that participant's rank. Optional.
	RunInfo func() (uuid.UUID, models.Partition, bool)

	// OnRank receives the active participant's rank after a refresh.
	// Optional.
	OnRank func(partition models.Partition, rank int)

	// OnSearch receives re-run results for the partition's open query.
	// Optional.
	OnSearch func(partition models.Partition, rows []models.RankedEntry)
}

// Scheduler coalesces bursts of change notifications into at most one
// authority refresh per partition per window.
//
// Each partition owns exactly one pending timer: the first notification
// arms it, further notifications within the window are dropped, and when it
// fires the scheduler fetches the partition's current page, the active
// participant's rank if their run lives there, and re-runs any open search
// query. Partitions never share or delay each other's windows. A failed
// refresh just reopens the window; the next notification retries.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	ctx     context.Context
	pending map[models.Partition]clockwork.Timer
	closed  bool
}

// New creates a scheduler. Call Start before Notify.
func New(cfg Config) *Scheduler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:     cfg,
		pending: make(map[models.Partition]clockwork.Timer),
	}
}

// Start binds the scheduler to a context. Cancelling it drops all pending
// refreshes and disables further notifications.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Notify requests a refresh of a partition. If one is already pending the
// request coalesces into it; otherwise a window timer is armed.
func (s *Scheduler) Notify(partition models.Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ctx == nil {
		return
	}
	if _, exists := s.pending[partition]; exists {
		return
	}

	timer := s.cfg.Clock.NewTimer(s.cfg.Window)
	s.pending[partition] = timer
	ctx := s.ctx

	go func() {
		select {
		case <-timer.Chan():
			// Clear the pending flag before refreshing so that failures, and
			// notifications arriving mid-refresh, reopen the window.
			s.mu.Lock()
			delete(s.pending, partition)
			s.mu.Unlock()
			s.refresh(ctx, partition)
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			s.mu.Lock()
			delete(s.pending, partition)
			s.mu.Unlock()
		}
	}()
}

// Cancel drops a scheduled refresh for a partition, if any. Used on page
// navigation or partition switch; the coalescing window already bounds
// in-flight work, so nothing else needs cancelling.
func (s *Scheduler) Cancel(partition models.Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, exists := s.pending[partition]; exists {
		stopAndDrainTimer(timer)
		delete(s.pending, partition)
	}
}

// Close drops every pending refresh and rejects further notifications.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for partition, timer := range s.pending {
		stopAndDrainTimer(timer)
		delete(s.pending, partition)
	}
}

func (s *Scheduler) refresh(ctx context.Context, partition models.Partition) {
	pageIndex := s.cfg.Cache.PageIndex(partition)
	pageSize := s.cfg.Cache.PageSize()

	page, err := s.cfg.Authority.LeaderboardPage(ctx, partition, pageSize, pageIndex*pageSize)
	if err != nil {
		log.Error().
			Err(err).
			Str("partition", string(partition)).
			Int("page", pageIndex).
			Msg("leaderboard refresh failed")
		return
	}
	s.cfg.Cache.Replace(page)

	if s.cfg.RunInfo != nil {
		if runID, runPartition, ok := s.cfg.RunInfo(); ok && runPartition == partition {
			rank, err := s.cfg.Authority.RankOf(ctx, runID)
			if err != nil {
				log.Error().
					Err(err).
					Str("run_id", runID.String()).
					Msg("rank refresh failed")
			} else if s.cfg.OnRank != nil {
				s.cfg.OnRank(partition, rank)
			}
		}
	}

	if s.cfg.Locator != nil {
		rows, open, err := s.cfg.Locator.Rerun(ctx, partition)
		if err != nil {
			log.Error().
				Err(err).
				Str("partition", string(partition)).
				Msg("search re-run failed")
		} else if open && s.cfg.OnSearch != nil {
			s.cfg.OnSearch(partition, rows)
		}
	}

	log.Debug().
		Str("partition", string(partition)).
		Int("page", pageIndex).
		Int("rows", len(page.Entries)).
		Int("total", page.TotalCount).
		Msg("leaderboard refreshed")
}

// stopAndDrainTimer stops a timer and drains its channel so a fire racing
// the stop cannot leak a stale refresh.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
