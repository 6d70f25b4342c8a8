package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/presence"
	"github.com/jobportal/backend/internal/sessions"
	"github.com/jobportal/backend/pkg/queue"
)

// ReasonStaleSession is the logout reason journaled for sessions ended by the sweeper.
const ReasonStaleSession = "stale_session"

// StaleLister finds open sessions whose actor went quiet.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]sessions.StaleSession, error)
}

// FinalizeEnqueuer queues stale-session finalization.
type FinalizeEnqueuer interface {
	EnqueueFinalizeStale(ctx context.Context, payload queue.FinalizeStalePayload) error
}

// SweeperConfig tunes the stale-session sweep.
type SweeperConfig struct {
	StaleAfter time.Duration
	Interval   time.Duration
	Batch      int
}

// Sweeper periodically enqueues finalization for sessions whose actor has not signalled for StaleAfter
// and holds no live connection, e.g. because the serving instance died without running disconnect.
type Sweeper struct {
	lister    StaleLister
	liveness  presence.Liveness
	queue     FinalizeEnqueuer
	cfg       SweeperConfig
	scheduler *gocron.Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper. liveness may be nil, in which case quiet actors are finalized even if connected.
func NewSweeper(lister StaleLister, liveness presence.Liveness, q FinalizeEnqueuer, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Sweeper{
		lister:    lister,
		liveness:  liveness,
		queue:     q,
		cfg:       cfg,
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep every Interval.
func (s *Sweeper) Start() error {
	_, err := s.scheduler.Every(s.cfg.Interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
		defer cancel()
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("stale session sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule stale session sweep: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler.
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

// SweepOnce enqueues finalization for one batch of stale sessions and returns how many were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.lister.ListStale(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}
	queued := 0
	for _, st := range stale {
		if s.liveness != nil {
			alive, err := s.liveness.Alive(ctx, st.UserID)
			if err != nil {
				return queued, err
			}
			if alive {
				continue
			}
		}
		err := s.queue.EnqueueFinalizeStale(ctx, queue.FinalizeStalePayload{
			SessionID: st.SessionID,
			UserID:    st.UserID,
			Reason:    ReasonStaleSession,
		})
		if err != nil {
			return queued, fmt.Errorf("enqueue finalize %s: %w", st.SessionID, err)
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("stale sessions queued for finalization", zap.Int("count", queued), zap.Time("cutoff", cutoff))
	}
	return queued, nil
}
