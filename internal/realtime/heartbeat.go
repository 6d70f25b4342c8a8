package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/presence"
)

// Heartbeat periodically marks this instance's connected admins as live, so the stale-session
// sweeper leaves quiet but connected actors alone.
type Heartbeat struct {
	hub       *Hub
	liveness  presence.Liveness
	interval  time.Duration
	scheduler *gocron.Scheduler
	logger    *zap.Logger
}

// NewHeartbeat creates a heartbeat. Entries live for three intervals.
func NewHeartbeat(hub *Hub, liveness presence.Liveness, interval time.Duration, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = PingInterval * time.Second
	}
	return &Heartbeat{
		hub:       hub,
		liveness:  liveness,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
	}
}

// Start schedules the heartbeat.
func (h *Heartbeat) Start() error {
	_, err := h.scheduler.Every(h.interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.interval)
		defer cancel()
		if err := h.Beat(ctx); err != nil {
			h.logger.Warn("presence heartbeat failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule presence heartbeat: %w", err)
	}
	h.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler.
func (h *Heartbeat) Stop() {
	h.scheduler.Stop()
}

// Beat refreshes liveness for every admin connected to this instance.
func (h *Heartbeat) Beat(ctx context.Context) error {
	return h.liveness.Touch(ctx, h.hub.AdminUserIDs(), 3*h.interval)
}
