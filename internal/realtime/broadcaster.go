package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/metrics"
	"github.com/jobportal/backend/internal/models"
)

// Events emitted to dashboards.
const (
	EventStatusChanged     = "statusChanged"
	EventAdminOnline       = "adminOnline"
	EventAdminOffline      = "adminOffline"
	EventAdminIdle         = "adminIdle"
	EventAdminAway         = "adminAway"
	EventActivityLogged    = "activityLogged"
	EventInitialStatusList = "admin:initialStatusList"

	activityEventPrefix = "activity:"
)

// Events received from clients.
const (
	EventUserActivity      = "user:activity"
	EventActivitySpecific  = "activity:specific"
	EventRequestStatusList = "admin:requestStatusList"
)

// Emitter delivers an event to every admin dashboard.
type Emitter interface {
	Emit(ctx context.Context, event string, payload interface{}) error
}

// StatusEvent returns the convenience event for a status. online and active both map to adminOnline.
func StatusEvent(s models.Status) string {
	switch s {
	case models.StatusOnline, models.StatusActive:
		return EventAdminOnline
	case models.StatusIdle:
		return EventAdminIdle
	case models.StatusAway:
		return EventAdminAway
	default:
		return EventAdminOffline
	}
}

// ActivityEvent returns the per-type echo event name, e.g. activity:tab_hidden.
func ActivityEvent(t models.ActivityType) string {
	return activityEventPrefix + string(t)
}

// Broadcaster fans presence changes and journal echoes out through an Emitter.
type Broadcaster struct {
	emitter Emitter
	logger  *zap.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(emitter Emitter, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{emitter: emitter, logger: logger}
}

// PublishStatusChange emits statusChanged and the matching convenience event with the same payload.
func (b *Broadcaster) PublishStatusChange(ctx context.Context, change models.StatusChange) {
	b.emit(ctx, EventStatusChanged, change)
	b.emit(ctx, StatusEvent(change.Status), change)
}

// PublishActivity emits activityLogged and activity:<type> for a journal entry.
func (b *Broadcaster) PublishActivity(ctx context.Context, echo models.ActivityEcho) {
	b.emit(ctx, EventActivityLogged, echo)
	b.emit(ctx, ActivityEvent(echo.ActivityType), echo)
}

func (b *Broadcaster) emit(ctx context.Context, event string, payload interface{}) {
	if err := b.emitter.Emit(ctx, event, payload); err != nil {
		b.logger.Warn("presence broadcast failed", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
}
