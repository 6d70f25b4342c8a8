package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/activitylog"
	"github.com/jobportal/backend/internal/metrics"
	"github.com/jobportal/backend/internal/presence"
	"github.com/jobportal/backend/pkg/queue"
)

// Finalizer ends stale sessions through the presence tracker.
type Finalizer interface {
	FinalizeStale(ctx context.Context, sessionID uuid.UUID, reason string) (presence.Decision, error)
}

// Exporter uploads journal windows.
type Exporter interface {
	Export(ctx context.Context, p queue.ActivityExportPayload) (*activitylog.ExportResult, error)
}

// JobQueue is the job source the processor drains.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor processes presence maintenance jobs: stale-session finalization and activity exports.
type Processor struct {
	finalizer Finalizer
	exporter  Exporter
	queue     JobQueue
	logger    *zap.Logger
	backoff   time.Duration
}

// NewProcessor creates a job processor. exporter may be nil when no export bucket is configured.
func NewProcessor(finalizer Finalizer, exporter Exporter, q JobQueue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{finalizer: finalizer, exporter: exporter, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeFinalizeStale:
		var payload queue.FinalizeStalePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		d, err := p.finalizer.FinalizeStale(ctx, payload.SessionID, payload.Reason)
		if err != nil {
			return fmt.Errorf("finalize session %s: %w", payload.SessionID, err)
		}
		if d.Drop {
			p.logger.Info("stale session skipped", zap.String("session_id", payload.SessionID.String()), zap.String("reason", d.Reason))
			return nil
		}
		p.logger.Info("stale session finalized", zap.String("session_id", payload.SessionID.String()),
			zap.String("user_id", payload.UserID.String()))
		return nil

	case queue.JobTypeActivityExport:
		if p.exporter == nil {
			return fmt.Errorf("activity export not configured")
		}
		var payload queue.ActivityExportPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		res, err := p.exporter.Export(ctx, payload)
		if err != nil {
			return fmt.Errorf("export %s: %w", payload.ExportID, err)
		}
		p.logger.Info("activity export ready", zap.String("export_id", res.ExportID.String()),
			zap.String("requested_by", payload.RequestedBy.String()), zap.String("download_url", res.DownloadURL))
		return nil

	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("presence worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			metrics.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "ok").Inc()
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
