package activitylog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/pkg/queue"
	"github.com/jobportal/backend/pkg/storage"
)

// Source streams journal entries for a window.
type Source interface {
	Each(ctx context.Context, userID *uuid.UUID, from, to time.Time, fn func(*models.ActivityLog) error) error
}

// Uploader stores export objects.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body *bytes.Reader) (string, error)
	ExportBucket() string
	PresignDownload(ctx context.Context, bucket, key string) (url string, expires time.Time, err error)
}

// s3Uploader adapts *storage.S3 to Uploader.
type s3Uploader struct{ s3 *storage.S3 }

func (u s3Uploader) Upload(ctx context.Context, bucket, key, contentType string, body *bytes.Reader) (string, error) {
	return u.s3.Upload(ctx, bucket, key, contentType, body)
}

func (u s3Uploader) ExportBucket() string { return u.s3.ExportBucket() }

func (u s3Uploader) PresignDownload(ctx context.Context, bucket, key string) (string, time.Time, error) {
	ttl := u.s3.PresignExpire()
	url, err := u.s3.GeneratePresignedDownloadURL(ctx, bucket, key, ttl)
	return url, time.Now().Add(ttl), err
}

// NewS3Uploader wraps an S3 client for the exporter.
func NewS3Uploader(s3 *storage.S3) Uploader {
	return s3Uploader{s3: s3}
}

// ExportResult describes an uploaded export object.
type ExportResult struct {
	ExportID uuid.UUID `json:"export_id"`
	Key      string    `json:"key"`
	URL      string    `json:"url"`
	Rows     int       `json:"rows"`

	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Exporter writes a journal window as newline-delimited JSON to object storage.
type Exporter struct {
	source   Source
	uploader Uploader
	logger   *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(source Source, uploader Uploader, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, uploader: uploader, logger: logger}
}

// Export runs one export job.
func (e *Exporter) Export(ctx context.Context, p queue.ActivityExportPayload) (*ExportResult, error) {
	if !p.To.After(p.From) {
		return nil, fmt.Errorf("empty export window %s..%s", p.From, p.To)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	rows := 0
	err := e.source.Each(ctx, p.UserID, p.From, p.To, func(l *models.ActivityLog) error {
		rows++
		return enc.Encode(l)
	})
	if err != nil {
		return nil, fmt.Errorf("read activity logs: %w", err)
	}
	key := storage.ExportKey(p.ExportID, p.From)
	url, err := e.uploader.Upload(ctx, e.uploader.ExportBucket(), key, storage.ContentTypeNDJSON, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	res := &ExportResult{ExportID: p.ExportID, Key: key, URL: url, Rows: rows}
	// The object is already stored; a presign failure only costs the link.
	if res.DownloadURL, res.ExpiresAt, err = e.uploader.PresignDownload(ctx, e.uploader.ExportBucket(), key); err != nil {
		e.logger.Warn("presign export", zap.String("key", key), zap.Error(err))
		res.DownloadURL, res.ExpiresAt = "", time.Time{}
	}
	e.logger.Info("activity export uploaded",
		zap.String("export_id", p.ExportID.String()), zap.String("key", key), zap.Int("rows", rows),
		zap.Bool("presigned", res.DownloadURL != ""))
	return res, nil
}
