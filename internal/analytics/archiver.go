package analytics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Uploader stores an export object. Implemented by the S3 blob writer.
type Uploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver ships PnL exports to object storage for long-term retention.
type Archiver struct {
	service  *Service
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver wires an Archiver.
func NewArchiver(service *Service, uploader Uploader, logger *slog.Logger) *Archiver {
	return &Archiver{
		service:  service,
		uploader: uploader,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// ArchiveDailyPnL exports the trailing series and uploads it under
// exports/{user}/pnl-{date}.{format}. It returns the object key.
func (a *Archiver) ArchiveDailyPnL(ctx context.Context, userID string, days int, format ExportFormat) (string, error) {
	data, err := a.service.ExportDailyPnL(ctx, userID, days, format)
	if err != nil {
		return "", err
	}

	ext := "csv"
	if format == FormatJSON {
		ext = "json"
	}
	key := fmt.Sprintf("exports/%s/pnl-%s.%s", userID, a.now().Format("2006-01-02"), ext)

	if err := a.uploader.Put(ctx, key, bytes.NewReader(data), format.ContentType()); err != nil {
		return "", fmt.Errorf("analytics: archive %s: %w", key, err)
	}
	a.logger.Info("export archived",
		slog.String("user_id", userID),
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return key, nil
}
