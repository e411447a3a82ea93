package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// Archiver periodically uploads a JSONL snapshot of the day's exit records
// and a copy of the intent log to object storage. The local files stay
// authoritative; the archive only gives operators a durable off-box copy for
// bookkeeping.
type Archiver struct {
	writer  domain.BlobWriter
	exits   domain.ExitStore
	walPath string
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates an Archiver snapshotting from exits into writer. An
// empty walPath disables intent-log snapshots.
func NewArchiver(writer domain.BlobWriter, exits domain.ExitStore, walPath string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		exits:   exits,
		walPath: walPath,
		logger:  logger.With(slog.String("component", "exit_archiver")),
		now:     time.Now,
	}
}

// Run archives once per interval until ctx is cancelled. Failures are logged
// and retried on the next tick; a missed upload never blocks trading.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveDay(ctx, a.now()); err != nil {
				a.logger.Error("exit archive failed", slog.String("error", err.Error()))
			}
			if err := a.SnapshotWAL(ctx); err != nil {
				a.logger.Error("wal snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveDay uploads every exit recorded on day's UTC date as one JSONL
// object. Re-running for the same day overwrites the previous snapshot, so
// the object always holds the complete day.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	records, err := a.exits.Exits(ctx, domain.ExitFilter{Since: &start})
	if err != nil {
		return fmt.Errorf("s3blob: load exits for archive: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode exit %s: %w", rec.ID, err)
		}
	}

	path := exitArchivePath(start)
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload exit archive: %w", err)
	}
	a.logger.Info("exit archive uploaded",
		slog.String("path", path),
		slog.Int("records", len(records)))
	return nil
}

// SnapshotWAL uploads the current intent log file verbatim. The atomic
// rename discipline on the file guarantees any read sees a complete, valid
// JSON document. Re-running on the same day overwrites the previous snapshot.
func (a *Archiver) SnapshotWAL(ctx context.Context) error {
	if a.walPath == "" {
		return nil
	}
	data, err := os.ReadFile(a.walPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("s3blob: read wal for snapshot: %w", err)
	}

	path := walSnapshotPath(a.now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload wal snapshot: %w", err)
	}
	a.logger.Info("wal snapshot uploaded",
		slog.String("path", path),
		slog.Int("bytes", len(data)))
	return nil
}

// exitArchivePath partitions archives by UTC date:
//
//	archive/exits/2026/03/01.jsonl
func exitArchivePath(day time.Time) string {
	return fmt.Sprintf("archive/exits/%s.jsonl", day.Format("2006/01/02"))
}

func walSnapshotPath(day time.Time) string {
	return fmt.Sprintf("archive/wal/%s.json", day.Format("2006/01/02"))
}
