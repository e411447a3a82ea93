package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/domain"
	"github.com/stuartoffabean/sentinel/internal/store/jsonfile"
)

type captureWriter struct {
	paths  []string
	bodies [][]byte
}

func (c *captureWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	c.paths = append(c.paths, path)
	c.bodies = append(c.bodies, body)
	return nil
}

func (c *captureWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return c.Put(ctx, path, data, "")
}

func TestArchiveDayUploadsJSONL(t *testing.T) {
	ctx := context.Background()
	exits := jsonfile.NewExitLedger(jsonfile.NewAtomic(), filepath.Join(t.TempDir(), "exits.json"))

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, asset := range []string{"a", "b"} {
		require.NoError(t, exits.LogExit(ctx, domain.ExitRecord{
			ID:          asset,
			AssetID:     asset,
			Reason:      domain.ExitStopLoss,
			RealizedPnL: float64(i),
			At:          day.Add(time.Duration(i) * time.Hour),
		}))
	}

	w := &captureWriter{}
	a := NewArchiver(w, exits, "", slog.New(slog.DiscardHandler))

	require.NoError(t, a.ArchiveDay(ctx, day.Add(14*time.Hour)))

	require.Len(t, w.paths, 1)
	assert.Equal(t, "archive/exits/2026/03/01.jsonl", w.paths[0])

	var lines int
	sc := bufio.NewScanner(bytes.NewReader(w.bodies[0]))
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestArchiveDaySkipsEmptyDay(t *testing.T) {
	ctx := context.Background()
	exits := jsonfile.NewExitLedger(jsonfile.NewAtomic(), filepath.Join(t.TempDir(), "exits.json"))
	w := &captureWriter{}
	a := NewArchiver(w, exits, "", slog.New(slog.DiscardHandler))

	require.NoError(t, a.ArchiveDay(ctx, time.Now()))
	assert.Empty(t, w.paths)
}

func TestSnapshotWALUploadsFileVerbatim(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	exits := jsonfile.NewExitLedger(jsonfile.NewAtomic(), filepath.Join(dir, "exits.json"))

	walPath := filepath.Join(dir, "wal.json")
	content := []byte(`{"intents":[]}`)
	require.NoError(t, os.WriteFile(walPath, content, 0o644))

	w := &captureWriter{}
	a := NewArchiver(w, exits, walPath, slog.New(slog.DiscardHandler))
	a.now = func() time.Time { return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC) }

	require.NoError(t, a.SnapshotWAL(ctx))

	require.Len(t, w.paths, 1)
	assert.Equal(t, "archive/wal/2026/03/01.json", w.paths[0])
	assert.Equal(t, content, w.bodies[0])
}

func TestSnapshotWALSkipsMissingFile(t *testing.T) {
	exits := jsonfile.NewExitLedger(jsonfile.NewAtomic(), filepath.Join(t.TempDir(), "exits.json"))
	w := &captureWriter{}
	a := NewArchiver(w, exits, filepath.Join(t.TempDir(), "missing.json"), slog.New(slog.DiscardHandler))

	require.NoError(t, a.SnapshotWAL(context.Background()))
	assert.Empty(t, w.paths)
}
