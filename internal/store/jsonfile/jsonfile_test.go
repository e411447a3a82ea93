package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

func TestAtomicUpdateSerializes(t *testing.T) {
	a := NewAtomic()
	path := filepath.Join(t.TempDir(), "counter.json")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Update(path, func(data []byte, exists bool) ([]byte, error) {
				n := 0
				if exists {
					for _, c := range data {
						if c == '+' {
							n++
						}
					}
				}
				out := make([]byte, n+1)
				for j := range out {
					out[j] = '+'
				}
				return out, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 50, "every read-modify-write cycle must observe the previous one")
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	a := NewAtomic()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, a.WriteJSON(path, map[string]int{"x": 1}))
	require.NoError(t, a.WriteJSON(path, map[string]int{"x": 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())

	var got map[string]int
	require.NoError(t, a.ReadJSON(path, &got))
	assert.Equal(t, 2, got["x"])
}

func TestAtomicWriteIdempotent(t *testing.T) {
	a := NewAtomic()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	value := map[string]any{"assets": []string{"a", "b"}, "cash": 100.5}
	require.NoError(t, a.WriteJSON(path, value))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, a.WriteJSON(path, value))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-writing the same value is byte-identical")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files survive the rename")
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestIntentLogLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewIntentLog(NewAtomic(), filepath.Join(t.TempDir(), "wal.json"))

	id, err := l.LogIntent(ctx, domain.OrderIntent{
		Type: domain.IntentSingle,
		Legs: []domain.IntentLeg{{AssetID: "asset-1", Side: domain.OrderSideSell, Price: 0.42, Size: 100}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentPending, got.Status)

	require.NoError(t, l.ResolveIntent(ctx, id, domain.IntentFilled, "order abc filled"))

	got, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFilled, got.Status)
	require.NotNil(t, got.ResolvedAt)

	err = l.ResolveIntent(ctx, id, domain.IntentFailed, "late failure")
	assert.ErrorIs(t, err, domain.ErrIntentResolved, "an intent resolves exactly once")
}

func TestIntentLogUnresolvedSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.json")

	l := NewIntentLog(NewAtomic(), path)
	id, err := l.LogIntent(ctx, domain.OrderIntent{Type: domain.IntentMarketSell})
	require.NoError(t, err)

	// Simulate a restart: a fresh log over the same file.
	l2 := NewIntentLog(NewAtomic(), path)
	pending, err := l2.Unresolved(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, l2.MarkUnresolved(ctx, id))
	assert.ErrorIs(t, l2.MarkUnresolved(ctx, id), domain.ErrIntentResolved)

	// Still surfaced until an operator resolves it.
	open, err := l2.Unresolved(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.IntentUnresolved, open[0].Status)

	// Operators can close out an unresolved entry.
	require.NoError(t, l2.ResolveIntent(ctx, id, domain.IntentFailed, "confirmed no fill"))
	open, err = l2.Unresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestIntentLogPruneSparesOpenEntries(t *testing.T) {
	ctx := context.Background()
	l := NewIntentLog(NewAtomic(), filepath.Join(t.TempDir(), "wal.json"))
	old := time.Now().Add(-48 * time.Hour)
	l.now = func() time.Time { return old }

	doneID, err := l.LogIntent(ctx, domain.OrderIntent{Type: domain.IntentSingle})
	require.NoError(t, err)
	require.NoError(t, l.ResolveIntent(ctx, doneID, domain.IntentFilled, "ok"))
	pendingID, err := l.LogIntent(ctx, domain.OrderIntent{Type: domain.IntentSingle})
	require.NoError(t, err)

	l.now = time.Now
	removed, err := l.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = l.Get(ctx, doneID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := l.Get(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentPending, got.Status)
}

func TestPositionLedgerEntryAveragesCost(t *testing.T) {
	ctx := context.Background()
	p := NewPositionLedger(NewAtomic(), filepath.Join(t.TempDir(), "positions.json"))

	require.NoError(t, p.RecordEntry(ctx, "asset-1", 100, 0.40, "trend"))
	require.NoError(t, p.RecordEntry(ctx, "asset-1", 100, 0.60, "trend"))

	pos, err := p.Get(ctx, "asset-1")
	require.NoError(t, err)
	assert.InDelta(t, 200, pos.Size, 1e-9)
	assert.InDelta(t, 0.50, pos.AvgPrice, 1e-9)
}

func TestPositionLedgerExitKeepsCostBasis(t *testing.T) {
	ctx := context.Background()
	p := NewPositionLedger(NewAtomic(), filepath.Join(t.TempDir(), "positions.json"))

	require.NoError(t, p.RecordEntry(ctx, "asset-1", 200, 0.50, "trend"))
	require.NoError(t, p.RecordExit(ctx, "asset-1", 50, 0.70))

	pos, err := p.Get(ctx, "asset-1")
	require.NoError(t, err)
	assert.InDelta(t, 150, pos.Size, 1e-9)
	assert.InDelta(t, 0.50, pos.AvgPrice, 1e-9, "partial exits keep per-share cost")

	require.NoError(t, p.RecordExit(ctx, "asset-1", 150, 0.70))
	_, err = p.Get(ctx, "asset-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "a fully exited position leaves the ledger")

	err = p.RecordExit(ctx, "asset-1", 10, 0.70)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionLedgerSync(t *testing.T) {
	ctx := context.Background()
	p := NewPositionLedger(NewAtomic(), filepath.Join(t.TempDir(), "positions.json"))

	require.NoError(t, p.RecordEntry(ctx, "kept", 100, 0.30, "trend"))
	require.NoError(t, p.RecordEntry(ctx, "drifted", 100, 0.30, "trend"))
	require.NoError(t, p.RecordEntry(ctx, "gone", 100, 0.30, "trend"))

	res, err := p.RecordSync(ctx,
		[]domain.VenuePosition{
			{AssetID: "kept", Size: 100.001, AvgPrice: 0.30},
			{AssetID: "drifted", Size: 80, AvgPrice: 0.30},
			{AssetID: "new", Size: 25, AvgPrice: 0.55, Market: "some market", Outcome: "YES"},
		},
		[]domain.ManualPosition{
			{AssetID: "hand", Size: 10, AvgPrice: 0.90},
			{AssetID: "new", Size: 999, AvgPrice: 0.01}, // venue report wins
		})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"new", "hand"}, res.Added)
	assert.Equal(t, []string{"drifted"}, res.Updated)
	assert.Equal(t, []string{"gone"}, res.Removed)

	drifted, err := p.Get(ctx, "drifted")
	require.NoError(t, err)
	assert.InDelta(t, 80, drifted.Size, 1e-9)

	kept, err := p.Get(ctx, "kept")
	require.NoError(t, err)
	assert.InDelta(t, 100, kept.Size, 1e-9, "sub-tolerance drift is left alone")

	added, err := p.Get(ctx, "new")
	require.NoError(t, err)
	assert.InDelta(t, 25, added.Size, 1e-9)
	assert.False(t, added.Manual)

	hand, err := p.Get(ctx, "hand")
	require.NoError(t, err)
	assert.True(t, hand.Manual)

	_, err = p.Get(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExitLedgerFilterAndSummary(t *testing.T) {
	ctx := context.Background()
	e := NewExitLedger(NewAtomic(), filepath.Join(t.TempDir(), "exits.json"))

	recs := []domain.ExitRecord{
		{AssetID: "a", Reason: domain.ExitStopLoss, Strategy: "trend", RealizedPnL: -12},
		{AssetID: "b", Reason: domain.ExitTakeProfit, Strategy: "trend", RealizedPnL: 30},
		{AssetID: "c", Reason: domain.ExitTrailingStop, Strategy: "arb", RealizedPnL: 8},
	}
	for _, r := range recs {
		require.NoError(t, e.LogExit(ctx, r))
	}

	got, err := e.Exits(ctx, domain.ExitFilter{Strategy: "trend"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].AssetID, "newest first")

	sum, err := e.Summary(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 2, sum.Wins)
	assert.InDelta(t, 2.0/3.0, sum.WinRate, 1e-9)
	assert.InDelta(t, 26, sum.TotalPnL, 1e-9)
	assert.InDelta(t, -12, sum.PnLByReason[domain.ExitStopLoss], 1e-9)
	assert.InDelta(t, 18, sum.PnLByStrategy["trend"], 1e-9)
}

func TestSetExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewSet(NewAtomic(), filepath.Join(t.TempDir(), "recent.json"))

	past := time.Now().Add(-20 * time.Minute)
	s.now = func() time.Time { return past }
	require.NoError(t, s.Add(ctx, "old"))

	s.now = time.Now
	require.NoError(t, s.Add(ctx, "fresh"))

	removed, err := s.ExpireOlderThan(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ok, err := s.Contains(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Contains(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManualStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManualStore(NewAtomic(), filepath.Join(t.TempDir(), "manual.json"))

	require.NoError(t, m.Put(ctx, domain.ManualPosition{AssetID: "x", Size: 5, AvgPrice: 0.2, StopLoss: 0.25}))
	require.NoError(t, m.Put(ctx, domain.ManualPosition{AssetID: "x", Size: 7, AvgPrice: 0.2}))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 7, list[0].Size, 1e-9)

	require.NoError(t, m.Delete(ctx, "x"))
	list, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
