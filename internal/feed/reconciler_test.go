package feed

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
	"github.com/stuartoffabean/sentinel/internal/risk"
	"github.com/stuartoffabean/sentinel/internal/store/jsonfile"
)

type fakeVenueTruth struct {
	positions []domain.VenuePosition
	cash      float64
}

func (f *fakeVenueTruth) Positions(context.Context) ([]domain.VenuePosition, error) {
	return f.positions, nil
}

func (f *fakeVenueTruth) CashBalance(context.Context) (float64, error) {
	return f.cash, nil
}

type captureAlerts struct{ kinds []string }

func (c *captureAlerts) Alert(_ context.Context, kind, _, _ string) {
	c.kinds = append(c.kinds, kind)
}

type reconcilerFixture struct {
	r       *Reconciler
	venue   *fakeVenueTruth
	book    *book.Book
	wal     *jsonfile.IntentLog
	quar    *jsonfile.Set
	manual  *jsonfile.ManualStore
	alerts  *captureAlerts
	machine *risk.Machine
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	dir := t.TempDir()
	atomic := jsonfile.NewAtomic()
	v := &fakeVenueTruth{cash: 100}
	b := book.New()
	alerts := &captureAlerts{}
	wal := jsonfile.NewIntentLog(atomic, filepath.Join(dir, "wal.json"))
	quar := jsonfile.NewSet(atomic, filepath.Join(dir, "quarantine.json"))
	manual := jsonfile.NewManualStore(atomic, filepath.Join(dir, "manual.json"))

	machine := risk.New(risk.Config{
		DrawdownThreshold:    0.15,
		SanityMultiple:       2,
		WarmupPricedFraction: 0.8,
		CashFetchTimeout:     time.Minute,
	}, v, nil, slog.New(slog.DiscardHandler))

	cfg := ReconcilerConfig{
		SyncInterval:      time.Minute,
		StartupRetryDelay: time.Millisecond,
		StartupMaxEmpty:   1,
		WALRetention:      24 * time.Hour,
		RecentlySoldTTL:   10 * time.Minute,
		DedupeTTL:         24 * time.Hour,
	}
	r := NewReconciler(cfg, v, jsonfile.NewPositionLedger(atomic, filepath.Join(dir, "positions.json")),
		manual, wal, quar,
		jsonfile.NewSet(atomic, filepath.Join(dir, "recent.json")),
		jsonfile.NewSet(atomic, filepath.Join(dir, "dedupe.json")),
		b, machine, alerts, slog.New(slog.DiscardHandler))
	return &reconcilerFixture{r: r, venue: v, book: b, wal: wal, quar: quar, manual: manual, alerts: alerts, machine: machine}
}

func TestSyncNowPopulatesBook(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	f.venue.positions = []domain.VenuePosition{
		{AssetID: "a", Market: "rain tomorrow", Outcome: "YES", Size: 100, AvgPrice: 0.40},
	}
	require.NoError(t, f.manual.Put(ctx, domain.ManualPosition{AssetID: "m", Size: 5, AvgPrice: 0.90, StopLoss: 0.30}))

	require.NoError(t, f.r.SyncNow(ctx))

	assert.Equal(t, 2, f.book.Len())
	m, ok := f.book.Get("m")
	require.True(t, ok)
	assert.True(t, m.Manual)
	assert.InDelta(t, 0.30, m.StopLoss, 1e-9)
}

func TestStartupFlatAccountBecomesReady(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	f.machine.Start()

	// Venue reports no positions and $100 cash; the empty book is accepted
	// after the bounded retries.
	require.NoError(t, f.r.startup(ctx))

	st := f.machine.State()
	assert.True(t, st.Ready, "a flat account has nothing to wait on")
	assert.InDelta(t, 100, st.CashBalance, 1e-9)
	assert.True(t, f.machine.CanAutoExecute(),
		"the first scanner opportunity must be executable without a single tick")
}

func TestSyncWithUnpricedPositionsStaysInWarmup(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	f.machine.Start()
	f.venue.positions = []domain.VenuePosition{{AssetID: "a", Size: 100, AvgPrice: 0.40}}

	require.NoError(t, f.r.SyncNow(ctx))

	assert.False(t, f.machine.State().Ready,
		"tracked positions without live prices keep the machine in warmup")
}

func TestSyncNowRefreshesSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	var got [][]string
	f.r.OnSync(func(_ context.Context, assetIDs []string) error {
		got = append(got, assetIDs)
		return nil
	})
	f.venue.positions = []domain.VenuePosition{{AssetID: "a", Size: 100, AvgPrice: 0.40}}

	require.NoError(t, f.r.SyncNow(ctx))

	require.Len(t, got, 1)
	assert.Equal(t, []string{"a"}, got[0], "newly synced positions get price coverage")
}

func TestSyncNowSeedsQuarantineFlags(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	f.venue.positions = []domain.VenuePosition{{AssetID: "a", Size: 100, AvgPrice: 0.40}}
	require.NoError(t, f.quar.Add(ctx, "a"))

	require.NoError(t, f.r.SyncNow(ctx))

	pos, ok := f.book.Get("a")
	require.True(t, ok)
	assert.True(t, pos.ExitFailed, "quarantine survives restart through the persisted set")
}

func TestSurfaceUnresolvedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	id, err := f.wal.LogIntent(ctx, domain.OrderIntent{Type: domain.IntentSingle})
	require.NoError(t, err)

	require.NoError(t, f.r.SurfaceUnresolved(ctx))
	assert.Equal(t, []string{"wal_unresolved"}, f.alerts.kinds)

	got, err := f.wal.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnresolved, got.Status)

	// A second pass (e.g. another restart) does not re-alert.
	require.NoError(t, f.r.SurfaceUnresolved(ctx))
	assert.Equal(t, []string{"wal_unresolved"}, f.alerts.kinds)
}
