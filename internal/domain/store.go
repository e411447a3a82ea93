package domain

import (
	"context"
	"time"
)

// IntentLog is the write-ahead log of order intents. LogIntent must have
// durably persisted the entry before any corresponding network call begins.
type IntentLog interface {
	LogIntent(ctx context.Context, intent OrderIntent) (string, error)
	ResolveIntent(ctx context.Context, id string, status IntentStatus, result string) error
	MarkUnresolved(ctx context.Context, id string) error
	Unresolved(ctx context.Context) ([]OrderIntent, error)
	Get(ctx context.Context, id string) (OrderIntent, error)
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// LedgerPosition is one consolidated holding in the position ledger.
type LedgerPosition struct {
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Outcome   string    `json:"outcome"`
	Size      float64   `json:"size"`
	AvgPrice  float64   `json:"avg_price"`
	Strategy  string    `json:"strategy"`
	Manual    bool      `json:"manual"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionLedger is the single consolidated source of truth for held
// positions. RecordSync is the only operation permitted to treat
// venue-reported state as authoritative over local state.
type PositionLedger interface {
	RecordEntry(ctx context.Context, assetID string, size, price float64, strategy string) error
	RecordExit(ctx context.Context, assetID string, size, price float64) error
	RecordSync(ctx context.Context, venue []VenuePosition, manual []ManualPosition) (SyncResult, error)
	Get(ctx context.Context, assetID string) (LedgerPosition, error)
	List(ctx context.Context) ([]LedgerPosition, error)
}

// ManualStore persists operator-declared positions so they survive restarts
// and are merged back in during reconciliation.
type ManualStore interface {
	Put(ctx context.Context, pos ManualPosition) error
	Delete(ctx context.Context, assetID string) error
	List(ctx context.Context) ([]ManualPosition, error)
}

// ExitStore is the append-only exit audit trail. There is deliberately no
// update or delete operation.
type ExitStore interface {
	LogExit(ctx context.Context, rec ExitRecord) error
	Exits(ctx context.Context, filter ExitFilter) ([]ExitRecord, error)
	Summary(ctx context.Context, since time.Time) (ExitSummary, error)
}

// ExitMirror receives best-effort copies of exit records for external
// querying (e.g. a Postgres table). Mirror failures must never block the
// exit path.
type ExitMirror interface {
	Append(ctx context.Context, rec ExitRecord) error
}

// SetStore is a persisted set of string keys with per-entry timestamps, used
// for the exit-failed quarantine, the recently-sold markers, and the
// auto-executed-opportunity dedupe set.
type SetStore interface {
	Add(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
	Members(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	ExpireOlderThan(ctx context.Context, ttl time.Duration) (int, error)
}
