package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

const (
	// sizeEpsilon is the share count below which a position is considered
	// fully closed.
	sizeEpsilon = 1e-6

	// syncTolerance is the size drift, in shares, below which a venue report
	// does not rewrite a tracked position.
	syncTolerance = 0.01

	// maxAuditEntries caps the rolling transaction audit kept in the ledger
	// file.
	maxAuditEntries = 500
)

// PositionLedger is the consolidated file-backed record of held positions,
// with a rolling audit trail of every mutation.
type PositionLedger struct {
	atomic *Atomic
	path   string
	now    func() time.Time
}

var _ domain.PositionLedger = (*PositionLedger)(nil)

// NewPositionLedger creates a ledger backed by the file at path.
func NewPositionLedger(atomic *Atomic, path string) *PositionLedger {
	return &PositionLedger{atomic: atomic, path: path, now: time.Now}
}

type ledgerFile struct {
	Positions map[string]domain.LedgerPosition `json:"positions"`
	NextTxn   int64                            `json:"next_txn"`
	Audit     []auditEntry                     `json:"audit"`
}

type auditEntry struct {
	Txn     int64     `json:"txn"`
	Kind    string    `json:"kind"`
	AssetID string    `json:"asset_id"`
	Size    float64   `json:"size"`
	Price   float64   `json:"price,omitempty"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// RecordEntry adds size shares bought at price. Re-entering a held asset
// re-weights the average price by cost.
func (p *PositionLedger) RecordEntry(_ context.Context, assetID string, size, price float64, strategy string) error {
	if size <= 0 {
		return fmt.Errorf("jsonfile: record entry %s: non-positive size %f", assetID, size)
	}
	return p.update(func(f *ledgerFile) error {
		now := p.now().UTC()
		pos, held := f.Positions[assetID]
		if held {
			total := pos.Size + size
			pos.AvgPrice = (pos.Size*pos.AvgPrice + size*price) / total
			pos.Size = total
		} else {
			pos = domain.LedgerPosition{
				AssetID:  assetID,
				Size:     size,
				AvgPrice: price,
				Strategy: strategy,
			}
		}
		pos.UpdatedAt = now
		f.Positions[assetID] = pos
		f.audit("entry", assetID, size, price, "", now)
		return nil
	})
}

// RecordExit reduces the held size. The cost basis per share is unchanged, so
// a partial exit removes cost proportionally. Selling more than held clamps
// to zero and closes the position.
func (p *PositionLedger) RecordExit(_ context.Context, assetID string, size, price float64) error {
	if size <= 0 {
		return fmt.Errorf("jsonfile: record exit %s: non-positive size %f", assetID, size)
	}
	return p.update(func(f *ledgerFile) error {
		pos, held := f.Positions[assetID]
		if !held {
			return fmt.Errorf("jsonfile: record exit %s: %w", assetID, domain.ErrNotFound)
		}
		now := p.now().UTC()
		pos.Size = math.Max(0, pos.Size-size)
		pos.UpdatedAt = now
		if pos.Size < sizeEpsilon {
			delete(f.Positions, assetID)
		} else {
			f.Positions[assetID] = pos
		}
		f.audit("exit", assetID, size, price, "", now)
		return nil
	})
}

// RecordSync reconciles the ledger against venue-reported positions plus the
// operator's manual declarations. Venue reports win on size; manual entries
// only add assets the venue does not report. Tracked assets reported by
// neither side are treated as closed externally and removed.
func (p *PositionLedger) RecordSync(_ context.Context, venue []domain.VenuePosition, manual []domain.ManualPosition) (domain.SyncResult, error) {
	var res domain.SyncResult
	err := p.update(func(f *ledgerFile) error {
		now := p.now().UTC()
		seen := make(map[string]bool, len(venue)+len(manual))

		for _, v := range venue {
			seen[v.AssetID] = true
			pos, held := f.Positions[v.AssetID]
			switch {
			case !held:
				f.Positions[v.AssetID] = domain.LedgerPosition{
					AssetID:   v.AssetID,
					Market:    v.Market,
					Outcome:   v.Outcome,
					Size:      v.Size,
					AvgPrice:  v.AvgPrice,
					UpdatedAt: now,
				}
				f.audit("sync_add", v.AssetID, v.Size, v.AvgPrice, "venue", now)
				res.Added = append(res.Added, v.AssetID)
			case math.Abs(pos.Size-v.Size) > syncTolerance:
				f.audit("sync_update", v.AssetID, v.Size-pos.Size, v.AvgPrice, "venue drift", now)
				pos.Size = v.Size
				pos.UpdatedAt = now
				f.Positions[v.AssetID] = pos
				res.Updated = append(res.Updated, v.AssetID)
			}
		}

		for _, m := range manual {
			if seen[m.AssetID] {
				continue
			}
			seen[m.AssetID] = true
			if _, held := f.Positions[m.AssetID]; held {
				continue
			}
			f.Positions[m.AssetID] = domain.LedgerPosition{
				AssetID:   m.AssetID,
				Market:    m.Market,
				Outcome:   m.Outcome,
				Size:      m.Size,
				AvgPrice:  m.AvgPrice,
				Manual:    true,
				UpdatedAt: now,
			}
			f.audit("sync_add", m.AssetID, m.Size, m.AvgPrice, "manual", now)
			res.Added = append(res.Added, m.AssetID)
		}

		for assetID := range f.Positions {
			if !seen[assetID] {
				f.audit("sync_remove", assetID, f.Positions[assetID].Size, 0, "closed externally", now)
				delete(f.Positions, assetID)
				res.Removed = append(res.Removed, assetID)
			}
		}
		return nil
	})
	if err != nil {
		return domain.SyncResult{}, err
	}
	return res, nil
}

// Get returns one ledger position.
func (p *PositionLedger) Get(_ context.Context, assetID string) (domain.LedgerPosition, error) {
	f, err := p.load()
	if err != nil {
		return domain.LedgerPosition{}, err
	}
	pos, ok := f.Positions[assetID]
	if !ok {
		return domain.LedgerPosition{}, fmt.Errorf("jsonfile: position %s: %w", assetID, domain.ErrNotFound)
	}
	return pos, nil
}

// List returns all ledger positions sorted by asset ID.
func (p *PositionLedger) List(_ context.Context) ([]domain.LedgerPosition, error) {
	f, err := p.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.LedgerPosition, 0, len(f.Positions))
	for _, pos := range f.Positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (f *ledgerFile) audit(kind, assetID string, size, price float64, note string, at time.Time) {
	f.NextTxn++
	f.Audit = append(f.Audit, auditEntry{
		Txn:     f.NextTxn,
		Kind:    kind,
		AssetID: assetID,
		Size:    size,
		Price:   price,
		Note:    note,
		At:      at,
	})
	if len(f.Audit) > maxAuditEntries {
		f.Audit = f.Audit[len(f.Audit)-maxAuditEntries:]
	}
}

func (p *PositionLedger) load() (ledgerFile, error) {
	f := ledgerFile{Positions: make(map[string]domain.LedgerPosition)}
	err := p.atomic.ReadJSON(p.path, &f)
	if err != nil && !os.IsNotExist(err) {
		return ledgerFile{}, fmt.Errorf("jsonfile: load position ledger: %w", err)
	}
	if f.Positions == nil {
		f.Positions = make(map[string]domain.LedgerPosition)
	}
	return f, nil
}

func (p *PositionLedger) update(fn func(*ledgerFile) error) error {
	return p.atomic.Update(p.path, func(data []byte, exists bool) ([]byte, error) {
		f := ledgerFile{Positions: make(map[string]domain.LedgerPosition)}
		if exists {
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("jsonfile: unmarshal position ledger: %w", err)
			}
			if f.Positions == nil {
				f.Positions = make(map[string]domain.LedgerPosition)
			}
		}
		if err := fn(&f); err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(&f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("jsonfile: marshal position ledger: %w", err)
		}
		return out, nil
	})
}
