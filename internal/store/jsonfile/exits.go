package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// ExitLedger is the append-only exit audit trail. Records are only ever added.
type ExitLedger struct {
	atomic *Atomic
	path   string
	now    func() time.Time
}

var _ domain.ExitStore = (*ExitLedger)(nil)

// NewExitLedger creates an exit ledger backed by the file at path.
func NewExitLedger(atomic *Atomic, path string) *ExitLedger {
	return &ExitLedger{atomic: atomic, path: path, now: time.Now}
}

type exitFile struct {
	Exits []domain.ExitRecord `json:"exits"`
}

// LogExit appends one exit record, assigning an ID and timestamp when absent.
func (e *ExitLedger) LogExit(_ context.Context, rec domain.ExitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = e.now().UTC()
	}
	return e.atomic.Update(e.path, func(data []byte, exists bool) ([]byte, error) {
		var f exitFile
		if exists {
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("jsonfile: unmarshal exit ledger: %w", err)
			}
		}
		f.Exits = append(f.Exits, rec)
		out, err := json.MarshalIndent(&f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("jsonfile: marshal exit ledger: %w", err)
		}
		return out, nil
	})
}

// Exits returns records matching the filter, newest first.
func (e *ExitLedger) Exits(_ context.Context, filter domain.ExitFilter) ([]domain.ExitRecord, error) {
	f, err := e.load()
	if err != nil {
		return nil, err
	}
	var out []domain.ExitRecord
	for i := len(f.Exits) - 1; i >= 0; i-- {
		rec := f.Exits[i]
		if filter.AssetID != "" && rec.AssetID != filter.AssetID {
			continue
		}
		if filter.Reason != "" && rec.Reason != filter.Reason {
			continue
		}
		if filter.Strategy != "" && rec.Strategy != filter.Strategy {
			continue
		}
		if filter.Since != nil && rec.At.Before(*filter.Since) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Summary aggregates exits at or after since. Abandoned exits count as losses
// with their recorded PnL.
func (e *ExitLedger) Summary(_ context.Context, since time.Time) (domain.ExitSummary, error) {
	f, err := e.load()
	if err != nil {
		return domain.ExitSummary{}, err
	}
	sum := domain.ExitSummary{
		PnLByReason:   make(map[domain.ExitReason]float64),
		PnLByStrategy: make(map[string]float64),
	}
	for _, rec := range f.Exits {
		if rec.At.Before(since) {
			continue
		}
		sum.Count++
		if rec.RealizedPnL > 0 {
			sum.Wins++
		}
		sum.TotalPnL += rec.RealizedPnL
		sum.PnLByReason[rec.Reason] += rec.RealizedPnL
		if rec.Strategy != "" {
			sum.PnLByStrategy[rec.Strategy] += rec.RealizedPnL
		}
	}
	if sum.Count > 0 {
		sum.WinRate = float64(sum.Wins) / float64(sum.Count)
	}
	return sum, nil
}

func (e *ExitLedger) load() (exitFile, error) {
	var f exitFile
	err := e.atomic.ReadJSON(e.path, &f)
	if err != nil && !os.IsNotExist(err) {
		return exitFile{}, fmt.Errorf("jsonfile: load exit ledger: %w", err)
	}
	return f, nil
}
