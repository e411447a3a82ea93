package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// ManualStore persists operator-declared positions.
type ManualStore struct {
	atomic *Atomic
	path   string
}

var _ domain.ManualStore = (*ManualStore)(nil)

// NewManualStore creates a manual-position store backed by the file at path.
func NewManualStore(atomic *Atomic, path string) *ManualStore {
	return &ManualStore{atomic: atomic, path: path}
}

type manualFile struct {
	Positions map[string]domain.ManualPosition `json:"positions"`
}

// Put inserts or replaces the declaration for pos.AssetID.
func (m *ManualStore) Put(_ context.Context, pos domain.ManualPosition) error {
	if pos.AssetID == "" {
		return fmt.Errorf("jsonfile: manual position: empty asset id")
	}
	return m.update(func(f *manualFile) {
		f.Positions[pos.AssetID] = pos
	})
}

// Delete removes the declaration for assetID. Deleting an absent entry is not
// an error.
func (m *ManualStore) Delete(_ context.Context, assetID string) error {
	return m.update(func(f *manualFile) {
		delete(f.Positions, assetID)
	})
}

// List returns all declarations sorted by asset ID.
func (m *ManualStore) List(_ context.Context) ([]domain.ManualPosition, error) {
	f := manualFile{Positions: make(map[string]domain.ManualPosition)}
	err := m.atomic.ReadJSON(m.path, &f)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("jsonfile: load manual positions: %w", err)
	}
	out := make([]domain.ManualPosition, 0, len(f.Positions))
	for _, p := range f.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (m *ManualStore) update(fn func(*manualFile)) error {
	return m.atomic.Update(m.path, func(data []byte, exists bool) ([]byte, error) {
		f := manualFile{Positions: make(map[string]domain.ManualPosition)}
		if exists {
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("jsonfile: unmarshal manual positions: %w", err)
			}
			if f.Positions == nil {
				f.Positions = make(map[string]domain.ManualPosition)
			}
		}
		fn(&f)
		out, err := json.MarshalIndent(&f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("jsonfile: marshal manual positions: %w", err)
		}
		return out, nil
	})
}
