package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// Set is a persisted string set with per-entry timestamps. It backs the
// exit-failed quarantine, the recently-sold markers, and the auto-execution
// dedupe set.
type Set struct {
	atomic *Atomic
	path   string
	now    func() time.Time
}

var _ domain.SetStore = (*Set)(nil)

// NewSet creates a set backed by the file at path.
func NewSet(atomic *Atomic, path string) *Set {
	return &Set{atomic: atomic, path: path, now: time.Now}
}

type setFile struct {
	Entries map[string]time.Time `json:"entries"`
}

// Add inserts key with the current timestamp. Re-adding refreshes the
// timestamp.
func (s *Set) Add(_ context.Context, key string) error {
	return s.update(func(f *setFile) {
		f.Entries[key] = s.now().UTC()
	})
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Set) Remove(_ context.Context, key string) error {
	return s.update(func(f *setFile) {
		delete(f.Entries, key)
	})
}

// Contains reports whether key is present.
func (s *Set) Contains(_ context.Context, key string) (bool, error) {
	f, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := f.Entries[key]
	return ok, nil
}

// Members returns all keys sorted.
func (s *Set) Members(_ context.Context) ([]string, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.Entries))
	for k := range f.Entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Clear removes every entry.
func (s *Set) Clear(_ context.Context) error {
	return s.update(func(f *setFile) {
		f.Entries = make(map[string]time.Time)
	})
}

// ExpireOlderThan removes entries older than ttl and returns how many were
// dropped.
func (s *Set) ExpireOlderThan(_ context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-ttl)
	removed := 0
	err := s.update(func(f *setFile) {
		for k, at := range f.Entries {
			if at.Before(cutoff) {
				delete(f.Entries, k)
				removed++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Set) load() (setFile, error) {
	f := setFile{Entries: make(map[string]time.Time)}
	err := s.atomic.ReadJSON(s.path, &f)
	if err != nil && !os.IsNotExist(err) {
		return setFile{}, fmt.Errorf("jsonfile: load set: %w", err)
	}
	if f.Entries == nil {
		f.Entries = make(map[string]time.Time)
	}
	return f, nil
}

func (s *Set) update(fn func(*setFile)) error {
	return s.atomic.Update(s.path, func(data []byte, exists bool) ([]byte, error) {
		f := setFile{Entries: make(map[string]time.Time)}
		if exists {
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("jsonfile: unmarshal set: %w", err)
			}
			if f.Entries == nil {
				f.Entries = make(map[string]time.Time)
			}
		}
		fn(&f)
		out, err := json.MarshalIndent(&f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("jsonfile: marshal set: %w", err)
		}
		return out, nil
	})
}
