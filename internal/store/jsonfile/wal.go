package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// IntentLog persists order intents to a single JSON file. The write path is
// strictly log-then-submit: callers must not start a network call until
// LogIntent has returned.
type IntentLog struct {
	atomic *Atomic
	path   string
	now    func() time.Time
}

var _ domain.IntentLog = (*IntentLog)(nil)

// NewIntentLog creates an intent log backed by the file at path.
func NewIntentLog(atomic *Atomic, path string) *IntentLog {
	return &IntentLog{atomic: atomic, path: path, now: time.Now}
}

type intentFile struct {
	Entries map[string]domain.OrderIntent `json:"entries"`
}

// LogIntent durably records a pending intent and returns its ID. An intent
// arriving without an ID is assigned one.
func (l *IntentLog) LogIntent(_ context.Context, intent domain.OrderIntent) (string, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	intent.Status = domain.IntentPending
	intent.CreatedAt = l.now().UTC()
	intent.ResolvedAt = nil

	err := l.update(func(f *intentFile) error {
		if _, ok := f.Entries[intent.ID]; ok {
			return fmt.Errorf("jsonfile: intent %s: %w", intent.ID, domain.ErrAlreadyExists)
		}
		f.Entries[intent.ID] = intent
		return nil
	})
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

// ResolveIntent moves a pending or unresolved intent to a terminal status.
// Resolving an already-terminal intent is an error so that the outcome of a
// submission is recorded exactly once.
func (l *IntentLog) ResolveIntent(_ context.Context, id string, status domain.IntentStatus, result string) error {
	if status != domain.IntentFilled && status != domain.IntentFailed {
		return fmt.Errorf("jsonfile: resolve intent %s: status %q is not terminal", id, status)
	}
	return l.update(func(f *intentFile) error {
		e, ok := f.Entries[id]
		if !ok {
			return fmt.Errorf("jsonfile: intent %s: %w", id, domain.ErrNotFound)
		}
		if e.Status == domain.IntentFilled || e.Status == domain.IntentFailed {
			return fmt.Errorf("jsonfile: intent %s: %w", id, domain.ErrIntentResolved)
		}
		now := l.now().UTC()
		e.Status = status
		e.Result = result
		e.ResolvedAt = &now
		f.Entries[id] = e
		return nil
	})
}

// MarkUnresolved flags a pending intent left over from a prior run. The entry
// stays visible until an operator resolves it explicitly.
func (l *IntentLog) MarkUnresolved(_ context.Context, id string) error {
	return l.update(func(f *intentFile) error {
		e, ok := f.Entries[id]
		if !ok {
			return fmt.Errorf("jsonfile: intent %s: %w", id, domain.ErrNotFound)
		}
		if e.Status != domain.IntentPending {
			return fmt.Errorf("jsonfile: intent %s: %w", id, domain.ErrIntentResolved)
		}
		now := l.now().UTC()
		e.Status = domain.IntentUnresolved
		e.ResolvedAt = &now
		f.Entries[id] = e
		return nil
	})
}

// Unresolved returns every intent that is still pending or has been marked
// unresolved, oldest first.
func (l *IntentLog) Unresolved(_ context.Context) ([]domain.OrderIntent, error) {
	f, err := l.load()
	if err != nil {
		return nil, err
	}
	var out []domain.OrderIntent
	for _, e := range f.Entries {
		if e.Status == domain.IntentPending || e.Status == domain.IntentUnresolved {
			out = append(out, e)
		}
	}
	sortIntentsByCreated(out)
	return out, nil
}

// Get returns a single intent by ID.
func (l *IntentLog) Get(_ context.Context, id string) (domain.OrderIntent, error) {
	f, err := l.load()
	if err != nil {
		return domain.OrderIntent{}, err
	}
	e, ok := f.Entries[id]
	if !ok {
		return domain.OrderIntent{}, fmt.Errorf("jsonfile: intent %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// Prune removes filled and failed intents older than retention. Pending and
// unresolved entries are never pruned by age.
func (l *IntentLog) Prune(_ context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-retention)
	removed := 0
	err := l.update(func(f *intentFile) error {
		for id, e := range f.Entries {
			if e.Status != domain.IntentFilled && e.Status != domain.IntentFailed {
				continue
			}
			if e.CreatedAt.Before(cutoff) {
				delete(f.Entries, id)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *IntentLog) load() (intentFile, error) {
	f := intentFile{Entries: make(map[string]domain.OrderIntent)}
	err := l.atomic.ReadJSON(l.path, &f)
	if err != nil && !os.IsNotExist(err) {
		return intentFile{}, fmt.Errorf("jsonfile: load intent log: %w", err)
	}
	if f.Entries == nil {
		f.Entries = make(map[string]domain.OrderIntent)
	}
	return f, nil
}

func (l *IntentLog) update(fn func(*intentFile) error) error {
	return l.atomic.Update(l.path, func(data []byte, exists bool) ([]byte, error) {
		f := intentFile{Entries: make(map[string]domain.OrderIntent)}
		if exists {
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("jsonfile: unmarshal intent log: %w", err)
			}
			if f.Entries == nil {
				f.Entries = make(map[string]domain.OrderIntent)
			}
		}
		if err := fn(&f); err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(&f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("jsonfile: marshal intent log: %w", err)
		}
		return out, nil
	})
}

func sortIntentsByCreated(intents []domain.OrderIntent) {
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
}
