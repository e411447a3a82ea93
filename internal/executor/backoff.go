package executor

import (
	"sync"
	"time"
)

// Backoff tracks venue backpressure signals in a sliding window and suspends
// new submissions for a fixed cooldown once the window fills. It resumes by
// itself; no operator action is needed.
type Backoff struct {
	window    time.Duration
	threshold int
	cooldown  time.Duration

	mu    sync.Mutex
	hits  []time.Time
	until time.Time
	now   func() time.Time
}

// NewBackoff creates a backoff that engages after threshold hits within
// window and then suspends submissions for cooldown.
func NewBackoff(window time.Duration, threshold int, cooldown time.Duration) *Backoff {
	return &Backoff{
		window:    window,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Hit records one rate-limit rejection. It returns true when this hit engages
// the backoff, so the caller can alert exactly once per episode.
func (b *Backoff) Hit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cutoff := now.Add(-b.window)
	kept := b.hits[:0]
	for _, h := range b.hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	b.hits = append(kept, now)

	if len(b.hits) >= b.threshold && now.After(b.until) {
		b.until = now.Add(b.cooldown)
		b.hits = b.hits[:0]
		return true
	}
	return false
}

// Active reports whether submissions are currently suspended.
func (b *Backoff) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.until)
}

// Until returns when the current suspension ends, zero when inactive.
func (b *Backoff) Until() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.until) {
		return b.until
	}
	return time.Time{}
}
