package notify

import (
	"sync"
	"time"
)

// cooldown rate-limits external delivery for alert kinds that tend to repeat,
// such as feed disconnects during a venue outage.
type cooldown struct {
	mu       sync.Mutex
	cooled   map[string]bool
	minDelay time.Duration
	lastSent map[string]time.Time
}

func newCooldown(kinds []string, minDelay time.Duration) *cooldown {
	cooled := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		cooled[k] = true
	}
	return &cooldown{
		cooled:   cooled,
		minDelay: minDelay,
		lastSent: make(map[string]time.Time),
	}
}

// allow reports whether an alert of this kind may be delivered now, and if so
// records the delivery time.
func (c *cooldown) allow(kind string, at time.Time) bool {
	if !c.cooled[kind] || c.minDelay <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSent[kind]; ok && at.Sub(last) < c.minDelay {
		return false
	}
	c.lastSent[kind] = at
	return true
}
