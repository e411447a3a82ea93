package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffEngagesOnThirdHitInWindow(t *testing.T) {
	b := NewBackoff(5*time.Minute, 3, 10*time.Minute)

	assert.False(t, b.Hit())
	assert.False(t, b.Hit())
	assert.False(t, b.Active())

	assert.True(t, b.Hit(), "third hit inside the window engages")
	assert.True(t, b.Active())
	assert.False(t, b.Until().IsZero())
}

func TestBackoffWindowSlides(t *testing.T) {
	b := NewBackoff(5*time.Minute, 3, 10*time.Minute)
	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	b.Hit()
	b.Hit()

	// The first two hits age out of the window.
	now = base.Add(6 * time.Minute)
	assert.False(t, b.Hit(), "old hits no longer count")
	assert.False(t, b.Active())
}

func TestBackoffResumesAutomatically(t *testing.T) {
	b := NewBackoff(5*time.Minute, 3, 10*time.Minute)
	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	b.Hit()
	b.Hit()
	b.Hit()
	assert.True(t, b.Active())

	now = base.Add(11 * time.Minute)
	assert.False(t, b.Active())
	assert.True(t, b.Until().IsZero())
}
