package notify

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSender struct {
	mu     sync.Mutex
	titles []string
	seen   chan struct{}
}

func newChanSender() *chanSender {
	return &chanSender{seen: make(chan struct{}, 16)}
}

func (c *chanSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	c.titles = append(c.titles, title)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return nil
}

func (c *chanSender) Name() string { return "test" }

func (c *chanSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

func waitDelivery(t *testing.T, s *chanSender) {
	t.Helper()
	select {
	case <-s.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestAlertReachesSenderAndRing(t *testing.T) {
	s := newChanSender()
	n := New([]Sender{s}, nil, 0, slog.New(slog.DiscardHandler))

	n.Alert(context.Background(), "exit_failed", "Exit failed", "asset a quarantined")
	waitDelivery(t, s)

	recent := n.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "exit_failed", recent[0].Kind)
	assert.NotEmpty(t, recent[0].ID)
}

func TestCooldownSuppressesDeliveryButNotRing(t *testing.T) {
	s := newChanSender()
	n := New([]Sender{s}, []string{"feed_disconnect"}, time.Minute, slog.New(slog.DiscardHandler))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	n.now = func() time.Time { return clock }

	n.Alert(context.Background(), "feed_disconnect", "Feed down", "first")
	waitDelivery(t, s)

	clock = base.Add(10 * time.Second)
	n.Alert(context.Background(), "feed_disconnect", "Feed down", "second")

	clock = base.Add(2 * time.Minute)
	n.Alert(context.Background(), "feed_disconnect", "Feed down", "third")
	waitDelivery(t, s)

	assert.Equal(t, 2, s.count(), "mid-cooldown alert is not delivered")
	assert.Len(t, n.Recent(0), 3, "every alert is still recorded")
}

func TestCooldownIgnoresOtherKinds(t *testing.T) {
	s := newChanSender()
	n := New([]Sender{s}, []string{"feed_disconnect"}, time.Hour, slog.New(slog.DiscardHandler))

	n.Alert(context.Background(), "circuit_breaker", "Tripped", "one")
	waitDelivery(t, s)
	n.Alert(context.Background(), "circuit_breaker", "Tripped", "two")
	waitDelivery(t, s)

	assert.Equal(t, 2, s.count())
}

func TestRecentNewestFirstAndBounded(t *testing.T) {
	n := New(nil, nil, 0, slog.New(slog.DiscardHandler))
	for i := 0; i < ringCapacity+20; i++ {
		n.Alert(context.Background(), "k", "t", "m")
	}

	all := n.Recent(0)
	assert.Len(t, all, ringCapacity)

	two := n.Recent(2)
	require.Len(t, two, 2)
	assert.False(t, two[0].At.Before(two[1].At))
}
