package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventPublisher publishes a payload to a named channel. The redis signal bus
// satisfies this.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BusSender mirrors alerts onto the signal bus so external consumers (a
// dashboard, a paging bridge) can subscribe without this process knowing
// about them.
type BusSender struct {
	bus     EventPublisher
	channel string
	now     func() time.Time
}

// NewBusSender creates a BusSender publishing to channel.
func NewBusSender(bus EventPublisher, channel string) *BusSender {
	return &BusSender{bus: bus, channel: channel, now: time.Now}
}

func (s *BusSender) Name() string { return "bus:" + s.channel }

func (s *BusSender) Send(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
		"at":      s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("notify: encode bus event: %w", err)
	}
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", s.channel, err)
	}
	return nil
}

var _ Sender = (*BusSender)(nil)
