package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest observed prices for API consumers and
// dashboards. It is never read back as position truth.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, bid, ask float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (bid, ask float64, ts time.Time, err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for outbound risk events and a durable stream
// for inbound scanner opportunities.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
