package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// OpportunityExecutor consumes scanner opportunities.
type OpportunityExecutor interface {
	ExecuteOpportunity(ctx context.Context, opp domain.Opportunity) error
}

// Intake drains scanner opportunities from the durable signal stream and
// hands them to the execution coordinator. Replay safety lives in the
// coordinator's dedupe set, so resuming from an old stream offset is
// harmless.
type Intake struct {
	bus      domain.SignalBus
	stream   string
	executor OpportunityExecutor
	interval time.Duration
	logger   *slog.Logger

	lastID string
}

// NewIntake creates an intake reading from stream on the given poll interval.
func NewIntake(bus domain.SignalBus, stream string, executor OpportunityExecutor, interval time.Duration, logger *slog.Logger) *Intake {
	return &Intake{
		bus:      bus,
		stream:   stream,
		executor: executor,
		interval: interval,
		logger:   logger.With(slog.String("component", "opportunity_intake")),
		lastID:   "0",
	}
}

// Run polls the stream until ctx is cancelled.
func (i *Intake) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			i.drain(ctx)
		}
	}
}

func (i *Intake) drain(ctx context.Context) {
	for {
		msgs, err := i.bus.StreamRead(ctx, i.stream, i.lastID, 32)
		if err != nil {
			i.logger.Warn("opportunity stream read failed", slog.String("error", err.Error()))
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			i.lastID = msg.ID

			var opp domain.Opportunity
			if err := json.Unmarshal(msg.Payload, &opp); err != nil {
				i.logger.Warn("dropping malformed opportunity",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()))
				continue
			}
			if opp.ID == "" || len(opp.Legs) == 0 {
				i.logger.Warn("dropping incomplete opportunity", slog.String("stream_id", msg.ID))
				continue
			}

			if err := i.executor.ExecuteOpportunity(ctx, opp); err != nil {
				if errors.Is(err, domain.ErrBudgetExceeded) || errors.Is(err, domain.ErrBackoffActive) ||
					errors.Is(err, domain.ErrNotReady) || errors.Is(err, domain.ErrEmergencyMode) {
					continue // already logged and alerted where it matters
				}
				i.logger.Error("opportunity execution failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}
