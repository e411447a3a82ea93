// Package notify delivers operator alerts to one or more channels (Telegram,
// Discord) and keeps a bounded in-memory ring of recent alerts for the API.
// Repetitive alert kinds are cooled down so a flapping feed does not page the
// operator every two seconds.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

const ringCapacity = 200

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans alerts out to all registered senders. Delivery happens in a
// background goroutine so the trading hot path never waits on a webhook.
type Notifier struct {
	senders  []Sender
	cooldown *cooldown
	logger   *slog.Logger

	mu     sync.Mutex
	recent []domain.Alert

	now func() time.Time
}

// New creates a Notifier delivering to the given senders. Kinds listed in
// cooled are rate-limited to one external delivery per minDelay; every alert
// is still recorded in the ring regardless.
func New(senders []Sender, cooled []string, minDelay time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:  senders,
		cooldown: newCooldown(cooled, minDelay),
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
	}
}

// Alert records the alert and dispatches it to every sender.
func (n *Notifier) Alert(ctx context.Context, kind, title, message string) {
	alert := domain.Alert{
		ID:      uuid.NewString(),
		Kind:    kind,
		Title:   title,
		Message: message,
		At:      n.now(),
	}
	n.record(alert)

	if !n.cooldown.allow(kind, alert.At) {
		n.logger.Debug("alert cooled down", slog.String("kind", kind))
		return
	}
	if len(n.senders) == 0 {
		return
	}

	// Detach from the caller's context so cancellation of a tick handler
	// does not drop an in-flight page.
	go n.dispatch(context.WithoutCancel(ctx), title, message)
}

// Recent returns up to limit alerts, newest first. limit <= 0 returns all.
func (n *Notifier) Recent(limit int) []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	if limit <= 0 || limit > len(n.recent) {
		limit = len(n.recent)
	}
	out := make([]domain.Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = n.recent[len(n.recent)-1-i]
	}
	return out
}

func (n *Notifier) record(alert domain.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, alert)
	if len(n.recent) > ringCapacity {
		n.recent = n.recent[len(n.recent)-ringCapacity:]
	}
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		n.logger.Warn("alert delivery incomplete", slog.String("failures", strings.Join(errs, "; ")))
	}
}

var _ interface {
	Alert(ctx context.Context, kind, title, message string)
} = (*Notifier)(nil)
