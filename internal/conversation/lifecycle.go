package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relay/internal/domain"
	"relay/internal/metrics"
)

const (
	DefaultInactivityLimit = 15 * time.Minute

	WarningNotice = "Are you still there? This conversation will be closed soon if we don't hear from you."
	ClosingNotice = "This conversation has been closed due to inactivity. Send us a new message any time to start again."
)

// Sender delivers a message through the messaging provider.
type Sender interface {
	Send(ctx context.Context, to, body, from string) bool
}

// Lifecycle drives the Active -> IdleWarned -> Closed state machine. All
// deadlines are derived from persisted timestamps, so a restart loses nothing.
type Lifecycle struct {
	store   *Store
	sender  Sender
	limit   time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type LifecycleOption func(*Lifecycle)

func WithLimit(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.limit = d
		}
	}
}

func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

func WithLifecycleMetrics(m *metrics.Metrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

func WithLifecycleLogger(lg *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.logger = lg }
}

func NewLifecycle(store *Store, sender Sender, opts ...LifecycleOption) (*Lifecycle, error) {
	if store == nil {
		return nil, errors.New("conversation: store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("conversation: sender must not be nil")
	}
	l := &Lifecycle{
		store:  store,
		sender: sender,
		limit:  DefaultInactivityLimit,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Limit is the idle time before a warning, and again before closing.
func (l *Lifecycle) Limit() time.Duration { return l.limit }

// CloseDeadline is when a warned conversation closes.
func (l *Lifecycle) CloseDeadline(c domain.Conversation) time.Time {
	if c.InactivityWarningAt.IsZero() {
		return c.LastActivity.Add(2 * l.limit)
	}
	return c.InactivityWarningAt.Add(l.limit)
}

// Sweep runs one pass over all conversations. Each transition is claimed in
// the store before its notice goes out, so overlapping sweeps never send a
// notice twice.
func (l *Lifecycle) Sweep(ctx context.Context) {
	now := l.now()
	for _, c := range l.store.List() {
		if ctx.Err() != nil {
			return
		}
		switch c.State() {
		case domain.StateActive:
			if now.Sub(c.LastActivity) < l.limit {
				continue
			}
			claimed, ok := l.store.MarkWarned(ctx, c.ID, c.LastActivity)
			if !ok {
				continue
			}
			l.notify(ctx, claimed, WarningNotice)
			l.metrics.RecordTransition(string(domain.StateIdleWarned))
		case domain.StateIdleWarned:
			if now.Before(l.CloseDeadline(c)) {
				continue
			}
			claimed, ok := l.store.MarkClosed(ctx, c.ID, c.LastActivity)
			if !ok {
				continue
			}
			l.notify(ctx, claimed, ClosingNotice)
			l.metrics.RecordTransition(string(domain.StateClosed))
		}
	}
}

func (l *Lifecycle) notify(ctx context.Context, c domain.Conversation, text string) {
	status := domain.StatusSent
	if !l.sender.Send(ctx, c.ID, text, c.ProviderNumber) {
		status = domain.StatusFailed
		l.logger.Warn("lifecycle notice not delivered", "conversation", c.ID, "state", c.State())
	}
	if _, err := l.store.AppendOutbound(ctx, c.ID, text, true, status); err != nil {
		l.logger.Error("lifecycle notice not recorded", "conversation", c.ID, "err", err)
	}
	l.logger.Info("conversation transitioned", "conversation", c.ID, "state", c.State())
}
