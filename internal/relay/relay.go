package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"relay/internal/conversation"
	"relay/internal/domain"
	"relay/internal/messaging"
	"relay/internal/metrics"
	"relay/internal/reply"
)

const (
	DefaultInterimAfter = 8 * time.Second
	dedupeTTL           = 10 * time.Minute

	InterimNotice = "Thanks for your patience, I'm still working on your answer."
)

var (
	// ErrDuplicate marks a provider retry of a message already handled.
	ErrDuplicate = errors.New("relay: duplicate message")
	// ErrSendFailed is returned when an operator reply was recorded but not delivered.
	ErrSendFailed = errors.New("relay: send failed")
)

// Composer produces the automatic reply for a message.
type Composer interface {
	Compose(ctx context.Context, userMessage, ownerID string) reply.Reply
}

// SettingsReader exposes the current response mode.
type SettingsReader interface {
	Get() domain.AppSettings
}

// Relay connects inbound provider messages to the conversation store, the
// reply composer and the outbound transport.
type Relay struct {
	store        *conversation.Store
	settings     SettingsReader
	composer     Composer
	transport    messaging.Transport
	seen         *cache.Cache
	interimAfter time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Relay)

// WithInterimAfter sets how long a reply may take before a holding notice is
// sent. Zero disables the notice.
func WithInterimAfter(d time.Duration) Option { return func(r *Relay) { r.interimAfter = d } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Relay) { r.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(r *Relay) { r.logger = l } }

func New(store *conversation.Store, settings SettingsReader, composer Composer, transport messaging.Transport, opts ...Option) (*Relay, error) {
	if store == nil {
		return nil, errors.New("relay: store must not be nil")
	}
	if settings == nil {
		return nil, errors.New("relay: settings must not be nil")
	}
	if composer == nil {
		return nil, errors.New("relay: composer must not be nil")
	}
	if transport == nil {
		return nil, errors.New("relay: transport must not be nil")
	}
	r := &Relay{
		store:        store,
		settings:     settings,
		composer:     composer,
		transport:    transport,
		seen:         cache.New(dedupeTTL, 2*dedupeTTL),
		interimAfter: DefaultInterimAfter,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HandleInbound records an inbound message and answers it according to the
// current response mode. Provider and model failures never surface here;
// the returned error only reports messages that were not processed.
func (r *Relay) HandleInbound(ctx context.Context, in messaging.InboundMessage) error {
	if in.From == "" {
		return errors.New("relay: message without sender")
	}
	if in.MessageID != "" {
		if err := r.seen.Add(in.MessageID, struct{}{}, cache.DefaultExpiration); err != nil {
			r.logger.Info("duplicate webhook ignored", "message_id", in.MessageID)
			return ErrDuplicate
		}
	}
	r.metrics.RecordInbound()

	r.store.AppendInbound(ctx, in.From, in.Body)
	if err := r.store.SetDisplayName(ctx, in.From, in.ProfileName, in.ProviderNumber); err != nil {
		r.logger.Warn("display name not updated", "conversation", in.From, "err", err)
	}

	if strings.TrimSpace(in.Body) == "" {
		r.logger.Info("empty inbound body, no reply", "conversation", in.From)
		return nil
	}

	current := r.settings.Get()
	if current.ResponseMode == domain.ResponseModeManual {
		if current.DefaultResponse != "" {
			r.deliver(ctx, in.From, current.DefaultResponse, in.ProviderNumber, true)
		}
		return nil
	}

	text := r.compose(ctx, in)
	r.deliver(ctx, in.From, text, in.ProviderNumber, false)
	return nil
}

// compose waits for the reply, sending a holding notice once if it takes
// longer than interimAfter.
func (r *Relay) compose(ctx context.Context, in messaging.InboundMessage) string {
	start := time.Now()
	done := make(chan reply.Reply, 1)
	go func() {
		done <- r.composer.Compose(ctx, in.Body, domain.NormalizeOwner(in.From))
	}()

	var timeout <-chan time.Time
	if r.interimAfter > 0 {
		timer := time.NewTimer(r.interimAfter)
		defer timer.Stop()
		timeout = timer.C
	}

	var out reply.Reply
	select {
	case out = <-done:
	case <-timeout:
		r.deliver(ctx, in.From, InterimNotice, in.ProviderNumber, true)
		out = <-done
	}
	r.metrics.RecordReply(string(out.Outcome), time.Since(start).Seconds())
	return out.Text
}

func (r *Relay) deliver(ctx context.Context, to, text, from string, automatic bool) bool {
	ok := r.transport.Send(ctx, to, text, from)
	r.metrics.RecordSend(ok)
	status := domain.StatusSent
	if !ok {
		status = domain.StatusFailed
	}
	if _, err := r.store.AppendOutbound(ctx, to, messaging.Truncate(text), automatic, status); err != nil {
		r.logger.Error("outbound message not recorded", "conversation", to, "err", err)
	}
	return ok
}

// SendManual delivers an operator-written reply to an existing conversation.
// The message is recorded even when delivery fails.
func (r *Relay) SendManual(ctx context.Context, id, text string) (domain.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Conversation{}, errors.New("relay: message text is required")
	}
	c, ok := r.store.Get(id)
	if !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s", conversation.ErrNotFound, id)
	}
	delivered := r.deliver(ctx, id, text, c.ProviderNumber, false)
	c, _ = r.store.Get(id)
	if !delivered {
		return c, ErrSendFailed
	}
	return c, nil
}
