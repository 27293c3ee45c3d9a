package messaging

import (
	"context"
	"log/slog"
)

// MaxBodyChars is the longest body sent before truncation kicks in. A cut
// body carries Ellipsis on top, which stays within the provider's 1600 limit.
const MaxBodyChars = 1500

// Ellipsis marks a truncated body.
const Ellipsis = "..."

// InboundMessage is a message received from the provider webhook.
type InboundMessage struct {
	From           string
	Body           string
	ProviderNumber string
	MessageID      string
	ProfileName    string
}

// Transport delivers outbound messages. Send reports success only; failure
// reasons are logged by the implementation.
type Transport interface {
	Send(ctx context.Context, to, body, from string) bool
}

// Truncate cuts body to MaxBodyChars runes followed by Ellipsis. A body that
// is already MaxBodyChars runes plus Ellipsis is returned unchanged.
func Truncate(body string) string {
	r := []rune(body)
	if len(r) <= MaxBodyChars {
		return body
	}
	return string(r[:MaxBodyChars]) + Ellipsis
}

// LogTransport only logs outbound messages. It stands in for a provider when
// no credentials are configured.
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) Send(_ context.Context, to, body, from string) bool {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbound message (not delivered)", "to", to, "from", from, "chars", len([]rune(body)))
	return true
}
