package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relay/internal/llm"
	"relay/internal/messaging"
	"relay/internal/retrieval"
)

const (
	DefaultMaxChars = 1500
	DefaultTimeout  = 30 * time.Second

	Ellipsis        = messaging.Ellipsis
	TimeoutApology  = "Sorry, that took too long to answer. Please try again in a moment."
	ErrorApology    = "Sorry, something went wrong while preparing your answer. Please try again later."
	EmptyFallback   = "Sorry, I don't have an answer for that right now."
	contextHeader   = "Use the following reference material if it is relevant:"
	lengthDirective = "Answer in plain text using at most %d characters."
)

// Outcome classifies how a reply was produced.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTruncated Outcome = "truncated"
	OutcomeEmpty     Outcome = "empty"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
)

// ContextRetriever supplies reference material for a question.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, query, ownerID string, k int) string
}

type Reply struct {
	Text    string
	Outcome Outcome
}

// Composer assembles the final reply text for a user message.
type Composer struct {
	completer llm.Completer
	retriever ContextRetriever
	maxChars  int
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Composer)

// WithRetriever enables context retrieval; without it replies use the
// message alone.
func WithRetriever(r ContextRetriever) Option { return func(c *Composer) { c.retriever = r } }

func WithMaxChars(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Composer) { c.logger = l } }

func NewComposer(completer llm.Completer, opts ...Option) (*Composer, error) {
	if completer == nil {
		return nil, errors.New("reply: completer must not be nil")
	}
	c := &Composer{
		completer: completer,
		maxChars:  DefaultMaxChars,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ComposeReply returns the text to send back for userMessage. It never fails:
// provider errors become a fixed apology.
func (c *Composer) ComposeReply(ctx context.Context, userMessage, ownerID string) string {
	return c.Compose(ctx, userMessage, ownerID).Text
}

// Compose is ComposeReply with the outcome attached. An empty ownerID skips
// retrieval.
func (c *Composer) Compose(ctx context.Context, userMessage, ownerID string) Reply {
	var refs string
	if c.retriever != nil && ownerID != "" {
		refs = c.retriever.RetrieveContext(ctx, userMessage, ownerID, retrieval.DefaultK)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.completer.Complete(cctx, llm.Request{Prompt: c.prompt(refs, userMessage), MaxOutputChars: c.maxChars})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("completion timed out", "owner", ownerID, "timeout", c.timeout)
			return Reply{Text: TimeoutApology, Outcome: OutcomeTimeout}
		}
		c.logger.Error("completion failed", "owner", ownerID, "err", err)
		return Reply{Text: ErrorApology, Outcome: OutcomeError}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return Reply{Text: EmptyFallback, Outcome: OutcomeEmpty}
	}
	if r := []rune(out); len(r) > c.maxChars {
		return Reply{Text: string(r[:c.maxChars]) + Ellipsis, Outcome: OutcomeTruncated}
	}
	return Reply{Text: out, Outcome: OutcomeOK}
}

func (c *Composer) prompt(refs, userMessage string) string {
	var b strings.Builder
	if refs != "" {
		b.WriteString(contextHeader)
		b.WriteString("\n\n")
		b.WriteString(refs)
		b.WriteString("\n\n")
	}
	b.WriteString(userMessage)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, lengthDirective, c.maxChars)
	return b.String()
}
