package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/internal/llm"
)

type fakeCompleter struct {
	out    string
	err    error
	wait   bool
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.prompt = req.Prompt
	if f.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.out, f.err
}

type fakeRetriever struct {
	text  string
	calls int
}

func (f *fakeRetriever) RetrieveContext(context.Context, string, string, int) string {
	f.calls++
	return f.text
}

func TestNewComposer_NilCompleter(t *testing.T) {
	_, err := NewComposer(nil)
	require.Error(t, err)
}

func TestCompose(t *testing.T) {
	long := strings.Repeat("é", 2000)
	cases := []struct {
		name    string
		llm     *fakeCompleter
		want    string
		outcome Outcome
	}{
		{"plain answer", &fakeCompleter{out: "  Opening hours are 9-5.  "}, "Opening hours are 9-5.", OutcomeOK},
		{"empty answer", &fakeCompleter{out: " \n "}, EmptyFallback, OutcomeEmpty},
		{"provider error", &fakeCompleter{err: errors.New("boom")}, ErrorApology, OutcomeError},
		{"wrapped deadline", &fakeCompleter{err: &llmErr{context.DeadlineExceeded}}, TimeoutApology, OutcomeTimeout},
		{"too long", &fakeCompleter{out: long}, strings.Repeat("é", 1500) + Ellipsis, OutcomeTruncated},
		{"exactly at cap", &fakeCompleter{out: strings.Repeat("a", 1500)}, strings.Repeat("a", 1500), OutcomeOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewComposer(tc.llm)
			require.NoError(t, err)
			got := c.Compose(context.Background(), "when are you open?", "")
			require.Equal(t, tc.want, got.Text)
			require.Equal(t, tc.outcome, got.Outcome)
		})
	}
}

type llmErr struct{ err error }

func (e *llmErr) Error() string { return "llm: request failed: " + e.err.Error() }
func (e *llmErr) Unwrap() error { return e.err }

func TestCompose_Timeout(t *testing.T) {
	c, err := NewComposer(&fakeCompleter{wait: true}, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, TimeoutApology, c.ComposeReply(context.Background(), "hi", ""))
}

func TestCompose_ContextInPrompt(t *testing.T) {
	f := &fakeCompleter{out: "ok"}
	r := &fakeRetriever{text: "[Source: faq.pdf, page 1]\nWe open at 9."}
	c, err := NewComposer(f, WithRetriever(r), WithMaxChars(300))
	require.NoError(t, err)

	c.ComposeReply(context.Background(), "when do you open?", "_1555")
	require.Equal(t, 1, r.calls)
	require.Contains(t, f.prompt, "[Source: faq.pdf, page 1]")
	require.Contains(t, f.prompt, "when do you open?")
	require.Contains(t, f.prompt, "at most 300 characters")
	require.Less(t, strings.Index(f.prompt, "We open at 9."), strings.Index(f.prompt, "when do you open?"))
}

func TestCompose_NoOwnerSkipsRetrieval(t *testing.T) {
	f := &fakeCompleter{out: "ok"}
	r := &fakeRetriever{text: "ignored"}
	c, err := NewComposer(f, WithRetriever(r))
	require.NoError(t, err)

	c.ComposeReply(context.Background(), "hi", "")
	require.Zero(t, r.calls)
	require.NotContains(t, f.prompt, contextHeader)
}

func TestCompose_EmptyContextOmitted(t *testing.T) {
	f := &fakeCompleter{out: "ok"}
	c, err := NewComposer(f, WithRetriever(&fakeRetriever{}))
	require.NoError(t, err)

	c.ComposeReply(context.Background(), "hi", "_1555")
	require.True(t, strings.HasPrefix(f.prompt, "hi"))
}
