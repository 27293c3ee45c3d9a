package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"relay/internal/domain"
)

type fakeConversations []domain.Conversation

func (f fakeConversations) List() []domain.Conversation { return f }

func (f fakeConversations) Get(id string) (domain.Conversation, bool) {
	for _, c := range f {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Conversation{}, false
}

type fakeSettings struct {
	current domain.AppSettings
	err     error
}

func (f *fakeSettings) Get() domain.AppSettings { return f.current }

func (f *fakeSettings) SetMode(_ context.Context, mode domain.ResponseMode) (domain.AppSettings, error) {
	if f.err != nil {
		return f.current, f.err
	}
	f.current.ResponseMode = mode
	return f.current, nil
}

type fakeSearcher struct {
	query, owner string
	results      []domain.SearchResult
}

func (f *fakeSearcher) Search(_ context.Context, query, owner string, _ int) ([]domain.SearchResult, error) {
	f.query, f.owner = query, owner
	return f.results, nil
}

type fakeSender struct{ id, text string }

func (f *fakeSender) SendManual(_ context.Context, id, text string) (domain.Conversation, error) {
	f.id, f.text = id, text
	return domain.Conversation{ID: id}, nil
}

func fixture() (Model, *fakeSettings, *fakeSearcher, *fakeSender) {
	now := time.Now()
	convs := fakeConversations{
		{ID: "whatsapp:+15550001", DisplayName: "Ann", LastActivity: now,
			Messages: []domain.Message{{Direction: domain.DirectionReceived, Text: "where is my order", Timestamp: now}}},
		{ID: "+15550002", DisplayName: "Bob", LastActivity: now.Add(-time.Hour), InactivityWarningSent: true},
		{ID: "+15550003", DisplayName: "Cy", LastActivity: now.Add(-2 * time.Hour), InactivityWarningSent: true, Closed: true},
	}
	settings := &fakeSettings{current: domain.DefaultSettings()}
	searcher := &fakeSearcher{results: []domain.SearchResult{
		{Chunk: domain.DocumentChunk{Source: "faq.pdf", Page: 2, Text: "Orders ship in two days. Refunds take a week."}, Score: 0.9},
		{Chunk: domain.DocumentChunk{Source: "terms.pdf", Page: 5, Text: "Sale items are final."}, Score: 0.4},
	}}
	sender := &fakeSender{}
	m := New(Deps{Conversations: convs, Settings: settings, Searcher: searcher, Sender: sender})
	return m, settings, searcher, sender
}

func send(m tea.Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		m, _ = m.Update(msg)
	}
	return m.(Model)
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestViewListsConversationsWithState(t *testing.T) {
	m, _, _, _ := fixture()
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	for _, want := range []string{"Ann", "Bob", "Cy", "active", "idle", "closed", "[AUTO]", "where is my order"} {
		require.Contains(t, view, want)
	}
}

func TestViewBeforeResize(t *testing.T) {
	m, _, _, _ := fixture()
	require.Equal(t, "Loading...", m.View())
}

func TestToggleMode(t *testing.T) {
	m, settings, _, _ := fixture()
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("m"))
	require.Equal(t, domain.ResponseModeManual, settings.current.ResponseMode)
	require.Contains(t, m.View(), "[MANUAL]")

	m = send(m, runes("m"))
	require.Equal(t, domain.ResponseModeAuto, settings.current.ResponseMode)

	settings.err = errors.New("disk full")
	m = send(m, runes("m"))
	require.Equal(t, domain.ResponseModeAuto, settings.current.ResponseMode)
	require.Contains(t, m.status, "disk full")
}

func TestNavigation(t *testing.T) {
	m, _, _, _ := fixture()
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("j"))
	require.Equal(t, "+15550002", m.selected.ID)
	m = send(m, runes("j"), runes("j"))
	require.Equal(t, "+15550003", m.selected.ID)
	m = send(m, runes("k"))
	require.Equal(t, "+15550002", m.selected.ID)

	m = send(m, runes("r"))
	require.Equal(t, "+15550002", m.selected.ID)
}

func TestSearchSelectedOwner(t *testing.T) {
	m, settings, searcher, _ := fixture()
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("/"))
	require.Equal(t, inputSearch, m.mode)

	// keys typed into the search box are not commands
	m = send(m, runes("m"), tea.KeyMsg{Type: tea.KeyBackspace}, runes("refunds"), tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, domain.ResponseModeAuto, settings.current.ResponseMode)
	require.Equal(t, "refunds", searcher.query)
	require.Equal(t, "_15550001", searcher.owner)
	require.Equal(t, inputNone, m.mode)
	require.Contains(t, m.viewport.View(), "Result 1/2")
	require.Contains(t, m.viewport.View(), "faq.pdf")

	m = send(m, runes("n"))
	require.Contains(t, m.viewport.View(), "Result 2/2")
	m = send(m, runes("n"))
	require.Contains(t, m.viewport.View(), "Result 1/2")

	m = send(m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Empty(t, m.results)
	require.Contains(t, m.viewport.View(), "where is my order")
}

func TestReply(t *testing.T) {
	m, _, _, sender := fixture()
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("s"), runes("on it"), tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, "whatsapp:+15550001", sender.id)
	require.Equal(t, "on it", sender.text)
	require.Contains(t, m.status, "Reply sent to Ann")
}

func TestEscapeCancelsInput(t *testing.T) {
	m, _, _, sender := fixture()
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("s"), runes("draft"), tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, inputNone, m.mode)
	require.Empty(t, sender.text)
}

func TestDisabledFeatures(t *testing.T) {
	m := New(Deps{Conversations: fakeConversations{{ID: "+1"}}, Settings: &fakeSettings{}})
	m = send(m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("/"))
	require.Equal(t, inputNone, m.mode)
	require.Contains(t, m.status, "disabled")
	m = send(m, runes("s"))
	require.Equal(t, inputNone, m.mode)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Orders ship fast. Refunds take a week.", "refunds")
	require.True(t, strings.Contains(out, "Orders ship fast."))
	require.True(t, strings.Contains(out, "Refunds take a week."))
	require.Equal(t, "plain text", highlightBestSentence("plain text", ""))
}

func TestClip(t *testing.T) {
	require.Equal(t, "short", clip("short", 10))
	require.Equal(t, "abcd…", clip("abcdefgh", 5))
}
