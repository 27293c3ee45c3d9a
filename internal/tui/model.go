package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"relay/internal/domain"
)

const (
	refreshEvery  = 5 * time.Second
	actionTimeout = 30 * time.Second
	searchK       = 5
	listWidth     = 34
)

// Conversations is the read side of the conversation store.
type Conversations interface {
	List() []domain.Conversation
	Get(id string) (domain.Conversation, bool)
}

// Settings reads and switches the response mode.
type Settings interface {
	Get() domain.AppSettings
	SetMode(ctx context.Context, mode domain.ResponseMode) (domain.AppSettings, error)
}

// Searcher looks up an owner's indexed documents.
type Searcher interface {
	Search(ctx context.Context, query, ownerID string, k int) ([]domain.SearchResult, error)
}

// Sender delivers an operator reply.
type Sender interface {
	SendManual(ctx context.Context, id, text string) (domain.Conversation, error)
}

// Deps are the console's ports. Searcher and Sender may be nil, which
// disables document search and operator replies.
type Deps struct {
	Conversations Conversations
	Settings      Settings
	Searcher      Searcher
	Sender        Sender
}

type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputReply
)

type refreshMsg time.Time

// Model is the Bubble Tea model for the operator console.
type Model struct {
	deps      Deps
	list      []domain.Conversation
	cursor    int
	selected  domain.Conversation
	settings  domain.AppSettings
	input     textinput.Model
	mode      inputMode
	viewport  viewport.Model
	results   []domain.SearchResult
	resultAt  int
	lastQuery string
	status    string
	width     int
	height    int
	ready     bool
}

// New creates the console model and loads the current conversations.
func New(deps Deps) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 0
	m := Model{
		deps:     deps,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Loaded. j/k select, / search, s reply, m mode, r refresh, q quit.",
	}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd { return tea.Batch(textinput.Blink, tick()) }

// Update handles key, resize and refresh events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case refreshMsg:
		m.refresh()
		return m, tick()
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.results = nil
			m.selectCurrent()
		}
	case "down", "j":
		if m.cursor < len(m.list)-1 {
			m.cursor++
			m.results = nil
			m.selectCurrent()
		}
	case "r":
		m.refresh()
		m.status = "Refreshed."
	case "m":
		m.toggleMode()
	case "/":
		switch {
		case m.deps.Searcher == nil:
			m.status = "Document search is disabled."
		case m.selected.ID == "":
			m.status = "Select a conversation first."
		default:
			cmd := m.beginInput(inputSearch, "Search documents of "+m.selected.DisplayName)
			return m, cmd
		}
	case "s":
		switch {
		case m.deps.Sender == nil:
			m.status = "Replies are disabled."
		case m.selected.ID == "":
			m.status = "Select a conversation first."
		default:
			cmd := m.beginInput(inputReply, "Reply to "+m.selected.DisplayName)
			return m, cmd
		}
	case "n":
		if len(m.results) > 0 {
			m.resultAt = (m.resultAt + 1) % len(m.results)
			m.renderPane()
		}
	case "p":
		if len(m.results) > 0 {
			m.resultAt = (m.resultAt - 1 + len(m.results)) % len(m.results)
			m.renderPane()
		}
	case "esc":
		if len(m.results) > 0 {
			m.results = nil
			m.renderPane()
		}
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.endInput()
		m.status = "Cancelled."
		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.endInput()
		if text == "" {
			return m, nil
		}
		if mode == inputSearch {
			m.search(text)
		} else {
			m.reply(text)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) beginInput(mode inputMode, placeholder string) tea.Cmd {
	m.mode = mode
	m.input.SetValue("")
	m.input.Placeholder = placeholder
	m.resize()
	return m.input.Focus()
}

func (m *Model) endInput() {
	m.mode = inputNone
	m.input.Blur()
	m.input.SetValue("")
	m.resize()
}

// refresh reloads the list and keeps the selection on the same conversation.
func (m *Model) refresh() {
	prev := m.selected.ID
	m.list = m.deps.Conversations.List()
	m.settings = m.deps.Settings.Get()
	m.cursor = 0
	for i, c := range m.list {
		if c.ID == prev {
			m.cursor = i
			break
		}
	}
	m.selectCurrent()
}

func (m *Model) selectCurrent() {
	m.selected = domain.Conversation{}
	if m.cursor < len(m.list) {
		if c, ok := m.deps.Conversations.Get(m.list[m.cursor].ID); ok {
			m.selected = c
		}
	}
	m.renderPane()
}

func (m *Model) toggleMode() {
	next := domain.ResponseModeManual
	if m.settings.ResponseMode == domain.ResponseModeManual {
		next = domain.ResponseModeAuto
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	s, err := m.deps.Settings.SetMode(ctx, next)
	if err != nil {
		m.status = "Error: " + err.Error()
		return
	}
	m.settings = s
	m.status = "Response mode: " + string(s.ResponseMode)
}

func (m *Model) search(query string) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	res, err := m.deps.Searcher.Search(ctx, query, domain.NormalizeOwner(m.selected.ID), searchK)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.results = nil
	} else {
		m.status = fmt.Sprintf("%d results for %q (n/p to browse, esc to close)", len(res), query)
		m.results = res
		m.resultAt = 0
		m.lastQuery = query
	}
	m.renderPane()
}

func (m *Model) reply(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	_, err := m.deps.Sender.SendManual(ctx, m.selected.ID, text)
	if err != nil {
		m.status = "Error: " + err.Error()
	} else {
		m.status = "Reply sent to " + m.selected.DisplayName
	}
	m.refresh()
}

func (m *Model) resize() {
	if !m.ready {
		return
	}
	lw, lh := listBoxStyle.GetFrameSize()
	pw, ph := paneBoxStyle.GetFrameSize()
	reserved := 3 // header, status, help
	if m.mode != inputNone {
		_, ih := inputBoxStyle.GetFrameSize()
		reserved += 1 + ih
	}
	m.viewport.Width = max(20, m.width-listWidth-lw-pw)
	m.viewport.Height = max(3, m.height-reserved-max(lh, ph))
	m.input.Width = max(10, m.width-6)
	m.renderPane()
}

// View renders the console.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("Relay console") + "  " + modeBadge(m.settings.ResponseMode)
	list := listBoxStyle.Copy().Width(listWidth).Height(m.viewport.Height).Render(m.renderList())
	pane := paneBoxStyle.Render(m.viewport.View())
	out := header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, list, pane)
	if m.mode != inputNone {
		out += "\n" + inputBoxStyle.Render(m.input.View())
	}
	status := statusStyle.Render(m.status)
	help := helpStyle.Render("j/k select  / search  s reply  m mode  r refresh  q quit")
	return out + "\n" + status + "\n" + help
}

func (m Model) renderList() string {
	if len(m.list) == 0 {
		return "No conversations yet."
	}
	lines := make([]string, len(m.list))
	for i, c := range m.list {
		name := c.DisplayName
		if name == "" {
			name = c.ID
		}
		line := stateBadge(c.State()) + " " + clip(name, listWidth-9)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderPane() {
	if len(m.results) > 0 {
		m.viewport.SetContent(m.renderCurrentResult())
		m.viewport.GotoTop()
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	c := m.selected
	if c.ID == "" {
		return "No conversation selected."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) %s\n\n", c.DisplayName, c.ID, c.State())
	wrap := lipgloss.NewStyle().Width(max(10, m.viewport.Width))
	for _, msg := range c.Messages {
		arrow := "<-"
		if msg.Direction == domain.DirectionSent {
			arrow = "->"
		}
		line := fmt.Sprintf("[%s] %s %s", msg.Timestamp.Local().Format("15:04"), arrow, msg.Text)
		if msg.Automatic {
			line += autoStyle.Render(" (auto)")
		}
		if msg.Status == domain.StatusFailed {
			line += failedStyle.Render(" [failed]")
		}
		b.WriteString(wrap.Render(line))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results."
	}
	r := m.results[m.resultAt]
	title := fmt.Sprintf("Result %d/%d  %s p.%d  score=%.3f", m.resultAt+1, len(m.results), r.Chunk.Source, r.Chunk.Page, r.Score)
	body := highlightBestSentence(r.Chunk.Text, m.lastQuery)
	return title + "\n\n" + body
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	listBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	paneBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle   = lipgloss.NewStyle().Reverse(true)
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	autoStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	activeBadge     = lipgloss.NewStyle().Width(6).Foreground(lipgloss.Color("10"))
	idleBadge       = lipgloss.NewStyle().Width(6).Foreground(lipgloss.Color("11"))
	closedBadge     = lipgloss.NewStyle().Width(6).Foreground(lipgloss.Color("8"))
	autoModeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	manualModeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	unicodeWordRe   = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe      = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func stateBadge(s domain.ConversationState) string {
	switch s {
	case domain.StateIdleWarned:
		return idleBadge.Render("idle")
	case domain.StateClosed:
		return closedBadge.Render("closed")
	default:
		return activeBadge.Render("active")
	}
}

func modeBadge(mode domain.ResponseMode) string {
	if mode == domain.ResponseModeManual {
		return manualModeStyle.Render("[MANUAL]")
	}
	return autoModeStyle.Render("[AUTO]")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// highlightBestSentence marks the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
