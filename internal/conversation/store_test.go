package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/internal/domain"
)

type memRepo struct {
	mu      sync.Mutex
	saved   map[string]domain.Conversation
	saves   int
	loadErr error
	saveErr error
}

func newMemRepo() *memRepo { return &memRepo{saved: map[string]domain.Conversation{}} }

func (r *memRepo) LoadConversations(context.Context) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := make([]domain.Conversation, 0, len(r.saved))
	for _, c := range r.saved {
		out = append(out, c)
	}
	return out, nil
}

func (r *memRepo) SaveConversation(_ context.Context, c domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved[c.ID] = c
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, repo *memRepo, clk *clock) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), repo, WithClock(clk.Now))
	require.NoError(t, err)
	return s
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(context.Background(), nil)
	require.Error(t, err)

	repo := newMemRepo()
	repo.loadErr = errors.New("disk gone")
	_, err = NewStore(context.Background(), repo)
	require.ErrorContains(t, err, "disk gone")
}

func TestAppendInbound_CreatesAndPersists(t *testing.T) {
	repo, clk := newMemRepo(), newClock()
	s := newTestStore(t, repo, clk)

	c := s.AppendInbound(context.Background(), "whatsapp:+15550001", "hello")
	require.Equal(t, "+15550001", c.DisplayName)
	require.Len(t, c.Messages, 1)
	require.Equal(t, domain.DirectionReceived, c.Messages[0].Direction)
	require.Equal(t, clk.Now(), c.LastActivity)
	require.Equal(t, clk.Now(), c.CreatedAt)
	require.Len(t, repo.saved["whatsapp:+15550001"].Messages, 1)
}

func TestAppendInbound_ReloadedStore(t *testing.T) {
	repo, clk := newMemRepo(), newClock()
	s := newTestStore(t, repo, clk)
	s.AppendInbound(context.Background(), "a", "one")
	_, err := s.AppendOutbound(context.Background(), "a", "two", false, domain.StatusSent)
	require.NoError(t, err)

	reloaded := newTestStore(t, repo, clk)
	c, ok := reloaded.Get("a")
	require.True(t, ok)
	require.Len(t, c.Messages, 2)
	require.Equal(t, "two", c.Messages[1].Text)
}

func TestAppendInbound_LastActivityNeverMovesBack(t *testing.T) {
	repo, clk := newMemRepo(), newClock()
	s := newTestStore(t, repo, clk)
	first := s.AppendInbound(context.Background(), "a", "one")

	clk.Advance(-time.Minute)
	second := s.AppendInbound(context.Background(), "a", "two")
	require.Equal(t, first.LastActivity, second.LastActivity)
}

func TestAppendOutbound_DoesNotTouchActivity(t *testing.T) {
	repo, clk := newMemRepo(), newClock()
	s := newTestStore(t, repo, clk)
	in := s.AppendInbound(context.Background(), "a", "hi")

	clk.Advance(5 * time.Minute)
	out, err := s.AppendOutbound(context.Background(), "a", "reply", false, domain.StatusFailed)
	require.NoError(t, err)
	require.Equal(t, in.LastActivity, out.LastActivity)
	require.Equal(t, domain.StatusFailed, out.Messages[1].Status)

	_, err = s.AppendOutbound(context.Background(), "missing", "x", false, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PersistFailureKeepsMutation(t *testing.T) {
	repo, clk := newMemRepo(), newClock()
	repo.saveErr = errors.New("read-only")
	s := newTestStore(t, repo, clk)

	s.AppendInbound(context.Background(), "a", "hi")
	c, ok := s.Get("a")
	require.True(t, ok)
	require.Len(t, c.Messages, 1)
	require.Equal(t, 1, repo.saves)
}

func TestList_SortedWithoutMessages(t *testing.T) {
	repo, clk := newMemRepo(), newClock()
	s := newTestStore(t, repo, clk)
	s.AppendInbound(context.Background(), "old", "x")
	clk.Advance(time.Minute)
	s.AppendInbound(context.Background(), "new", "y")

	list := s.List()
	require.Len(t, list, 2)
	require.Equal(t, "new", list[0].ID)
	require.Equal(t, "old", list[1].ID)
	require.Nil(t, list[0].Messages)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newTestStore(t, newMemRepo(), newClock())
	s.AppendInbound(context.Background(), "a", "hi")

	c, _ := s.Get("a")
	c.Messages[0].Text = "tampered"
	again, _ := s.Get("a")
	require.Equal(t, "hi", again.Messages[0].Text)
}

func TestSetDisplayName(t *testing.T) {
	repo := newMemRepo()
	s := newTestStore(t, repo, newClock())
	s.AppendInbound(context.Background(), "a", "hi")

	require.NoError(t, s.SetDisplayName(context.Background(), "a", " Ana ", "whatsapp:+1000"))
	c, _ := s.Get("a")
	require.Equal(t, "Ana", c.DisplayName)
	require.Equal(t, "whatsapp:+1000", c.ProviderNumber)

	require.NoError(t, s.SetDisplayName(context.Background(), "a", "", ""))
	c, _ = s.Get("a")
	require.Equal(t, "Ana", c.DisplayName)

	require.ErrorIs(t, s.SetDisplayName(context.Background(), "nobody", "x", ""), ErrNotFound)
}

func TestMarkWarned_RejectsStaleClaim(t *testing.T) {
	s := newTestStore(t, newMemRepo(), newClock())
	c := s.AppendInbound(context.Background(), "a", "hi")

	_, ok := s.MarkWarned(context.Background(), "a", c.LastActivity.Add(-time.Second))
	require.False(t, ok)

	warned, ok := s.MarkWarned(context.Background(), "a", c.LastActivity)
	require.True(t, ok)
	require.Equal(t, domain.StateIdleWarned, warned.State())

	_, ok = s.MarkWarned(context.Background(), "a", c.LastActivity)
	require.False(t, ok, "already warned")
}
