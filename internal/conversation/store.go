package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay/internal/domain"
)

// ErrNotFound is returned for operations on an unknown conversation.
var ErrNotFound = errors.New("conversation: not found")

// Repository persists conversations. Implementations live under
// internal/repository.
type Repository interface {
	LoadConversations(ctx context.Context) ([]domain.Conversation, error)
	SaveConversation(ctx context.Context, c domain.Conversation) error
}

// Store is the single owner of conversation state. Every mutation runs under
// one mutex and is persisted before the lock is released.
type Store struct {
	mu     sync.Mutex
	convs  map[string]*domain.Conversation
	repo   Repository
	now    func() time.Time
	logger *slog.Logger
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

func WithStoreLogger(l *slog.Logger) StoreOption { return func(s *Store) { s.logger = l } }

// NewStore loads every persisted conversation from repo.
func NewStore(ctx context.Context, repo Repository, opts ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("conversation: repository must not be nil")
	}
	s := &Store{
		convs:  make(map[string]*domain.Conversation),
		repo:   repo,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	loaded, err := repo.LoadConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: load: %w", err)
	}
	for i := range loaded {
		c := loaded[i].Clone()
		s.convs[c.ID] = &c
	}
	return s, nil
}

// persist must be called with mu held.
func (s *Store) persist(ctx context.Context, c *domain.Conversation) {
	if err := s.repo.SaveConversation(ctx, c.Clone()); err != nil {
		s.logger.Error("conversation not persisted", "conversation", c.ID, "err", err)
	}
}

// AppendInbound records a message from the remote party, creating the
// conversation on first contact. It reactivates warned or closed
// conversations.
func (s *Store) AppendInbound(ctx context.Context, id, text string) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c, ok := s.convs[id]
	if !ok {
		c = &domain.Conversation{ID: id, DisplayName: displayFromID(id), CreatedAt: now}
		s.convs[id] = c
	}
	c.Messages = append(c.Messages, domain.Message{
		ID:        uuid.NewString(),
		Direction: domain.DirectionReceived,
		Text:      text,
		Timestamp: now,
	})
	if now.After(c.LastActivity) {
		c.LastActivity = now
	}
	c.InactivityWarningSent = false
	c.InactivityWarningAt = time.Time{}
	c.Closed = false
	c.ClosedAt = nil
	s.persist(ctx, c)
	return c.Clone()
}

// AppendOutbound records a message sent to the remote party. It does not
// count as activity.
func (s *Store) AppendOutbound(ctx context.Context, id, text string, automatic bool, status string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Messages = append(c.Messages, domain.Message{
		ID:        uuid.NewString(),
		Direction: domain.DirectionSent,
		Text:      text,
		Timestamp: s.now().UTC(),
		Status:    status,
		Automatic: automatic,
	})
	s.persist(ctx, c)
	return c.Clone(), nil
}

// SetDisplayName updates the human-readable label; blank names are ignored.
// providerNumber, when set, is the address replies are sent from.
func (s *Store) SetDisplayName(ctx context.Context, id, name, providerNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	changed := false
	if name = strings.TrimSpace(name); name != "" && name != c.DisplayName {
		c.DisplayName = name
		changed = true
	}
	if providerNumber != "" && providerNumber != c.ProviderNumber {
		c.ProviderNumber = providerNumber
		changed = true
	}
	if changed {
		s.persist(ctx, c)
	}
	return nil
}

func (s *Store) Get(id string) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return c.Clone(), true
}

// List returns every conversation without its messages, most recently
// active first.
func (s *Store) List() []domain.Conversation {
	s.mu.Lock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		head := *c
		head.Messages = nil
		if c.ClosedAt != nil {
			t := *c.ClosedAt
			head.ClosedAt = &t
		}
		out = append(out, head)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// MarkWarned moves an active conversation to IdleWarned. It succeeds only if
// no activity happened since seenActivity, so a message arriving during a
// sweep cancels the warning.
func (s *Store) MarkWarned(ctx context.Context, id string, seenActivity time.Time) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok || c.State() != domain.StateActive || !c.LastActivity.Equal(seenActivity) {
		return domain.Conversation{}, false
	}
	c.InactivityWarningSent = true
	c.InactivityWarningAt = s.now().UTC()
	s.persist(ctx, c)
	return c.Clone(), true
}

// MarkClosed moves a warned conversation to Closed under the same activity
// check as MarkWarned.
func (s *Store) MarkClosed(ctx context.Context, id string, seenActivity time.Time) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok || c.State() != domain.StateIdleWarned || !c.LastActivity.Equal(seenActivity) {
		return domain.Conversation{}, false
	}
	now := s.now().UTC()
	c.Closed = true
	c.ClosedAt = &now
	s.persist(ctx, c)
	return c.Clone(), true
}

// displayFromID strips a channel prefix such as "whatsapp:".
func displayFromID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}
