package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"relay/internal/domain"
)

// Store persists conversations and settings in one JSON document, rewritten
// atomically (tmp file + rename) on every save.
type Store struct {
	mu            sync.Mutex
	path          string
	conversations map[string]domain.Conversation
	settings      *domain.AppSettings
}

type document struct {
	Conversations []domain.Conversation `json:"conversations"`
	Settings      *domain.AppSettings   `json:"settings,omitempty"`
}

// New creates or loads a Store located at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("jsonfile: path must not be empty")
	}
	s := &Store{path: path, conversations: make(map[string]domain.Conversation)}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("jsonfile: load %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) LoadConversations(context.Context) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *Store) SaveConversation(_ context.Context, c domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c.Clone()
	return s.saveLocked()
}

func (s *Store) LoadSettings(context.Context) (domain.AppSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return domain.AppSettings{}, false, nil
	}
	return *s.settings, true, nil
}

func (s *Store) SaveSettings(_ context.Context, a domain.AppSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &a
	return s.saveLocked()
}

func (s *Store) load() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	var doc document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return err
	}
	for _, c := range doc.Conversations {
		s.conversations[c.ID] = c
	}
	s.settings = doc.Settings
	return nil
}

func (s *Store) saveLocked() error {
	doc := document{
		Conversations: make([]domain.Conversation, 0, len(s.conversations)),
		Settings:      s.settings,
	}
	for _, c := range s.conversations {
		doc.Conversations = append(doc.Conversations, c)
	}
	sort.Slice(doc.Conversations, func(i, j int) bool { return doc.Conversations[i].ID < doc.Conversations[j].ID })

	tmpPath := s.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("jsonfile: save: %w", err)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		file.Close()
		return fmt.Errorf("jsonfile: encode: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("jsonfile: save: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("jsonfile: save: %w", err)
	}
	return nil
}
