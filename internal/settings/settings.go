package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"relay/internal/domain"
)

// ErrInvalidMode is returned for response modes other than auto and manual.
var ErrInvalidMode = errors.New("settings: invalid response mode")

// Repository persists the application settings. Load returns ok=false when
// nothing was saved yet.
type Repository interface {
	LoadSettings(ctx context.Context) (domain.AppSettings, bool, error)
	SaveSettings(ctx context.Context, s domain.AppSettings) error
}

// Service guards the process-wide AppSettings.
type Service struct {
	mu      sync.Mutex
	current domain.AppSettings
	repo    Repository
	logger  *slog.Logger
}

// NewService loads persisted settings, falling back to the defaults.
func NewService(ctx context.Context, repo Repository, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("settings: repository must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	current, ok, err := repo.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	if !ok {
		current = domain.DefaultSettings()
	}
	if _, err := ParseMode(string(current.ResponseMode)); err != nil {
		logger.Warn("persisted response mode ignored", "mode", current.ResponseMode)
		current.ResponseMode = domain.ResponseModeAuto
	}
	return &Service{current: current, repo: repo, logger: logger}, nil
}

// ParseMode validates a response mode name (case-insensitive).
func ParseMode(raw string) (domain.ResponseMode, error) {
	switch m := domain.ResponseMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case domain.ResponseModeAuto, domain.ResponseModeManual:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

func (s *Service) Get() domain.AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) SetMode(ctx context.Context, mode domain.ResponseMode) (domain.AppSettings, error) {
	m, err := ParseMode(string(mode))
	if err != nil {
		return domain.AppSettings{}, err
	}
	return s.update(ctx, func(a *domain.AppSettings) { a.ResponseMode = m })
}

// SetDefaultResponse replaces the manual-mode reply. An empty text disables
// automatic acknowledgement in manual mode.
func (s *Service) SetDefaultResponse(ctx context.Context, text string) (domain.AppSettings, error) {
	return s.update(ctx, func(a *domain.AppSettings) { a.DefaultResponse = strings.TrimSpace(text) })
}

// update applies a change in memory and persists it. A failed save is logged
// and the change stays in effect until the next successful write.
func (s *Service) update(ctx context.Context, apply func(*domain.AppSettings)) (domain.AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.current)
	if err := s.repo.SaveSettings(ctx, s.current); err != nil {
		s.logger.Error("settings not persisted", "mode", s.current.ResponseMode, "err", err)
	} else {
		s.logger.Info("settings updated", "mode", s.current.ResponseMode)
	}
	return s.current, nil
}
