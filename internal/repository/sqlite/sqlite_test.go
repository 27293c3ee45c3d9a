package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/internal/domain"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestConversations_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)
	closed := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	c := domain.Conversation{
		ID:           "whatsapp:+1555",
		DisplayName:  "Bo",
		CreatedAt:    closed.Add(-time.Hour),
		LastActivity: closed.Add(-40 * time.Minute),
		Messages:     []domain.Message{{ID: "1", Direction: domain.DirectionReceived, Text: "hey", Timestamp: closed.Add(-time.Hour)}},
		Closed:       true,
		ClosedAt:     &closed,
	}
	require.NoError(t, s.SaveConversation(ctx, c))
	c.DisplayName = "Bo B."
	require.NoError(t, s.SaveConversation(ctx, c))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.LoadConversations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Bo B.", got[0].DisplayName)
	require.Equal(t, domain.StateClosed, got[0].State())
	require.True(t, closed.Equal(*got[0].ClosedAt))
	require.Len(t, got[0].Messages, 1)
}

func TestSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	_, ok, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveSettings(ctx, domain.AppSettings{ResponseMode: domain.ResponseModeManual, DefaultResponse: "x"}))
	require.NoError(t, s.SaveSettings(ctx, domain.AppSettings{ResponseMode: domain.ResponseModeAuto, DefaultResponse: "y"}))

	a, ok, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.AppSettings{ResponseMode: domain.ResponseModeAuto, DefaultResponse: "y"}, a)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
