package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/internal/domain"
)

func sample(id string) domain.Conversation {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return domain.Conversation{
		ID:           id,
		DisplayName:  "Ana",
		CreatedAt:    ts,
		LastActivity: ts,
		Messages: []domain.Message{
			{ID: "m1", Direction: domain.DirectionReceived, Text: "hola", Timestamp: ts},
			{ID: "m2", Direction: domain.DirectionSent, Text: "hi", Timestamp: ts, Status: domain.StatusSent, Automatic: true},
		},
		InactivityWarningSent: true,
		InactivityWarningAt:   ts.Add(time.Minute),
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.json")
	s, err := New(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SaveConversation(ctx, sample("whatsapp:+1")))
	require.NoError(t, s.SaveSettings(ctx, domain.AppSettings{ResponseMode: domain.ResponseModeManual, DefaultResponse: "later"}))

	reopened, err := New(path)
	require.NoError(t, err)
	convs, err := reopened.LoadConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, sample("whatsapp:+1"), convs[0])

	settings, ok, err := reopened.LoadSettings(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.ResponseModeManual, settings.ResponseMode)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestStore_EmptyFile(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "relay.json"))
	require.NoError(t, err)

	convs, err := s.LoadConversations(context.Background())
	require.NoError(t, err)
	require.Empty(t, convs)
	_, ok, err := s.LoadSettings(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_SaveReplaces(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "relay.json"))
	require.NoError(t, err)
	ctx := context.Background()

	c := sample("a")
	require.NoError(t, s.SaveConversation(ctx, c))
	c.DisplayName = "Renamed"
	require.NoError(t, s.SaveConversation(ctx, c))

	convs, err := s.LoadConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "Renamed", convs[0].DisplayName)
}

func TestNew_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := New(path)
	require.Error(t, err)
}
