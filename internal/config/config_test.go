package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGetter map[string]string

func (f fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "file", cfg.Storage.Type)
	require.Equal(t, "data/relay.json", cfg.Storage.Path)
	require.Equal(t, "hashing", cfg.Embedder.Type)
	require.Equal(t, 15*time.Minute, cfg.InactivityLimit())
	require.Equal(t, 8*time.Second, cfg.InterimAfter())
	require.Equal(t, 1500, cfg.LLM.MaxReplyChars)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
env: production
storage:
  type: sqlite
vector_store:
  type: qdrant
  qdrant:
    url: http://localhost:6333
embedder:
  type: openai
  dimension: 1536
lifecycle:
  inactivity_minutes: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Env)
	require.Equal(t, "data/relay.db", cfg.Storage.Path)
	require.Equal(t, "relay_documents", cfg.VectorStore.Qdrant.Collection)
	require.Equal(t, 5, cfg.VectorStore.Qdrant.BatchSize)
	require.NotNil(t, cfg.Embedder.OpenAI)
	require.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	require.Equal(t, 1536, cfg.Embedder.Dimension)
	require.Equal(t, 5*time.Minute, cfg.InactivityLimit())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown storage":  "storage:\n  type: mongo\n",
		"dynamo no table":  "storage:\n  type: dynamodb\n",
		"qdrant no url":    "vector_store:\n  type: qdrant\n",
		"unknown embedder": "embedder:\n  type: bert\n",
		"bad yaml":         "storage: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Twilio.From = "+15550000000"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "+15550000000", got.Twilio.From)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RELAY_ENV", "production")
	t.Setenv("TWILIO_FROM", "+15551112222")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "production", cfg.Env)
	require.Equal(t, "+15551112222", cfg.Twilio.From)
}

func TestResolveSecretsPrefersEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("OPERATOR_PASSWORD", "")

	cfg := defaultConfig()
	cfg.Secrets.SSMPrefix = "/relay/prod"
	getter := fakeGetter{
		"/relay/prod/openai-api-key":    "ssm-key",
		"/relay/prod/twilio-auth-token": `{"token":"tw-secret"}`,
	}

	s := cfg.ResolveSecrets(context.Background(), getter)
	require.Equal(t, "env-key", s.LLMAPIKey)
	require.Equal(t, "tw-secret", s.TwilioAuthToken)
	require.Empty(t, s.OperatorPassword)
}

func TestResolveSecretsWithoutPrefixSkipsParameterStore(t *testing.T) {
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	cfg := defaultConfig()
	s := cfg.ResolveSecrets(context.Background(), fakeGetter{"/twilio-auth-token": "x"})
	require.Empty(t, s.TwilioAuthToken)
}
