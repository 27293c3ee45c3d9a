package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"relay/internal/paramstore"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicURL is the externally visible base URL, used to verify webhook
	// signatures. Empty disables verification.
	PublicURL          string `yaml:"public_url"`
	WebhookRatePerMin  int    `yaml:"webhook_rate_per_min"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_secs"`
}

// OperatorConfig holds the single shared operator credential.
type OperatorConfig struct {
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// TwilioConfig configures the messaging provider.
type TwilioConfig struct {
	AccountSID   string `yaml:"account_sid"`
	AuthTokenEnv string `yaml:"auth_token_env"`
	From         string `yaml:"from"`
	BaseURL      string `yaml:"base_url"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Model         string `yaml:"model"`
	SystemPrompt  string `yaml:"system_prompt"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	MaxReplyChars int    `yaml:"max_reply_chars"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL             string `yaml:"url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Collection      string `yaml:"collection"`
	TimeoutSecs     int    `yaml:"timeout_secs"`
	BatchSize       int    `yaml:"batch_size"`
	BatchIntervalMS int    `yaml:"batch_interval_ms"`
}

// StorageConfig selects where conversations and settings are persisted.
type StorageConfig struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// LifecycleConfig configures the idle state machine.
type LifecycleConfig struct {
	InactivityMinutes int `yaml:"inactivity_minutes"`
	SweepSeconds      int `yaml:"sweep_seconds"`
}

// RelayConfig configures inbound message handling.
type RelayConfig struct {
	InterimSeconds int `yaml:"interim_seconds"`
}

// SummarizerConfig configures upload summaries.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// SecretsConfig enables SSM Parameter Store lookups for secrets missing from
// the environment.
type SecretsConfig struct {
	SSMPrefix string `yaml:"ssm_prefix"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Env         string            `yaml:"env"`
	LogLevel    string            `yaml:"log_level"`
	Server      ServerConfig      `yaml:"server"`
	Operator    OperatorConfig    `yaml:"operator"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	LLM         LLMConfig         `yaml:"llm"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Storage     StorageConfig     `yaml:"storage"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Relay       RelayConfig       `yaml:"relay"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Secrets     SecretsConfig     `yaml:"secrets"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, cfg.Validate()
}

// LoadDefault tries ./config.yaml first, then ~/.config/relay/config.yaml.
// If neither exists, it writes defaults to ~/.config/relay/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings that cannot be wired.
func (c *AppConfig) Validate() error {
	switch c.Storage.Type {
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for %s storage", c.Storage.Type)
		}
	case "dynamodb":
		if c.Storage.Table == "" {
			return errors.New("config: storage.table is required for dynamodb storage")
		}
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Storage.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return errors.New("config: vector_store.qdrant.url is required")
		}
	default:
		return fmt.Errorf("config: unknown vector store %q", c.VectorStore.Type)
	}
	switch c.Embedder.Type {
	case "hashing", "openai":
	default:
		return fmt.Errorf("config: unknown embedder %q", c.Embedder.Type)
	}
	return nil
}

func (c *AppConfig) InactivityLimit() time.Duration {
	return time.Duration(c.Lifecycle.InactivityMinutes) * time.Minute
}

func (c *AppConfig) SweepInterval() time.Duration {
	return time.Duration(c.Lifecycle.SweepSeconds) * time.Second
}

func (c *AppConfig) InterimAfter() time.Duration {
	return time.Duration(c.Relay.InterimSeconds) * time.Second
}

func (c *AppConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSecs) * time.Second
}

// Secrets are credentials kept out of the YAML file.
type Secrets struct {
	LLMAPIKey        string
	EmbedderAPIKey   string
	TwilioAuthToken  string
	QdrantAPIKey     string
	OperatorPassword string
}

// ResolveSecrets reads each secret from its environment variable. When the
// variable is empty and secrets.ssm_prefix is set, the value is read from
// Parameter Store under prefix/<name> instead, where name is the variable
// name lower-cased with dashes. Missing secrets stay empty.
func (c *AppConfig) ResolveSecrets(ctx context.Context, g paramstore.Getter) Secrets {
	lookup := func(env string) string {
		if env == "" {
			return ""
		}
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
		if g == nil || c.Secrets.SSMPrefix == "" {
			return ""
		}
		name := strings.ReplaceAll(strings.ToLower(env), "_", "-")
		v, err := paramstore.Secret(ctx, g, c.Secrets.SSMPrefix, name)
		if err != nil {
			return ""
		}
		return v
	}
	s := Secrets{
		LLMAPIKey:        lookup(c.LLM.APIKeyEnv),
		TwilioAuthToken:  lookup(c.Twilio.AuthTokenEnv),
		OperatorPassword: lookup(c.Operator.PasswordEnv),
	}
	if c.Embedder.OpenAI != nil {
		s.EmbedderAPIKey = lookup(c.Embedder.OpenAI.APIKeyEnv)
	}
	if c.VectorStore.Qdrant != nil {
		s.QdrantAPIKey = lookup(c.VectorStore.Qdrant.APIKeyEnv)
	}
	return s
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "relay", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.WebhookRatePerMin == 0 {
		cfg.Server.WebhookRatePerMin = 120
	}
	if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = 10
	}
	if cfg.Operator.Username == "" {
		cfg.Operator.Username = "operator"
	}
	if cfg.Operator.PasswordEnv == "" {
		cfg.Operator.PasswordEnv = "OPERATOR_PASSWORD"
	}
	if cfg.Twilio.AuthTokenEnv == "" {
		cfg.Twilio.AuthTokenEnv = "TWILIO_AUTH_TOKEN"
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 768
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 15
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 2
		}
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 30
	}
	if cfg.LLM.MaxReplyChars == 0 {
		cfg.LLM.MaxReplyChars = 1500
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 500
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = 100
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.Collection == "" {
			q.Collection = "relay_documents"
		}
		if q.APIKeyEnv == "" {
			q.APIKeyEnv = "QDRANT_API_KEY"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 60
		}
		if q.BatchSize == 0 {
			q.BatchSize = 5
		}
		if q.BatchIntervalMS == 0 {
			q.BatchIntervalMS = 200
		}
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Type {
		case "file":
			cfg.Storage.Path = "data/relay.json"
		case "sqlite":
			cfg.Storage.Path = "data/relay.db"
		}
	}
	if cfg.Lifecycle.InactivityMinutes == 0 {
		cfg.Lifecycle.InactivityMinutes = 15
	}
	if cfg.Lifecycle.SweepSeconds == 0 {
		cfg.Lifecycle.SweepSeconds = 60
	}
	if cfg.Relay.InterimSeconds == 0 {
		cfg.Relay.InterimSeconds = 8
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
}

// applyEnv lets deployment environments override a few non-secret fields.
func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("RELAY_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_FROM"); v != "" {
		cfg.Twilio.From = v
	}
	if v := os.Getenv("RELAY_SSM_PREFIX"); v != "" {
		cfg.Secrets.SSMPrefix = v
	}
}
