package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relay/internal/chunker"
	"relay/internal/config"
	"relay/internal/conversation"
	"relay/internal/embedding"
	"relay/internal/embedding/hashing"
	"relay/internal/embedding/openai"
	"relay/internal/extract"
	"relay/internal/httpapi"
	"relay/internal/ingest"
	"relay/internal/jobs"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/messaging"
	"relay/internal/messaging/twilio"
	"relay/internal/metrics"
	"relay/internal/paramstore"
	"relay/internal/relay"
	"relay/internal/reply"
	"relay/internal/repository/dynamo"
	"relay/internal/repository/jsonfile"
	"relay/internal/repository/sqlite"
	"relay/internal/retrieval"
	"relay/internal/settings"
	"relay/internal/summarizer"
	"relay/internal/tui"
	"relay/internal/vectorstore"
	"relay/internal/vectorstore/memory"
	"relay/internal/vectorstore/qdrant"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, logPath string
	var opts options
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/relay/config.yaml if not provided)")
	flag.BoolVar(&opts.console, "console", false, "Open the operator console in this terminal")
	flag.StringVar(&logPath, "log-file", "relay.log", "Log destination while the console is open")
	flag.StringVar(&opts.owner, "owner", "", "Index the files given as arguments for this owner, then exit")
	flag.Parse()
	opts.files = flag.Args()
	if len(opts.files) > 0 && opts.owner == "" {
		fmt.Println("Usage: relay [--config=config.yaml] [--console] | relay --owner=<number> file1.pdf [file2.txt ...]")
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The console owns the terminal, so logs go to a file instead.
	var logOut io.Writer = os.Stdout
	if opts.console {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.Init(cfg.Env, cfg.LogLevel, logOut)
	logger.Info("config loaded", "path", cfgPath, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger, opts)
	stop()
	if err != nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

type options struct {
	console bool
	owner   string
	files   []string
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, opts options) error {
	// ---- AWS (only when DynamoDB or Parameter Store is in use) ----
	var awsCfg aws.Config
	var getter paramstore.Getter
	if cfg.Storage.Type == "dynamodb" || cfg.Secrets.SSMPrefix != "" {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.Secrets.SSMPrefix != "" {
			ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return err
			}
			getter = ps
		}
	}
	secrets := cfg.ResolveSecrets(ctx, getter)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- Persistence ----
	convRepo, settingsRepo, closeRepo, err := openRepository(ctx, cfg, awsCfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := conversation.NewStore(ctx, convRepo, conversation.WithStoreLogger(logger))
	if err != nil {
		return err
	}
	settingsSvc, err := settings.NewService(ctx, settingsRepo, logger)
	if err != nil {
		return err
	}

	// ---- Retrieval ----
	emb, err := newEmbedder(cfg, secrets, logger)
	if err != nil {
		return err
	}
	backend, err := newIndex(cfg, emb.Dimension(), secrets, logger)
	if err != nil {
		return err
	}
	index := vectorstore.NewLazy(backend, logger)
	if err := index.Bootstrap(ctx); err != nil {
		logger.Warn("vector store unavailable, replying without document context", "type", cfg.VectorStore.Type, "err", err)
	}
	retriever, err := retrieval.NewRetriever(emb, index, logger)
	if err != nil {
		return err
	}
	pipeline, err := ingest.NewPipeline(
		extract.New(),
		chunker.NewWindowChunker(cfg.Chunker.Size, cfg.Chunker.Overlap),
		emb,
		index,
		ingest.WithSummarizer(summarizer.New(0)),
		ingest.WithSummarySentences(cfg.Summarizer.MaxSentences),
		ingest.WithMetrics(m),
		ingest.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if len(opts.files) > 0 {
		if cfg.VectorStore.Type == "memory" {
			logger.Warn("the memory vector store does not outlive this process")
		}
		return ingestFiles(ctx, pipeline, opts.owner, opts.files)
	}

	// ---- Replies ----
	var completer llm.Completer = llm.Unconfigured{}
	if secrets.LLMAPIKey != "" {
		llmOpts := []llm.Option{llm.WithBaseURL(cfg.LLM.BaseURL), llm.WithModel(cfg.LLM.Model)}
		if cfg.LLM.SystemPrompt != "" {
			llmOpts = append(llmOpts, llm.WithSystemPrompt(cfg.LLM.SystemPrompt))
		}
		client, err := llm.NewClient(secrets.LLMAPIKey, llmOpts...)
		if err != nil {
			return err
		}
		completer = client
	} else {
		logger.Warn("no LLM API key, automatic replies will apologise")
	}
	composer, err := reply.NewComposer(completer,
		reply.WithRetriever(retriever),
		reply.WithMaxChars(cfg.LLM.MaxReplyChars),
		reply.WithTimeout(cfg.ReplyTimeout()),
		reply.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	transport, err := newTransport(cfg, secrets, logger)
	if err != nil {
		return err
	}
	rl, err := relay.New(store, settingsSvc, composer, transport,
		relay.WithInterimAfter(cfg.InterimAfter()),
		relay.WithMetrics(m),
		relay.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	// ---- Idle sweep ----
	lifecycle, err := conversation.NewLifecycle(store, transport,
		conversation.WithLimit(cfg.InactivityLimit()),
		conversation.WithLifecycleMetrics(m),
		conversation.WithLifecycleLogger(logger),
	)
	if err != nil {
		return err
	}
	scheduler, err := jobs.New(logger)
	if err != nil {
		return err
	}
	if err := scheduler.Every("idle-sweep", cfg.SweepInterval(), lifecycle.Sweep); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", "err", err)
		}
	}()

	// ---- HTTP ----
	srv, err := httpapi.New(httpapi.Config{
		OperatorUser:      cfg.Operator.Username,
		OperatorPassword:  secrets.OperatorPassword,
		TwilioAuthToken:   secrets.TwilioAuthToken,
		PublicURL:         cfg.Server.PublicURL,
		WebhookRatePerMin: cfg.Server.WebhookRatePerMin,
		Registry:          reg,
		Logger:            logger,
	}, httpapi.Deps{
		Relay:         rl,
		Conversations: store,
		Settings:      settingsSvc,
		Ingester:      pipeline,
		Documents:     index,
	})
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Listen(cfg.Server.Addr) }()

	if opts.console {
		go runConsole(ctx, tui.Deps{
			Conversations: store,
			Settings:      settingsSvc,
			Searcher:      retriever,
			Sender:        rl,
		}, serveErr, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runConsole runs the operator console until it quits, then reports a nil
// error on done so the process shuts down.
func runConsole(ctx context.Context, deps tui.Deps, done chan<- error, logger *slog.Logger) {
	p := tea.NewProgram(tui.New(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Error("console exited", "err", err)
	}
	select {
	case done <- nil:
	default:
	}
}

// ingestFiles indexes local files. The pipeline deletes its input, so each
// file is copied to a temporary upload first.
func ingestFiles(ctx context.Context, pipeline *ingest.Pipeline, owner string, patterns []string) error {
	var paths []string
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		paths = append(paths, matches...)
	}
	failed := 0
	for _, p := range paths {
		up, err := copyToTemp(p)
		if err != nil {
			return err
		}
		res := pipeline.Ingest(ctx, up, owner)
		fmt.Printf("%s: %s\n", p, res.Message)
		if res.Summary != "" {
			fmt.Printf("  %s\n", res.Summary)
		}
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files not indexed", failed, len(paths))
	}
	return nil
}

func copyToTemp(path string) (ingest.Upload, error) {
	src, err := os.Open(path)
	if err != nil {
		return ingest.Upload{}, err
	}
	defer src.Close()
	dst, err := os.CreateTemp("", "upload-*"+filepath.Ext(path))
	if err != nil {
		return ingest.Upload{}, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return ingest.Upload{}, err
	}
	if err := dst.Close(); err != nil {
		return ingest.Upload{}, err
	}
	return ingest.Upload{Path: dst.Name(), Filename: filepath.Base(path)}, nil
}

type repository interface {
	conversation.Repository
	settings.Repository
}

func openRepository(ctx context.Context, cfg *config.AppConfig, awsCfg aws.Config) (conversation.Repository, settings.Repository, func(), error) {
	var repo repository
	closeFn := func() {}
	switch cfg.Storage.Type {
	case "file":
		s, err := jsonfile.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		repo = s
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		repo = s
		closeFn = func() { _ = s.Close() }
	case "dynamodb":
		s, err := dynamo.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Storage.Table)
		if err != nil {
			return nil, nil, nil, err
		}
		repo = s
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage: %s", cfg.Storage.Type)
	}
	return repo, repo, closeFn, nil
}

func newEmbedder(cfg *config.AppConfig, secrets config.Secrets, logger *slog.Logger) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing":
		return hashing.NewEmbedder(cfg.Embedder.Dimension), nil
	case "openai":
		if secrets.EmbedderAPIKey == "" {
			logger.Warn("no embedder API key, falling back to the hashing embedder")
			return hashing.NewEmbedder(cfg.Embedder.Dimension), nil
		}
		o := cfg.Embedder.OpenAI
		return openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKey:     secrets.EmbedderAPIKey,
			Model:      o.Model,
			Dimension:  cfg.Embedder.Dimension,
			Timeout:    time.Duration(o.TimeoutSecs) * time.Second,
			MaxRetries: o.MaxRetries,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newIndex(cfg *config.AppConfig, dimension int, secrets config.Secrets, logger *slog.Logger) (vectorstore.Index, error) {
	switch cfg.VectorStore.Type {
	case "memory":
		return memory.NewStorage(dimension), nil
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:           q.URL,
			APIKey:        secrets.QdrantAPIKey,
			Collection:    q.Collection,
			Dimension:     dimension,
			Timeout:       time.Duration(q.TimeoutSecs) * time.Second,
			BatchSize:     q.BatchSize,
			BatchInterval: time.Duration(q.BatchIntervalMS) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

func newTransport(cfg *config.AppConfig, secrets config.Secrets, logger *slog.Logger) (messaging.Transport, error) {
	if cfg.Twilio.AccountSID == "" || secrets.TwilioAuthToken == "" {
		logger.Warn("twilio credentials missing, outbound messages are only logged")
		return messaging.LogTransport{Logger: logger}, nil
	}
	return twilio.NewClient(twilio.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  secrets.TwilioAuthToken,
		From:       cfg.Twilio.From,
		BaseURL:    cfg.Twilio.BaseURL,
		Logger:     logger,
	})
}
