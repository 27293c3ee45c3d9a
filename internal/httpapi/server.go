package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay/internal/domain"
	"relay/internal/ingest"
	"relay/internal/messaging"
)

const (
	bodyLimit         = 25 * 1024 * 1024
	backgroundTimeout = 2 * time.Minute
)

// Relay handles inbound messages and operator replies.
type Relay interface {
	HandleInbound(ctx context.Context, in messaging.InboundMessage) error
	SendManual(ctx context.Context, id, text string) (domain.Conversation, error)
}

// Conversations is the read side of the conversation store.
type Conversations interface {
	List() []domain.Conversation
	Get(id string) (domain.Conversation, bool)
}

// Settings reads and mutates the operator settings.
type Settings interface {
	Get() domain.AppSettings
	SetMode(ctx context.Context, mode domain.ResponseMode) (domain.AppSettings, error)
	SetDefaultResponse(ctx context.Context, text string) (domain.AppSettings, error)
}

// Ingester indexes an uploaded document for an owner.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload, ownerID string) ingest.Result
}

// Documents lists and removes an owner's indexed chunks.
type Documents interface {
	ListAll(ctx context.Context, ownerID string) ([]domain.ChunkMeta, error)
	DeleteOwner(ctx context.Context, ownerID string) error
}

type Config struct {
	OperatorUser     string
	OperatorPassword string
	// TwilioAuthToken and PublicURL together enable webhook signature checks.
	TwilioAuthToken   string
	PublicURL         string
	WebhookRatePerMin int
	// UploadDir holds uploads until ingestion removes them. Empty uses the
	// system temp dir.
	UploadDir string
	Registry  *prometheus.Registry
	Logger    *slog.Logger
}

type Deps struct {
	Relay         Relay
	Conversations Conversations
	Settings      Settings
	Ingester      Ingester
	Documents     Documents
}

// Server is the fiber application serving the provider webhook and the
// operator API.
type Server struct {
	app  *fiber.App
	cfg  Config
	deps Deps
	log  *slog.Logger

	bg     context.Context
	stopBg context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Relay == nil {
		return nil, errors.New("httpapi: relay must not be nil")
	}
	if deps.Conversations == nil {
		return nil, errors.New("httpapi: conversations must not be nil")
	}
	if deps.Settings == nil {
		return nil, errors.New("httpapi: settings must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.WebhookRatePerMin <= 0 {
		cfg.WebhookRatePerMin = 120
	}
	bg, stop := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, deps: deps, log: cfg.Logger, bg: bg, stopBg: stop}

	s.app = fiber.New(fiber.Config{
		AppName:               "relay",
		BodyLimit:             bodyLimit,
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		UnescapePath:          true,
		DisableStartupMessage: true,
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Use(recover.New())

	p := fiberprometheus.NewWithRegistry(s.cfg.Registry, "relay", "http", "", nil)
	s.app.Use(p.Middleware)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})))

	s.app.Get("/healthz", s.health)

	webhookLimiter := limiter.New(limiter.Config{
		Max:        s.cfg.WebhookRatePerMin,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			s.log.Warn("webhook rate limit reached", "ip", c.IP())
			return c.SendStatus(fiber.StatusTooManyRequests)
		},
	})
	s.app.Post("/webhook/twilio", webhookLimiter, s.twilioWebhook)

	api := s.app.Group("/api")
	if s.cfg.OperatorPassword == "" {
		s.log.Warn("operator password not set, operator API disabled")
		api.Use(func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "operator API disabled"})
		})
		return
	}
	api.Use(basicauth.New(basicauth.Config{
		Users: map[string]string{s.cfg.OperatorUser: s.cfg.OperatorPassword},
		Realm: "relay",
	}))
	api.Get("/conversations", s.listConversations)
	api.Get("/conversations/:id", s.getConversation)
	api.Post("/conversations/:id/messages", s.sendMessage)
	api.Get("/settings", s.getSettings)
	api.Put("/settings", s.updateSettings)
	api.Post("/documents", s.uploadDocument)
	api.Get("/documents/:owner", s.listDocuments)
	api.Delete("/documents/:owner", s.deleteDocuments)
}

// App exposes the fiber application, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight relay work until
// ctx expires, after which that work is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("abandoning in-flight relay work")
	}
	s.stopBg()
	return err
}

// background runs fn detached from the request.
func (s *Server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.bg, backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
