package httpapi

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"relay/internal/conversation"
	"relay/internal/domain"
	"relay/internal/ingest"
	"relay/internal/relay"
	"relay/internal/settings"
)

func (s *Server) listConversations(c *fiber.Ctx) error {
	list := s.deps.Conversations.List()
	out := make([]fiber.Map, 0, len(list))
	for _, conv := range list {
		out = append(out, fiber.Map{
			"id":            conv.ID,
			"display_name":  conv.DisplayName,
			"state":         conv.State(),
			"last_activity": conv.LastActivity,
			"created_at":    conv.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"conversations": out})
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	conv, ok := s.deps.Conversations.Get(c.Params("id"))
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "conversation not found")
	}
	return c.JSON(conversationView(conv))
}

func conversationView(conv domain.Conversation) fiber.Map {
	return fiber.Map{
		"conversation": conv,
		"state":        conv.State(),
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "text is required")
	}
	conv, err := s.deps.Relay.SendManual(c.UserContext(), c.Params("id"), req.Text)
	switch {
	case err == nil:
		return c.JSON(conversationView(conv))
	case errors.Is(err, conversation.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "conversation not found")
	case errors.Is(err, relay.ErrSendFailed):
		view := conversationView(conv)
		view["error"] = "message recorded but delivery failed"
		return c.Status(fiber.StatusBadGateway).JSON(view)
	default:
		s.log.Error("manual send failed", "id", c.Params("id"), "err", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getSettings(c *fiber.Ctx) error {
	return c.JSON(s.deps.Settings.Get())
}

type settingsRequest struct {
	ResponseMode    *string `json:"response_mode"`
	DefaultResponse *string `json:"default_response"`
}

func (s *Server) updateSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	var mode domain.ResponseMode
	if req.ResponseMode != nil {
		m, err := settings.ParseMode(*req.ResponseMode)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		mode = m
	}

	ctx := c.UserContext()
	current := s.deps.Settings.Get()
	var err error
	if mode != "" {
		if current, err = s.deps.Settings.SetMode(ctx, mode); err != nil {
			return s.settingsError(c, err)
		}
	}
	if req.DefaultResponse != nil {
		if current, err = s.deps.Settings.SetDefaultResponse(ctx, *req.DefaultResponse); err != nil {
			return s.settingsError(c, err)
		}
	}
	return c.JSON(current)
}

func (s *Server) settingsError(c *fiber.Ctx, err error) error {
	if errors.Is(err, settings.ErrInvalidMode) {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	s.log.Error("settings update failed", "err", err)
	return errorJSON(c, fiber.StatusInternalServerError, "settings could not be saved")
}

func (s *Server) uploadDocument(c *fiber.Ctx) error {
	if s.deps.Ingester == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "document ingestion disabled")
	}
	owner := strings.TrimSpace(c.FormValue("owner"))
	if owner == "" {
		return errorJSON(c, fiber.StatusBadRequest, "owner is required")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "file is required")
	}

	tmp, err := os.CreateTemp(s.cfg.UploadDir, "upload-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		s.log.Error("create upload file", "err", err)
		return errorJSON(c, fiber.StatusInternalServerError, "upload failed")
	}
	path := tmp.Name()
	_ = tmp.Close()
	if err := c.SaveFile(fh, path); err != nil {
		_ = os.Remove(path)
		s.log.Error("save upload", "err", err)
		return errorJSON(c, fiber.StatusInternalServerError, "upload failed")
	}

	res := s.deps.Ingester.Ingest(c.UserContext(), ingest.Upload{Path: path, Filename: filepath.Base(fh.Filename)}, owner)
	if !res.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
	}
	return c.JSON(res)
}

func (s *Server) listDocuments(c *fiber.Ctx) error {
	if s.deps.Documents == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "document index disabled")
	}
	owner := c.Params("owner")
	chunks, err := s.deps.Documents.ListAll(c.UserContext(), owner)
	if err != nil {
		s.log.Error("list documents", "owner", owner, "err", err)
		return errorJSON(c, fiber.StatusBadGateway, "document index unavailable")
	}
	if chunks == nil {
		chunks = []domain.ChunkMeta{}
	}
	return c.JSON(fiber.Map{
		"owner":  domain.NormalizeOwner(owner),
		"count":  len(chunks),
		"chunks": chunks,
	})
}

func (s *Server) deleteDocuments(c *fiber.Ctx) error {
	if s.deps.Documents == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "document index disabled")
	}
	owner := c.Params("owner")
	if err := s.deps.Documents.DeleteOwner(c.UserContext(), owner); err != nil {
		s.log.Error("delete documents", "owner", owner, "err", err)
		return errorJSON(c, fiber.StatusBadGateway, "document index unavailable")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
