package httpapi

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"relay/internal/messaging"
	"relay/internal/messaging/twilio"
	"relay/internal/relay"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// twilioWebhook acknowledges the callback right away; the reply goes out
// through the REST API once it is ready.
func (s *Server) twilioWebhook(c *fiber.Ctx) error {
	form := url.Values{}
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		form.Add(string(k), string(v))
	})

	if s.cfg.PublicURL != "" && s.cfg.TwilioAuthToken != "" {
		full := strings.TrimRight(s.cfg.PublicURL, "/") + c.OriginalURL()
		if !twilio.ValidSignature(s.cfg.TwilioAuthToken, full, form, c.Get("X-Twilio-Signature")) {
			s.log.Warn("rejected webhook with bad signature", "ip", c.IP())
			return c.SendStatus(fiber.StatusForbidden)
		}
	}

	in, err := twilio.ParseWebhook(form)
	if err != nil {
		s.log.Warn("malformed webhook", "err", err)
		return c.SendStatus(fiber.StatusBadRequest)
	}

	s.background(func(ctx context.Context) {
		s.handleInbound(ctx, in)
	})

	c.Set(fiber.HeaderContentType, "text/xml")
	return c.SendString(emptyTwiML)
}

func (s *Server) handleInbound(ctx context.Context, in messaging.InboundMessage) {
	err := s.deps.Relay.HandleInbound(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrDuplicate):
		s.log.Debug("duplicate webhook ignored", "message_id", in.MessageID)
	default:
		s.log.Error("inbound message failed", "from", in.From, "message_id", in.MessageID, "err", err)
	}
}
