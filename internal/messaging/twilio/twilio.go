package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"relay/internal/messaging"
)

const defaultBaseURL = "https://api.twilio.com"

// Provider error codes worth telling apart in logs.
const (
	CodeAuthFailure        = 20003
	CodeInvalidTo          = 21211
	CodeInvalidPair        = 21614
	CodeBodyTooLong        = 21617
	CodeUnregisteredSender = 63007
)

// Reason names a send failure for logging.
func Reason(code int) string {
	switch code {
	case CodeUnregisteredSender:
		return "unregistered_channel"
	case CodeBodyTooLong:
		return "body_too_long"
	case CodeInvalidTo, CodeInvalidPair:
		return "invalid_number"
	case CodeAuthFailure:
		return "auth_failure"
	default:
		return "provider_error"
	}
}

// APIError is the error document returned by the Twilio REST API.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: %d (%s): %s", e.Code, Reason(e.Code), e.Message)
}

type Config struct {
	AccountSID string
	AuthToken  string
	// From is the sender used when Send is called without one.
	From       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends messages through the Twilio Messages API.
type Client struct {
	sid        string
	token      string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilio: account sid must not be empty")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio: auth token must not be empty")
	}
	c := &Client{
		sid:        cfg.AccountSID,
		token:      cfg.AuthToken,
		from:       cfg.From,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Send delivers body to the recipient. Bodies longer than the provider limit
// are truncated first. Any failure is logged and reported as false.
func (c *Client) Send(ctx context.Context, to, body, from string) bool {
	if from == "" {
		from = c.from
	}
	if err := c.send(ctx, to, messaging.Truncate(body), from); err != nil {
		attrs := []any{"to", to, "from", from, "err", err}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "code", apiErr.Code, "reason", Reason(apiErr.Code))
		}
		c.logger.Error("twilio send failed", attrs...)
		return false
	}
	return true
}

func (c *Client) send(ctx context.Context, to, body, from string) error {
	if to == "" || from == "" {
		return errors.New("twilio: to and from are required")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.sid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	req.SetBasicAuth(c.sid, c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	apiErr := &APIError{Status: res.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// ParseWebhook reads the form fields of an incoming message callback.
func ParseWebhook(form url.Values) (messaging.InboundMessage, error) {
	msg := messaging.InboundMessage{
		From:           strings.TrimSpace(form.Get("From")),
		Body:           form.Get("Body"),
		ProviderNumber: strings.TrimSpace(form.Get("To")),
		MessageID:      form.Get("MessageSid"),
		ProfileName:    strings.TrimSpace(form.Get("ProfileName")),
	}
	if msg.MessageID == "" {
		msg.MessageID = form.Get("SmsMessageSid")
	}
	if msg.From == "" {
		return messaging.InboundMessage{}, errors.New("twilio: webhook without From")
	}
	return msg, nil
}

// ValidSignature checks the X-Twilio-Signature header: base64 HMAC-SHA1 over
// the full request URL followed by the sorted POST parameters.
func ValidSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
