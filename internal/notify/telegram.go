package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTelegramURL is the Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// Telegram posts signals to a chat through the Bot API. When a Summarizer
// is attached, its output is sent as a reply to the signal message.
type Telegram struct {
	baseURL    string
	token      string
	chatID     string
	client     *http.Client
	summarizer *Summarizer
	logger     *zap.Logger
}

// TelegramOption configures Telegram.
type TelegramOption func(*Telegram)

// WithTelegramURL overrides the Bot API root.
func WithTelegramURL(u string) TelegramOption {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithSummarizer attaches an AI summary reply.
func WithSummarizer(s *Summarizer) TelegramOption {
	return func(t *Telegram) { t.summarizer = s }
}

// WithTelegramLogger sets the logger.
func WithTelegramLogger(l *zap.Logger) TelegramOption {
	return func(t *Telegram) { t.logger = l }
}

// NewTelegram creates a sink for chatID using bot token.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		baseURL: DefaultTelegramURL,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("telegram")
	return t
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	ReplyToMessageID      int64  `json:"reply_to_message_id,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Send posts an HTML message and returns its id. replyTo of 0 starts a
// new thread.
func (t *Telegram) Send(ctx context.Context, text string, replyTo int64) (int64, error) {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		ReplyToMessageID:      replyTo,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		desc := out.Description
		if desc == "" {
			desc = "unknown error"
		}
		return 0, fmt.Errorf("telegram api error: %s", desc)
	}
	return out.Result.MessageID, nil
}

// OnSignal sends the rendered message, then the summary reply if any.
// A failed summary does not fail the delivery.
func (t *Telegram) OnSignal(ctx context.Context, n *Notification) error {
	id, err := t.Send(ctx, n.Message, 0)
	if err != nil {
		return err
	}
	t.logger.Info("signal delivered",
		zap.String("token", n.Signal.TokenAddress), zap.Int64("message_id", id))

	if t.summarizer == nil {
		return nil
	}
	summary, err := t.summarizer.Summarize(ctx, n)
	if err != nil {
		t.logger.Warn("summary generation failed", zap.String("token", n.Signal.TokenAddress), zap.Error(err))
		return nil
	}
	if _, err := t.Send(ctx, summary, id); err != nil {
		t.logger.Warn("summary delivery failed", zap.String("token", n.Signal.TokenAddress), zap.Error(err))
	}
	return nil
}
