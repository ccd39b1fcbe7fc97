package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIBase     = "https://api.telegram.org"
	defaultHTTPTimeout = 10 * time.Second
)

var (
	// ErrChatNotFound indicates no delivery channel could be resolved for
	// the handle. Callers must translate it into a generic message that
	// does not reveal whether the handle exists.
	ErrChatNotFound = errors.New("telegram: chat not found for username")

	// ErrSendFailed indicates the Bot API rejected or failed the send.
	ErrSendFailed = errors.New("telegram: send failed")
)

// Bot is a minimal Bot API client: it resolves a chat id for a username
// and delivers one-time login codes. All calls are bounded by the HTTP
// client timeout so a hung Bot API call cannot pin a rate-limit slot.
type Bot struct {
	token   string
	apiBase string
	client  *http.Client
}

// BotOption configures Bot behavior.
type BotOption func(*Bot)

// WithAPIBase overrides the Bot API base URL (useful for tests).
func WithAPIBase(base string) BotOption {
	return func(b *Bot) {
		if strings.TrimSpace(base) != "" {
			b.apiBase = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) BotOption {
	return func(b *Bot) {
		if c != nil {
			b.client = c
		}
	}
}

// NewBot constructs a Bot API client.
func NewBot(token string, opts ...BotOption) *Bot {
	b := &Bot{
		token:   strings.TrimSpace(token),
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configured reports whether a bot token is present.
func (b *Bot) Configured() bool { return b.token != "" }

type update struct {
	Message *struct {
		From *struct {
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// ResolveChat scans recent bot updates for a message from the given
// username and returns the originating chat id. The user must have
// messaged the bot at least once (/start) for this to succeed.
func (b *Bot) ResolveChat(ctx context.Context, username string) (int64, error) {
	if !b.Configured() {
		return 0, ErrNotConfigured
	}
	username = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if username == "" {
		return 0, ErrChatNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/bot%s/getUpdates?limit=100", b.apiBase, b.token), nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("telegram: decode getUpdates: %w", err)
	}
	if !body.OK {
		return 0, ErrChatNotFound
	}
	for _, u := range body.Result {
		if u.Message == nil || u.Message.From == nil {
			continue
		}
		if strings.ToLower(u.Message.From.Username) == username {
			return u.Message.Chat.ID, nil
		}
	}
	return 0, ErrChatNotFound
}

// SendCode delivers a one-time login code to the chat. The code itself is
// never logged.
func (b *Bot) SendCode(ctx context.Context, chatID int64, code string) error {
	if !b.Configured() {
		return ErrNotConfigured
	}
	text := fmt.Sprintf("🔐 Your Auth Center login code:\n\n<b>%s</b>\n\nThis code expires in 5 minutes. Do not share it.", code)

	payload, err := json.Marshal(map[string]string{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/sendMessage", b.apiBase, b.token), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSendFailed, err)
	}
	if !body.OK {
		return ErrSendFailed
	}
	return nil
}
