package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/enums"
)

// Client is the bot's view of the messaging platform: membership lookups for
// the channel gate and plain text messages for delivery.
type Client struct {
	api *tgbotapi.BotAPI
}

// New builds a client from config and verifies the token with getMe.
func New(cfg config.TelegramConfig) (*Client, error) {
	endpoint := cfg.APIEndpoint
	if strings.TrimSpace(endpoint) == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewWithHTTPClient(cfg.BotToken, endpoint, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient allows tests to point the client at a fake API.
func NewWithHTTPClient(token, endpoint string, httpClient tgbotapi.HTTPClient) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	api, err := tgbotapi.NewBotAPIWithClient(strings.TrimSpace(token), endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", mapError(err))
	}
	return &Client{api: api}, nil
}

// ChatMemberStatus returns the membership status of userID in chatID.
func (c *Client) ChatMemberStatus(ctx context.Context, chatID, userID int64) (enums.MemberStatus, error) {
	if c == nil || c.api == nil {
		return enums.MemberStatusUnknown, fmt.Errorf("telegram bot is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return enums.MemberStatusUnknown, err
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: userID,
		},
	})
	if err != nil {
		return enums.MemberStatusUnknown, fmt.Errorf("get chat member: %w", mapError(err))
	}
	return enums.MemberStatus(member.Status), nil
}

// SendText sends a plain text message to chatID.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if c == nil || c.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if chatID == 0 {
		return &APIError{Code: http.StatusBadRequest, Description: "chat id is required"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", mapError(err))
	}
	return nil
}

// APIError is a failure reported by the platform itself, as opposed to a
// transport error.
type APIError struct {
	Code              int
	Description       string
	RetryAfterSeconds int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Temporary reports whether repeating the call may succeed.
func (e *APIError) Temporary() bool {
	return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// RetryAfter is the platform's requested back-off for flood control.
func (e *APIError) RetryAfter() time.Duration {
	if e.RetryAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(e.RetryAfterSeconds) * time.Second
}

func mapError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &APIError{
			Code:              apiErr.Code,
			Description:       apiErr.Message,
			RetryAfterSeconds: apiErr.RetryAfter,
		}
	}
	return err
}
