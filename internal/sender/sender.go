package sender

import (
	"context"
	"fmt"
	"time"

	"payment-notify-go/internal/common"
	"payment-notify-go/internal/models"
)

// maxResponseBody bounds how much of a channel response is kept for audit.
const maxResponseBody = 1024

// DeliveryOutcome is the result of a single send attempt. Senders never
// return errors: every failure is a retryable unsuccessful outcome.
type DeliveryOutcome struct {
	Success      bool
	ResponseCode int
	ResponseBody string
	Payload      string
	RetryAfter   time.Duration // provider-requested pause, already applied by the sender
}

type Sender interface {
	Send(ctx context.Context, merchant models.Merchant, event models.PaymentEvent) DeliveryOutcome
}

// Registry resolves a merchant's channel to its sender.
type Registry map[models.Channel]Sender

func (r Registry) For(channel models.Channel) (Sender, bool) {
	s, ok := r[channel]
	return s, ok
}

func failure(code int, body string) DeliveryOutcome {
	return DeliveryOutcome{ResponseCode: code, ResponseBody: body}
}

// NewRegistry builds the webhook and chat senders from configuration. The
// chat sender is also returned so callers can verify the bot token.
func NewRegistry(cfg *models.Config, tokens *common.TokenRegistry) (Registry, *ChatSender, error) {
	webhookClient, err := common.NewHttpClient(cfg.Webhook.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("webhook client: %w", err)
	}
	chatClient, err := common.NewHttpClient(cfg.Chat.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("chat client: %w", err)
	}

	chat := NewChatSender(ChatSenderConfig{
		Client:      chatClient,
		Tokens:      tokens,
		ApiUrl:      cfg.Chat.ApiUrl,
		BotToken:    cfg.Chat.BotToken,
		RateLimit:   cfg.Chat.RateLimit,
		ExplorerUrl: cfg.Chat.ExplorerUrl,
	})

	return Registry{
		models.ChannelWebhook: NewWebhookSender(WebhookSenderConfig{
			Client:    webhookClient,
			Tokens:    tokens,
			UserAgent: cfg.Webhook.UserAgent,
		}),
		models.ChannelChat: chat,
	}, chat, nil
}
