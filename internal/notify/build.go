package notify

import (
	"github.com/xela07ax/opsguard/internal/domain"
	"github.com/xela07ax/opsguard/internal/infra"
	"go.uber.org/zap"
)

// FromConfig собирает Dispatcher: webhook и slack по URL, sms через Telegram-бота.
// Каналы без транспорта (email и все ненастроенные) пишутся в лог.
func FromConfig(cfg infra.NotifyConfig, logger *zap.Logger) *Dispatcher {
	d := NewDispatcher(Options{RatePerSecond: cfg.RatePerSecond, Burst: cfg.Burst}, logger)
	log := logger.Named("notify")

	for _, kind := range []domain.ChannelKind{domain.ChannelEmail, domain.ChannelSlack, domain.ChannelWebhook, domain.ChannelSMS} {
		var ch Channel = &LogChannel{Kind: kind, Logger: log}
		switch {
		case kind == domain.ChannelWebhook && cfg.WebhookURL != "":
			ch = NewWebhookChannel(cfg.WebhookURL)
		case kind == domain.ChannelSlack && cfg.SlackURL != "":
			ch = NewSlackChannel(cfg.SlackURL)
		case kind == domain.ChannelSMS && cfg.TelegramToken != "" && cfg.TelegramChatID != "":
			ch = NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID)
		}
		d.Register(kind, ch)
	}
	return d
}
