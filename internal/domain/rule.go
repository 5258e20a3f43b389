package domain

import "time"

// ChannelKind: канал доставки уведомлений.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelSlack   ChannelKind = "slack"
	ChannelWebhook ChannelKind = "webhook"
	ChannelSMS     ChannelKind = "sms"
)

// AlertRule: пороговое правило. Сравнение всегда строгое "больше".
type AlertRule struct {
	ID              string        `json:"id" mapstructure:"id" validate:"required"`
	Name            string        `json:"name" mapstructure:"name" validate:"required"`
	MetricPath      string        `json:"metric_path" mapstructure:"metric_path" validate:"required"`
	Comparator      string        `json:"comparator" mapstructure:"comparator" validate:"omitempty,eq=>"`
	Threshold       float64       `json:"threshold" mapstructure:"threshold"`
	Severity        Severity      `json:"severity" mapstructure:"severity" validate:"required,oneof=info warning critical emergency"`
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	NotifyChannels  []ChannelKind `json:"notify_channels" mapstructure:"notify_channels" validate:"dive,oneof=email slack webhook sms"`
	CooldownMinutes int           `json:"cooldown_minutes" mapstructure:"cooldown_minutes" validate:"gte=0"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty" mapstructure:"-"`

	// RecoverAs направляет critical/emergency алерты правила в контур автовосстановления.
	RecoverAs ErrorType `json:"recover_as,omitempty" mapstructure:"recover_as" validate:"omitempty,oneof=client server network database auth performance"`
}

func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// RuleState: состояние автомата правила.
type RuleState string

const (
	RuleArmed   RuleState = "armed"
	RuleCooling RuleState = "cooling"
)

// RuleStatus: правило вместе с вычисленным состоянием (для API).
type RuleStatus struct {
	AlertRule
	State RuleState `json:"state"`
}
