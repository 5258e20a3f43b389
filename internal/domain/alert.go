package domain

import (
	"errors"
	"time"
)

type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// IsCritical: critical и emergency считаются "горящими" алертами.
func (s Severity) IsCritical() bool {
	return s == SeverityCritical || s == SeverityEmergency
}

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrRuleNotFound  = errors.New("alert rule not found")
)

type AlertMetadata struct {
	RuleID        string  `json:"rule_id,omitempty"`
	ObservedValue float64 `json:"observed_value"`
	Threshold     float64 `json:"threshold"`
}

// Alert: зафиксированное срабатывание. Жизненный цикл: raised -> acknowledged (опционально) -> resolved.
// Алерты никогда не удаляются, только резолвятся.
type Alert struct {
	ID           uint64        `json:"id"`
	Severity     Severity      `json:"severity"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Source       string        `json:"source"`
	CreatedAt    time.Time     `json:"created_at"`
	Acknowledged bool          `json:"acknowledged"`
	Resolved     bool          `json:"resolved"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	Metadata     AlertMetadata `json:"metadata"`

	// RecoverAs: тип ошибки, под которым алерт уходит в оркестратор восстановления (если задан правилом).
	RecoverAs ErrorType `json:"recover_as,omitempty"`
}

// AlertDraft: то, что порождает движок правил. ID и время проставляет AlertStore.
type AlertDraft struct {
	Severity  Severity
	Title     string
	Message   string
	Source    string
	Metadata  AlertMetadata
	RecoverAs ErrorType

	NotifyChannels []ChannelKind
}
