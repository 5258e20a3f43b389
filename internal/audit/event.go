package audit

import "time"

// EventKind: что именно зафиксировано в журнале.
type EventKind string

const (
	KindAlertRaised       EventKind = "alert_raised"
	KindAlertAcknowledged EventKind = "alert_acknowledged"
	KindAlertResolved     EventKind = "alert_resolved"
	KindErrorReported     EventKind = "error_reported"
	KindRecoveryExecuted  EventKind = "recovery_executed"
)

// Event: запись журнала для офлайн-аудита.
type Event struct {
	ID        string         `json:"id"`      // UUID события
	Kind      EventKind      `json:"kind"`    // Тип события
	Subject   string         `json:"subject"` // ID алерта / действия / ошибки
	Severity  string         `json:"severity,omitempty"`
	Outcome   string         `json:"outcome,omitempty"` // Только для recovery_executed
	Payload   map[string]any `json:"payload"`           // Исходный объект целиком
	Timestamp time.Time      `json:"timestamp"`
}
