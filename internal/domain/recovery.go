package domain

import (
	"errors"
	"strconv"
	"time"
)

// ErrorType: таксономия ошибок, по которой выбираются действия восстановления.
type ErrorType string

const (
	ErrorClient      ErrorType = "client"
	ErrorServer      ErrorType = "server"
	ErrorNetwork     ErrorType = "network"
	ErrorDatabase    ErrorType = "database"
	ErrorAuth        ErrorType = "auth"
	ErrorPerformance ErrorType = "performance"
)

var ErrorTypes = []ErrorType{ErrorClient, ErrorServer, ErrorNetwork, ErrorDatabase, ErrorAuth, ErrorPerformance}

func (t ErrorType) Valid() bool {
	for _, k := range ErrorTypes {
		if k == t {
			return true
		}
	}
	return false
}

var (
	ErrActionNotFound   = errors.New("recovery action not found")
	ErrActionBusy       = errors.New("recovery action already running")
	ErrErrorNotFound    = errors.New("error event not found")
	ErrEngineNotRunning = errors.New("monitoring engine is not running")
)

type ErrorContext struct {
	Component string    `json:"component"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent: наблюдаемый сбой (исключение, отказ промиса, симуляция). Независимо от алертов запускает восстановление.
type ErrorEvent struct {
	ID                 string       `json:"id"`
	ErrorType          ErrorType    `json:"error_type" validate:"required,oneof=client server network database auth performance"`
	Severity           Severity     `json:"severity" validate:"required,oneof=info warning critical emergency"`
	Message            string       `json:"message" validate:"required"`
	Context            ErrorContext `json:"context"`
	Resolved           bool         `json:"resolved"`
	ResolutionAttempts int          `json:"resolution_attempts"`
	AutoResolved       bool         `json:"auto_resolved"`
}

// ActionSpec: запись каталога действий. Сама по себе состояния не имеет.
type ActionSpec struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Automated        bool        `json:"automated"`
	EstimatedSeconds int         `json:"estimated_seconds"`
	SuccessRate      float64     `json:"success_rate"` // информационно, на выбор не влияет
	Applicability    []ErrorType `json:"applicability"`
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
)

// Trigger: что инициировало выполнение действия.
type Trigger struct {
	AlertID uint64 `json:"alert_id,omitempty"`
	ErrorID string `json:"error_id,omitempty"`
}

func (t Trigger) Manual() bool { return t.AlertID == 0 && t.ErrorID == "" }

func (t Trigger) String() string {
	switch {
	case t.AlertID != 0:
		return "alert:" + strconv.FormatUint(t.AlertID, 10)
	case t.ErrorID != "":
		return "error:" + t.ErrorID
	default:
		return "manual"
	}
}

// ExecutionRecord: результат одного запуска действия. Только добавляется.
type ExecutionRecord struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"action_id"`
	TriggeredBy string    `json:"triggered_by"`
	Outcome     Outcome   `json:"outcome"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}
