package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует внутренние сбои ядра. Ни один из них не роняет процесс.
type ErrorKind string

const (
	KindMetricsUnavailable     ErrorKind = "metrics_unavailable"
	KindRuleResolutionMiss     ErrorKind = "rule_resolution_miss"
	KindActionExecutionFailure ErrorKind = "action_execution_failure"
	KindActionTimeout          ErrorKind = "action_timeout"
	KindChannelDeliveryFailure ErrorKind = "channel_delivery_failure"
)

// OpError: ошибка операции ядра с классом.
type OpError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func NewOpError(kind ErrorKind, op string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Err: err}
}

// KindOf достает класс из цепочки ошибок. Пустая строка, если класса нет.
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
