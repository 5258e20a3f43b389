package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

// ThrottleError: исполнитель перегружен и сообщил, через сколько можно повторить.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// HookRunner дергает внешний HTTP-хук, который реально выполняет действие (runbook, ansible, k8s job и т.п.).
// Любой ответ вне 2xx считается провалом.
type HookRunner struct {
	URL      string
	ActionID string
	HTTP     *http.Client
}

func NewHookRunner(url, actionID string) *HookRunner {
	return &HookRunner{
		URL:      url,
		ActionID: actionID,
		HTTP:     &http.Client{Timeout: 2 * time.Minute},
	}
}

func (h *HookRunner) Execute(ctx context.Context) error {
	body, _ := json.Marshal(map[string]any{"action_id": h.ActionID, "requested_at": time.Now().UTC()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("hook %s call failed: %w", h.ActionID, err)
	}
	defer res.Body.Close()

	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode == http.StatusTooManyRequests {
		// Хук просит подождать, отдаем Retry-After оркестратору
		wait := 5 * time.Second
		if sec, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && sec > 0 {
			wait = time.Duration(sec) * time.Second
		}
		return &ThrottleError{RetryAfter: wait, Cause: fmt.Errorf("hook %s throttled", h.ActionID)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("hook %s returned status %d: %s", h.ActionID, res.StatusCode, string(resp))
	}
	return nil
}

// LogRunner используется для действий без настроенного хука и только фиксирует запрос в логе.
type LogRunner struct {
	ActionID string
	Logger   *zap.Logger
}

func (l *LogRunner) Execute(ctx context.Context) error {
	l.Logger.Info("recovery action requested (no hook configured)", zap.String("action_id", l.ActionID))
	return ctx.Err()
}

// HookRunnerFactory выдает HookRunner для действий с хуком и LogRunner для остальных.
func HookRunnerFactory(hooks map[string]string, logger *zap.Logger) func(spec domain.ActionSpec) Runner {
	return func(spec domain.ActionSpec) Runner {
		if url, ok := hooks[spec.ID]; ok && url != "" {
			return NewHookRunner(url, spec.ID)
		}
		return &LogRunner{ActionID: spec.ID, Logger: logger.Named("runner")}
	}
}
