package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/opsguard/internal/audit"
	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

// ClusterLock: опциональная распределенная блокировка действия (несколько инстансов ядра).
type ClusterLock interface {
	Acquire(ctx context.Context, actionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, actionID string) error
}

type OrchestratorConfig struct {
	SafetyFactor float64       // таймаут = EstimatedSeconds * SafetyFactor
	MinTimeout   time.Duration // нижняя граница таймаута
	MaxAttempts  uint          // 1 = без повторов
	RetryDelay   time.Duration
}

// Orchestrator выбирает и запускает действия восстановления.
// Владеет множеством активных действий и единственный пишет ExecutionRecord.
type Orchestrator struct {
	registry *Registry
	alerts   *AlertStore
	health   *HealthTracker
	history  *History
	errors   *ErrorLog
	auditor  audit.Auditor
	lock     ClusterLock
	metrics  *Metrics
	logger   *zap.Logger
	cfg      OrchestratorConfig
	now      func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup

	// onAlertResolved вызывается, когда успешное восстановление закрыло алерт
	onAlertResolved func(domain.Alert)
	onRecord        func(domain.ExecutionRecord)
}

func NewOrchestrator(
	registry *Registry,
	alerts *AlertStore,
	health *HealthTracker,
	history *History,
	errLog *ErrorLog,
	auditor audit.Auditor,
	metrics *Metrics,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = 2
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		registry: registry,
		alerts:   alerts,
		health:   health,
		history:  history,
		errors:   errLog,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger.Named("orchestrator"),
		cfg:      cfg,
		now:      time.Now,
		active:   make(map[string]struct{}),
	}
}

// WithClusterLock подключает распределенную блокировку.
func (o *Orchestrator) WithClusterLock(l ClusterLock) *Orchestrator {
	o.lock = l
	return o
}

// HandleError регистрирует ErrorEvent. Только critical запускает автоматические действия сразу.
// Возвращает сохраненное событие и ID запущенных действий.
func (o *Orchestrator) HandleError(ctx context.Context, ev domain.ErrorEvent) (domain.ErrorEvent, []string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Context.Timestamp.IsZero() {
		ev.Context.Timestamp = o.now()
	}
	if err := ev.Validate(); err != nil {
		return domain.ErrorEvent{}, nil, err
	}
	ev.Resolved, ev.AutoResolved, ev.ResolutionAttempts = false, false, 0

	o.errors.Record(ev)
	o.health.AdjustOpenErrors(ev.Context.Component, 1)
	o.auditor.Log(audit.Event{
		Kind:      audit.KindErrorReported,
		Subject:   ev.ID,
		Severity:  string(ev.Severity),
		Payload:   audit.ToPayload(ev),
		Timestamp: ev.Context.Timestamp,
	})

	// Не critical (включая emergency), только ручной запуск
	if ev.Severity != domain.SeverityCritical {
		return ev, nil, nil
	}
	launched := o.autoRecover(ctx, ev.ErrorType, domain.Trigger{ErrorID: ev.ID})
	return ev, launched, nil
}

// HandleAlert пропускает алерт через тот же путь, если правило просило восстановление (recover_as).
func (o *Orchestrator) HandleAlert(ctx context.Context, a domain.Alert) []string {
	if a.RecoverAs == "" || !a.Severity.IsCritical() {
		return nil
	}
	return o.autoRecover(ctx, a.RecoverAs, domain.Trigger{AlertID: a.ID})
}

func (o *Orchestrator) autoRecover(ctx context.Context, t domain.ErrorType, trigger domain.Trigger) []string {
	var launched []string
	for _, a := range o.registry.ApplicableActions(t) {
		// Ручные действия только показываем оператору
		if !a.Automated {
			o.logger.Debug("action requires manual execution", zap.String("action_id", a.ID), zap.String("trigger", trigger.String()))
			continue
		}
		if o.IsActive(a.ID) {
			o.logger.Info("action already running, skipping", zap.String("action_id", a.ID), zap.String("trigger", trigger.String()))
			continue
		}
		if err := o.start(ctx, a, trigger, false); err != nil {
			continue
		}
		launched = append(launched, a.ID)
	}
	return launched
}

// ExecuteAction: ручной запуск. Алерты не резолвит. Второй вызов во время выполнения отклоняется (ErrActionBusy).
func (o *Orchestrator) ExecuteAction(ctx context.Context, actionID string) error {
	a, ok := o.registry.Get(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrActionNotFound, actionID)
	}
	return o.start(ctx, a, domain.Trigger{}, false)
}

// ExecutePeerCommand: ручной запуск, разосланный всем инстансам. Потеря кластерной блокировки не пишется в историю.
func (o *Orchestrator) ExecutePeerCommand(ctx context.Context, actionID string) error {
	a, ok := o.registry.Get(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrActionNotFound, actionID)
	}
	return o.start(ctx, a, domain.Trigger{}, true)
}

// ExecuteForError запускает действие вручную в контексте ErrorEvent. При успехе событие закрывается.
func (o *Orchestrator) ExecuteForError(ctx context.Context, actionID, errorID string) error {
	a, ok := o.registry.Get(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrActionNotFound, actionID)
	}
	if _, ok := o.errors.Get(errorID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrErrorNotFound, errorID)
	}
	return o.start(ctx, a, domain.Trigger{ErrorID: errorID}, false)
}

func (o *Orchestrator) timeoutFor(a Action) time.Duration {
	d := time.Duration(float64(a.EstimatedSeconds) * o.cfg.SafetyFactor * float64(time.Second))
	if d < o.cfg.MinTimeout {
		d = o.cfg.MinTimeout
	}
	return d
}

// start атомарно занимает action.id и запускает выполнение в отдельной горутине.
// quietLockLoss: проигрыш кластерной блокировки только логируется.
func (o *Orchestrator) start(ctx context.Context, a Action, trigger domain.Trigger, quietLockLoss bool) error {
	if !o.acquire(a.ID) {
		o.reject(a, trigger, "already running on this instance")
		return fmt.Errorf("%w: %s", domain.ErrActionBusy, a.ID)
	}

	timeout := o.timeoutFor(a)
	if o.lock != nil {
		ok, err := o.lock.Acquire(ctx, a.ID, timeout*time.Duration(o.cfg.MaxAttempts)+time.Minute)
		switch {
		case err != nil:
			// Redis недоступен, локальной блокировки достаточно, продолжаем
			o.logger.Warn("cluster lock unavailable, using local guard only", zap.String("action_id", a.ID), zap.Error(err))
		case !ok:
			o.release(a.ID)
			if quietLockLoss {
				o.logger.Debug("peer command taken by another instance", zap.String("action_id", a.ID))
			} else {
				o.reject(a, trigger, "already running on another instance")
			}
			return fmt.Errorf("%w: %s", domain.ErrActionBusy, a.ID)
		}
	}

	o.wg.Add(1)
	// Выполнение не должно обрываться остановкой мониторинга
	runCtx := context.WithoutCancel(ctx)
	go o.run(runCtx, a, trigger, timeout)
	return nil
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.active[id]; busy {
		return false
	}
	o.active[id] = struct{}{}
	o.metrics.ActiveRecoveries.Set(float64(len(o.active)))
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.active, id)
	o.metrics.ActiveRecoveries.Set(float64(len(o.active)))
}

func (o *Orchestrator) IsActive(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

// Active: ID действий, которые выполняются прямо сейчас.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.active))
	for id := range o.active {
		out = append(out, id)
	}
	return out
}

// Wait ждет завершения всех запущенных действий.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(ctx context.Context, a Action, trigger domain.Trigger, timeout time.Duration) {
	defer o.wg.Done()

	start := o.now()
	attempts := 0
	var lastErr error

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(o.cfg.MaxAttempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Исполнитель сам сказал, когда повторить (Retry-After)
			var tErr *ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			if o.cfg.RetryDelay > 0 {
				return o.cfg.RetryDelay
			}
			return retry.BackOffDelay(n, err, config)
		}),
	).Do(func() error {
		attempts++
		lastErr = o.invoke(ctx, a, timeout)
		return lastErr
	})
	// retry-go склеивает ошибки всех попыток, в запись идет последняя.
	// Если ни одна попытка не состоялась, причину знает только retry-go.
	if err != nil && lastErr == nil {
		lastErr = err
	}

	o.release(a.ID)
	if o.lock != nil {
		if err := o.lock.Release(context.Background(), a.ID); err != nil {
			o.logger.Warn("cluster lock release failed", zap.String("action_id", a.ID), zap.Error(err))
		}
	}

	rec := domain.ExecutionRecord{
		ID:          uuid.New().String(),
		ActionID:    a.ID,
		TriggeredBy: trigger.String(),
		Outcome:     domain.OutcomeSuccess,
		Success:     lastErr == nil,
		Attempts:    attempts,
		DurationMs:  o.now().Sub(start).Milliseconds(),
		Timestamp:   start,
	}
	if lastErr != nil {
		rec.Error = lastErr.Error()
		rec.Outcome = domain.OutcomeFailed
		if domain.KindOf(lastErr) == domain.KindActionTimeout {
			rec.Outcome = domain.OutcomeTimeout
		}
		o.metrics.ErrorTotal.WithLabelValues(string(domain.KindOf(lastErr))).Inc()
		o.logger.Error("recovery action failed",
			zap.String("action_id", a.ID),
			zap.String("trigger", trigger.String()),
			zap.Int("attempts", attempts),
			zap.Error(lastErr))
	} else {
		o.logger.Info("recovery action succeeded",
			zap.String("action_id", a.ID),
			zap.String("trigger", trigger.String()),
			zap.Int64("duration_ms", rec.DurationMs))
	}

	o.record(rec)
	o.settle(trigger, rec.Success)
}

// invoke выполняет одну попытку с таймаутом. Исполнитель, который не уважает ctx, все равно не держит слот дольше таймаута.
func (o *Orchestrator) invoke(ctx context.Context, a Action, timeout time.Duration) error {
	tCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("runner panic: %v", r)
			}
		}()
		done <- a.runner.Execute(tCtx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && tCtx.Err() != nil {
			return domain.NewOpError(domain.KindActionTimeout, "recovery."+a.ID, err)
		}
		return domain.NewOpError(domain.KindActionExecutionFailure, "recovery."+a.ID, err)
	case <-tCtx.Done():
		return domain.NewOpError(domain.KindActionTimeout, "recovery."+a.ID,
			fmt.Errorf("exceeded %s", timeout))
	}
}

func (o *Orchestrator) reject(a Action, trigger domain.Trigger, reason string) {
	o.logger.Warn("recovery action rejected",
		zap.String("action_id", a.ID),
		zap.String("trigger", trigger.String()),
		zap.String("reason", reason))
	o.record(domain.ExecutionRecord{
		ID:          uuid.New().String(),
		ActionID:    a.ID,
		TriggeredBy: trigger.String(),
		Outcome:     domain.OutcomeRejected,
		Error:       domain.ErrActionBusy.Error() + ": " + reason,
		Timestamp:   o.now(),
	})
}

func (o *Orchestrator) record(rec domain.ExecutionRecord) {
	o.history.Append(rec)
	o.metrics.RecoveryExecutions.WithLabelValues(rec.ActionID, string(rec.Outcome)).Inc()
	if rec.Outcome != domain.OutcomeRejected {
		o.metrics.RecoveryDuration.WithLabelValues(rec.ActionID).Observe(float64(rec.DurationMs) / 1000)
	}
	o.auditor.Log(audit.Event{
		Kind:      audit.KindRecoveryExecuted,
		Subject:   rec.ActionID,
		Outcome:   string(rec.Outcome),
		Payload:   audit.ToPayload(rec),
		Timestamp: rec.Timestamp,
	})
	if o.onRecord != nil {
		o.onRecord(rec)
	}
}

// settle закрывает инициатора при успехе. Ручной запуск ничего не закрывает.
func (o *Orchestrator) settle(trigger domain.Trigger, success bool) {
	switch {
	case trigger.ErrorID != "":
		ev, transitioned, ok := o.errors.NoteAttempt(trigger.ErrorID, success)
		if ok && transitioned {
			o.health.AdjustOpenErrors(ev.Context.Component, -1)
			o.logger.Info("error event auto-resolved", zap.String("error_id", ev.ID))
		}
	case trigger.AlertID != 0 && success:
		a, transitioned, err := o.alerts.Resolve(trigger.AlertID)
		if err != nil {
			o.logger.Warn("failed to resolve alert after recovery", zap.Uint64("alert_id", trigger.AlertID), zap.Error(err))
			return
		}
		if transitioned && o.onAlertResolved != nil {
			o.onAlertResolved(a)
		}
	}
}
