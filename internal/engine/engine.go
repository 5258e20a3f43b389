package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/opsguard/internal/audit"
	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

// ErrAlreadyRunning: повторный Start без Stop.
var ErrAlreadyRunning = errors.New("monitoring engine already running")

// Notifier доставляет алерт в конкретный канал. Ошибки только логируются.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert, channel domain.ChannelKind) error
}

type Config struct {
	// InstanceID адресует команды кластера этому инстансу. Пусто, случайный UUID.
	InstanceID     string
	TickInterval   time.Duration
	WindowSize     int
	HistorySize    int
	ErrorLogSize   int
	SampleAttempts uint
	NotifyTimeout  time.Duration
	Rules          []domain.AlertRule
	Orchestrator   OrchestratorConfig
}

type Deps struct {
	Source   MetricSource
	Notifier Notifier
	Auditor  audit.Auditor
	Lock     ClusterLock
	Metrics  *Metrics
	Logger   *zap.Logger

	// Runners выдает исполнителя для каждого действия каталога. nil, LogRunner.
	Runners func(spec domain.ActionSpec) Runner
	// Registry подменяет каталог целиком (тесты, нестандартные действия).
	Registry *Registry
	Probes   []ComponentProbe
	Now      func() time.Time
}

// Engine: явно сконструированное ядро мониторинга. Глобального состояния нет.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	auditor  audit.Auditor
	notifier Notifier
	now      func() time.Time

	sampler  *Sampler
	health   *HealthTracker
	rules    *RuleEngine
	alerts   *AlertStore
	registry *Registry
	history  *History
	errors   *ErrorLog
	orch     *Orchestrator
	events   *Broadcaster

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	paused  atomic.Bool

	staleMu      sync.Mutex
	staleAlertID uint64

	notifyWG sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil {
		return nil, errors.New("engine: metric source is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Auditor == nil {
		deps.Auditor = audit.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Probes == nil {
		deps.Probes = DefaultComponentProbes
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if strings.ContainsAny(cfg.InstanceID, ":/") {
		return nil, fmt.Errorf("engine: instance id %q must not contain ':' or '/'", cfg.InstanceID)
	}

	logger := deps.Logger.Named("engine")

	rules, err := NewRuleEngine(cfg.Rules, logger)
	if err != nil {
		return nil, err
	}

	registry := deps.Registry
	if registry == nil {
		runners := deps.Runners
		if runners == nil {
			runners = HookRunnerFactory(nil, logger)
		}
		if registry, err = NewDefaultRegistry(runners); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  deps.Metrics,
		auditor:  deps.Auditor,
		notifier: deps.Notifier,
		now:      deps.Now,
		sampler:  NewSampler(deps.Source, cfg.WindowSize, cfg.SampleAttempts, logger),
		health:   NewHealthTracker(cfg.WindowSize, deps.Probes),
		rules:    rules,
		alerts:   NewAlertStore(deps.Now),
		registry: registry,
		history:  NewHistory(cfg.HistorySize),
		errors:   NewErrorLog(cfg.ErrorLogSize),
		events:   NewBroadcaster(),
	}

	e.orch = NewOrchestrator(registry, e.alerts, e.health, e.history, e.errors, e.auditor, e.metrics, cfg.Orchestrator, logger)
	e.orch.now = deps.Now
	if deps.Lock != nil {
		e.orch.WithClusterLock(deps.Lock)
	}
	e.orch.onAlertResolved = e.alertResolved
	e.orch.onRecord = func(rec domain.ExecutionRecord) {
		e.events.Publish(StreamEvent{Type: EventExecution, Execution: &rec, Timestamp: rec.Timestamp})
	}
	return e, nil
}

// Start запускает периодический драйвер. Первый тик выполняется сразу.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.paused.Store(false)
	e.running.Store(true)

	go e.loop(loopCtx, e.done)

	e.logger.Info("monitoring started", zap.Duration("interval", e.cfg.TickInterval))
	return nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.paused.Load() {
				continue
			}
			e.Tick(ctx)
		}
	}
}

// Stop останавливает драйвер и ждет завершения запущенных восстановлений и уведомлений.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running.Load() {
		e.mu.Unlock()
		e.Wait()
		return
	}
	e.cancel()
	done := e.done
	e.running.Store(false)
	e.mu.Unlock()

	<-done
	e.Wait()
	e.logger.Info("monitoring stopped")
}

// Wait ждет фоновую работу: восстановления и доставку уведомлений.
func (e *Engine) Wait() {
	e.orch.Wait()
	e.notifyWG.Wait()
}

// Pause прекращает новые тики. Уже запущенные действия доводятся до конца.
func (e *Engine) Pause() error {
	if !e.running.Load() {
		return domain.ErrEngineNotRunning
	}
	e.paused.Store(true)
	e.logger.Info("monitoring paused")
	return nil
}

func (e *Engine) Resume() error {
	if !e.running.Load() {
		return domain.ErrEngineNotRunning
	}
	e.paused.Store(false)
	e.logger.Info("monitoring resumed")
	return nil
}

func (e *Engine) InstanceID() string { return e.cfg.InstanceID }

func (e *Engine) IsMonitoring() bool {
	return e.running.Load() && !e.paused.Load()
}

// Tick делает один проход: сэмпл, здоровье, правила, алерты, восстановление.
func (e *Engine) Tick(ctx context.Context) {
	tick := e.sampler.Next(ctx)

	// 1. Здоровье считаем на каждом тике, устаревший тик, это простой
	e.health.Observe(tick)
	for _, h := range e.health.Snapshot() {
		e.metrics.ComponentStatus.WithLabelValues(h.Component).Set(statusGauge(h.Status))
	}

	// 2. Свежесть
	switch {
	case !tick.OK:
		e.metrics.Ticks.WithLabelValues("empty").Inc()
		return
	case tick.Stale:
		e.metrics.Ticks.WithLabelValues("stale").Inc()
		if tick.StaleStreak == 1 {
			e.raiseStale(ctx, tick)
		}
		return
	}
	e.metrics.Ticks.WithLabelValues("fresh").Inc()
	e.clearStale()

	// 3. Правила только по свежим данным
	for _, d := range e.rules.Evaluate(tick.Sample, e.now()) {
		a := e.raise(ctx, d)
		e.orch.HandleAlert(ctx, a)
	}
}

func statusGauge(s domain.HealthStatus) float64 {
	switch s {
	case domain.StatusCritical:
		return 2
	case domain.StatusWarning:
		return 1
	}
	return 0
}

func (e *Engine) raiseStale(ctx context.Context, tick Tick) {
	e.staleMu.Lock()
	defer e.staleMu.Unlock()

	if e.staleAlertID != 0 {
		return
	}
	a := e.raise(ctx, domain.AlertDraft{
		Severity: domain.SeverityWarning,
		Title:    "Metrics stale",
		Message:  "metric source unavailable, last sample taken at " + tick.Sample.Timestamp.Format(time.RFC3339),
		Source:   "monitor",
	})
	e.staleAlertID = a.ID
}

func (e *Engine) clearStale() {
	e.staleMu.Lock()
	id := e.staleAlertID
	e.staleAlertID = 0
	e.staleMu.Unlock()

	if id == 0 {
		return
	}
	if _, err := e.Resolve(id); err != nil {
		e.logger.Warn("failed to resolve stale meta-alert", zap.Uint64("alert_id", id), zap.Error(err))
	}
}

func (e *Engine) raise(ctx context.Context, d domain.AlertDraft) domain.Alert {
	a := e.alerts.Raise(d)

	e.metrics.AlertsRaised.WithLabelValues(string(a.Severity), a.Source).Inc()
	e.metrics.ActiveAlerts.Set(float64(len(e.alerts.ActiveAlerts())))
	e.auditor.Log(audit.Event{
		Kind:      audit.KindAlertRaised,
		Subject:   alertSubject(a.ID),
		Severity:  string(a.Severity),
		Payload:   audit.ToPayload(a),
		Timestamp: a.CreatedAt,
	})
	e.events.Publish(StreamEvent{Type: EventAlertRaised, Alert: &a, Timestamp: a.CreatedAt})

	e.logger.Info("alert raised",
		zap.Uint64("alert_id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.String("source", a.Source),
		zap.String("title", a.Title))

	e.notify(ctx, a, d.NotifyChannels)
	return a
}

// notify не блокирует тик и не повторяет доставку.
func (e *Engine) notify(ctx context.Context, a domain.Alert, channels []domain.ChannelKind) {
	if e.notifier == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, ch := range channels {
		e.notifyWG.Add(1)
		go func(ch domain.ChannelKind) {
			defer e.notifyWG.Done()

			nCtx, cancel := context.WithTimeout(base, e.cfg.NotifyTimeout)
			defer cancel()

			if err := e.notifier.Notify(nCtx, a, ch); err != nil {
				opErr := domain.NewOpError(domain.KindChannelDeliveryFailure, "notify."+string(ch), err)
				e.metrics.ErrorTotal.WithLabelValues(string(opErr.Kind)).Inc()
				e.logger.Warn("alert delivery failed",
					zap.Uint64("alert_id", a.ID),
					zap.String("channel", string(ch)),
					zap.Error(opErr))
			}
		}(ch)
	}
}

func (e *Engine) alertResolved(a domain.Alert) {
	e.metrics.ActiveAlerts.Set(float64(len(e.alerts.ActiveAlerts())))
	ts := e.now()
	if a.ResolvedAt != nil {
		ts = *a.ResolvedAt
	}
	e.auditor.Log(audit.Event{
		Kind:      audit.KindAlertResolved,
		Subject:   alertSubject(a.ID),
		Severity:  string(a.Severity),
		Payload:   audit.ToPayload(a),
		Timestamp: ts,
	})
	e.events.Publish(StreamEvent{Type: EventAlertResolved, Alert: &a, Timestamp: ts})
	e.logger.Info("alert resolved", zap.Uint64("alert_id", a.ID))
}

func alertSubject(id uint64) string {
	return domain.Trigger{AlertID: id}.String()
}

// ---- команды ----

// Acknowledge идемпотентен. Неизвестный id, ErrAlertNotFound.
func (e *Engine) Acknowledge(id uint64) (domain.Alert, error) {
	before, ok := e.alerts.Get(id)
	a, err := e.alerts.Acknowledge(id)
	if err != nil {
		return domain.Alert{}, err
	}
	if ok && !before.Acknowledged {
		e.auditor.Log(audit.Event{
			Kind:      audit.KindAlertAcknowledged,
			Subject:   alertSubject(a.ID),
			Severity:  string(a.Severity),
			Payload:   audit.ToPayload(a),
			Timestamp: e.now(),
		})
		e.events.Publish(StreamEvent{Type: EventAlertAcknowledged, Alert: &a})
	}
	return a, nil
}

// Resolve идемпотентен: resolved_at выставляется один раз.
func (e *Engine) Resolve(id uint64) (domain.Alert, error) {
	a, transitioned, err := e.alerts.Resolve(id)
	if err != nil {
		return domain.Alert{}, err
	}
	if transitioned {
		e.alertResolved(a)
	}
	return a, nil
}

// ExecuteAction: ручной запуск действия. Алерты не закрывает.
func (e *Engine) ExecuteAction(ctx context.Context, actionID string) error {
	return e.orch.ExecuteAction(ctx, actionID)
}

// ExecutePeerCommand: запуск по команде из шины кластера. Проигравший кластерную блокировку
// инстанс молча пропускает команду: ее выполняет владелец блокировки.
func (e *Engine) ExecutePeerCommand(ctx context.Context, actionID string) error {
	return e.orch.ExecutePeerCommand(ctx, actionID)
}

// ExecuteForError: ручной запуск действия по конкретному ErrorEvent.
func (e *Engine) ExecuteForError(ctx context.Context, actionID, errorID string) error {
	return e.orch.ExecuteForError(ctx, actionID, errorID)
}

// ReportError регистрирует ошибку. Critical запускает автоматическое восстановление.
func (e *Engine) ReportError(ctx context.Context, ev domain.ErrorEvent) (domain.ErrorEvent, []string, error) {
	return e.orch.HandleError(ctx, ev)
}

// ResolveError: ручное закрытие ErrorEvent оператором.
func (e *Engine) ResolveError(id string) (domain.ErrorEvent, error) {
	ev, transitioned, err := e.errors.Resolve(id)
	if err != nil {
		return domain.ErrorEvent{}, err
	}
	if transitioned {
		e.health.AdjustOpenErrors(ev.Context.Component, -1)
	}
	return ev, nil
}

func (e *Engine) UpsertRule(r domain.AlertRule) error { return e.rules.Upsert(r) }

func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	return e.rules.SetEnabled(id, enabled)
}

// ---- запросы ----

func (e *Engine) ActiveAlerts() []domain.Alert   { return e.alerts.ActiveAlerts() }
func (e *Engine) CriticalAlerts() []domain.Alert { return e.alerts.CriticalActive() }
func (e *Engine) Alerts() []domain.Alert         { return e.alerts.All() }

func (e *Engine) Alert(id uint64) (domain.Alert, bool) { return e.alerts.Get(id) }

func (e *Engine) ComponentHealth() []domain.ComponentHealth { return e.health.Snapshot() }

func (e *Engine) RecoveryHistory() []domain.ExecutionRecord { return e.history.Snapshot() }

func (e *Engine) Errors() []domain.ErrorEvent { return e.errors.List() }

func (e *Engine) Error(id string) (domain.ErrorEvent, bool) { return e.errors.Get(id) }

func (e *Engine) Rules() []domain.RuleStatus { return e.rules.Rules(e.now()) }

func (e *Engine) Actions() []domain.ActionSpec { return e.registry.Specs() }

func (e *Engine) ApplicableActions(t domain.ErrorType) []domain.ActionSpec {
	acts := e.registry.ApplicableActions(t)
	out := make([]domain.ActionSpec, 0, len(acts))
	for _, a := range acts {
		out = append(out, a.ActionSpec)
	}
	return out
}

func (e *Engine) ActiveRecoveries() []string { return e.orch.Active() }

// LatestSample: последний сэмпл из окна (для UI и отладки).
func (e *Engine) LatestSample() (domain.SystemMetricSample, bool) { return e.sampler.Latest() }

// MetricWindow: скользящее окно сэмплов для графиков тренда, от старых к новым.
func (e *Engine) MetricWindow() []domain.SystemMetricSample { return e.sampler.Window() }

// Subscribe: поток событий ядра. Вызывающий обязан вызвать функцию отписки.
func (e *Engine) Subscribe(buffer int) (<-chan StreamEvent, func()) {
	return e.events.Subscribe(buffer)
}

// ExportReport: сводка для офлайн-аудита. Пустые коллекции отдаются как [], не null.
func (e *Engine) ExportReport() domain.Report {
	history := e.history.Snapshot()
	alerts := e.alerts.All()

	s := domain.ReportSummary{
		GeneratedAt: e.now(),
		TotalAlerts: len(alerts),
		OpenErrors:  e.errors.OpenCount(),
		Monitoring:  e.IsMonitoring(),
	}
	for _, r := range history {
		switch r.Outcome {
		case domain.OutcomeSuccess:
			s.SuccessfulTests++
		case domain.OutcomeRejected:
			s.RejectedTests++
		default:
			s.FailedTests++
		}
	}
	s.TotalTests = len(history)
	if s.TotalTests > 0 {
		s.SuccessRate = float64(s.SuccessfulTests) / float64(s.TotalTests) * 100
	}
	for _, a := range alerts {
		if a.Resolved {
			continue
		}
		s.ActiveAlerts++
		if a.Severity.IsCritical() {
			s.CriticalAlerts++
		}
	}

	return domain.Report{
		Summary:          s,
		ComponentHealth:  e.health.Snapshot(),
		Alerts:           alerts,
		ExecutionHistory: history,
	}
}
