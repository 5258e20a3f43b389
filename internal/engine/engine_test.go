package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xela07ax/opsguard/internal/audit"
	"github.com/xela07ax/opsguard/internal/domain"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.ChannelKind
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, _ domain.Alert, ch domain.ChannelKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ch)
	return n.err
}

func (n *recordingNotifier) Sent() []domain.ChannelKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ChannelKind(nil), n.sent...)
}

type memAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAuditor) Log(ev audit.Event) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *memAuditor) Count(kind audit.EventKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ev := range a.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type engineFixture struct {
	engine   *Engine
	source   *fakeSource
	clock    *fakeClock
	notifier *recordingNotifier
	auditor  *memAuditor
	metrics  *Metrics
}

func newEngineFixture(t *testing.T, rules ...domain.AlertRule) *engineFixture {
	t.Helper()
	f := &engineFixture{
		source:   &fakeSource{},
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		auditor:  &memAuditor{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	e, err := New(Config{TickInterval: time.Hour, SampleAttempts: 1, Rules: rules}, Deps{
		Source:   f.source,
		Notifier: f.notifier,
		Auditor:  f.auditor,
		Metrics:  f.metrics,
		Registry: registryWith(t, nil),
		Now:      f.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.engine = e
	t.Cleanup(e.Stop)
	return f
}

func TestNewRequiresSource(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatalf("expected error without source")
	}
}

func TestTickRaisesAlertAndNotifies(t *testing.T) {
	f := newEngineFixture(t, cpuRule())
	f.source.Set(domain.SystemMetricSample{CPU: 96})

	f.engine.Tick(context.Background())
	f.engine.Wait()

	alerts := f.engine.ActiveAlerts()
	if len(alerts) != 1 || alerts[0].Severity != domain.SeverityCritical || alerts[0].Source != "rule:critical-cpu" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
	if sent := f.notifier.Sent(); len(sent) != 1 || sent[0] != domain.ChannelSlack {
		t.Fatalf("expected slack delivery, got %v", sent)
	}
	if f.auditor.Count(audit.KindAlertRaised) != 1 {
		t.Fatalf("alert must be journaled")
	}
	if got := testutil.ToFloat64(f.metrics.Ticks.WithLabelValues("fresh")); got != 1 {
		t.Fatalf("fresh ticks = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.ActiveAlerts); got != 1 {
		t.Fatalf("active alerts gauge = %v", got)
	}
}

func TestCooldownAcrossTicks(t *testing.T) {
	f := newEngineFixture(t, cpuRule())

	f.source.Set(domain.SystemMetricSample{CPU: 96})
	f.engine.Tick(context.Background())

	f.clock.Advance(time.Minute)
	f.source.Set(domain.SystemMetricSample{CPU: 97})
	f.engine.Tick(context.Background())
	f.engine.Wait()

	if n := len(f.engine.Alerts()); n != 1 {
		t.Fatalf("expected one alert during cooldown, got %d", n)
	}
	rules := f.engine.Rules()
	if len(rules) != 1 || rules[0].State != domain.RuleCooling {
		t.Fatalf("rule should be cooling: %+v", rules)
	}

	f.clock.Advance(4 * time.Minute)
	f.engine.Tick(context.Background())
	f.engine.Wait()
	if n := len(f.engine.Alerts()); n != 2 {
		t.Fatalf("expected second alert after cooldown, got %d", n)
	}
}

func TestStaleMetaAlertLifecycle(t *testing.T) {
	f := newEngineFixture(t, cpuRule())
	ctx := context.Background()

	f.source.Set(domain.SystemMetricSample{CPU: 10})
	f.engine.Tick(ctx)

	f.source.Fail(errors.New("agent down"))
	for i := 0; i < 3; i++ {
		f.engine.Tick(ctx)
	}
	active := f.engine.ActiveAlerts()
	if len(active) != 1 || active[0].Title != "Metrics stale" || active[0].Source != "monitor" {
		t.Fatalf("expected a single stale alert, got %+v", active)
	}
	if got := testutil.ToFloat64(f.metrics.Ticks.WithLabelValues("stale")); got != 3 {
		t.Fatalf("stale ticks = %v", got)
	}

	// Правила по устаревшим данным не срабатывают
	f.source.Fail(errors.New("still down"))
	f.engine.Tick(ctx)
	if n := len(f.engine.Alerts()); n != 1 {
		t.Fatalf("stale sample must not be evaluated, got %d alerts", n)
	}

	f.source.Set(domain.SystemMetricSample{CPU: 10})
	f.engine.Tick(ctx)
	f.engine.Wait()
	if n := len(f.engine.ActiveAlerts()); n != 0 {
		t.Fatalf("stale alert should resolve on fresh sample, %d active", n)
	}
	if f.auditor.Count(audit.KindAlertResolved) != 1 {
		t.Fatalf("resolution must be journaled")
	}
}

func TestEmptyTickDoesNothing(t *testing.T) {
	f := newEngineFixture(t, cpuRule())
	f.source.Fail(errors.New("never up"))

	f.engine.Tick(context.Background())
	if len(f.engine.Alerts()) != 0 {
		t.Fatalf("no alerts expected without any sample")
	}
	if got := testutil.ToFloat64(f.metrics.Ticks.WithLabelValues("empty")); got != 1 {
		t.Fatalf("empty ticks = %v", got)
	}
}

func TestDeliveryFailureIsCounted(t *testing.T) {
	f := newEngineFixture(t, cpuRule())
	f.notifier.err = errors.New("slack 500")
	f.source.Set(domain.SystemMetricSample{CPU: 99})

	f.engine.Tick(context.Background())
	f.engine.Wait()

	if len(f.engine.ActiveAlerts()) != 1 {
		t.Fatalf("alert must be kept despite delivery failure")
	}
	got := testutil.ToFloat64(f.metrics.ErrorTotal.WithLabelValues(string(domain.KindChannelDeliveryFailure)))
	if got != 1 {
		t.Fatalf("delivery failures = %v", got)
	}
}

func TestCriticalRuleTriggersRecovery(t *testing.T) {
	r := cpuRule()
	r.ID, r.MetricPath, r.Threshold, r.RecoverAs = "memory-critical", "memory", 90, domain.ErrorClient
	f := newEngineFixture(t, r)
	f.source.Set(domain.SystemMetricSample{Memory: 95})

	f.engine.Tick(context.Background())
	f.engine.Wait()

	if n := len(f.engine.ActiveAlerts()); n != 0 {
		t.Fatalf("successful recovery should resolve the alert, %d active", n)
	}
	history := f.engine.RecoveryHistory()
	if len(history) != 2 || history[0].TriggeredBy != "alert:1" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	f := newEngineFixture(t, cpuRule())
	f.source.Set(domain.SystemMetricSample{CPU: 99})
	f.engine.Tick(context.Background())
	f.engine.Wait()

	events, unsubscribe := f.engine.Subscribe(8)
	defer unsubscribe()

	id := f.engine.ActiveAlerts()[0].ID
	for i := 0; i < 2; i++ {
		if _, err := f.engine.Acknowledge(id); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
	if f.auditor.Count(audit.KindAlertAcknowledged) != 1 {
		t.Fatalf("only the first ack is journaled")
	}
	if ev := <-events; ev.Type != EventAlertAcknowledged {
		t.Fatalf("expected ack event, got %s", ev.Type)
	}

	if _, err := f.engine.Resolve(id); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ev := <-events; ev.Type != EventAlertResolved {
		t.Fatalf("expected resolve event, got %s", ev.Type)
	}
	if _, err := f.engine.Resolve(999); !errors.Is(err, domain.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestResolveErrorByOperator(t *testing.T) {
	f := newEngineFixture(t)
	ev := dbCritical()
	ev.Severity = domain.SeverityWarning
	stored, _, err := f.engine.ReportError(context.Background(), ev)
	if err != nil {
		t.Fatalf("ReportError: %v", err)
	}

	got, err := f.engine.ResolveError(stored.ID)
	if err != nil || !got.Resolved || got.AutoResolved {
		t.Fatalf("manual resolve: %+v err=%v", got, err)
	}
	if h, _ := f.engine.health.Get("database"); h.OpenErrors != 0 {
		t.Fatalf("open errors not decremented")
	}
	if _, err := f.engine.ResolveError("missing"); !errors.Is(err, domain.ErrErrorNotFound) {
		t.Fatalf("expected ErrErrorNotFound, got %v", err)
	}
}

func TestExportReportOnEmptySystem(t *testing.T) {
	f := newEngineFixture(t)

	r := f.engine.ExportReport()
	if r.Summary.TotalTests != 0 || r.Summary.SuccessRate != 0 {
		t.Fatalf("unexpected summary: %+v", r.Summary)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"alerts":[]`, `"execution_history":[]`, `"total_tests":0`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("report %s missing %s", raw, want)
		}
	}
}

func TestExportReportCountsOutcomes(t *testing.T) {
	f := newEngineFixture(t)
	gate := newGate()
	reg := NewRegistry()
	_ = reg.Register(domain.ActionSpec{ID: "slow", Applicability: []domain.ErrorType{domain.ErrorClient}}, gate)
	f.engine.orch.registry = reg

	if err := f.engine.ExecuteAction(context.Background(), "slow"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	gate.waitStarted(t)
	_ = f.engine.ExecuteAction(context.Background(), "slow")
	close(gate.release)
	f.engine.Wait()

	s := f.engine.ExportReport().Summary
	if s.TotalTests != 2 || s.SuccessfulTests != 1 || s.RejectedTests != 1 || s.SuccessRate != 50 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestStartStopPause(t *testing.T) {
	f := newEngineFixture(t, cpuRule())
	f.source.Set(domain.SystemMetricSample{CPU: 1})

	if err := f.engine.Pause(); !errors.Is(err, domain.ErrEngineNotRunning) {
		t.Fatalf("pause before start: expected ErrEngineNotRunning, got %v", err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	// Первый тик выполняется сразу
	waitFor(t, func() bool {
		_, ok := f.engine.LatestSample()
		return ok
	})
	if !f.engine.IsMonitoring() {
		t.Fatalf("engine should be monitoring")
	}

	if err := f.engine.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if f.engine.IsMonitoring() {
		t.Fatalf("paused engine is not monitoring")
	}
	if err := f.engine.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !f.engine.IsMonitoring() {
		t.Fatalf("resumed engine should be monitoring")
	}

	f.engine.Stop()
	if f.engine.IsMonitoring() {
		t.Fatalf("stopped engine is not monitoring")
	}
	if err := f.engine.Resume(); !errors.Is(err, domain.ErrEngineNotRunning) {
		t.Fatalf("resume after stop: expected ErrEngineNotRunning, got %v", err)
	}
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestPausedEngineSchedulesNoTicks(t *testing.T) {
	src := &fakeSource{}
	src.Set(domain.SystemMetricSample{CPU: 1})
	e, err := New(Config{TickInterval: 5 * time.Millisecond, SampleAttempts: 1}, Deps{Source: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Stop)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return src.Calls() >= 3 })

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Тик, начатый до паузы, может еще завершиться
	time.Sleep(20 * time.Millisecond)
	before := src.Calls()
	time.Sleep(60 * time.Millisecond)
	if got := src.Calls(); got != before {
		t.Fatalf("paused engine sampled %d more times", got-before)
	}

	if err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, func() bool { return src.Calls() > before })
}

func TestInflightRecoverySurvivesPauseAndStop(t *testing.T) {
	f := newEngineFixture(t)
	gate := newGate()
	reg := NewRegistry()
	_ = reg.Register(domain.ActionSpec{ID: "cache-clear", EstimatedSeconds: 60, Applicability: []domain.ErrorType{domain.ErrorClient}}, gate)
	f.engine.orch.registry = reg

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.ExecuteAction(ctx, "cache-clear"); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	gate.waitStarted(t)

	cancel()
	_ = f.engine.Pause()
	stopped := make(chan struct{})
	go func() {
		f.engine.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("Stop must wait for the in-flight recovery")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return after the recovery finished")
	}

	recs := f.engine.RecoveryHistory()
	if len(recs) != 1 || recs[0].ActionID != "cache-clear" || recs[0].Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected one success record, got %+v", recs)
	}
}

func TestNewRejectsAmbiguousInstanceID(t *testing.T) {
	for _, id := range []string{"node:a", "node/a"} {
		if _, err := New(Config{InstanceID: id}, Deps{Source: &fakeSource{}}); err == nil {
			t.Fatalf("instance id %q must be rejected", id)
		}
	}
	e, err := New(Config{}, Deps{Source: &fakeSource{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.InstanceID() == "" {
		t.Fatalf("instance id must be generated")
	}
}

func TestMetricWindowKeepsSamplesInOrder(t *testing.T) {
	f := newEngineFixture(t)
	if w := f.engine.MetricWindow(); len(w) != 0 {
		t.Fatalf("empty window expected, got %d", len(w))
	}
	for _, cpu := range []float64{10, 20, 30} {
		f.source.Set(domain.SystemMetricSample{CPU: cpu})
		f.engine.Tick(context.Background())
	}
	w := f.engine.MetricWindow()
	if len(w) != 3 || w[0].CPU != 10 || w[2].CPU != 30 {
		t.Fatalf("unexpected window: %+v", w)
	}
}
