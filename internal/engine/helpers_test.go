package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeSource отдает заранее заданный сэмпл или ошибку.
type fakeSource struct {
	mu     sync.Mutex
	sample domain.SystemMetricSample
	err    error
	calls  int
}

func (f *fakeSource) Set(s domain.SystemMetricSample) {
	f.mu.Lock()
	f.sample, f.err = s, nil
	f.mu.Unlock()
}

func (f *fakeSource) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) Sample(context.Context) (domain.SystemMetricSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.SystemMetricSample{}, f.err
	}
	return f.sample, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gateRunner блокируется, пока тест не откроет release.
type gateRunner struct {
	started chan struct{}
	release chan struct{}
	err     error
	calls   atomic.Int32
}

func newGate() *gateRunner {
	return &gateRunner{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gateRunner) Execute(ctx context.Context) error {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateRunner) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not start")
	}
}

// countingRunner возвращает ошибки из очереди, потом nil.
type countingRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *countingRunner) Execute(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *countingRunner) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var okRunner = RunnerFunc(func(context.Context) error { return nil })

// registryWith: стандартный каталог, исполнители по id (по умолчанию успешные).
func registryWith(t *testing.T, runners map[string]Runner) *Registry {
	t.Helper()
	reg, err := NewDefaultRegistry(func(spec domain.ActionSpec) Runner {
		if r, ok := runners[spec.ID]; ok {
			return r
		}
		return okRunner
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

type orchFixture struct {
	orch    *Orchestrator
	alerts  *AlertStore
	history *History
	errors  *ErrorLog
	health  *HealthTracker
	metrics *Metrics
}

func newOrchFixture(t *testing.T, reg *Registry, cfg OrchestratorConfig) *orchFixture {
	t.Helper()
	f := &orchFixture{
		alerts:  NewAlertStore(nil),
		history: NewHistory(100),
		errors:  NewErrorLog(100),
		health:  NewHealthTracker(10, DefaultComponentProbes),
		metrics: NewMetrics(nil),
	}
	f.orch = NewOrchestrator(reg, f.alerts, f.health, f.history, f.errors, nil, f.metrics, cfg, zap.NewNop())
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func recordsFor(h *History, actionID string) []domain.ExecutionRecord {
	var out []domain.ExecutionRecord
	for _, r := range h.Snapshot() {
		if r.ActionID == actionID {
			out = append(out, r)
		}
	}
	return out
}
