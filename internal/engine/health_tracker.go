package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
)

// ComponentProbe извлекает из сэмпла error rate (%) и задержку (мс) конкретного компонента.
type ComponentProbe struct {
	Name    string
	Extract func(s domain.SystemMetricSample) (errorRate, latencyMs float64)
}

// DefaultComponentProbes: компоненты, которые выводятся прямо из SystemMetricSample.
var DefaultComponentProbes = []ComponentProbe{
	{Name: "application", Extract: func(s domain.SystemMetricSample) (float64, float64) {
		return s.Application.ErrorRate, s.Application.ResponseTimeMs
	}},
	{Name: "database", Extract: func(s domain.SystemMetricSample) (float64, float64) {
		return s.Database.ErrorRate, s.Database.QueryTimeMs
	}},
	{Name: "network", Extract: func(s domain.SystemMetricSample) (float64, float64) {
		return 0, s.Network.LatencyMs
	}},
}

type observation struct {
	up        bool
	errorRate float64
	latencyMs float64
}

type componentWindow struct {
	obs        []observation
	head, size int
	openErrors int
	updatedAt  time.Time
}

func (w *componentWindow) push(o observation) {
	w.obs[w.head] = o
	w.head = (w.head + 1) % len(w.obs)
	if w.size < len(w.obs) {
		w.size++
	}
}

func (w *componentWindow) health(name string) domain.ComponentHealth {
	h := domain.ComponentHealth{Component: name, Uptime: 100, OpenErrors: w.openErrors, Samples: w.size, UpdatedAt: w.updatedAt}
	if w.size > 0 {
		var up int
		var errSum, latSum float64
		for i := 0; i < w.size; i++ {
			o := w.obs[i]
			if !o.up {
				continue
			}
			up++
			errSum += o.errorRate
			latSum += o.latencyMs
		}
		h.Uptime = float64(up) / float64(w.size) * 100
		if up > 0 {
			h.ErrorRate = errSum / float64(up)
			h.AvgLatencyMs = latSum / float64(up)
		}
	}
	h.Status = domain.ClassifyHealth(h.ErrorRate, h.AvgLatencyMs, h.Uptime)
	return h
}

// HealthTracker держит скользящее окно по каждому компоненту.
// Писатель один (драйвер тиков и оркестратор под mu), читатели получают готовый снимок без блокировок.
type HealthTracker struct {
	probes     []ComponentProbe
	windowSize int

	mu         sync.Mutex
	components map[string]*componentWindow
	snapshot   atomic.Pointer[[]domain.ComponentHealth]
}

func NewHealthTracker(windowSize int, probes []ComponentProbe) *HealthTracker {
	if windowSize <= 0 {
		windowSize = 60
	}
	if probes == nil {
		probes = DefaultComponentProbes
	}
	t := &HealthTracker{
		probes:     probes,
		windowSize: windowSize,
		components: make(map[string]*componentWindow),
	}
	for _, p := range probes {
		t.components[p.Name] = t.newWindow()
	}
	t.publish()
	return t
}

func (t *HealthTracker) newWindow() *componentWindow {
	return &componentWindow{obs: make([]observation, t.windowSize)}
}

// Observe учитывает тик. Устаревший сэмпл считается простоем для всех компонентов.
func (t *HealthTracker) Observe(tick Tick) {
	if !tick.OK {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := tick.Sample.Timestamp
	for _, p := range t.probes {
		w := t.components[p.Name]
		o := observation{up: !tick.Stale}
		if o.up {
			o.errorRate, o.latencyMs = p.Extract(tick.Sample)
		}
		w.push(o)
		w.updatedAt = now
	}
	t.publish()
}

// AdjustOpenErrors меняет счетчик открытых ErrorEvent компонента. Неизвестный компонент создается.
func (t *HealthTracker) AdjustOpenErrors(component string, delta int) {
	if component == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.components[component]
	if !ok {
		w = t.newWindow()
		t.components[component] = w
	}
	w.openErrors += delta
	if w.openErrors < 0 {
		w.openErrors = 0
	}
	t.publish()
}

// publish пересобирает неизменяемый снимок. Вызывать под mu.
func (t *HealthTracker) publish() {
	out := make([]domain.ComponentHealth, 0, len(t.components))
	for name, w := range t.components {
		out = append(out, w.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	t.snapshot.Store(&out)
}

// Snapshot: чтение без блокировок. Возвращаемый слайс не меняется, но вызывающий получает копию.
func (t *HealthTracker) Snapshot() []domain.ComponentHealth {
	p := t.snapshot.Load()
	if p == nil {
		return []domain.ComponentHealth{}
	}
	out := make([]domain.ComponentHealth, len(*p))
	copy(out, *p)
	return out
}

func (t *HealthTracker) Get(component string) (domain.ComponentHealth, bool) {
	for _, h := range t.Snapshot() {
		if h.Component == component {
			return h, true
		}
	}
	return domain.ComponentHealth{}, false
}
