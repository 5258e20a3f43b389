package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/opsguard/internal/domain"
)

// Runner: единственная операция с побочным эффектом. Повторный вызов должен быть безопасен.
type Runner interface {
	Execute(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Execute(ctx context.Context) error { return f(ctx) }

// Action: запись каталога вместе с исполнителем.
type Action struct {
	domain.ActionSpec
	runner Runner
}

// DefaultCatalog: порядок объявления и есть порядок выбора.
func DefaultCatalog() []domain.ActionSpec {
	return []domain.ActionSpec{
		{ID: "cache-clear", Name: "Clear client cache", Automated: true, EstimatedSeconds: 5, SuccessRate: 95,
			Applicability: []domain.ErrorType{domain.ErrorClient}},
		{ID: "service-restart", Name: "Restart service", Automated: true, EstimatedSeconds: 30, SuccessRate: 88,
			Applicability: []domain.ErrorType{domain.ErrorServer, domain.ErrorDatabase, domain.ErrorNetwork}},
		{ID: "database-reconnect", Name: "Reconnect database pool", Automated: true, EstimatedSeconds: 10, SuccessRate: 92,
			Applicability: []domain.ErrorType{domain.ErrorDatabase, domain.ErrorServer}},
		{ID: "memory-cleanup", Name: "Memory cleanup", Automated: true, EstimatedSeconds: 15, SuccessRate: 85,
			Applicability: []domain.ErrorType{domain.ErrorClient}},
		{ID: "failover-switch", Name: "Switch to failover", Automated: false, EstimatedSeconds: 60, SuccessRate: 98,
			Applicability: []domain.ErrorType{domain.ErrorNetwork, domain.ErrorServer}},
	}
}

// Registry: каталог действий с явной таблицей применимости (без разбора строк).
type Registry struct {
	mu            sync.RWMutex
	actions       []Action
	byID          map[string]int
	applicability map[domain.ErrorType][]int
}

func NewRegistry() *Registry {
	return &Registry{
		byID:          make(map[string]int),
		applicability: make(map[domain.ErrorType][]int),
	}
}

// NewDefaultRegistry собирает стандартный каталог. runnerFor выдает исполнителя под каждую запись.
func NewDefaultRegistry(runnerFor func(spec domain.ActionSpec) Runner) (*Registry, error) {
	r := NewRegistry()
	for _, spec := range DefaultCatalog() {
		if err := r.Register(spec, runnerFor(spec)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(spec domain.ActionSpec, runner Runner) error {
	if spec.ID == "" {
		return fmt.Errorf("registry: action id is required")
	}
	if runner == nil {
		return fmt.Errorf("registry: action %s has no runner", spec.ID)
	}
	for _, t := range spec.Applicability {
		if !t.Valid() {
			return fmt.Errorf("registry: action %s: unknown error type %q", spec.ID, t)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[spec.ID]; ok {
		return fmt.Errorf("registry: duplicate action %s", spec.ID)
	}
	idx := len(r.actions)
	r.actions = append(r.actions, Action{ActionSpec: spec, runner: runner})
	r.byID[spec.ID] = idx
	for _, t := range spec.Applicability {
		r.applicability[t] = append(r.applicability[t], idx)
	}
	return nil
}

// ApplicableActions: только действия, чей набор применимости содержит t, в порядке каталога.
func (r *Registry) ApplicableActions(t domain.ErrorType) []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idxs := r.applicability[t]
	out := make([]Action, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.actions[i])
	}
	return out
}

func (r *Registry) Get(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byID[id]
	if !ok {
		return Action{}, false
	}
	return r.actions[i], true
}

// Specs: каталог для отображения.
func (r *Registry) Specs() []domain.ActionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ActionSpec, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a.ActionSpec)
	}
	return out
}
