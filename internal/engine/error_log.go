package engine

import (
	"sync"

	"github.com/xela07ax/opsguard/internal/domain"
)

// ErrorLog хранит ErrorEvent'ы. Пишет в него только оркестратор.
type ErrorLog struct {
	mu       sync.RWMutex
	order    []string
	byID     map[string]*domain.ErrorEvent
	capacity int
}

func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ErrorLog{byID: make(map[string]*domain.ErrorEvent), capacity: capacity}
}

func (l *ErrorLog) Record(ev domain.ErrorEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[ev.ID]; ok {
		return
	}
	// Вытесняем самые старые, когда лимит исчерпан
	for len(l.order) >= l.capacity {
		delete(l.byID, l.order[0])
		l.order = l.order[1:]
	}
	cp := ev
	l.byID[ev.ID] = &cp
	l.order = append(l.order, ev.ID)
}

func (l *ErrorLog) Get(id string) (domain.ErrorEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ev, ok := l.byID[id]
	if !ok {
		return domain.ErrorEvent{}, false
	}
	return *ev, true
}

// NoteAttempt фиксирует попытку восстановления. При успехе событие становится resolved + auto_resolved.
// transitioned = true только для вызова, который реально закрыл событие.
func (l *ErrorLog) NoteAttempt(id string, success bool) (ev domain.ErrorEvent, transitioned bool, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return domain.ErrorEvent{}, false, false
	}
	e.ResolutionAttempts++
	if success && !e.Resolved {
		e.Resolved = true
		e.AutoResolved = true
		transitioned = true
	}
	return *e, transitioned, true
}

// Resolve: ручное закрытие оператором, auto_resolved остается false.
func (l *ErrorLog) Resolve(id string) (domain.ErrorEvent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return domain.ErrorEvent{}, false, domain.ErrErrorNotFound
	}
	if e.Resolved {
		return *e, false, nil
	}
	e.Resolved = true
	return *e, true, nil
}

func (l *ErrorLog) List() []domain.ErrorEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.ErrorEvent, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id])
	}
	return out
}

func (l *ErrorLog) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.byID {
		if !e.Resolved {
			n++
		}
	}
	return n
}
