package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
)

// AlertStore: журнал алертов только на добавление. Единственный, кто меняет жизненный цикл алерта.
type AlertStore struct {
	mu     sync.RWMutex
	seq    uint64
	alerts []*domain.Alert // в порядке ID
	byID   map[uint64]*domain.Alert
	now    func() time.Time
}

func NewAlertStore(now func() time.Time) *AlertStore {
	if now == nil {
		now = time.Now
	}
	return &AlertStore{
		byID: make(map[uint64]*domain.Alert),
		now:  now,
	}
}

// Raise присваивает строго возрастающий ID и фиксирует алерт.
func (s *AlertStore) Raise(d domain.AlertDraft) domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	a := &domain.Alert{
		ID:        s.seq,
		Severity:  d.Severity,
		Title:     d.Title,
		Message:   d.Message,
		Source:    d.Source,
		CreatedAt: s.now(),
		Metadata:  d.Metadata,
		RecoverAs: d.RecoverAs,
	}
	s.alerts = append(s.alerts, a)
	s.byID[a.ID] = a
	return *a
}

// Acknowledge идемпотентен и на резолв не влияет.
func (s *AlertStore) Acknowledge(id uint64) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return domain.Alert{}, fmt.Errorf("%w: %d", domain.ErrAlertNotFound, id)
	}
	a.Acknowledged = true
	return copyAlert(a), nil
}

// Resolve идемпотентен: ResolvedAt выставляется один раз и дальше не меняется.
// Второе значение true, если этот вызов перевел алерт в resolved.
func (s *AlertStore) Resolve(id uint64) (domain.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return domain.Alert{}, false, fmt.Errorf("%w: %d", domain.ErrAlertNotFound, id)
	}
	if a.Resolved {
		return copyAlert(a), false, nil
	}
	now := s.now()
	a.Resolved = true
	a.ResolvedAt = &now
	return copyAlert(a), true, nil
}

func (s *AlertStore) Get(id uint64) (domain.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return domain.Alert{}, false
	}
	return copyAlert(a), true
}

// ActiveAlerts: все нерезолвленные.
func (s *AlertStore) ActiveAlerts() []domain.Alert {
	return s.filter(func(a *domain.Alert) bool { return !a.Resolved })
}

// CriticalActive: нерезолвленные critical/emergency.
func (s *AlertStore) CriticalActive() []domain.Alert {
	return s.filter(func(a *domain.Alert) bool { return !a.Resolved && a.Severity.IsCritical() })
}

func (s *AlertStore) All() []domain.Alert {
	return s.filter(func(*domain.Alert) bool { return true })
}

func (s *AlertStore) filter(keep func(a *domain.Alert) bool) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Гарантируем [] вместо null в JSON
	out := make([]domain.Alert, 0)
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, copyAlert(a))
		}
	}
	return out
}

func copyAlert(a *domain.Alert) domain.Alert {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return cp
}
