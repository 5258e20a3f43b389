package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
)

func TestAlertIDsAreMonotonic(t *testing.T) {
	s := NewAlertStore(nil)
	var prev uint64
	for i := 0; i < 5; i++ {
		a := s.Raise(domain.AlertDraft{Severity: domain.SeverityInfo, Title: "t"})
		if a.ID <= prev {
			t.Fatalf("id %d not greater than %d", a.ID, prev)
		}
		prev = a.ID
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	s := NewAlertStore(nil)
	a := s.Raise(domain.AlertDraft{Severity: domain.SeverityWarning, Title: "t"})

	for i := 0; i < 2; i++ {
		got, err := s.Acknowledge(a.ID)
		if err != nil {
			t.Fatalf("ack: %v", err)
		}
		if !got.Acknowledged || got.Resolved {
			t.Fatalf("ack must not resolve: %+v", got)
		}
	}
	if len(s.ActiveAlerts()) != 1 {
		t.Fatalf("acknowledged alert is still active")
	}
}

func TestResolveKeepsFirstTimestamp(t *testing.T) {
	clock := newFakeClock()
	s := NewAlertStore(clock.Now)
	a := s.Raise(domain.AlertDraft{Severity: domain.SeverityCritical, Title: "t"})

	clock.Advance(time.Minute)
	first, changed, err := s.Resolve(a.ID)
	if err != nil || !changed {
		t.Fatalf("first resolve: changed=%v err=%v", changed, err)
	}
	clock.Advance(time.Minute)
	second, changed, err := s.Resolve(a.ID)
	if err != nil || changed {
		t.Fatalf("second resolve: changed=%v err=%v", changed, err)
	}
	if !second.ResolvedAt.Equal(*first.ResolvedAt) {
		t.Fatalf("resolved_at moved: %v -> %v", first.ResolvedAt, second.ResolvedAt)
	}
	if !first.ResolvedAt.After(first.CreatedAt) {
		t.Fatalf("resolved_at must follow created_at")
	}
}

func TestUnknownAlert(t *testing.T) {
	s := NewAlertStore(nil)
	if _, err := s.Acknowledge(42); !errors.Is(err, domain.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
	if _, _, err := s.Resolve(42); !errors.Is(err, domain.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestAlertFilters(t *testing.T) {
	s := NewAlertStore(nil)
	s.Raise(domain.AlertDraft{Severity: domain.SeverityWarning, Title: "w"})
	crit := s.Raise(domain.AlertDraft{Severity: domain.SeverityCritical, Title: "c"})
	s.Raise(domain.AlertDraft{Severity: domain.SeverityEmergency, Title: "e"})

	if n := len(s.CriticalActive()); n != 2 {
		t.Fatalf("expected 2 critical, got %d", n)
	}
	s.Resolve(crit.ID)
	if n := len(s.CriticalActive()); n != 1 {
		t.Fatalf("expected 1 critical after resolve, got %d", n)
	}
	if n := len(s.ActiveAlerts()); n != 2 {
		t.Fatalf("expected 2 active, got %d", n)
	}
	if n := len(s.All()); n != 3 {
		t.Fatalf("resolved alerts stay in the log, got %d", n)
	}
}

func TestReturnedAlertIsACopy(t *testing.T) {
	s := NewAlertStore(nil)
	a := s.Raise(domain.AlertDraft{Severity: domain.SeverityCritical, Title: "t"})
	resolved, _, _ := s.Resolve(a.ID)
	*resolved.ResolvedAt = time.Time{}

	got, _ := s.Get(a.ID)
	if got.ResolvedAt.IsZero() {
		t.Fatalf("caller mutated store state")
	}
}
