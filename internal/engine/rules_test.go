package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

func cpuRule() domain.AlertRule {
	return domain.AlertRule{
		ID:              "critical-cpu",
		Name:            "Critical CPU",
		MetricPath:      "cpu",
		Threshold:       95,
		Severity:        domain.SeverityCritical,
		Enabled:         true,
		CooldownMinutes: 5,
		NotifyChannels:  []domain.ChannelKind{domain.ChannelSlack},
	}
}

func newRules(t *testing.T, rules ...domain.AlertRule) *RuleEngine {
	t.Helper()
	e, err := NewRuleEngine(rules, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}
	return e
}

func TestCooldownScenario(t *testing.T) {
	e := newRules(t, cpuRule())
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	drafts := e.Evaluate(domain.SystemMetricSample{CPU: 96}, t0)
	if len(drafts) != 1 {
		t.Fatalf("expected one alert, got %d", len(drafts))
	}
	d := drafts[0]
	if d.Severity != domain.SeverityCritical || d.Metadata.RuleID != "critical-cpu" || d.Metadata.ObservedValue != 96 {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if st, _ := e.State("critical-cpu", t0); st != domain.RuleCooling {
		t.Fatalf("rule should be cooling, got %s", st)
	}

	// Повторный пробой через минуту ничего не дает
	if drafts := e.Evaluate(domain.SystemMetricSample{CPU: 97}, t0.Add(time.Minute)); len(drafts) != 0 {
		t.Fatalf("breach during cooldown must not fire")
	}

	// Якорь не сдвинулся: ровно через 5 минут от первого срабатывания правило снова взведено
	if st, _ := e.State("critical-cpu", t0.Add(5*time.Minute)); st != domain.RuleArmed {
		t.Fatalf("rule should be armed after cooldown, got %s", st)
	}
	if drafts := e.Evaluate(domain.SystemMetricSample{CPU: 97}, t0.Add(5*time.Minute)); len(drafts) != 1 {
		t.Fatalf("rule should fire again after cooldown")
	}
}

func TestThresholdIsStrict(t *testing.T) {
	e := newRules(t, cpuRule())
	if drafts := e.Evaluate(domain.SystemMetricSample{CPU: 95}, time.Now()); len(drafts) != 0 {
		t.Fatalf("value equal to threshold must not fire")
	}
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	r := cpuRule()
	r.Enabled = false
	e := newRules(t, r)
	now := time.Now()

	if drafts := e.Evaluate(domain.SystemMetricSample{CPU: 99}, now); len(drafts) != 0 {
		t.Fatalf("disabled rule fired")
	}
	got, _ := e.Rule("critical-cpu")
	if got.LastTriggeredAt != nil {
		t.Fatalf("disabled rule state changed")
	}

	if err := e.SetEnabled("critical-cpu", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if drafts := e.Evaluate(domain.SystemMetricSample{CPU: 99}, now); len(drafts) != 1 {
		t.Fatalf("enabled rule should fire")
	}
}

func TestUnresolvablePathIsNoop(t *testing.T) {
	r := cpuRule()
	r.ID, r.MetricPath = "gpu", "gpu.temperature"
	e := newRules(t, r, cpuRule())

	drafts := e.Evaluate(domain.SystemMetricSample{CPU: 99}, time.Now())
	if len(drafts) != 1 || drafts[0].Metadata.RuleID != "critical-cpu" {
		t.Fatalf("only the resolvable rule should fire, got %+v", drafts)
	}
}

func TestRulesEvaluatedInDeclaredOrder(t *testing.T) {
	mem := cpuRule()
	mem.ID, mem.MetricPath, mem.Threshold = "mem", "memory", 50
	e := newRules(t, mem, cpuRule())

	drafts := e.Evaluate(domain.SystemMetricSample{CPU: 99, Memory: 99}, time.Now())
	if len(drafts) != 2 || drafts[0].Metadata.RuleID != "mem" || drafts[1].Metadata.RuleID != "critical-cpu" {
		t.Fatalf("unexpected order: %+v", drafts)
	}
}

func TestUpsertKeepsCooldownAnchor(t *testing.T) {
	e := newRules(t, cpuRule())
	t0 := time.Now()
	e.Evaluate(domain.SystemMetricSample{CPU: 99}, t0)

	updated := cpuRule()
	updated.Threshold = 90
	if err := e.Upsert(updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := e.Rule("critical-cpu")
	if got.Threshold != 90 || got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(t0) {
		t.Fatalf("upsert lost state: %+v", got)
	}
	if st, _ := e.State("critical-cpu", t0.Add(time.Minute)); st != domain.RuleCooling {
		t.Fatalf("upsert must not re-arm the rule")
	}
}

func TestUpsertRejectsInvalidRule(t *testing.T) {
	e := newRules(t)
	bad := cpuRule()
	bad.Severity = "fatal"
	if err := e.Upsert(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if len(e.Rules(time.Now())) != 0 {
		t.Fatalf("invalid rule must not be stored")
	}
}

func TestSetEnabledUnknownRule(t *testing.T) {
	e := newRules(t)
	if err := e.SetEnabled("nope", true); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}
