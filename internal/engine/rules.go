package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

// RuleEngine: набор правил с автоматом Armed -> Cooling -> Armed на каждое правило.
// Единственный владелец LastTriggeredAt.
type RuleEngine struct {
	mu     sync.RWMutex
	rules  []*domain.AlertRule // порядок объявления
	index  map[string]int
	logger *zap.Logger
}

func NewRuleEngine(rules []domain.AlertRule, logger *zap.Logger) (*RuleEngine, error) {
	e := &RuleEngine{
		index:  make(map[string]int),
		logger: logger.Named("rules"),
	}
	for _, r := range rules {
		if err := e.Upsert(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// stateAt: Cooling держится ровно cooldown от ПЕРВОГО срабатывания, повторные пробои якорь не двигают.
func stateAt(r *domain.AlertRule, now time.Time) domain.RuleState {
	if r.LastTriggeredAt == nil {
		return domain.RuleArmed
	}
	if now.Sub(*r.LastTriggeredAt) >= r.Cooldown() {
		return domain.RuleArmed
	}
	return domain.RuleCooling
}

// Evaluate прогоняет все включенные правила по сэмплу. Возвращает черновики алертов в порядке объявления правил.
func (e *RuleEngine) Evaluate(sample domain.SystemMetricSample, now time.Time) []domain.AlertDraft {
	e.mu.Lock()
	defer e.mu.Unlock()

	var drafts []domain.AlertDraft
	for _, r := range e.rules {
		// Выключенное правило пропускаем целиком, состояние не трогаем
		if !r.Enabled {
			continue
		}

		observed, ok := sample.Resolve(r.MetricPath)
		if !ok {
			// RuleResolutionMiss: не системная ошибка, просто no-op для этого правила
			e.logger.Debug("metric path not resolved",
				zap.String("rule_id", r.ID),
				zap.String("metric_path", r.MetricPath),
				zap.String("kind", string(domain.KindRuleResolutionMiss)))
			continue
		}

		if observed <= r.Threshold {
			continue
		}

		if stateAt(r, now) == domain.RuleCooling {
			e.logger.Debug("breach suppressed by cooldown",
				zap.String("rule_id", r.ID),
				zap.Float64("value", observed))
			continue
		}

		fired := now
		r.LastTriggeredAt = &fired

		drafts = append(drafts, domain.AlertDraft{
			Severity: r.Severity,
			Title:    r.Name,
			Message:  fmt.Sprintf("%s is %.2f (threshold %.2f)", r.MetricPath, observed, r.Threshold),
			Source:   "rule:" + r.ID,
			Metadata: domain.AlertMetadata{
				RuleID:        r.ID,
				ObservedValue: observed,
				Threshold:     r.Threshold,
			},
			RecoverAs:      r.RecoverAs,
			NotifyChannels: append([]domain.ChannelKind(nil), r.NotifyChannels...),
		})
	}
	return drafts
}

// Upsert добавляет правило или заменяет существующее, сохраняя его место и якорь cooldown.
func (e *RuleEngine) Upsert(rule domain.AlertRule) error {
	if rule.Comparator == "" {
		rule.Comparator = ">"
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if !domain.KnownMetricPath(rule.MetricPath) {
		e.logger.Warn("rule references unknown metric path, it will never fire",
			zap.String("rule_id", rule.ID), zap.String("metric_path", rule.MetricPath))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if i, ok := e.index[rule.ID]; ok {
		if rule.LastTriggeredAt == nil {
			rule.LastTriggeredAt = e.rules[i].LastTriggeredAt
		}
		e.rules[i] = &rule
		return nil
	}
	e.index[rule.ID] = len(e.rules)
	e.rules = append(e.rules, &rule)
	return nil
}

// SetEnabled включает/выключает правило. Якорь cooldown не сбрасывается.
func (e *RuleEngine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	e.rules[i].Enabled = enabled
	return nil
}

// Rules: снимок правил с вычисленным состоянием.
func (e *RuleEngine) Rules(now time.Time) []domain.RuleStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.RuleStatus, 0, len(e.rules))
	for _, r := range e.rules {
		cp := *r
		if r.LastTriggeredAt != nil {
			t := *r.LastTriggeredAt
			cp.LastTriggeredAt = &t
		}
		cp.NotifyChannels = append([]domain.ChannelKind(nil), r.NotifyChannels...)
		out = append(out, domain.RuleStatus{AlertRule: cp, State: stateAt(r, now)})
	}
	return out
}

// Rule возвращает копию одного правила.
func (e *RuleEngine) Rule(id string) (domain.AlertRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	i, ok := e.index[id]
	if !ok {
		return domain.AlertRule{}, false
	}
	cp := *e.rules[i]
	cp.NotifyChannels = append([]domain.ChannelKind(nil), e.rules[i].NotifyChannels...)
	return cp, true
}

func (e *RuleEngine) State(id string, now time.Time) (domain.RuleState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	i, ok := e.index[id]
	if !ok {
		return "", false
	}
	return stateAt(e.rules[i], now), true
}
