package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/opsguard/internal/infra"
	"go.uber.org/zap"
)

// RuleToggleSync держит включение/выключение правил согласованным между инстансами.
// L1 это RuleEngine, L2 это Redis set выключенных правил.
type RuleToggleSync struct {
	rdb    *redis.Client
	rules  *RuleEngine
	now    func() time.Time
	logger *zap.Logger
}

func NewRuleToggleSync(rdb *redis.Client, e *Engine, logger *zap.Logger) *RuleToggleSync {
	return &RuleToggleSync{
		rdb:    rdb,
		rules:  e.rules,
		now:    e.now,
		logger: logger.With(zap.String("mod", "rule-sync")),
	}
}

// Init прогревает Redis локально выключенными правилами (если set пуст) и применяет общий set к L1.
func (s *RuleToggleSync) Init(ctx context.Context) error {
	// 1. Локально выключенные правила (из конфига)
	var local []string
	for _, r := range s.rules.Rules(s.now()) {
		if !r.Enabled {
			local = append(local, r.ID)
		}
	}

	// 2. Только один инстанс греет Redis
	ok, err := s.rdb.SetNX(ctx, infra.RedisKeyLockWarmupRules, "processing", 30*time.Second).Result()
	if err == nil && ok {
		count, err := s.rdb.SCard(ctx, infra.RedisKeyDisabledRules).Result()
		if err != nil {
			s.logger.Warn("could not check disabled rules set, proceeding with warm-up", zap.Error(err))
			count = 0
		}
		if count == 0 && len(local) > 0 {
			s.logger.Info("disabled rules set is empty, warming up from config", zap.Int("count", len(local)))
			pipe := s.rdb.Pipeline()
			for _, id := range local {
				pipe.SAdd(ctx, infra.RedisKeyDisabledRules, id)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("warm up disabled rules: %w", err)
			}
		}
	}

	// 3. Общее состояние кластера побеждает
	disabled, err := s.rdb.SMembers(ctx, infra.RedisKeyDisabledRules).Result()
	if err != nil {
		return fmt.Errorf("load disabled rules: %w", err)
	}
	for _, id := range disabled {
		if err := s.rules.SetEnabled(id, false); err != nil {
			s.logger.Debug("unknown rule in disabled set", zap.String("rule_id", id))
		}
	}
	return nil
}

// StartListener применяет переключения, сделанные на других инстансах. Блокирует до отмены ctx.
func (s *RuleToggleSync) StartListener(ctx context.Context) {
	ListenSignalsResilient(ctx, s.rdb, s.logger, infra.RedisChanRuleToggle,
		func() error { return s.Init(ctx) },
		func(id, value string) {
			if err := s.rules.SetEnabled(id, parseToggle(value)); err != nil {
				s.logger.Warn("toggle for unknown rule", zap.String("rule_id", id))
			}
		},
	)
}

// Publish фиксирует переключение в Redis и рассылает сигнал.
func (s *RuleToggleSync) Publish(ctx context.Context, id string, enabled bool) error {
	if enabled {
		if err := s.rdb.SRem(ctx, infra.RedisKeyDisabledRules, id).Err(); err != nil {
			return err
		}
	} else if err := s.rdb.SAdd(ctx, infra.RedisKeyDisabledRules, id).Err(); err != nil {
		return err
	}

	val := "off"
	if enabled {
		val = "on"
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanRuleToggle, fmt.Sprintf("%s:%s", id, val)).Err(); err != nil {
		s.logger.Warn("rule toggle signal failed", zap.String("rule_id", id), zap.Error(err))
	}
	return nil
}
