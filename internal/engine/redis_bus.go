package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/opsguard/internal/infra"
	"go.uber.org/zap"
)

// RedisBus связывает ядро с соседними инстансами: наружу, события, внутрь, команды.
// ID алертов локальны для инстанса, поэтому команды над алертами адресуются "<instance>/<id>".
type RedisBus struct {
	rdb      *redis.Client
	engine   *Engine
	instance string
	logger   *zap.Logger
}

func NewRedisBus(rdb *redis.Client, e *Engine, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		rdb:      rdb,
		engine:   e,
		instance: e.InstanceID(),
		logger:   logger.With(zap.String("mod", "redis-bus"), zap.String("instance", e.InstanceID())),
	}
}

// busEvent: событие ядра с адресом инстанса-владельца.
type busEvent struct {
	Instance string `json:"instance"`
	StreamEvent
}

// PublishEvents транслирует события ядра в Redis. Блокирует до отмены ctx.
func (b *RedisBus) PublishEvents(ctx context.Context) {
	events, unsubscribe := b.engine.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(busEvent{Instance: b.instance, StreamEvent: ev})
			if err != nil {
				b.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			if err := b.rdb.Publish(ctx, infra.RedisChanAlerts, payload).Err(); err != nil {
				b.logger.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}
	}
}

// ListenCommands обрабатывает команды "ack:<instance>/<id>", "resolve:<instance>/<id>", "execute:<action>".
// Блокирует до отмены ctx.
func (b *RedisBus) ListenCommands(ctx context.Context) {
	ListenSignalsResilient(ctx, b.rdb, b.logger, infra.RedisChanCommands, nil,
		func(cmd, arg string) { b.handle(ctx, cmd, arg) })
}

func (b *RedisBus) handle(ctx context.Context, cmd, arg string) {
	log := b.logger.With(zap.String("cmd", cmd), zap.String("arg", arg))

	switch cmd {
	case "ack", "resolve":
		instance, rawID, found := strings.Cut(arg, "/")
		if !found || instance == "" {
			log.Warn("alert command without instance address")
			return
		}
		if instance != b.instance {
			// Чужой алерт
			log.Debug("alert command addressed to another instance")
			return
		}
		id, err := strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			log.Warn("invalid alert id in command")
			return
		}
		if cmd == "ack" {
			_, err = b.engine.Acknowledge(id)
		} else {
			_, err = b.engine.Resolve(id)
		}
		if err != nil {
			log.Warn("command failed", zap.Error(err))
			return
		}
	case "execute":
		// Команду получают все инстансы, выполняет тот, кто взял кластерную блокировку
		if err := b.engine.ExecutePeerCommand(ctx, arg); err != nil {
			log.Warn("command failed", zap.Error(err))
			return
		}
	default:
		log.Warn("unknown command")
		return
	}
	log.Info("command applied")
}

// releaseScript снимает блокировку, только если она все еще наша.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock реализует ClusterLock на SETNX: одно действие выполняется одновременно на одном инстансе кластера.
type RedisLock struct {
	rdb   *redis.Client
	owner string
}

func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb, owner: uuid.New().String()}
}

func (l *RedisLock) Acquire(ctx context.Context, actionID string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, infra.GetActionLockKey(actionID), l.owner, ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context, actionID string) error {
	return releaseScript.Run(ctx, l.rdb, []string{infra.GetActionLockKey(actionID)}, l.owner).Err()
}
