package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "opsguard"
)

// Ключи для Sets (состояние)
const (
	RedisKeyDisabledRules   = RedisNamespace + ":rules:disabled_set"
	RedisKeyLockWarmupRules = RedisNamespace + ":lock:warmup:rules"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAlerts: все события ядра (алерты, выполнения) в JSON с полем instance.
	RedisChanAlerts = RedisNamespace + ":events"
	// RedisChanCommands несет команды оператора и соседних инстансов:
	// "ack:<instance>/<id>", "resolve:<instance>/<id>", "execute:<action>".
	RedisChanCommands   = RedisNamespace + ":commands"
	RedisChanRuleToggle = RedisNamespace + ":rules:toggle-signal"
)

// GetActionLockKey: ключ кластерной блокировки действия восстановления.
func GetActionLockKey(actionID string) string {
	return fmt.Sprintf("%s:lock:action:%s", RedisNamespace, actionID)
}
