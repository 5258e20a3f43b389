package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/opsguard/internal/domain"
)

// Config: корневая структура конфигурации сервиса.
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	GRPC     GRPCConfig         `mapstructure:"grpc"`
	Metrics  MetricsConfig      `mapstructure:"metrics"`
	Database DatabaseConfig     `mapstructure:"database"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Auth     AuthConfig         `mapstructure:"auth"`
	Engine   EngineConfig       `mapstructure:"engine"`
	Rules    []domain.AlertRule `mapstructure:"rules"`
	Recovery RecoveryConfig     `mapstructure:"recovery"`
	Notify   NotifyConfig       `mapstructure:"notify"`
	Source   SourceConfig       `mapstructure:"source"`
	Logger   LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GRPCConfig: адрес gRPC health-сервиса. Пустой адрес выключает сервис.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает хранилище журнала: pgx (PostgreSQL) или sqlite3.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // pgx, sqlite3; пусто, журнал только в лог
	URL    string `mapstructure:"url"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и кластерные блокировки).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: публичный RSA-ключ для проверки JWT на изменяющих маршрутах.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig: параметры ядра мониторинга.
type EngineConfig struct {
	InstanceID           string        `mapstructure:"instance_id"` // пусто, hostname
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	WindowSize           int           `mapstructure:"window_size"`
	HistorySize          int           `mapstructure:"history_size"`
	ErrorLogSize         int           `mapstructure:"error_log_size"`
	NotifyTimeout        time.Duration `mapstructure:"notify_timeout"`
	SafetyFactor         float64       `mapstructure:"safety_factor"`
	RecoveryMaxAttempts  uint          `mapstructure:"recovery_max_attempts"`
	RecoveryMinTimeout   time.Duration `mapstructure:"recovery_min_timeout"`
	RecoveryRetryDelay   time.Duration `mapstructure:"recovery_retry_delay"` // 0, экспоненциальный бэкофф
	SampleAttempts       uint          `mapstructure:"sample_attempts"`
	JournalBuffer        int           `mapstructure:"journal_buffer"`
	JournalFlushInterval time.Duration `mapstructure:"journal_flush_interval"`
}

// RecoveryConfig: HTTP-хуки, выполняющие действия восстановления (action_id -> URL).
type RecoveryConfig struct {
	Hooks map[string]string `mapstructure:"hooks"`
}

type NotifyConfig struct {
	WebhookURL     string  `mapstructure:"webhook_url"`
	SlackURL       string  `mapstructure:"slack_url"`
	TelegramToken  string  `mapstructure:"telegram_token"`
	TelegramChatID string  `mapstructure:"telegram_chat_id"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// SourceConfig описывает источник метрик: хост (gopsutil) плюс опциональный JSON-probe приложения.
type SourceConfig struct {
	ProbeURL string `mapstructure:"probe_url"`
	DiskPath string `mapstructure:"disk_path"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	return load(v)
}

// LoadConfigFile читает конкретный файл (флаг -config).
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// 2. ENV перекрывает файл: ENGINE_TICK_INTERVAL=10s перекроет engine.tick_interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}

	// 6. PEM-ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("engine.tick_interval", 5*time.Second)
	v.SetDefault("engine.window_size", 60)
	v.SetDefault("engine.history_size", 500)
	v.SetDefault("engine.error_log_size", 500)
	v.SetDefault("engine.notify_timeout", 10*time.Second)
	v.SetDefault("engine.safety_factor", 2.0)
	v.SetDefault("engine.recovery_max_attempts", 1)
	v.SetDefault("engine.recovery_min_timeout", 1*time.Second)
	v.SetDefault("engine.recovery_retry_delay", time.Duration(0))
	v.SetDefault("engine.sample_attempts", 2)
	v.SetDefault("engine.journal_buffer", 1000)
	v.SetDefault("engine.journal_flush_interval", 1*time.Second)
	v.SetDefault("notify.rate_per_second", 10.0)
	v.SetDefault("notify.burst", 20)
	v.SetDefault("source.disk_path", "/")
}

// DefaultRules: базовый набор правил, если конфиг их не задал.
func DefaultRules() []domain.AlertRule {
	return []domain.AlertRule{
		{ID: "cpu-high", Name: "High CPU usage", MetricPath: "cpu", Threshold: 80,
			Severity: domain.SeverityWarning, Enabled: true, CooldownMinutes: 5,
			NotifyChannels: []domain.ChannelKind{domain.ChannelSlack}},
		{ID: "memory-critical", Name: "Critical memory usage", MetricPath: "memory", Threshold: 90,
			Severity: domain.SeverityCritical, Enabled: true, CooldownMinutes: 10,
			NotifyChannels: []domain.ChannelKind{domain.ChannelSlack, domain.ChannelWebhook},
			RecoverAs:      domain.ErrorClient},
		{ID: "response-slow", Name: "Slow responses", MetricPath: "application.responseTimeMs", Threshold: 2000,
			Severity: domain.SeverityWarning, Enabled: true, CooldownMinutes: 5,
			NotifyChannels: []domain.ChannelKind{domain.ChannelEmail}},
		{ID: "app-error-rate", Name: "High application error rate", MetricPath: "application.errorRate", Threshold: 5,
			Severity: domain.SeverityCritical, Enabled: true, CooldownMinutes: 15,
			NotifyChannels: []domain.ChannelKind{domain.ChannelSlack, domain.ChannelSMS},
			RecoverAs:      domain.ErrorServer},
	}
}

// loadKeyResource: ключ прямо из ENV или из файла по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
