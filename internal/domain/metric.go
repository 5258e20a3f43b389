package domain

import "time"

// SystemMetricSample: один снимок состояния системы за тик. После создания не меняется.
type SystemMetricSample struct {
	Timestamp   time.Time          `json:"timestamp"`
	CPU         float64            `json:"cpu"`    // %
	Memory      float64            `json:"memory"` // %
	Disk        float64            `json:"disk"`   // %
	Network     NetworkMetrics     `json:"network"`
	Database    DatabaseMetrics    `json:"database"`
	Application ApplicationMetrics `json:"application"`
}

type NetworkMetrics struct {
	Inbound   float64 `json:"inbound"`
	Outbound  float64 `json:"outbound"`
	LatencyMs float64 `json:"latency_ms"`
}

type DatabaseMetrics struct {
	Connections float64 `json:"connections"`
	QueryTimeMs float64 `json:"query_time_ms"`
	ErrorRate   float64 `json:"error_rate"` // %
}

type ApplicationMetrics struct {
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorRate      float64 `json:"error_rate"` // %
	Throughput     float64 `json:"throughput"`
	ActiveUsers    float64 `json:"active_users"`
}

// metricPaths: явная таблица путей метрик. Никакой рефлексии: путь либо есть в таблице, либо нет.
var metricPaths = map[string]func(s *SystemMetricSample) float64{
	"cpu":                        func(s *SystemMetricSample) float64 { return s.CPU },
	"memory":                     func(s *SystemMetricSample) float64 { return s.Memory },
	"disk":                       func(s *SystemMetricSample) float64 { return s.Disk },
	"network.inbound":            func(s *SystemMetricSample) float64 { return s.Network.Inbound },
	"network.outbound":           func(s *SystemMetricSample) float64 { return s.Network.Outbound },
	"network.latencyMs":          func(s *SystemMetricSample) float64 { return s.Network.LatencyMs },
	"database.connections":       func(s *SystemMetricSample) float64 { return s.Database.Connections },
	"database.queryTimeMs":       func(s *SystemMetricSample) float64 { return s.Database.QueryTimeMs },
	"database.errorRate":         func(s *SystemMetricSample) float64 { return s.Database.ErrorRate },
	"application.responseTimeMs": func(s *SystemMetricSample) float64 { return s.Application.ResponseTimeMs },
	"application.errorRate":      func(s *SystemMetricSample) float64 { return s.Application.ErrorRate },
	"application.throughput":     func(s *SystemMetricSample) float64 { return s.Application.Throughput },
	"application.activeUsers":    func(s *SystemMetricSample) float64 { return s.Application.ActiveUsers },
}

// Resolve достает значение метрики по пути (например, "cpu" или "application.responseTimeMs").
// Второе значение false, если такого пути не существует.
func (s SystemMetricSample) Resolve(path string) (float64, bool) {
	fn, ok := metricPaths[path]
	if !ok {
		return 0, false
	}
	return fn(&s), true
}

// KnownMetricPath проверяет путь без сэмпла (нужно для валидации правил).
func KnownMetricPath(path string) bool {
	_, ok := metricPaths[path]
	return ok
}
