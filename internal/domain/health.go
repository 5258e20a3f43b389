package domain

import "time"

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// ComponentHealth: производное скользящее состояние компонента.
type ComponentHealth struct {
	Component    string       `json:"component"`
	Uptime       float64      `json:"uptime"`     // %
	ErrorRate    float64      `json:"error_rate"` // %
	AvgLatencyMs float64      `json:"avg_latency_ms"`
	Status       HealthStatus `json:"status"`
	OpenErrors   int          `json:"open_errors"`
	Samples      int          `json:"samples"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ClassifyHealth: фиксированная политика статусов. Пороги менять нельзя.
func ClassifyHealth(errorRate, avgLatencyMs, uptime float64) HealthStatus {
	switch {
	case errorRate > 5 || avgLatencyMs > 100 || uptime < 98:
		return StatusCritical
	case errorRate > 2 || avgLatencyMs > 75 || uptime < 99:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
