package domain

import "time"

// Report: выгрузка для офлайн-аудита.
type Report struct {
	Summary          ReportSummary     `json:"summary"`
	ComponentHealth  []ComponentHealth `json:"component_health"`
	Alerts           []Alert           `json:"alerts"`
	ExecutionHistory []ExecutionRecord `json:"execution_history"`
}

type ReportSummary struct {
	GeneratedAt     time.Time `json:"generated_at"`
	TotalTests      int       `json:"total_tests"` // все запуски действий восстановления
	SuccessfulTests int       `json:"successful_tests"`
	FailedTests     int       `json:"failed_tests"`
	RejectedTests   int       `json:"rejected_tests"`
	SuccessRate     float64   `json:"success_rate"`
	TotalAlerts     int       `json:"total_alerts"`
	ActiveAlerts    int       `json:"active_alerts"`
	CriticalAlerts  int       `json:"critical_alerts"`
	OpenErrors      int       `json:"open_errors"`
	Monitoring      bool      `json:"monitoring"`
}
