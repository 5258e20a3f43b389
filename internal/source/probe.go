package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
)

// ProbeReport: то, что отдает эндпоинт метрик приложения.
type ProbeReport struct {
	Database    domain.DatabaseMetrics    `json:"database"`
	Application domain.ApplicationMetrics `json:"application"`
}

// HTTPProbe опрашивает JSON-эндпоинт приложения. Время ответа идет в network.latency_ms.
type HTTPProbe struct {
	URL  string
	HTTP *http.Client
	now  func() time.Time
}

func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url, HTTP: &http.Client{Timeout: 5 * time.Second}, now: time.Now}
}

func (p *HTTPProbe) Sample(ctx context.Context) (domain.SystemMetricSample, error) {
	start := p.now()
	s := domain.SystemMetricSample{Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return s, err
	}
	res, err := p.HTTP.Do(req)
	if err != nil {
		return s, fmt.Errorf("probe %s: %w", p.URL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return s, fmt.Errorf("probe %s returned status %d", p.URL, res.StatusCode)
	}

	var report ProbeReport
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&report); err != nil {
		return s, fmt.Errorf("probe %s: decode: %w", p.URL, err)
	}

	s.Network.LatencyMs = float64(p.now().Sub(start).Microseconds()) / 1000
	s.Database = report.Database
	s.Application = report.Application
	return s, nil
}
