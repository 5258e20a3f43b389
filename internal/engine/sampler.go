package engine

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

// MetricSource: внешний поставщик метрик (телеметрия хоста, APM и т.п.).
type MetricSource interface {
	Sample(ctx context.Context) (domain.SystemMetricSample, error)
}

// Tick: результат одного опроса источника.
type Tick struct {
	Sample      domain.SystemMetricSample
	OK          bool // false: ни одного сэмпла еще не было
	Stale       bool // источник недоступен, отдаем предыдущий сэмпл
	StaleStreak int  // сколько тиков подряд сэмпл устаревший
}

// Sampler забирает по одному сэмплу за тик и хранит скользящее окно для трендов.
type Sampler struct {
	source   MetricSource
	logger   *zap.Logger
	attempts uint
	delay    time.Duration

	mu          sync.RWMutex
	last        domain.SystemMetricSample
	hasLast     bool
	staleStreak int
	window      []domain.SystemMetricSample
	head        int
	size        int
}

func NewSampler(source MetricSource, windowSize int, attempts uint, logger *zap.Logger) *Sampler {
	if windowSize <= 0 {
		windowSize = 60
	}
	if attempts == 0 {
		attempts = 1
	}
	return &Sampler{
		source:   source,
		logger:   logger.With(zap.String("mod", "sampler")),
		attempts: attempts,
		delay:    100 * time.Millisecond,
		window:   make([]domain.SystemMetricSample, windowSize),
	}
}

// Next опрашивает источник. Бизнес-логики здесь нет: только свежесть и окно.
func (s *Sampler) Next(ctx context.Context) Tick {
	var sample domain.SystemMetricSample
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return s.delay
		}),
	).Do(func() error {
		var callErr error
		sample, callErr = s.source.Sample(ctx)
		return callErr
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Warn("metric source unavailable, reusing previous sample",
			zap.Error(domain.NewOpError(domain.KindMetricsUnavailable, "sampler.next", err)),
			zap.Bool("has_previous", s.hasLast))
		if !s.hasLast {
			return Tick{}
		}
		s.staleStreak++
		return Tick{Sample: s.last, OK: true, Stale: true, StaleStreak: s.staleStreak}
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	s.last = sample
	s.hasLast = true
	s.staleStreak = 0

	s.window[s.head] = sample
	s.head = (s.head + 1) % len(s.window)
	if s.size < len(s.window) {
		s.size++
	}
	return Tick{Sample: sample, OK: true}
}

// Window возвращает копию окна от старых к новым.
func (s *Sampler) Window() []domain.SystemMetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SystemMetricSample, 0, s.size)
	start := (s.head - s.size + len(s.window)) % len(s.window)
	for i := 0; i < s.size; i++ {
		out = append(out, s.window[(start+i)%len(s.window)])
	}
	return out
}

// Latest: последний полученный сэмпл.
func (s *Sampler) Latest() (domain.SystemMetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}
