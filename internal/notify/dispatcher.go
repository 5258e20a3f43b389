package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrChannelNotConfigured = errors.New("notification channel not configured")

// Channel: транспорт одного вида уведомлений.
type Channel interface {
	Send(ctx context.Context, alert domain.Alert) error
}

type guarded struct {
	ch Channel
	cb *gobreaker.CircuitBreaker
}

type Options struct {
	RatePerSecond float64
	Burst         int
	// FailuresToTrip: сколько ошибок подряд открывают предохранитель канала.
	FailuresToTrip uint32
	OpenTimeout    time.Duration
}

// Dispatcher реализует Notifier: лимит на общий поток уведомлений и предохранитель на каждый канал.
// Сломанный Slack не должен тормозить webhook.
type Dispatcher struct {
	channels map[domain.ChannelKind]*guarded
	limiter  *rate.Limiter
	opts     Options
	logger   *zap.Logger
}

func NewDispatcher(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.FailuresToTrip == 0 {
		opts.FailuresToTrip = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	return &Dispatcher{
		channels: make(map[domain.ChannelKind]*guarded),
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:     opts,
		logger:   logger.With(zap.String("mod", "notify")),
	}
}

// Register подключает транспорт к виду канала. Вызывать до начала работы.
func (d *Dispatcher) Register(kind domain.ChannelKind, ch Channel) {
	log := d.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-" + string(kind),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     d.opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= d.opts.FailuresToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("channel circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	d.channels[kind] = &guarded{ch: ch, cb: cb}
}

// Kinds: подключенные каналы.
func (d *Dispatcher) Kinds() []domain.ChannelKind {
	out := make([]domain.ChannelKind, 0, len(d.channels))
	for k := range d.channels {
		out = append(out, k)
	}
	return out
}

// Notify доставляет алерт один раз, без повторов.
func (d *Dispatcher) Notify(ctx context.Context, alert domain.Alert, kind domain.ChannelKind) error {
	g, ok := d.channels[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, kind)
	}

	// 1. Rate Limiter
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.ch.Send(ctx, alert)
	})
	return err
}
