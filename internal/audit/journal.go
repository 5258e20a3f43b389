package audit

/*
Файл journal.go реализует журнал ядра мониторинга: поднятые алерты, отчеты об ошибках
и результаты действий восстановления уходят в хранилище для офлайн-аудита.

- Non-blocking Logging: драйвер тиков и горутины восстановления только кладут событие в канал.
  Задержки записи в БД не влияют на тик.
- Batching: события копятся в памяти и пишутся пачкой по таймеру или по лимиту.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

// Nop: журнал, который ничего не пишет (для тестов и запуска без БД).
type Nop struct{}

func (Nop) Log(Event) {}

type Journal struct {
	ch       chan Event
	repo     StorageInterface
	logger   *zap.Logger
	wg       sync.WaitGroup
	batch    int
	interval time.Duration
	onFill   func(n int)

	// mu держится читателями на время проверки и отправки, Stop берет запись перед close(ch)
	mu     sync.RWMutex
	closed bool
}

func NewJournal(repo StorageInterface, buffer int, interval time.Duration, logger *zap.Logger) *Journal {
	if buffer <= 0 {
		buffer = 10000
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Journal{
		ch:       make(chan Event, buffer),
		repo:     repo,
		logger:   logger.With(zap.String("mod", "journal")),
		batch:    100,
		interval: interval,
	}
}

// OnFill: колбэк для метрики заполненности буфера.
func (j *Journal) OnFill(fn func(n int)) { j.onFill = fn }

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.logger.Warn("journal event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем вызывающего
	select {
	case j.ch <- event:
		if j.onFill != nil {
			j.onFill(len(j.ch))
		}
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("kind", string(event.Kind)),
			zap.String("subject", event.Subject),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Event, 0, j.batch)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background, так как основной контекст может быть уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Error(err), zap.Int("events", len(batch)))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush() // Финальный сброс
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ToPayload превращает доменный объект в map для колонки payload.
func ToPayload(v any) map[string]any {
	var m map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	_ = json.Unmarshal(data, &m)
	return m
}

// LogStorage нужен для запуска без БД: пачки уходят в лог.
type LogStorage struct {
	Logger *zap.Logger
}

func (s LogStorage) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.Logger.Debug("journal event",
			zap.String("kind", string(e.Kind)),
			zap.String("subject", e.Subject),
			zap.String("outcome", e.Outcome))
	}
	return nil
}
