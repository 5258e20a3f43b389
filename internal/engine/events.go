package engine

import (
	"sync"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
)

type StreamEventType string

const (
	EventAlertRaised       StreamEventType = "alert_raised"
	EventAlertAcknowledged StreamEventType = "alert_acknowledged"
	EventAlertResolved     StreamEventType = "alert_resolved"
	EventExecution         StreamEventType = "recovery_executed"
)

// StreamEvent: то, что ядро отдает наружу (UI, Redis, websocket).
type StreamEvent struct {
	Type      StreamEventType         `json:"type"`
	Alert     *domain.Alert           `json:"alert,omitempty"`
	Execution *domain.ExecutionRecord `json:"execution,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Broadcaster раздает события подписчикам. Медленный подписчик теряет события, а не тормозит ядро.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan StreamEvent
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan StreamEvent)}
}

// Subscribe возвращает канал событий и функцию отписки.
func (b *Broadcaster) Subscribe(buffer int) (<-chan StreamEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan StreamEvent, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(ev StreamEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
