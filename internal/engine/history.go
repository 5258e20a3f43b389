package engine

import (
	"sync"

	"github.com/xela07ax/opsguard/internal/domain"
)

// History: ограниченный кольцевой буфер выполнений, старые вытесняются.
type History struct {
	mu      sync.RWMutex
	records []domain.ExecutionRecord
	head    int
	size    int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 500
	}
	return &History{records: make([]domain.ExecutionRecord, capacity)}
}

func (h *History) Append(r domain.ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[h.head] = r
	h.head = (h.head + 1) % len(h.records)
	if h.size < len(h.records) {
		h.size++
	}
}

// Snapshot: от старых к новым.
func (h *History) Snapshot() []domain.ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.ExecutionRecord, 0, h.size)
	start := (h.head - h.size + len(h.records)) % len(h.records)
	for i := 0; i < h.size; i++ {
		out = append(out, h.records[(start+i)%len(h.records)])
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History) Capacity() int { return len(h.records) }
