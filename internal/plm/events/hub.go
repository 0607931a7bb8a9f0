package events

import (
	"sync"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"go.uber.org/zap"
)

// Subscriber receives committed audit entries
type Subscriber struct {
	ID     string
	Filter func(*entity.AuditLog) bool
	Events chan *entity.AuditLog
}

// Hub fans committed audit entries out to in-process subscribers
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	log         *zap.Logger
}

// NewHub creates a new Hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		log:         log,
	}
}

// Subscribe registers a subscriber with a buffered channel. A nil filter
// accepts every entry.
func (h *Hub) Subscribe(id string, buffer int, filter func(*entity.AuditLog) bool) *Subscriber {
	if buffer < 1 {
		buffer = 64
	}
	sub := &Subscriber{ID: id, Filter: filter, Events: make(chan *entity.AuditLog, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subscribers[id]; ok {
		close(old.Events)
	}
	h.subscribers[id] = sub
	h.log.Debug("event subscriber registered", zap.String("id", id), zap.Int("total", len(h.subscribers)))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.Events)
		delete(h.subscribers, id)
		h.log.Debug("event subscriber unregistered", zap.String("id", id), zap.Int("total", len(h.subscribers)))
	}
}

// Broadcast delivers entry to every matching subscriber. A full buffer drops
// the entry for that subscriber only.
func (h *Hub) Broadcast(entry *entity.AuditLog) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.Filter != nil && !sub.Filter(entry) {
			continue
		}
		select {
		case sub.Events <- entry:
		default:
			h.log.Warn("event subscriber buffer full, dropping entry",
				zap.String("id", sub.ID),
				zap.String("action", entry.Action),
			)
		}
	}
}

// Len 当前订阅者数量
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ForEntity returns a filter matching one entity
func ForEntity(entityType, entityID string) func(*entity.AuditLog) bool {
	return func(e *entity.AuditLog) bool {
		return e.EntityType == entityType && (entityID == "" || e.EntityID == entityID)
	}
}
