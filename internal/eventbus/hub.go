package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// 结构变更事件
const (
	TypeTableCreated     = "schema.table_created"
	TypeColumnAdded      = "schema.column_added"
	TypeDefinitionPatch  = "definition.patched"
	TypeCatalogReloaded  = "definition.reloaded"
	TypeRestartRequested = "restart.requested"
)

type Event struct {
	Type      string         `json:"type" yaml:"type"`
	Timestamp int64          `json:"timestamp" yaml:"timestamp"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{} // 为空表示订阅全部
}

func (s *subscriber) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Hub 进程内发布/订阅；慢消费者丢事件，不阻塞发布方
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Emit 发布一个事件
func (h *Hub) Emit(eventType string, data map[string]any) {
	h.Publish(Event{Type: eventType, Data: data})
}

func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// 慢消费者直接丢弃，避免阻塞 DDL 调用链
			h.dropped.Add(1)
		}
	}
}

// Subscribe 订阅事件，types 为空时订阅全部；ctx 结束后通道关闭
func (h *Hub) Subscribe(ctx context.Context, buffer int, types ...string) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Dropped 因缓冲区满被丢弃的事件数
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}
