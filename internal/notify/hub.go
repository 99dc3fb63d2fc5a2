// Package notify fans status events out to subscribed UI contexts. Every
// relay outcome, success or failure, becomes a timed notification; no
// failure is silent.
package notify

import (
	"sync"
	"time"
)

const defaultTimeoutMS = 5000

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Event is one auto-dismissing status notification. TimeoutMS tells the UI
// how long to display it.
type Event struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	TimeoutMS int       `json:"timeoutMs"`
	At        time.Time `json:"at"`
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// Publish delivers an event to every subscriber. Saturated subscribers are
// skipped; the relay must never block on a slow UI.
func (h *Hub) Publish(level Level, message string) {
	event := Event{
		Level:     level,
		Message:   message,
		TimeoutMS: defaultTimeoutMS,
		At:        time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
