package stream

import (
	"context"
	"sync"
	"time"

	"gigline/internal/domain"
)

const defaultBuffer = 64

// Subscription is one listener on a conversation. Messages arrive on C
// in commit order. If the listener falls behind, messages are dropped
// rather than blocking the publisher, and the watchdog later signals
// Resync so the listener can refill from the message history cursor.
type Subscription struct {
	ConversationID string
	C              chan domain.Message
	Resync         chan struct{}

	hub    *Hub
	lagged bool
	closed bool
}

// Hub fans committed messages out to per-conversation subscribers.
// It plugs into the workflow engine as its notifier, so everything the
// engine persists, system narrations included, reaches listeners.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   map[string]map[*Subscription]struct{}{},
		buffer: buffer,
	}
}

// Subscribe registers a listener for one conversation.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	s := &Subscription{
		ConversationID: conversationID,
		C:              make(chan domain.Message, h.buffer),
		Resync:         make(chan struct{}, 1),
		hub:            h,
	}
	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = map[*Subscription]struct{}{}
	}
	h.subs[conversationID][s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if set, ok := h.subs[s.ConversationID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.ConversationID)
		}
	}
	close(s.C)
}

// MessagePosted implements the engine's notifier. The engine calls it
// synchronously after each commit, which is what keeps per-conversation
// delivery in commit order.
func (h *Hub) MessagePosted(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[msg.ConversationID] {
		select {
		case s.C <- msg:
		default:
			// full buffer: drop and let the watchdog request a resync
			s.lagged = true
		}
	}
}

// Lagged reports whether messages were dropped since the last resync.
func (s *Subscription) Lagged() bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.lagged
}

// Watchdog periodically tells lagged subscribers to resync from the
// message history. Blocks until ctx is done.
func (h *Hub) Watchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			if !s.lagged {
				continue
			}
			select {
			case s.Resync <- struct{}{}:
				s.lagged = false
			default:
				// previous signal not consumed yet, try next sweep
			}
		}
	}
}
