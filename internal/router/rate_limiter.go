package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// client tracks rate limiting state for a single client id.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MessageLimiter applies a per-client token bucket to inbound messages.
// Feature reports arrive per video frame on misbehaving clients, so excess
// messages are dropped silently rather than closing the connection.
// Idle client state is reaped after three minutes.
type MessageLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
}

// NewMessageLimiter creates a limiter allowing the given number of messages
// per minute per client and starts its background janitor.
func NewMessageLimiter(messagesPerMinute int) *MessageLimiter {
	l := &MessageLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(float64(messagesPerMinute) / 60.0),
		burst:   messagesPerMinute,
	}
	go l.reapIdle()
	return l
}

// Allow reports whether the client may process another inbound message.
// The first message from an unseen client always passes.
func (l *MessageLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	c, exists := l.clients[clientID]
	if !exists {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

// reapIdle drops limiter state for clients idle longer than three minutes.
func (l *MessageLimiter) reapIdle() {
	for {
		time.Sleep(time.Minute)

		l.mu.Lock()
		for id, c := range l.clients {
			if time.Since(c.lastSeen) > 3*time.Minute {
				delete(l.clients, id)
			}
		}
		l.mu.Unlock()
	}
}
