package connection

import (
	"github.com/google/uuid"

	"github.com/channelgrid/stomp-broker/internal/frame"
	"github.com/channelgrid/stomp-broker/internal/logger"
)

// Subscribe associates (channel, connID, subID). Repeating the same call
// is idempotent; the same connection may hold several independent
// subscriptions to one channel under different subscription ids.
func (m *Manager) Subscribe(channel string, connID int, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subscribers, ok := m.subscriptions[channel]
	if !ok {
		subscribers = make(map[int]map[string]struct{})
		m.subscriptions[channel] = subscribers
	}
	ids, ok := subscribers[connID]
	if !ok {
		ids = make(map[string]struct{})
		subscribers[connID] = ids
	}
	ids[subID] = struct{}{}
	logger.DebugF("[%d] Subscribed to channel %s with id %s", connID, channel, subID)
}

// Unsubscribe removes one subscription. Removing a subscription that does
// not exist is a no-op, not an error.
func (m *Manager) Unsubscribe(channel string, connID int, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subscribers, ok := m.subscriptions[channel]
	if !ok {
		return
	}
	ids, ok := subscribers[connID]
	if !ok {
		return
	}
	delete(ids, subID)
	if len(ids) == 0 {
		delete(subscribers, connID)
	}
	if len(subscribers) == 0 {
		delete(m.subscriptions, channel)
	}
	logger.DebugF("[%d] Unsubscribed from channel %s with id %s", connID, channel, subID)
}

// IsSubscribed reports whether the connection holds at least one
// subscription to the channel.
func (m *Manager) IsSubscribed(channel string, connID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subscribers, ok := m.subscriptions[channel]
	if !ok {
		return false
	}
	ids, ok := subscribers[connID]
	return ok && len(ids) > 0
}

type delivery struct {
	connID int
	subID  string
}

// Broadcast delivers the body to every current subscriber of the channel.
// Each recipient gets its own subscription header; every delivery of one
// broadcast shares a single fresh message id. Subscribers are iterated
// from a snapshot, so a subscriber removed mid-broadcast may or may not
// receive this particular message.
func (m *Manager) Broadcast(channel string, body string) {
	m.mu.RLock()
	subscribers := m.subscriptions[channel]
	deliveries := make([]delivery, 0, len(subscribers))
	for connID, ids := range subscribers {
		for subID := range ids {
			deliveries = append(deliveries, delivery{connID: connID, subID: subID})
		}
	}
	m.mu.RUnlock()

	if len(deliveries) == 0 {
		return
	}

	messageID := uuid.NewString()
	for _, d := range deliveries {
		message := frame.NewFrame(frame.MESSAGE)
		message.Headers.Set("subscription", d.subID)
		message.Headers.Set("message-id", messageID)
		message.Headers.Set("destination", channel)
		message.Body = body
		if !m.Unicast(d.connID, frame.Encode(message)) {
			logger.DebugF("[%d] Subscriber gone, skipping delivery on channel %s", d.connID, channel)
		}
	}
}
