package store

import "sync"

// watchHub broadcasts change signals per topic. Signals are coalesced: a
// watcher that has not drained its channel sees at most one pending tick,
// which is enough because every delivery triggers a full re-query.
type watchHub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string]map[int]chan struct{})}
}

func (h *watchHub) watch(topic string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan struct{}, 1)
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]chan struct{})
	}
	h.subs[topic][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subs[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.subs, topic)
			}
		}
	}
	return ch, cancel
}

func (h *watchHub) notify(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func chatsTopic(userID string) string {
	return "chats/" + userID
}

func messagesTopic(userID, chatID string) string {
	return "messages/" + userID + "/" + chatID
}

// WatchChats signals whenever the user's chat list changes.
func (s *Store) WatchChats(userID string) (<-chan struct{}, func()) {
	return s.hub.watch(chatsTopic(userID))
}

// WatchMessages signals whenever a chat's message list changes.
func (s *Store) WatchMessages(userID, chatID string) (<-chan struct{}, func()) {
	return s.hub.watch(messagesTopic(userID, chatID))
}
