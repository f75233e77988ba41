package auth

import (
	"sync"

	"github.com/nkozdemir/character-chat-app/internal/models"
)

// Watcher is the current-user observable: listeners get the signed-in user
// (or nil after sign-out) whenever the identity changes, plus the value at
// subscription time. Live views re-scope off it.
type Watcher struct {
	mu   sync.Mutex
	user *models.User
	subs map[int]func(*models.User)
	next int
}

// NewWatcher starts with no signed-in user.
func NewWatcher() *Watcher {
	return &Watcher{subs: make(map[int]func(*models.User))}
}

// Current returns the signed-in user, or nil.
func (w *Watcher) Current() *models.User {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.user
}

// Set records a new identity and notifies listeners.
func (w *Watcher) Set(user *models.User) {
	w.mu.Lock()
	w.user = user
	listeners := make([]func(*models.User), 0, len(w.subs))
	for _, fn := range w.subs {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(user)
	}
}

// Clear signs the current user out.
func (w *Watcher) Clear() {
	w.Set(nil)
}

// OnChange registers a listener and immediately delivers the current value.
// The returned function unsubscribes.
func (w *Watcher) OnChange(fn func(*models.User)) func() {
	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = fn
	current := w.user
	w.mu.Unlock()

	fn(current)

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}
