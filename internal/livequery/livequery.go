// Package livequery mirrors store collections into reactive local state.
// Each view holds one subscription at a time: changing the scope key tears
// the previous subscription down before the next one starts, and every
// delivery is a full ordered snapshot that replaces prior state wholesale.
package livequery

import (
	"context"
	"sync"

	"github.com/nkozdemir/character-chat-app/internal/models"
)

// ChatSource is implemented by the store for the chat-list view.
type ChatSource interface {
	ListChats(ctx context.Context, userID string) ([]models.ChatSession, error)
	WatchChats(userID string) (<-chan struct{}, func())
}

// MessageSource is implemented by the store for the message-list view.
type MessageSource interface {
	ListMessages(ctx context.Context, userID, chatID string) ([]models.Message, error)
	WatchMessages(userID, chatID string) (<-chan struct{}, func())
}

// ChatsView is a live, user-scoped chat list ordered by last activity.
type ChatsView struct {
	src        ChatSource
	onSnapshot func([]models.ChatSession)
	onError    func(error)

	mu      sync.Mutex
	gen     int
	loading bool
	stop    func()
}

// NewChatsView builds an unscoped view. Nothing is delivered until SetUser.
func NewChatsView(src ChatSource, onSnapshot func([]models.ChatSession), onError func(error)) *ChatsView {
	return &ChatsView{src: src, onSnapshot: onSnapshot, onError: onError, loading: true}
}

// SetUser re-scopes the view. The prior subscription is torn down first; an
// empty user id immediately delivers an empty snapshot with loading false.
func (v *ChatsView) SetUser(userID string) {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
	if userID == "" {
		v.loading = false
		v.mu.Unlock()
		v.onSnapshot(nil)
		return
	}
	v.loading = true
	quit := make(chan struct{})
	ch, cancelWatch := v.src.WatchChats(userID)
	v.stop = func() {
		cancelWatch()
		close(quit)
	}
	v.mu.Unlock()

	go func() {
		for {
			chats, err := v.src.ListChats(context.Background(), userID)
			if !v.markDelivered(gen) {
				return
			}
			if err != nil {
				v.onError(err)
				return
			}
			v.onSnapshot(chats)
			select {
			case <-quit:
				return
			case <-ch:
			}
		}
	}()
}

// Loading reports whether the first snapshot for the current scope is still
// pending.
func (v *ChatsView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Close tears the subscription down.
func (v *ChatsView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
}

// markDelivered clears the loading flag if gen is still current, reporting
// whether this subscription may deliver.
func (v *ChatsView) markDelivered(gen int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.loading = false
	return true
}

// MessagesView is a live message list for one chat, ordered oldest first.
type MessagesView struct {
	src        MessageSource
	onSnapshot func([]models.Message)
	onError    func(error)

	mu      sync.Mutex
	gen     int
	loading bool
	stop    func()
}

// NewMessagesView builds an unscoped view. Nothing is delivered until SetScope.
func NewMessagesView(src MessageSource, onSnapshot func([]models.Message), onError func(error)) *MessagesView {
	return &MessagesView{src: src, onSnapshot: onSnapshot, onError: onError, loading: true}
}

// SetScope re-scopes the view to (user, chat). The prior subscription is
// torn down first; a missing user or chat id immediately delivers an empty
// snapshot with loading false.
func (v *MessagesView) SetScope(userID, chatID string) {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
	if userID == "" || chatID == "" {
		v.loading = false
		v.mu.Unlock()
		v.onSnapshot(nil)
		return
	}
	v.loading = true
	quit := make(chan struct{})
	ch, cancelWatch := v.src.WatchMessages(userID, chatID)
	v.stop = func() {
		cancelWatch()
		close(quit)
	}
	v.mu.Unlock()

	go func() {
		for {
			messages, err := v.src.ListMessages(context.Background(), userID, chatID)
			if !v.markDelivered(gen) {
				return
			}
			if err != nil {
				v.onError(err)
				return
			}
			v.onSnapshot(messages)
			select {
			case <-quit:
				return
			case <-ch:
			}
		}
	}()
}

// Loading reports whether the first snapshot for the current scope is still
// pending.
func (v *MessagesView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Close tears the subscription down.
func (v *MessagesView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
}

func (v *MessagesView) markDelivered(gen int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.loading = false
	return true
}
